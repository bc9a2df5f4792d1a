package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Loader builds one backend. Loaders are tried in order until one succeeds.
type Loader struct {
	Type ModelType
	Load func(ctx context.Context) (Backend, error)
}

type EngineOptions struct {
	SampleRate    int
	MaxConcurrent int
	Timeout       time.Duration
}

// Engine owns the active backend, bounds concurrent inference and keeps
// performance counters.
type Engine struct {
	opts    EngineOptions
	loaders []Loader
	sem     *semaphore.Weighted
	stats   *statsRecorder
	logger  *slog.Logger

	mu      sync.RWMutex
	status  Status
	backend Backend
	loadErr error
}

func NewEngine(opts EngineOptions, loaders ...Loader) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Engine{
		opts:    opts,
		loaders: loaders,
		sem:     semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		stats:   &statsRecorder{},
		logger:  slog.With("component", "stt.engine"),
		status:  StatusNotLoaded,
	}
}

// Load walks the fallback chain and activates the first backend that loads.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	e.status = StatusLoading
	e.mu.Unlock()

	var errs []error
	for i, l := range e.loaders {
		if i > 0 {
			e.logger.Info("falling back to next backend", "backend", l.Type)
		}

		start := time.Now()
		b, err := l.Load(ctx)
		if err != nil {
			e.logger.Warn("backend failed to load", "backend", l.Type, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", l.Type, err))
			continue
		}

		e.mu.Lock()
		e.backend = b
		e.status = StatusLoaded
		e.loadErr = nil
		e.mu.Unlock()

		e.logger.Info("backend loaded", "backend", b.Name(), "duration", time.Since(start))
		return nil
	}

	err := fmt.Errorf("%w: %w", ErrNoBackend, errors.Join(errs...))
	e.mu.Lock()
	e.status = StatusFailed
	e.loadErr = err
	e.mu.Unlock()
	return err
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LoadError returns the error from the last failed Load, if any.
func (e *Engine) LoadError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadErr
}

// ModelType returns the active backend type, or "" before a successful load.
func (e *Engine) ModelType() ModelType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.backend == nil {
		return ""
	}
	return e.backend.Name()
}

func (e *Engine) Loaded() bool {
	return e.Status() == StatusLoaded
}

// Transcribe runs one inference on the active backend.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, lang, decoding string) (*Result, error) {
	e.mu.RLock()
	b, status := e.backend, e.status
	e.mu.RUnlock()
	if status != StatusLoaded || b == nil {
		return nil, ErrModelNotLoaded
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for inference slot: %w", err)
	}
	defer e.sem.Release(1)

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := b.Transcribe(ctx, Input{
		Samples:    samples,
		SampleRate: e.opts.SampleRate,
		Language:   lang,
		Decoding:   decoding,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		e.logger.Error("transcription failed", "backend", b.Name(), "language", lang, "error", err)
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	duration := float64(len(samples)) / float64(e.opts.SampleRate)
	var rtf float64
	if duration > 0 {
		rtf = elapsed / duration
	}
	e.stats.record(elapsed, rtf, duration)

	return &Result{
		Text:          out.Text,
		Confidence:    out.Confidence,
		InferenceTime: round(elapsed, 3),
		RTF:           round(rtf, 3),
		AudioDuration: round(duration, 2),
		ModelType:     b.Name(),
	}, nil
}

// Stats returns a snapshot of the performance counters.
func (e *Engine) Stats() Stats {
	s := e.stats.snapshot()
	s.ModelType = string(e.ModelType())
	if s.ModelType == "" {
		s.ModelType = string(StatusNotLoaded)
	}
	return s
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend == nil {
		return nil
	}
	err := e.backend.Close()
	e.backend = nil
	e.status = StatusNotLoaded
	return err
}
