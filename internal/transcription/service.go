// Package transcription validates upload requests and runs them through the
// speech engine, cache and history.
package transcription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/indicstt/internal/audio"
	"github.com/nikhilbhutani/indicstt/internal/cache"
	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/history"
	"github.com/nikhilbhutani/indicstt/internal/stt"
	"github.com/nikhilbhutani/indicstt/internal/textnorm"
)

var (
	ErrNoFile              = errors.New("no file uploaded")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrInvalidDecoding     = errors.New("invalid decoding mode")
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrFileTooLarge        = errors.New("file too large")
	ErrTooManyFiles        = errors.New("too many files")
)

// IsInvalidInput reports whether err was caused by the request itself
// rather than the service.
func IsInvalidInput(err error) bool {
	for _, target := range []error{
		ErrNoFile, ErrUnsupportedLanguage, ErrInvalidDecoding, ErrUnsupportedFormat,
		ErrFileTooLarge, ErrTooManyFiles, audio.ErrDecode, audio.ErrTooShort, audio.ErrTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Cache stores finished transcripts keyed by audio content.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
}

// History persists successful transcriptions.
type History interface {
	Save(ctx context.Context, rec *history.Record) error
}

// Metrics receives per-request observations.
type Metrics interface {
	ObserveTranscription(modelType, status string, inferenceSeconds, audioSeconds float64)
	ObserveCacheHit()
}

// Request is a single uploaded file with its options.
type Request struct {
	Filename  string
	Data      []byte
	Language  string
	Decoding  string
	Normalize bool
	Principal string
}

type Response struct {
	Success        bool          `json:"success"`
	ID             string        `json:"id"`
	Filename       string        `json:"filename"`
	Language       string        `json:"language"`
	Decoding       string        `json:"decoding"`
	ModelType      stt.ModelType `json:"model_type"`
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	InferenceTime  float64       `json:"inference_time"`
	RTF            float64       `json:"rtf"`
	AudioDuration  float64       `json:"audio_duration"`
	NormalizedText *string       `json:"normalized_text,omitempty"`
	Cached         bool          `json:"cached"`

	// Stored reports whether a history record with ID exists.
	Stored bool `json:"-"`
}

// cachedTranscript is what the cache holds for a transcript.
type cachedTranscript struct {
	Response Response `json:"response"`
	Stored   bool     `json:"stored"`
}

type Deps struct {
	Engine  *stt.Engine
	Decoder *audio.Decoder
	Cache   Cache
	History History
	Metrics Metrics
}

type Service struct {
	audioCfg        config.AudioConfig
	batchCfg        config.BatchConfig
	defaultDecoding string

	engine  *stt.Engine
	decoder *audio.Decoder
	cache   Cache
	history History
	metrics Metrics
	logger  *slog.Logger
}

func NewService(cfg *config.Config, deps Deps) *Service {
	decoder := deps.Decoder
	if decoder == nil {
		decoder = audio.NewDecoder(cfg.Audio.SampleRate, cfg.Audio.FFmpegPath)
	}
	return &Service{
		audioCfg:        cfg.Audio,
		batchCfg:        cfg.Batch,
		defaultDecoding: cfg.STT.DefaultDecoding,
		engine:          deps.Engine,
		decoder:         decoder,
		cache:           deps.Cache,
		history:         deps.History,
		metrics:         deps.Metrics,
		logger:          slog.With("component", "transcription"),
	}
}

// Engine exposes the underlying engine for status reporting.
func (s *Service) Engine() *stt.Engine { return s.engine }

// Extension returns the lowercased text after the last dot of filename. A
// name without a dot is taken as wav; a trailing dot yields "".
func Extension(filename string) string {
	lower := strings.ToLower(filename)
	i := strings.LastIndexByte(lower, '.')
	if i < 0 {
		return "wav"
	}
	return lower[i+1:]
}

func (s *Service) ready() error {
	if s.engine == nil || !s.engine.Loaded() {
		return stt.ErrModelNotLoaded
	}
	return nil
}

// checkOptions validates language and decoding. Decoding only matters for
// the ONNX backend.
func (s *Service) checkOptions(lang, decoding string) error {
	if !config.IsSupportedLanguage(lang) {
		return fmt.Errorf("%w. Use one of: %s", ErrUnsupportedLanguage, strings.Join(config.SupportedLanguages, ", "))
	}
	if s.engine.ModelType() == stt.ModelONNX && !config.IsDecodingMode(decoding) {
		return fmt.Errorf("%w. Use 'ctc' or 'rnnt'", ErrInvalidDecoding)
	}
	return nil
}

func (s *Service) checkFile(filename string, size int) (string, error) {
	ext := Extension(filename)
	if !config.IsAllowedExtension(ext) {
		return "", fmt.Errorf("%w: %s. Allowed: %s", ErrUnsupportedFormat, ext, strings.Join(config.AllowedExtensions, ", "))
	}
	if int64(size) > s.audioCfg.MaxFileSize {
		return "", fmt.Errorf("%w. Max size: %gMB", ErrFileTooLarge, s.audioCfg.MaxFileSizeMB())
	}
	return ext, nil
}

// ValidateUpload checks a request that will be transcribed later by a worker.
// The worker's backend is unknown here, so decoding is always checked. It
// returns the file extension.
func (s *Service) ValidateUpload(req Request) (string, error) {
	if req.Filename == "" {
		return "", ErrNoFile
	}
	if !config.IsSupportedLanguage(req.Language) {
		return "", fmt.Errorf("%w. Use one of: %s", ErrUnsupportedLanguage, strings.Join(config.SupportedLanguages, ", "))
	}
	if req.Decoding != "" && !config.IsDecodingMode(req.Decoding) {
		return "", fmt.Errorf("%w. Use 'ctc' or 'rnnt'", ErrInvalidDecoding)
	}
	return s.checkFile(req.Filename, len(req.Data))
}

// DefaultDecoding is the decoding mode used when a request names none.
func (s *Service) DefaultDecoding() string { return s.defaultDecoding }

// Transcribe validates req and returns its transcript.
func (s *Service) Transcribe(ctx context.Context, req Request) (*Response, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if req.Filename == "" {
		return nil, ErrNoFile
	}
	if req.Decoding == "" {
		req.Decoding = s.defaultDecoding
	}
	if err := s.checkOptions(req.Language, req.Decoding); err != nil {
		return nil, err
	}
	ext, err := s.checkFile(req.Filename, len(req.Data))
	if err != nil {
		return nil, err
	}

	return s.run(ctx, req, ext)
}

func (s *Service) run(ctx context.Context, req Request, ext string) (*Response, error) {
	modelType := s.engine.ModelType()
	decoding, reported := stt.DecodingCTC, "default"
	if modelType == stt.ModelONNX {
		decoding, reported = req.Decoding, req.Decoding
	}

	key := cache.TranscriptKey(req.Data, req.Language, decoding, string(modelType))
	if resp, ok := s.fromCache(ctx, key); ok {
		resp.Filename = req.Filename
		s.finish(resp, req)
		return resp, nil
	}

	samples, err := s.decoder.Decode(ctx, req.Data, ext)
	if err != nil {
		return nil, err
	}
	if err := audio.Validate(samples, s.audioCfg.SampleRate, s.audioCfg.MinSeconds, s.audioCfg.MaxSeconds); err != nil {
		return nil, err
	}

	s.logger.Info("transcribing",
		"filename", req.Filename,
		"language", req.Language,
		"model_type", modelType,
		"decoding", decoding,
		"principal", req.Principal,
	)

	result, err := s.engine.Transcribe(ctx, samples, req.Language, decoding)
	if err != nil {
		s.observe(string(modelType), "error", 0, 0)
		return nil, err
	}
	s.observe(string(result.ModelType), "success", result.InferenceTime, result.AudioDuration)

	resp := &Response{
		Success:       true,
		ID:            uuid.NewString(),
		Filename:      req.Filename,
		Language:      req.Language,
		Decoding:      reported,
		ModelType:     result.ModelType,
		Text:          result.Text,
		Confidence:    result.Confidence,
		InferenceTime: result.InferenceTime,
		RTF:           result.RTF,
		AudioDuration: result.AudioDuration,
	}

	resp.Stored = s.save(ctx, resp, req)
	// transcripts whose history write failed are not cached
	if s.cache != nil && (resp.Stored || s.history == nil) {
		entry := cachedTranscript{Response: *resp, Stored: resp.Stored}
		if err := s.cache.Set(ctx, key, entry); err != nil {
			s.logger.Warn("cache store failed", "error", err)
		}
	}

	s.finish(resp, req)
	return resp, nil
}

func (s *Service) fromCache(ctx context.Context, key string) (*Response, bool) {
	if s.cache == nil {
		return nil, false
	}
	var entry cachedTranscript
	if err := s.cache.Get(ctx, key, &entry); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("cache lookup failed", "error", err)
		}
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.ObserveCacheHit()
	}
	resp := entry.Response
	resp.Stored = entry.Stored
	resp.Cached = true
	return &resp, true
}

// finish applies per-request presentation options.
func (s *Service) finish(resp *Response, req Request) {
	resp.NormalizedText = nil
	if req.Normalize {
		n := textnorm.Normalize(resp.Text, req.Language)
		resp.NormalizedText = &n
	}
}

// save writes the history record and reports whether it was persisted.
func (s *Service) save(ctx context.Context, resp *Response, req Request) bool {
	if s.history == nil {
		return false
	}
	sum := sha256.Sum256(req.Data)
	id, _ := uuid.Parse(resp.ID)
	rec := &history.Record{
		ID:            id,
		Filename:      resp.Filename,
		Language:      resp.Language,
		Decoding:      resp.Decoding,
		ModelType:     string(resp.ModelType),
		Text:          resp.Text,
		Confidence:    resp.Confidence,
		InferenceTime: resp.InferenceTime,
		RTF:           resp.RTF,
		AudioDuration: resp.AudioDuration,
		AudioSHA256:   hex.EncodeToString(sum[:]),
		Principal:     req.Principal,
	}
	if req.Normalize {
		n := textnorm.Normalize(resp.Text, req.Language)
		rec.NormalizedText = &n
	}
	if err := s.history.Save(ctx, rec); err != nil {
		s.logger.Warn("history save failed", "id", resp.ID, "error", err)
		return false
	}
	return true
}

func (s *Service) observe(modelType, status string, inference, audioSeconds float64) {
	if s.metrics != nil {
		s.metrics.ObserveTranscription(modelType, status, inference, audioSeconds)
	}
}
