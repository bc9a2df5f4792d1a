// Package stt runs speech recognition through interchangeable backends.
package stt

import (
	"context"
	"errors"
	"math"
)

// ModelType names the backend that produced a transcript.
type ModelType string

const (
	ModelONNX         ModelType = "onnx"
	ModelTransformers ModelType = "transformers"
)

// Status tracks engine loading.
type Status string

const (
	StatusNotLoaded Status = "not_loaded"
	StatusLoading   Status = "loading"
	StatusLoaded    Status = "loaded"
	StatusFailed    Status = "failed"
)

const (
	DecodingCTC  = "ctc"
	DecodingRNNT = "rnnt"
)

// DefaultConfidence is reported when no token-level score is available.
const DefaultConfidence = 0.85

var (
	ErrModelNotLoaded = errors.New("model not loaded")
	ErrNoBackend      = errors.New("failed to load any model")
)

// Backend abstracts an acoustic model (ONNX export, hosted pipeline, ...).
type Backend interface {
	Name() ModelType
	Transcribe(ctx context.Context, in Input) (Output, error)
	Close() error
}

// Input is a mono waveform plus decoding options.
type Input struct {
	Samples    []float32
	SampleRate int
	Language   string
	Decoding   string // ctc or rnnt
}

// Output is what a backend returns. Confidence is a percentage.
type Output struct {
	Text       string
	Confidence float64
}

// Result is a transcript with engine timing attached.
type Result struct {
	Text          string    `json:"text"`
	Confidence    float64   `json:"confidence"`
	InferenceTime float64   `json:"inference_time"`
	RTF           float64   `json:"rtf"`
	AudioDuration float64   `json:"audio_duration"`
	ModelType     ModelType `json:"model_type"`
}

// round rounds v to the given number of decimal places.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// percent converts a probability to a percentage with two decimals.
func percent(p float64) float64 {
	return round(p*100, 2)
}
