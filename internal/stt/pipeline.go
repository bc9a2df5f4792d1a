package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/indicstt/internal/audio"
)

// PipelineBackend sends audio to an OpenAI-compatible transcription
// endpoint that serves the pretrained model.
type PipelineBackend struct {
	client *openai.Client
	model  string
}

func NewPipelineBackend(baseURL, apiKey, model string) *PipelineBackend {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	return &PipelineBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Probe checks the endpoint is reachable. Servers that do not implement
// model listing (404) are accepted.
func (p *PipelineBackend) Probe(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	if err == nil || statusCode(err) == http.StatusNotFound {
		return nil
	}
	return fmt.Errorf("pipeline probe: %w", err)
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func (p *PipelineBackend) Name() ModelType { return ModelTransformers }

func (p *PipelineBackend) Close() error { return nil }

func (p *PipelineBackend) Transcribe(ctx context.Context, in Input) (Output, error) {
	tmp, err := os.CreateTemp("", "stt-pipeline-*.wav")
	if err != nil {
		return Output{}, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := audio.WriteWAV(tmp, in.Samples, in.SampleRate); err != nil {
		tmp.Close()
		return Output{}, err
	}
	if err := tmp.Close(); err != nil {
		return Output{}, fmt.Errorf("close temp wav: %w", err)
	}

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.model,
		FilePath: tmp.Name(),
		Language: in.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return Output{}, fmt.Errorf("pipeline transcription: %w", err)
	}

	return Output{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: percent(DefaultConfidence),
	}, nil
}
