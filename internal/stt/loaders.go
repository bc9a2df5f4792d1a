package stt

import (
	"context"
	"errors"

	"github.com/nikhilbhutani/indicstt/internal/config"
)

// DefaultLoaders returns the fallback chain for cfg: the ONNX export when
// enabled, then the hosted pipeline.
func DefaultLoaders(cfg config.STTConfig) []Loader {
	var loaders []Loader

	if cfg.ONNXEnabled {
		loaders = append(loaders, Loader{
			Type: ModelONNX,
			Load: func(ctx context.Context) (Backend, error) {
				return NewONNXBackend(cfg.ModelDir, cfg.ONNXRuntimeLib, cfg.ONNXThreads)
			},
		})
	}

	loaders = append(loaders, Loader{
		Type: ModelTransformers,
		Load: func(ctx context.Context) (Backend, error) {
			if cfg.PipelineBaseURL == "" {
				return nil, errors.New("PIPELINE_BASE_URL not set")
			}
			p := NewPipelineBackend(cfg.PipelineBaseURL, cfg.PipelineAPIKey, cfg.PipelineModel)
			if err := p.Probe(ctx); err != nil {
				return nil, err
			}
			return p, nil
		},
	})

	return loaders
}
