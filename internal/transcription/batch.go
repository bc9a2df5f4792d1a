package transcription

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/indicstt/internal/stt"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// File is one member of a batch upload.
type File struct {
	Filename string
	Data     []byte
}

type BatchRequest struct {
	Files     []File
	Language  string
	Decoding  string
	Principal string
}

// BatchItem is one slot of a batch response. Failed items carry only the
// error; successful ones inline every field of BatchResult.
type BatchItem struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	*BatchResult
}

type BatchResult struct {
	ID            string        `json:"id"`
	ModelType     stt.ModelType `json:"model_type"`
	Text          string        `json:"text"`
	Confidence    float64       `json:"confidence"`
	InferenceTime float64       `json:"inference_time"`
	RTF           float64       `json:"rtf"`
	AudioDuration float64       `json:"audio_duration"`
	Cached        bool          `json:"cached"`
}

type BatchResponse struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Results    []BatchItem `json:"results"`
}

// Batch transcribes up to the configured number of files. Request-level
// problems fail the whole batch; per-file problems are reported in the
// matching result slot.
func (s *Service) Batch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(req.Files) > s.batchCfg.MaxFiles {
		return nil, fmt.Errorf("%w. Max %d files per batch", ErrTooManyFiles, s.batchCfg.MaxFiles)
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: no files provided", ErrNoFile)
	}
	if req.Decoding == "" {
		req.Decoding = s.defaultDecoding
	}
	if err := s.checkOptions(req.Language, req.Decoding); err != nil {
		return nil, err
	}

	results := make([]BatchItem, len(req.Files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.batchCfg.Concurrency))
	for i, f := range req.Files {
		g.Go(func() error {
			results[i] = s.batchOne(gctx, f, req)
			return nil
		})
	}
	g.Wait()

	out := &BatchResponse{Total: len(req.Files), Results: results}
	for _, r := range results {
		if r.Status == StatusSuccess {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	return out, nil
}

func (s *Service) batchOne(ctx context.Context, f File, req BatchRequest) BatchItem {
	if f.Filename == "" {
		return BatchItem{Filename: "unknown", Status: StatusFailed, Error: "No filename provided"}
	}

	item := BatchItem{Filename: f.Filename, Status: StatusFailed}
	ext, err := s.checkFile(f.Filename, len(f.Data))
	if err != nil {
		item.Error = err.Error()
		return item
	}

	resp, err := s.run(ctx, Request{
		Filename:  f.Filename,
		Data:      f.Data,
		Language:  req.Language,
		Decoding:  req.Decoding,
		Principal: req.Principal,
	}, ext)
	if err != nil {
		s.logger.Error("batch transcription failed", "filename", f.Filename, "error", err)
		item.Error = err.Error()
		return item
	}

	return BatchItem{
		Filename: f.Filename,
		Status:   StatusSuccess,
		BatchResult: &BatchResult{
			ID:            resp.ID,
			ModelType:     resp.ModelType,
			Text:          resp.Text,
			Confidence:    resp.Confidence,
			InferenceTime: resp.InferenceTime,
			RTF:           resp.RTF,
			AudioDuration: resp.AudioDuration,
			Cached:        resp.Cached,
		},
	}
}
