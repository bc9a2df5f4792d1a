package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/nikhilbhutani/indicstt/internal/auth"
	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/stt"
	"github.com/nikhilbhutani/indicstt/internal/transcription"
)

const (
	defaultLanguage = "hi"
	multipartMemory = 32 << 20
)

type TranscribeHandler struct {
	svc *transcription.Service
	cfg *config.Config
}

func NewTranscribeHandler(svc *transcription.Service, cfg *config.Config) *TranscribeHandler {
	return &TranscribeHandler{svc: svc, cfg: cfg}
}

// bodyLimit bounds a request carrying up to files uploads. The slack covers
// form fields and multipart framing; per-file limits are enforced later.
func (h *TranscribeHandler) bodyLimit(files int) int64 {
	return h.cfg.Audio.MaxFileSize*int64(files) + 1<<20
}

func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit(1))
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeFormError(w, err)
		return
	}

	req, err := uploadRequest(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp, err := h.svc.Transcribe(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TranscribeHandler) Batch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.bodyLimit(h.cfg.Batch.MaxFiles))
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeFormError(w, err)
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}

	files := make([]transcription.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readFile(fh)
		if err != nil {
			writeError(w, http.StatusBadRequest, "could not read uploaded file")
			return
		}
		files = append(files, transcription.File{Filename: fh.Filename, Data: data})
	}

	resp, err := h.svc.Batch(r.Context(), transcription.BatchRequest{
		Files:     files,
		Language:  formValue(r, "language", defaultLanguage),
		Decoding:  r.FormValue("decoding"),
		Principal: auth.PrincipalID(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TranscribeHandler) Languages(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"languages":        config.SupportedLanguages,
		"decoding_modes":   config.DecodingModes,
		"default_decoding": h.svc.DefaultDecoding(),
		"max_file_size_mb": h.cfg.MaxFileSizeMB(),
		"allowed_formats":  config.AllowedExtensions,
	}

	engine := h.svc.Engine()
	switch {
	case engine == nil:
		info["model_status"] = "not_initialized"
	case engine.Loaded():
		info["model_status"] = "loaded"
		info["model_type"] = engine.ModelType()
	case engine.Status() == stt.StatusFailed:
		info["model_status"] = "failed"
	default:
		info["model_status"] = "loading"
	}
	writeJSON(w, http.StatusOK, info)
}

type statsResponse struct {
	stt.Stats
	Status string `json:"status"`
}

func (h *TranscribeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	engine := h.svc.Engine()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "Service not initialized")
		return
	}
	if !engine.Loaded() {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  string(stt.StatusNotLoaded),
			"message": "Model not loaded yet",
		})
		return
	}
	stats := engine.Stats()
	if stats.TotalInferences == 0 {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_inferences": 0,
			"model_type":       stats.ModelType,
			"status":           string(stt.StatusLoaded),
		})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats, Status: string(stt.StatusLoaded)})
}

// uploadRequest reads the "audio" file and its options. A missing file
// yields a request without a filename, which the service rejects after its
// readiness check.
func uploadRequest(r *http.Request) (transcription.Request, error) {
	normalize, err := parseFormBool(formValue(r, "normalize", "false"))
	if err != nil {
		return transcription.Request{}, fmt.Errorf("%w: normalize must be a boolean", errInvalidField)
	}
	req := transcription.Request{
		Language:  formValue(r, "language", defaultLanguage),
		Decoding:  r.FormValue("decoding"),
		Normalize: normalize,
		Principal: auth.PrincipalID(r.Context()),
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File["audio"]) == 0 {
		return req, nil
	}
	fh := r.MultipartForm.File["audio"][0]
	data, err := readFile(fh)
	if err != nil {
		return req, err
	}
	req.Filename = fh.Filename
	req.Data = data
	return req, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formValue(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

// parseFormBool accepts the usual spellings of a form checkbox value.
func parseFormBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func writeFormError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid multipart form")
}
