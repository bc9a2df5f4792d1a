package handlers

import (
	"context"
	"net/http"

	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/stt"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	cfg    *config.Config
	engine *stt.Engine
	checks map[string]Pinger
}

// NewHealthHandler builds the status endpoints. engine may be nil when the
// service failed to initialise; checks lists optional dependencies by name.
func NewHealthHandler(cfg *config.Config, engine *stt.Engine, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{cfg: cfg, engine: engine, checks: checks}
}

func (h *HealthHandler) modelState() (status, modelType string) {
	if h.engine == nil {
		return string(stt.StatusNotLoaded), "unknown"
	}
	modelType = string(h.engine.ModelType())
	if modelType == "" {
		modelType = "unknown"
	}
	switch st := h.engine.Status(); st {
	case stt.StatusNotLoaded:
		return string(stt.StatusLoading), modelType
	default:
		return string(st), modelType
	}
}

// Info describes the service and its endpoints.
func (h *HealthHandler) Info(w http.ResponseWriter, r *http.Request) {
	status, modelType := h.modelState()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":             config.ServiceName,
		"version":             config.ServiceVersion,
		"status":              "running",
		"model_status":        status,
		"model_type":          modelType,
		"supported_languages": len(config.SupportedLanguages),
		"endpoints": map[string]string{
			"transcribe":          "/api/v1/transcribe",
			"batch_transcribe":    "/api/v1/transcribe/batch",
			"supported_languages": "/api/v1/languages",
			"performance_stats":   "/api/v1/stats",
			"word_error_rate":     "/api/v1/eval/wer",
			"jobs":                "/api/v1/jobs",
			"transcriptions":      "/api/v1/transcriptions",
			"health_check":        "/health",
			"metrics":             "/metrics",
		},
		"info": map[string]interface{}{
			"max_file_size_mb":  h.cfg.MaxFileSizeMB(),
			"supported_formats": config.AllowedExtensions,
		},
	})
}

// Health reports model state. It always answers 200 so load balancers can
// tell an initialising instance from a dead one.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "error",
			"message":      "Service not initialized",
			"model_loaded": false,
		})
		return
	}

	_, modelType := h.modelState()
	resp := map[string]interface{}{
		"status":          "initializing",
		"model_loaded":    h.engine.Loaded(),
		"model_type":      modelType,
		"inference_count": h.engine.Stats().TotalInferences,
	}
	switch h.engine.Status() {
	case stt.StatusLoaded:
		resp["status"] = "healthy"
	case stt.StatusFailed:
		resp["status"] = "error"
		if err := h.engine.LoadError(); err != nil {
			resp["message"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	for name, p := range h.checks {
		if err := p.Ping(r.Context()); err != nil {
			checks[name] = "unhealthy: " + err.Error()
		} else {
			checks[name] = "ok"
		}
	}

	status := http.StatusOK
	for _, v := range checks {
		if v != "ok" {
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, map[string]interface{}{"status": statusStr(status), "checks": checks})
}

func statusStr(code int) string {
	if code == http.StatusOK {
		return "ok"
	}
	return "unhealthy"
}
