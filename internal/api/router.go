package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/indicstt/internal/api/handlers"
	"github.com/nikhilbhutani/indicstt/internal/api/middleware"
	"github.com/nikhilbhutani/indicstt/internal/auth"
	"github.com/nikhilbhutani/indicstt/internal/config"
	"github.com/nikhilbhutani/indicstt/internal/metrics"
	"github.com/nikhilbhutani/indicstt/internal/storage"
	"github.com/nikhilbhutani/indicstt/internal/transcription"
)

// Deps are the components behind the routes. Everything except Service is
// optional; endpoints whose dependency is missing answer 503.
type Deps struct {
	Service *transcription.Service
	Metrics *metrics.Metrics
	History handlers.HistoryStore
	Jobs    handlers.JobStore
	Storage storage.Storage
	Queue   handlers.Enqueuer
	Checks  map[string]handlers.Pinger
}

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
	auth *auth.Authenticator
	rl   *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg,
		deps: deps,
		auth: auth.NewAuthenticator(cfg.Auth),
		rl:   middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	var observer middleware.RequestObserver
	if rt.deps.Metrics != nil {
		observer = rt.deps.Metrics
	}

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(observer))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins, rt.cfg.Auth.APIKeyHeader))
	r.Use(rt.rl.Limit)

	// Status endpoints (no auth)
	health := handlers.NewHealthHandler(rt.cfg, rt.deps.Service.Engine(), rt.deps.Checks)
	r.Get("/", health.Info)
	r.Get("/health", health.Health)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	if rt.deps.Metrics != nil {
		r.Handle("/metrics", rt.deps.Metrics.Handler())
	}

	transcribeH := handlers.NewTranscribeHandler(rt.deps.Service, rt.cfg)
	evalH := handlers.NewEvalHandler()
	jobsH := handlers.NewJobsHandler(rt.deps.Service, handlers.JobsConfig{
		Bucket:      rt.cfg.Storage.Bucket,
		MaxFileSize: rt.cfg.Audio.MaxFileSize,
	}, rt.deps.Jobs, rt.deps.Storage, rt.deps.Queue)
	historyH := handlers.NewTranscriptionsHandler(rt.deps.History)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.auth.Authenticate)

		r.Get("/languages", transcribeH.Languages)
		r.Get("/stats", transcribeH.Stats)
		r.Post("/eval/wer", evalH.WER)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequirePermission(auth.PermTranscribe))
			r.Post("/transcribe", transcribeH.Transcribe)
			r.Post("/transcribe/batch", transcribeH.Batch)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Use(auth.RequirePermission(auth.PermJobs))
			r.Post("/", jobsH.Create)
			r.Get("/{id}", jobsH.Get)
		})

		r.Route("/transcriptions", func(r chi.Router) {
			r.Use(auth.RequirePermission(auth.PermHistoryRead))
			r.Get("/", historyH.List)
			r.Get("/{id}", historyH.Get)
		})
	})

	return r
}

// Close releases background resources held by the middleware.
func (rt *Router) Close() {
	rt.rl.Stop()
}
