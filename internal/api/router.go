package api

import (
	"net/http"

	"github.com/socialnet/backend/internal/auth"
	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/health"
	"github.com/socialnet/backend/internal/logger"
	"github.com/socialnet/backend/internal/media"
	"github.com/socialnet/backend/internal/metrics"
	"github.com/socialnet/backend/internal/middleware"
	"github.com/socialnet/backend/internal/transcode"
	"github.com/socialnet/backend/internal/websocket"
)

// RouterConfig holds the handlers' dependencies. Health, Metrics and WS are
// optional.
type RouterConfig struct {
	Auth           *auth.Service
	Transcode      *transcode.Service
	Enricher       *media.Enricher
	Health         *health.Handler
	Metrics        *metrics.Metrics
	WS             *websocket.Handler
	Logger         *logger.Logger
	AllowedOrigins []string
	UploadDir      string
}

type Router struct {
	mux         *http.ServeMux
	handler     http.Handler
	authService *auth.Service
}

func NewRouter(cfg RouterConfig) *Router {
	log := cfg.Logger
	if log == nil {
		log = logger.Default().WithComponent("api")
	}

	r := &Router{
		mux:         http.NewServeMux(),
		authService: cfg.Auth,
	}
	r.setupRoutes(cfg, log)

	middlewares := []func(http.Handler) http.Handler{
		apperrors.RequestIDMiddleware,
		middleware.Recoverer(log),
		middleware.Logging(log),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, metrics.MetricsMiddleware(cfg.Metrics))
	}
	middlewares = append(middlewares, middleware.CORS(cfg.AllowedOrigins), middleware.Gzip)

	r.handler = middleware.Chain(r.mux, middlewares...)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes(cfg RouterConfig, log *logger.Logger) {
	if cfg.Health != nil {
		r.mux.HandleFunc("GET /health", cfg.Health.HealthHandler)
		r.mux.HandleFunc("GET /ready", cfg.Health.ReadinessHandler)
	}
	if cfg.Metrics != nil {
		r.mux.HandleFunc("GET /metrics", cfg.Metrics.Handler())
	}
	if cfg.WS != nil {
		// authenticated by ?token= inside the handler
		r.mux.HandleFunc("GET /ws", cfg.WS.ServeWS)
	}

	jobs := NewTranscodingHandlers(cfg.Transcode, cfg.UploadDir, log)
	r.mux.HandleFunc("POST /api/v1/transcoding/jobs", r.withAuth(jobs.SubmitJob))
	r.mux.HandleFunc("GET /api/v1/transcoding/jobs", r.withAuth(jobs.ListJobs))
	r.mux.HandleFunc("GET /api/v1/transcoding/jobs/{job_id}", r.withAuth(jobs.GetJob))
	r.mux.HandleFunc("GET /api/v1/transcoding/stats", r.withAuth(jobs.Stats))

	if cfg.Enricher != nil {
		mediaHandlers := NewMediaHandlers(cfg.Enricher)
		r.mux.HandleFunc("POST /api/v1/media/enrich", r.withAuth(mediaHandlers.Enrich))
	}
}

func (r *Router) withAuth(next apperrors.Handler) http.HandlerFunc {
	return auth.Middleware(r.authService)(apperrors.HandleFunc(next)).ServeHTTP
}
