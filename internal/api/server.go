// Package api exposes a flag client over HTTP so services without an SDK can
// evaluate flags through a local sidecar.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/TimurManjosov/flagship-go/internal/cache"
	"github.com/TimurManjosov/flagship-go/internal/engine"
	"github.com/TimurManjosov/flagship-go/internal/snapshot"
	"github.com/TimurManjosov/flagship-go/internal/telemetry"
)

// maxBodyBytes bounds evaluation request bodies.
const maxBodyBytes = 64 << 10

// FlagClient is the part of *flagship.Client the sidecar serves.
type FlagClient interface {
	GetValueDetails(ctx context.Context, key string, defaultValue any, user *engine.User) engine.Details
	GetAllValueDetails(ctx context.Context, user *engine.User) []engine.Details
	GetAllKeys(ctx context.Context) []string
	ForceRefresh(ctx context.Context) cache.RefreshResult
	Snapshot(ctx context.Context) *snapshot.Entry
}

// Options configures the sidecar router.
type Options struct {
	// RateLimitPerIP is the number of requests per minute per client IP; 0 disables limiting.
	RateLimitPerIP int
	Logger         zerolog.Logger
}

type Server struct {
	client    FlagClient
	rateLimit int
	log       zerolog.Logger
}

func NewServer(client FlagClient, opts Options) *Server {
	return &Server{
		client:    client,
		rateLimit: opts.RateLimitPerIP,
		log:       opts.Logger.With().Str("component", "api").Logger(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, middleware.RealIP, middleware.Recoverer)
	r.Use(accessLog(s.log), telemetry.Middleware)
	r.Use(middleware.Timeout(5 * time.Second))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.Limit(s.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(RateLimitedError),
			))
		}
		r.Get("/v1/flags", s.handleFlags)
		r.Post("/v1/evaluate", s.handleEvaluate)
		r.Post("/v1/evaluate/all", s.handleEvaluateAll)
		r.Post("/v1/refresh", s.handleRefresh)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		NotFoundError(w, req, "route not found")
	})
	return r
}
