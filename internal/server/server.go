package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callscribe/internal/metrics"
	"callscribe/internal/ports"
)

// Config controls the API server.
type Config struct {
	JWTSecret string
}

// Deps are the services behind the HTTP API. Summarizer may be nil.
type Deps struct {
	Store      ports.CallStore
	Summarizer ports.Summarizer
	Minter     ports.StreamingTokenMinter
	Gatherer   prometheus.Gatherer
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Server serves streaming tokens, summaries and call records to authenticated users.
type Server struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

type pinger interface {
	Ping(ctx context.Context) error
}

func New(cfg Config, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, deps: deps, log: logger.With("component", "http")}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.instrument)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/streaming-token", s.streamingToken)
		r.Post("/summarize", s.summarize)

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", s.listCalls)
			r.Post("/", s.createCall)
			r.Get("/recent", s.recentCalls)
			r.Get("/{id}", s.getCall)
			r.Patch("/{id}", s.updateCall)
			r.Delete("/{id}", s.deleteCall)
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.deps.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
