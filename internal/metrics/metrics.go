// Package metrics exposes Prometheus instrumentation for check evaluation.
//
// Labels are bounded: check is a configured module name and tier is one of
// positive, negative or unknown.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Recorder implements core.Recorder on a Prometheus registry
type Recorder struct {
	registry *prometheus.Registry
	checks   *prometheus.CounterVec
	hits     *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var _ core.Recorder = (*Recorder)(nil)

// NewRecorder creates the collectors on a private registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppolicy_checks_total",
				Help: "Total number of check verdicts by tier.",
			},
			[]string{"check", "tier"},
		),
		hits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ppolicy_cache_hits_total",
				Help: "Total number of verdicts served from the fingerprint cache.",
			},
			[]string{"check"},
		),
		// cached verdicts are not observed
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ppolicy_check_duration_seconds",
				Help:    "Duration of check evaluation in seconds.",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
			},
			[]string{"check"},
		),
	}
	r.registry.MustRegister(r.checks, r.hits, r.latency)
	return r
}

// ObserveCheck records one verdict
func (r *Recorder) ObserveCheck(check string, tier core.Tier, cached bool, elapsed time.Duration) {
	r.checks.WithLabelValues(check, tier.String()).Inc()
	if cached {
		r.hits.WithLabelValues(check).Inc()
		return
	}
	r.latency.WithLabelValues(check).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics and /healthz on its own listener
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer creates a metrics server for addr
func NewServer(addr string, r *Recorder, logger *zap.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Routes(r),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Routes returns the router of the metrics server
func Routes(r *Recorder) chi.Router {
	router := chi.NewRouter()
	router.Method(http.MethodGet, "/metrics", r.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return router
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting metrics server", zap.String("address", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
