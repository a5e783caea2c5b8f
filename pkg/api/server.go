// Package api serves the monitor's admin HTTP surface: health probes,
// Prometheus metrics, the status query and GraphQL.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/api/middleware"
	"github.com/dd0wney/cluso-monitor/pkg/graphql"
	"github.com/dd0wney/cluso-monitor/pkg/health"
	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultMaxBodyBytes bounds GraphQL request bodies
	DefaultMaxBodyBytes = 1 << 20
	// DefaultMetricsInterval is how often system gauges are refreshed
	DefaultMetricsInterval = 10 * time.Second
)

// Source is what the admin surface reads from the monitor
type Source interface {
	graphql.StatusSource
}

// Config tunes the admin server
type Config struct {
	MaxBodyBytes    int64
	GraphQLMaxDepth int
}

// Server represents the admin HTTP server
type Server struct {
	cfg            Config
	src            Source
	health         *health.HealthChecker
	graphqlHandler *graphql.GraphQLHandler
	metrics        *metrics.Registry
	logger         logging.Logger
	startTime      time.Time
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewServer creates the admin server
func NewServer(cfg Config, src Source, hc *health.HealthChecker, logger logging.Logger, reg *metrics.Registry) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	schema, err := graphql.GenerateSchema(src)
	if err != nil {
		return nil, fmt.Errorf("failed to generate GraphQL schema: %w", err)
	}

	return &Server{
		cfg:            cfg,
		src:            src,
		health:         hc,
		graphqlHandler: graphql.NewGraphQLHandler(schema, cfg.GraphQLMaxDepth),
		metrics:        reg,
		logger:         logger.With(logging.Component("api")),
		startTime:      time.Now(),
	}, nil
}

// routes are the metric labels of the registered endpoints
var routes = map[string]bool{
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
	"/status":       true,
	"/status/node":  true,
	"/graphql":      true,
}

func routeLabel(r *http.Request) string {
	if routes[r.URL.Path] {
		return r.URL.Path
	}
	return "other"
}

// Handler returns the admin mux wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HTTPHandler())
	mux.HandleFunc("GET /health/live", s.health.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.health.ReadinessHandler())
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /status", s.handleServiceStatus)
	mux.HandleFunc("GET /status/node", s.handleWorkStatus)
	mux.Handle("/graphql", middleware.BodySizeLimit(s.cfg.MaxBodyBytes)(s.graphqlHandler))

	var handler http.Handler = mux
	handler = middleware.PanicRecovery(s.logger)(handler)
	handler = middleware.Metrics(s.metrics, routeLabel)(handler)
	handler = middleware.Logging(s.logger)(handler)
	handler = middleware.RequestID()(handler)
	return handler
}

// UpdateMetricsPeriodically refreshes the system gauges until ctx is done
func (s *Server) UpdateMetricsPeriodically(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.metrics.UpdateSystemMetrics(s.startTime)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.UpdateSystemMetrics(s.startTime)
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
