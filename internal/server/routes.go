package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config contains server configuration options.
type Config struct {
	// Events serves POST /slack/events when set. It stays unmounted in
	// Socket Mode.
	Events http.Handler
	// QuietPaths are logged at debug level instead of info.
	QuietPaths []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		QuietPaths: []string{"/health"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	if cfg.Events != nil {
		mux.Handle("POST /slack/events", cfg.Events)
	}
	mux.HandleFunc("/", h.NotFound)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger, cfg.QuietPaths...),
	)

	return chain(mux)
}

// NewMetricsRouter serves the Prometheus default registry on GET /metrics.
func NewMetricsRouter(logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	return RecoveryMiddleware(logger)(mux)
}
