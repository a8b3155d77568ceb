// Package httptransport assembles the HTTP servers of the enrollment binaries.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServerConfig contains tunables for the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the timeouts used by the public API.
func DefaultServerConfig(address string) ServerConfig {
	return ServerConfig{
		Address:      address,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates *http.Server with provided handler.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// RouteRegistrar mounts application routes on a mux.
type RouteRegistrar interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Authenticator wraps handlers with request authentication.
type Authenticator interface {
	Wrap(next http.Handler) http.Handler
}

// RouterConfig collects the pieces of the public API handler chain.
type RouterConfig struct {
	ServiceName string
	Routes      RouteRegistrar
	Auth        Authenticator
	Logger      *slog.Logger
	// An empty CORSOrigin disables CORS headers.
	CORSOrigin string
}

// NewRouter builds the API handler: tracing, request logging, CORS and authentication
// around the application routes plus /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	cfg.Routes.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if cfg.Auth != nil {
		handler = cfg.Auth.Wrap(handler)
	}
	handler = cors(cfg.CORSOrigin, handler)
	handler = requestLogger(cfg.Logger, handler)
	return otelhttp.NewHandler(handler, cfg.ServiceName)
}

// NewMetricsServer serves /metrics and /healthz for the background workers.
func NewMetricsServer(address string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return NewServer(DefaultServerConfig(address), mux)
}

func cors(origin string, next http.Handler) http.Handler {
	if origin == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
