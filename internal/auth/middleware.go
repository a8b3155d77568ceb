package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
)

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Middleware enforces bearer-token authentication and attaches the resulting actor to
// the request context.
type Middleware struct {
	config  Config
	skipper Skipper
}

// NewMiddleware constructs Middleware. Probe and metrics endpoints are never authenticated.
func NewMiddleware(cfg Config) Middleware {
	return Middleware{config: cfg, skipper: func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper != nil && m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/problem+json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="enrollment"`)
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"type":   "unauthenticated",
				"detail": err.Error(),
			})
			return
		}
		ctx := domain.ContextWithActor(r.Context(), claims.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return nil, ErrInvalidToken
	}
	return Parse(header[len("Bearer "):], m.config)
}
