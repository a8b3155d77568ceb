package httptransport

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/api"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/auth"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/domain"
	"github.com/Lautarobarella/Personal-Fit-Santa-Fe-sub000/internal/persistence/memory"
)

var authConfig = auth.Config{Secret: "router-secret", Issuer: "personal-fit"}

func newTestRouter(t *testing.T, logs io.Writer) http.Handler {
	t.Helper()
	store := memory.NewStore()
	store.Seed(domain.ActivityDetail{Activity: domain.Activity{
		ID:              "a1",
		Name:            "Functional",
		TrainerID:       "trainer-1",
		StartAt:         time.Now().Add(3 * time.Hour).UTC(),
		DurationMinutes: 60,
		MaxParticipants: 5,
		Status:          domain.ActivityStatusActive,
	}})
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	svc := domain.NewService(store, memory.NewMemberships(), nil, domain.WithLogger(logger))

	return NewRouter(RouterConfig{
		ServiceName: "enrollment-test",
		Routes:      api.NewHandler(svc),
		Auth:        auth.NewMiddleware(authConfig),
		Logger:      logger,
		CORSOrigin:  "http://localhost:5173",
	})
}

func TestRouterAuthenticatesAPIRoutes(t *testing.T) {
	var logs bytes.Buffer
	router := newTestRouter(t, &logs)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/activities/a1", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.Issue(authConfig, "client-1", domain.RoleClient, time.Hour, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/activities/a1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(requestIDHeader, "req-123")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
	require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, logs.String(), `"request_id":"req-123"`)
	require.Contains(t, logs.String(), `"status":200`)
}

func TestRouterServesOpsEndpointsWithoutToken(t *testing.T) {
	router := newTestRouter(t, io.Discard)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/activities", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMetricsServer(t *testing.T) {
	srv := NewMetricsServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 5*time.Second, srv.ReadTimeout)
}
