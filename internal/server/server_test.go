package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/adfanout/internal/errors"
	"github.com/3leaps/adfanout/internal/server/handlers"
	"github.com/3leaps/adfanout/pkg/template"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}

	var body apperrors.HTTPErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if body.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected error code NOT_FOUND, got %s", body.Error.Code)
	}
	if body.Error.RequestID == "" {
		t.Fatalf("expected request id on error response")
	}
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServer_Handler(t *testing.T) {
	srv := New("127.0.0.1", 8080)
	handler := srv.Handler()
	assert.NotNil(t, handler)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	// POST to a GET-only endpoint should return 405
	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&body)
	require.NoError(t, err)

	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	// Initialize health manager for health endpoint tests
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0)

	endpoints := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/health/startup", http.StatusOK},
		{"GET", "/version", http.StatusOK},
		{"GET", "/api/v1/templates", http.StatusNotFound},
		{"GET", "/debug/pprof/", http.StatusNotFound},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			rec := httptest.NewRecorder()

			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, ep.want, rec.Code, "endpoint %s %s should return %d", ep.method, ep.path, ep.want)
		})
	}
}

func TestServer_APIRoutesWhenWired(t *testing.T) {
	store := template.NewMemoryStore()
	srv := New("127.0.0.1", 0, WithServices(Services{
		Templates: handlers.NewTemplateHandler(store, nil),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[],"count":0}`, rec.Body.String())

	// Unwired groups stay unrouted.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Pprof(t *testing.T) {
	srv := New("127.0.0.1", 0, WithPprof(true))

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RateLimit(t *testing.T) {
	srv := New("127.0.0.1", 0, WithRateLimit(0.001, 1))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/version", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_AdminEndpointDisabledByDefault(t *testing.T) {
	t.Setenv("ADFANOUT_ADMIN_TOKEN", "")

	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodPost, "/admin/signal", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AdminSignal(t *testing.T) {
	t.Setenv("ADFANOUT_ADMIN_TOKEN", "s3cret")

	var ran []string
	srv := New("127.0.0.1", 0,
		WithAdminAction("gc", func(ctx context.Context) error {
			ran = append(ran, "gc")
			return nil
		}),
		WithAdminAction("broken", func(ctx context.Context) error {
			return errors.New("store offline")
		}),
	)

	send := func(token, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/signal", strings.NewReader(body))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, send("", `{"signal":"gc"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, send("wrong", `{"signal":"gc"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send("s3cret", `{"signal":"reboot"}`).Code)
	assert.Equal(t, http.StatusBadRequest, send("s3cret", `not json`).Code)

	rec := send("s3cret", `{"signal":"GC"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"gc"}, ran)

	rec = send("s3cret", `{"signal":"broken"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	handlers.InitHealthManager("test")
	srv := New("127.0.0.1", 0)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	require.Eventually(t, func() bool { return srv.Port() != 0 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://127.0.0.1:" + strconv.Itoa(srv.Port()) + "/health/live")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, <-errCh)
}
