package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/template"
	"github.com/3leaps/adfanout/pkg/validation"
)

func TestErrorEnvelope_Builders(t *testing.T) {
	cause := stderrors.New("disk full")
	env := NewErrorEnvelope("TEST_ERROR", "test message").
		WithCorrelationID("corr-1").
		WithSeverity(SeverityLow).
		WithOriginal(cause)

	assert.Equal(t, "corr-1", env.CorrelationID)
	assert.Equal(t, SeverityLow, env.Severity)
	assert.False(t, env.Timestamp.IsZero())
	assert.ErrorIs(t, env, cause)
	assert.Equal(t, "TEST_ERROR: test message: disk full", env.Error())

	env, err := env.WithContext(map[string]any{"field": "email"})
	require.NoError(t, err)
	assert.Equal(t, "email", env.Context["field"])

	_, err = env.WithContext(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
	assert.NotContains(t, env.Context, "bad")
}

func TestWrapInternal_UsesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), chimw.RequestIDKey, "req-42")
	env := WrapInternal(ctx, stderrors.New("boom"), "could not save")

	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Contains(t, env.Error(), "boom")

	ext := NewExternalServiceError("platform down")
	assert.Equal(t, CodeExternalService, ext.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"auth", bulk.ErrAuthNotInitialized, http.StatusServiceUnavailable, CodeAuthNotInitialized},
		{"template wrapped", fmt.Errorf("%w: t9: %w", bulk.ErrTemplateNotFound, template.ErrTemplateNotFound), http.StatusNotFound, CodeTemplateNotFound},
		{"job", fmt.Errorf("get: %w", jobregistry.ErrJobNotFound), http.StatusNotFound, CodeJobNotFound},
		{"media", media.ErrMediaNotFound, http.StatusNotFound, CodeMediaNotFound},
		{"too large", media.ErrTooLarge, http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
		{"validation", validation.Field("template_id", "is required"), http.StatusBadRequest, CodeValidation},
		{"queue full", bulk.ErrQueueFull, http.StatusServiceUnavailable, CodeQueueFull},
		{"platform throttled", &platform.PlatformError{Op: "CreateAd", Err: platform.ErrThrottled}, http.StatusTooManyRequests, CodeExternalThrottled},
		{"platform timeout", &platform.PlatformError{Op: "CreateAd", Err: platform.ErrTimeout}, http.StatusGatewayTimeout, CodeExternalTimeout},
		{"envelope", NewErrorEnvelope(CodeNotFound, "x"), http.StatusNotFound, CodeNotFound},
		{"envelope status", NewErrorEnvelope("CUSTOM", "x").WithStatus(http.StatusTeapot), http.StatusTeapot, "CUSTOM"},
		{"unknown", stderrors.New("what"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestRespondWithError_Validation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bulk", nil)
	req = req.WithContext(context.WithValue(req.Context(), chimw.RequestIDKey, "req-7"))
	rec := httptest.NewRecorder()

	verr := &validation.Error{Fields: map[string]string{"media_ids[0]": "is required"}}
	RespondWithError(rec, req, verr)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeResponse(t, rec)
	assert.Equal(t, CodeValidation, body.Error.Code)
	assert.Equal(t, "req-7", body.Error.RequestID)
	assert.Equal(t, "is required", body.Error.Details["media_ids[0]"])
}

func TestRespondWithError_InternalHidesMessage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, stderrors.New("db password is hunter2"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.NotContains(t, body.Error.Message, "hunter2")
}

func TestRespondWithError_EnvelopeContext(t *testing.T) {
	env, err := NewErrorEnvelope(CodeServiceUnavailable, "unhealthy").
		WithStatus(http.StatusServiceUnavailable).
		WithContext(map[string]any{"checks": map[string]string{"db": "unhealthy"}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	RespondWithError(rec, httptest.NewRequest(http.MethodGet, "/health", nil), env)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, "unhealthy", body.Error.Message)
	assert.NotNil(t, body.Error.Details["checks"])
}

func TestLogFields(t *testing.T) {
	fields := LogFields(jobregistry.ErrJobNotFound)
	require.Len(t, fields, 3)
	assert.Equal(t, "status", fields[0].Key)
	assert.Equal(t, int64(http.StatusNotFound), fields[0].Integer)
	assert.Equal(t, CodeJobNotFound, fields[1].String)
}
