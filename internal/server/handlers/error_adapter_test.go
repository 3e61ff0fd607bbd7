package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/adfanout/internal/errors"
	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
)

func TestSetHTTPErrorResponder(t *testing.T) {
	defer ResetHTTPErrorResponder()

	var captured error
	SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
		captured = err
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	respondWithError(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil), jobregistry.ErrJobNotFound)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.ErrorIs(t, captured, jobregistry.ErrJobNotFound)
}

func TestDefaultResponderMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		set    func()
		err    error
		status int
		code   string
	}{
		{
			name:   "nil restores default",
			set:    func() { SetHTTPErrorResponder(nil) },
			err:    fmt.Errorf("submit: %w", bulk.ErrTemplateNotFound),
			status: http.StatusNotFound,
			code:   apperrors.CodeTemplateNotFound,
		},
		{
			name:   "reset restores default",
			set:    ResetHTTPErrorResponder,
			err:    bulk.ErrAuthNotInitialized,
			status: http.StatusServiceUnavailable,
			code:   apperrors.CodeAuthNotInitialized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetHTTPErrorResponder(func(w http.ResponseWriter, r *http.Request, err error) {
				w.WriteHeader(http.StatusTeapot)
			})
			tt.set()

			rec := httptest.NewRecorder()
			respondWithError(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil), tt.err)
			require.Equal(t, tt.status, rec.Code)

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}
