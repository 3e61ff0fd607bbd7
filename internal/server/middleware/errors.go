// Package middleware holds the HTTP middleware shared by every route.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/adfanout/internal/errors"
)

// ErrorResponse is the JSON body written for recovered failures.
type ErrorResponse = apperrors.HTTPErrorResponse

// panicLogger receives recovered panics. Replaced by SetLogger.
var panicLogger = zap.NewNop()

// SetLogger sets the logger used for recovered panics.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	panicLogger = logger
}

// Recovery turns a panic in next into a 500 INTERNAL_ERROR response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := chimw.GetReqID(r.Context())
			panicLogger.Error("Recovered from panic",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))

			env := apperrors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec)).
				WithSeverity(apperrors.SeverityCritical).
				WithCorrelationID(requestID)
			writeErrorResponse(w, env, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, env *apperrors.ErrorEnvelope, status int) {
	body := ErrorResponse{Error: apperrors.HTTPError{
		Code:      env.Code,
		Message:   env.Message,
		RequestID: env.CorrelationID,
		Details:   env.Context,
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
