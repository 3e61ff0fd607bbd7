// Package errors provides the structured error envelope used at the
// process boundary: HTTP responses, CLI exit paths and log fields.
//
// Import as apperrors to avoid shadowing the standard library package.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Severity levels attached to envelopes.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Envelope codes shared by the HTTP and CLI surfaces.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeValidation          = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeConflict            = "CONFLICT"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMedia    = "UNSUPPORTED_MEDIA_TYPE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeAuthNotInitialized  = "AUTH_NOT_INITIALIZED"
	CodeTemplateNotFound    = "TEMPLATE_NOT_FOUND"
	CodeJobNotFound         = "JOB_NOT_FOUND"
	CodeMediaNotFound       = "MEDIA_NOT_FOUND"
	CodeQueueFull           = "QUEUE_FULL"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeExternalService     = "EXTERNAL_SERVICE_ERROR"
	CodeExternalTimeout     = "EXTERNAL_SERVICE_TIMEOUT"
	CodeExternalThrottled   = "EXTERNAL_SERVICE_THROTTLED"
	CodeExternalUnauthorize = "EXTERNAL_SERVICE_UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrorEnvelope is a coded error with optional request correlation and
// structured context.
type ErrorEnvelope struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Severity      string         `json:"severity,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`

	// Status is the HTTP status the envelope maps to; zero lets the
	// responder decide.
	Status   int   `json:"-"`
	Original error `json:"-"`
}

// NewErrorEnvelope creates an envelope with the given code and message.
func NewErrorEnvelope(code, message string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func (e *ErrorEnvelope) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Original)
	}
	return e.Code + ": " + e.Message
}

func (e *ErrorEnvelope) Unwrap() error {
	return e.Original
}

// WithCorrelationID sets the correlation id.
func (e *ErrorEnvelope) WithCorrelationID(id string) *ErrorEnvelope {
	e.CorrelationID = id
	return e
}

// WithSeverity sets the severity.
func (e *ErrorEnvelope) WithSeverity(severity string) *ErrorEnvelope {
	e.Severity = severity
	return e
}

// WithStatus sets the HTTP status the envelope maps to.
func (e *ErrorEnvelope) WithStatus(status int) *ErrorEnvelope {
	e.Status = status
	return e
}

// WithOriginal records the underlying error.
func (e *ErrorEnvelope) WithOriginal(err error) *ErrorEnvelope {
	e.Original = err
	return e
}

// WithContext merges ctx into the envelope context. Values must be JSON
// encodable; on failure the envelope is returned unchanged with the error.
func (e *ErrorEnvelope) WithContext(ctx map[string]any) (*ErrorEnvelope, error) {
	if len(ctx) == 0 {
		return e, nil
	}
	if _, err := json.Marshal(ctx); err != nil {
		return e, fmt.Errorf("error context is not serializable: %w", err)
	}
	if e.Context == nil {
		e.Context = make(map[string]any, len(ctx))
	}
	for k, v := range ctx {
		e.Context[k] = v
	}
	return e, nil
}

// AsEnvelope returns the envelope in err's chain, if any.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var env *ErrorEnvelope
	if stderrors.As(err, &env) {
		return env, true
	}
	return nil, false
}

// NewExternalServiceError reports a dependency that could not be reached.
func NewExternalServiceError(message string) *ErrorEnvelope {
	return NewErrorEnvelope(CodeExternalService, message).
		WithSeverity(SeverityHigh)
}

// WrapInternal wraps err as an internal error, correlated with the request
// id carried by ctx when there is one.
func WrapInternal(ctx context.Context, err error, message string) *ErrorEnvelope {
	env := NewErrorEnvelope(CodeInternal, message).
		WithSeverity(SeverityHigh).
		WithOriginal(err)
	if ctx != nil {
		if id := chimw.GetReqID(ctx); id != "" {
			env.CorrelationID = id
		}
	}
	return env
}
