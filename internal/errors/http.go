package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/3leaps/adfanout/pkg/bulk"
	"github.com/3leaps/adfanout/pkg/jobregistry"
	"github.com/3leaps/adfanout/pkg/media"
	"github.com/3leaps/adfanout/pkg/platform"
	"github.com/3leaps/adfanout/pkg/template"
	"github.com/3leaps/adfanout/pkg/validation"
)

// Boundary errors raised by the HTTP layer itself.
var (
	ErrBadRequest       = stderrors.New("malformed request")
	ErrNotFound         = stderrors.New("resource not found")
	ErrMethodNotAllowed = stderrors.New("method not allowed")
	ErrRateLimited      = stderrors.New("rate limit exceeded")
)

// HTTPError is the body of an error response.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON error envelope returned by every endpoint.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

type mapping struct {
	target error
	status int
	code   string
}

// Ordered: the first match wins.
var mappings = []mapping{
	{ErrBadRequest, http.StatusBadRequest, CodeBadRequest},
	{ErrNotFound, http.StatusNotFound, CodeNotFound},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed, CodeMethodNotAllowed},
	{ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{validation.ErrInvalid, http.StatusBadRequest, CodeValidation},
	{bulk.ErrAuthNotInitialized, http.StatusServiceUnavailable, CodeAuthNotInitialized},
	{platform.ErrNotReady, http.StatusServiceUnavailable, CodeAuthNotInitialized},
	{bulk.ErrTemplateNotFound, http.StatusNotFound, CodeTemplateNotFound},
	{template.ErrTemplateNotFound, http.StatusNotFound, CodeTemplateNotFound},
	{template.ErrTemplateExists, http.StatusConflict, CodeConflict},
	{jobregistry.ErrJobNotFound, http.StatusNotFound, CodeJobNotFound},
	{jobregistry.ErrJobExists, http.StatusConflict, CodeConflict},
	{jobregistry.ErrInvalidJobID, http.StatusBadRequest, CodeBadRequest},
	{media.ErrMediaNotFound, http.StatusNotFound, CodeMediaNotFound},
	{media.ErrTooLarge, http.StatusRequestEntityTooLarge, CodePayloadTooLarge},
	{media.ErrUnsupportedType, http.StatusUnsupportedMediaType, CodeUnsupportedMedia},
	{media.ErrEmptyUpload, http.StatusBadRequest, CodeValidation},
	{bulk.ErrQueueFull, http.StatusServiceUnavailable, CodeQueueFull},
	{bulk.ErrExecutorStopped, http.StatusServiceUnavailable, CodeServiceUnavailable},
	{platform.ErrTimeout, http.StatusGatewayTimeout, CodeExternalTimeout},
	{platform.ErrThrottled, http.StatusTooManyRequests, CodeExternalThrottled},
	{platform.ErrUnauthorized, http.StatusBadGateway, CodeExternalUnauthorize},
	{platform.ErrInvalidRequest, http.StatusBadRequest, CodeBadRequest},
	{platform.ErrUnavailable, http.StatusBadGateway, CodeExternalService},
	{media.ErrStorageDenied, http.StatusBadGateway, CodeExternalService},
	{media.ErrStorageThrottled, http.StatusServiceUnavailable, CodeExternalThrottled},
	{media.ErrStorageDown, http.StatusBadGateway, CodeExternalService},
}

// Classify maps err to an HTTP status and envelope code.
func Classify(err error) (int, string) {
	if env, ok := AsEnvelope(err); ok {
		status := env.Status
		if status == 0 {
			status = statusForCode(env.Code)
		}
		return status, env.Code
	}
	for _, m := range mappings {
		if stderrors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

func statusForCode(code string) int {
	for _, m := range mappings {
		if m.code == code {
			return m.status
		}
	}
	switch code {
	case CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case CodeExternalService:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// NewHTTPErrorResponse builds the response body for err.
//
// Internal errors never leak their message; the request id is enough to
// find the logged cause.
func NewHTTPErrorResponse(r *http.Request, err error) (int, HTTPErrorResponse) {
	status, code := Classify(err)
	body := HTTPErrorResponse{Error: HTTPError{Code: code, Message: err.Error()}}
	if r != nil {
		body.Error.RequestID = chimw.GetReqID(r.Context())
	}

	if env, ok := AsEnvelope(err); ok {
		body.Error.Message = env.Message
		if len(env.Context) > 0 {
			body.Error.Details = env.Context
		}
	}
	var verr *validation.Error
	if stderrors.As(err, &verr) {
		body.Error.Message = validation.ErrInvalid.Error()
		body.Error.Details = verr.Details()
	}
	if code == CodeInternal {
		body.Error.Message = "internal server error"
	}
	return status, body
}

// RespondWithError writes the JSON error envelope for err.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := NewHTTPErrorResponse(r, err)
	WriteJSON(w, status, body)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// LogFields returns zap fields describing err for request logs.
func LogFields(err error) []zap.Field {
	status, code := Classify(err)
	return []zap.Field{
		zap.Int("status", status),
		zap.String("error_code", code),
		zap.Error(err),
	}
}
