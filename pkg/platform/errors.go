package platform

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for platform operations.
var (
	// ErrNotReady indicates the client has no credentials configured.
	ErrNotReady = errors.New("platform client not initialized")

	// ErrUnauthorized indicates the access token was rejected.
	ErrUnauthorized = errors.New("platform rejected credentials")

	// ErrThrottled indicates the platform rate limited the request.
	ErrThrottled = errors.New("platform throttled request")

	// ErrInvalidRequest indicates the platform rejected the request payload.
	ErrInvalidRequest = errors.New("platform rejected request")

	// ErrUnavailable indicates a transient platform or network failure.
	ErrUnavailable = errors.New("platform unavailable")

	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("platform call timed out")
)

// PlatformError wraps a failed remote call with context.
type PlatformError struct {
	// Op is the operation that failed (e.g., "CreateAd").
	Op string

	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int

	// Code and Subcode are the platform's error codes, if any.
	Code    int
	Subcode int

	// Message is the platform's error message.
	Message string

	// TraceID is the platform's request trace id, if any.
	TraceID string

	// Err is the classified sentinel or underlying error.
	Err error
}

// Error implements the error interface.
func (e *PlatformError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// IsThrottled returns true if the error indicates rate limiting.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnauthorized returns true if the error indicates rejected credentials.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTimeout returns true if the call ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Platform error codes that map to sentinels.
const (
	codeAuthException   = 190
	codePermission      = 200
	codeAPIUnknown      = 1
	codeAPIService      = 2
	codeTooManyCalls    = 4
	codeUserTooMany     = 17
	codeAppThrottled    = 32
	codeAdAccountLimit  = 613
	codeAdsAPIThrottled = 80004
)

// classify maps an HTTP status and platform error code to a sentinel.
func classify(status, code int) error {
	switch code {
	case codeAuthException, codePermission:
		return ErrUnauthorized
	case codeTooManyCalls, codeUserTooMany, codeAppThrottled, codeAdAccountLimit, codeAdsAPIThrottled:
		return ErrThrottled
	case codeAPIUnknown, codeAPIService:
		return ErrUnavailable
	}
	switch {
	case status == 401 || status == 403:
		return ErrUnauthorized
	case status == 429:
		return ErrThrottled
	case status >= 500:
		return ErrUnavailable
	case status >= 400:
		return ErrInvalidRequest
	}
	return ErrUnavailable
}
