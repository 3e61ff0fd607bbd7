// Package handlers implements the HTTP endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/adfanout/internal/errors"
)

// MaxJSONBody bounds JSON request bodies.
const MaxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	apperrors.WriteJSON(w, status, v)
}

// decodeJSON strictly decodes a single JSON document from r's body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, MaxJSONBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: body exceeds %d bytes", apperrors.ErrBadRequest, maxErr.Limit)
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: body is empty", apperrors.ErrBadRequest)
		default:
			return fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: body must hold a single JSON document", apperrors.ErrBadRequest)
	}
	return nil
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

// listResponse wraps collections so the envelope can grow.
type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}
