package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/agentlens/agentlens/pkg/compliance"
	"github.com/agentlens/agentlens/pkg/ingest"
	"github.com/agentlens/agentlens/pkg/otlp"
	"github.com/agentlens/agentlens/pkg/store"
)

// errorBody is the stable error response shape. details carries the
// structured validation issue list where applicable.
type errorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Details any    `json:"details,omitempty"`
}

// apiError carries an errorBody as an error. It implements echo's
// HTTPStatusCoder and json.Marshaler so that handlers can
// `return mapServiceError(err)` and echo renders the body as-is.
type apiError struct {
	body errorBody
}

func (e *apiError) Error() string { return e.body.Error }

func (e *apiError) StatusCode() int { return e.body.Status }

func (e *apiError) MarshalJSON() ([]byte, error) { return json.Marshal(e.body) }

func httpError(status int, msg string, details any) *apiError {
	return &apiError{body: errorBody{Error: msg, Status: status, Details: details}}
}

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *apiError {
	var validErr *ingest.ValidationError
	if errors.As(err, &validErr) {
		return httpError(http.StatusBadRequest, "validation failed", validErr.Issues)
	}
	var rateErr *ingest.RateLimitError
	if errors.As(err, &rateErr) {
		// Retry-After is set by the handler before mapping.
		return httpError(http.StatusTooManyRequests, rateErr.Error(), nil)
	}
	if errors.Is(err, store.ErrNotFound) {
		return httpError(http.StatusNotFound, "resource not found", nil)
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return httpError(http.StatusConflict, "resource already exists", nil)
	}
	if errors.Is(err, store.ErrInvalidInput) {
		return httpError(http.StatusBadRequest, err.Error(), nil)
	}
	if errors.Is(err, store.ErrTenantMismatch) {
		return httpError(http.StatusForbidden, "tenant mismatch", nil)
	}
	if errors.Is(err, compliance.ErrInvalidRange) || errors.Is(err, compliance.ErrRangeTooWide) {
		return httpError(http.StatusBadRequest, err.Error(), nil)
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return httpError(http.StatusInternalServerError, "internal server error", nil)
}

// mapOTLPError maps receiver errors for the /v1 endpoints.
func mapOTLPError(err error) *apiError {
	var rateErr *otlp.RateLimitedError
	if errors.As(err, &rateErr) {
		return httpError(http.StatusTooManyRequests, err.Error(), nil)
	}
	switch {
	case errors.Is(err, otlp.ErrUnauthorized):
		return httpError(http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, otlp.ErrTenantRequired),
		errors.Is(err, otlp.ErrUnsupportedContentType),
		errors.Is(err, otlp.ErrMalformedBody):
		return httpError(http.StatusBadRequest, err.Error(), nil)
	}
	slog.Error("Unexpected OTLP receiver error", "error", err)
	return httpError(http.StatusInternalServerError, "internal server error", nil)
}
