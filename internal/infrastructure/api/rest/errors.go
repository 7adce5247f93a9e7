package rest

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/flowmint/planengine/internal/domain"
)

// APIError is the JSON error envelope returned to every REST client.
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
}

func (e *APIError) Error() string { return e.Message }

func NewAPIError(code, message string, httpStatus int) *APIError {
	return &APIError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func NewAPIErrorWithDetails(code, message string, httpStatus int, details map[string]interface{}) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: httpStatus}
}

var (
	ErrBadRequest       = NewAPIError("BAD_REQUEST", "Invalid request", http.StatusBadRequest)
	ErrNotFoundAPI      = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrValidationFailed = NewAPIError("VALIDATION_FAILED", "Validation failed", http.StatusBadRequest)
	ErrInternalServer   = NewAPIError("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError)
	ErrInvalidJSON      = NewAPIError("INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
	ErrMissingParameter = NewAPIError("MISSING_PARAMETER", "Required parameter is missing", http.StatusBadRequest)
	ErrInvalidID        = NewAPIError("INVALID_ID", "Invalid ID format", http.StatusBadRequest)
)

// TranslateError maps the five domain error kinds (spec §7) plus stray
// sql.ErrNoRows onto the HTTP status the teacher's handlers use throughout.
func TranslateError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var notFound *domain.NotFoundError
	if errors.As(err, &notFound) {
		return NewAPIError("NOT_FOUND", notFound.Error(), http.StatusNotFound)
	}

	var invalidState *domain.InvalidStateError
	if errors.As(err, &invalidState) {
		return NewAPIError("INVALID_STATE", invalidState.Error(), http.StatusConflict)
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return NewAPIErrorWithDetails("VALIDATION_FAILED", validation.Error(), http.StatusBadRequest,
			map[string]interface{}{"field": validation.Field})
	}

	var storeErr *domain.StoreError
	if errors.As(err, &storeErr) {
		return NewAPIError("STORE_ERROR", "a durable storage operation failed", http.StatusInternalServerError)
	}

	var dispatchErr *domain.DispatchError
	if errors.As(err, &dispatchErr) {
		return NewAPIError("DISPATCH_ERROR", "the dispatch queue could not be updated", http.StatusInternalServerError)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	}

	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	}

	return NewAPIError("INTERNAL_ERROR", "An unexpected error occurred", http.StatusInternalServerError)
}
