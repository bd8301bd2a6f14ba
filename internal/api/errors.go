package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/session"
)

// Error codes returned in API responses
const (
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeUnsupportedLanguage  = "UNSUPPORTED_LANGUAGE"
	ErrCodeUnsupportedExtension = "UNSUPPORTED_EXTENSION"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeProvisionFailed      = "PROVISION_FAILED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string                 `json:"error_code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// classifyError maps a domain error to its HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, ErrCodeSessionNotFound
	case errors.Is(err, language.ErrUnsupportedLanguage):
		return http.StatusBadRequest, ErrCodeUnsupportedLanguage
	case errors.Is(err, language.ErrUnsupportedExtension):
		return http.StatusBadRequest, ErrCodeUnsupportedExtension
	case errors.Is(err, session.ErrInvalidFilename):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errors.Is(err, session.ErrProvision):
		return http.StatusBadGateway, ErrCodeProvisionFailed
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}
