package api

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds request bodies; wallet payloads are small
const maxBodyBytes = 1 << 20

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error *apperrors.Response `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: &apperrors.Response{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondServiceError maps a service error onto its status code. Internal
// causes are logged, never sent.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).
			WithField("path", r.URL.Path).
			WithError(err).
			Error("request failed")
	}

	resp := catErr.ToResponse()
	if catErr.StatusCode == http.StatusInternalServerError {
		resp = &apperrors.Response{Code: ErrCodeInternalError, Message: "An internal error occurred"}
	}
	respondError(w, catErr.StatusCode, resp.Code, resp.Message, resp.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)
