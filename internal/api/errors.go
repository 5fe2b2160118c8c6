package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/KushalM23/SmartAgriNode/internal/auth"
	"github.com/KushalM23/SmartAgriNode/internal/bridge"
)

// APIError is an error with its HTTP status and outcome code.
type APIError struct {
	Code       string
	Message    string
	StatusCode int
}

// NewAPIError creates an APIError.
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{Code: code, Message: message, StatusCode: statusCode}
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// statusByCode maps outcome codes to HTTP status.
var statusByCode = map[string]int{
	"BAD_REQUEST":       http.StatusBadRequest,
	"SCAN_FULL":         http.StatusConflict,
	"MODEL_UNAVAILABLE": http.StatusServiceUnavailable,
	"PROCESSING_FAILED": http.StatusUnprocessableEntity,
	"BUSY":              http.StatusServiceUnavailable,
	"TIMEOUT":           http.StatusGatewayTimeout,
	"INTERNAL":          http.StatusInternalServerError,
}

var defaultMessages = map[string]string{
	"BAD_REQUEST":       "Malformed or missing required parameter",
	"SCAN_FULL":         "Scan cycle already holds all results",
	"MODEL_UNAVAILABLE": "Model not available",
	"PROCESSING_FAILED": "Processing failed",
	"BUSY":              "Service is busy, please retry with backoff",
	"TIMEOUT":           "Request timed out",
	"INTERNAL":          "Internal server error",
}

// ToAPIError converts err to an APIError. Internal errors never expose their text.
func ToAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	if errors.Is(err, auth.ErrUnauthorized) {
		return NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	}

	code := bridge.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		code, status = "INTERNAL", http.StatusInternalServerError
	}
	return NewAPIError(code, errorMessage(code, err), status)
}

// errorMessage returns the detail that follows the sentinel, e.g. "empty body"
// for "BAD_REQUEST: empty body", or the default message for the code.
func errorMessage(code string, err error) string {
	if code == "INTERNAL" {
		return defaultMessages[code]
	}
	msg := err.Error()
	if detail, found := strings.CutPrefix(msg, code+": "); found && detail != "" {
		return detail
	}
	if msg == code {
		return defaultMessages[code]
	}
	return msg
}

func badRequest(message string) *APIError {
	return NewAPIError("BAD_REQUEST", message, http.StatusBadRequest)
}
