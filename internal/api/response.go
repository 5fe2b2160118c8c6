package api

import (
	"encoding/json"
	"net/http"

	"github.com/KushalM23/SmartAgriNode/internal/audit"
)

// ErrorBody is the error envelope shared by every route.
type ErrorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	CorrelationID string `json:"correlationId"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope for code.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorBody{
		Error:         message,
		Code:          code,
		CorrelationID: audit.CorrelationIDFrom(r.Context()),
	})
}

// writeErr maps err through ToAPIError.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := ToAPIError(err)
	writeError(w, r, apiErr.StatusCode, apiErr.Code, apiErr.Message)
}
