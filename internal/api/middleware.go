package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/KushalM23/SmartAgriNode/internal/audit"
	"github.com/KushalM23/SmartAgriNode/internal/bridge"
)

// Request headers.
const (
	CorrelationIDHeader = "X-Correlation-ID"
	DeviceIDHeader      = "X-Device-ID"
)

const maxJSONBytes = 1 << 20

// withCorrelationID reuses a valid inbound correlation id or assigns a new one,
// echoes it on the response and stores it in the request context.
func withCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(audit.WithCorrelationID(r.Context(), id)))
	})
}

// rawDeviceID resolves the device a request is about: the X-Device-ID header,
// then the "device" query parameter, then the configured default.
func (s *Server) rawDeviceID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(DeviceIDHeader)); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.URL.Query().Get("device")); id != "" {
		return id
	}
	return s.defaultDevice
}

func (s *Server) deviceID(r *http.Request) (string, error) {
	id := s.rawDeviceID(r)
	if !bridge.ValidDeviceID(id) {
		return "", badRequest("Invalid device id")
	}
	return id, nil
}

// decodeJSON decodes one JSON object from the body. Unknown fields are ignored;
// trailing data after the object is rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("Request body too large")
		}
		return badRequest("Malformed JSON body")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return badRequest("Trailing data after JSON object")
	}
	return nil
}
