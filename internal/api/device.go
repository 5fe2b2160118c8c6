package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/KushalM23/SmartAgriNode/internal/bridge"
)

type sensorPayload struct {
	N  *float64 `json:"N"`
	P  *float64 `json:"P"`
	K  *float64 `json:"K"`
	PH *float64 `json:"ph"`
}

// handleCheckCommand handles GET /api/device/check-command. The body is a bare JSON string.
func (s *Server) handleCheckCommand(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, string(s.bridge.CheckCommand(r.Context(), id)))
}

// handleUpdateSensors handles POST /api/device/update-sensors
func (s *Server) handleUpdateSensors(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var p sensorPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeErr(w, r, err)
		return
	}
	if p.N == nil || p.P == nil || p.K == nil || p.PH == nil {
		writeErr(w, r, badRequest("N, P, K and ph are required"))
		return
	}

	reading := bridge.SensorReading{N: *p.N, P: *p.P, K: *p.K, PH: *p.PH}
	if err := s.bridge.UpdateSensors(r.Context(), id, reading); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// handleUploadImage handles POST /api/device/upload-image with a raw JPEG body.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, r, badRequest("Image exceeds upload limit"))
			return
		}
		writeErr(w, r, badRequest("Failed to read body"))
		return
	}
	if len(body) == 0 {
		writeErr(w, r, badRequest("Empty body"))
		return
	}

	weeds, err := s.bridge.UploadImage(r.Context(), id, body)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "processed",
		"weed_count": weeds,
	})
}

// handleTriggerSensors handles POST /api/device/command/sensors
func (s *Server) handleTriggerSensors(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": s.bridge.TriggerSensors(r.Context(), id)})
}

// handleTriggerWeedScan handles POST /api/device/command/weed-scan
func (s *Server) handleTriggerWeedScan(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": s.bridge.TriggerWeedScan(r.Context(), id)})
}

// handleSensorsLatest handles GET /api/device/sensors/latest
func (s *Server) handleSensorsLatest(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.PollSensors(r.Context(), id))
}

// handleWeedScanResults handles GET /api/device/weed-scan/results
func (s *Server) handleWeedScanResults(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.PollScanResults(r.Context(), id))
}

// handleDeviceEvents handles GET /api/device/events as a Server-Sent Events stream.
func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	id, err := s.deviceID(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.stream.Subscribe(w, r, id); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "Event stream is shutting down")
	}
}
