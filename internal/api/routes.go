package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// Route paths.
const (
	PathHealth             = "/api/health"
	PathMetrics            = "/metrics"
	PathCropRecommendation = "/api/crop-recommendation"
	PathWeedDetection      = "/api/weed-detection"
	PathHistory            = "/api/history"

	PathCheckCommand    = "/api/device/check-command"
	PathUpdateSensors   = "/api/device/update-sensors"
	PathUploadImage     = "/api/device/upload-image"
	PathCommandSensors  = "/api/device/command/sensors"
	PathCommandWeedScan = "/api/device/command/weed-scan"
	PathSensorsLatest   = "/api/device/sensors/latest"
	PathWeedScanResults = "/api/device/weed-scan/results"
	PathDeviceEvents    = "/api/device/events"
)

// buildHandler wires the router and wraps it, outermost first, with correlation
// ids, access logging, panic recovery and CORS.
func (s *Server) buildHandler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	s.RegisterRoutes(r)

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", DeviceIDHeader, "X-Device-Key", CorrelationIDHeader, "Last-Event-ID"}),
		handlers.ExposedHeaders([]string{CorrelationIDHeader}),
		handlers.AllowCredentials(),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)

	var h http.Handler = r
	h = cors(h)
	h = recovery(h)
	h = handlers.LoggingHandler(s.accessLog, h)
	return withCorrelationID(h)
}

// RegisterRoutes registers every route on r.
func (s *Server) RegisterRoutes(r *mux.Router) {
	// Public
	s.handle(r, PathHealth, http.HandlerFunc(s.handleHealth), http.MethodGet)
	r.Handle(PathMetrics, s.metrics.Handler()).Methods(http.MethodGet)

	// Client features (bearer token)
	client := s.auth.RequireAuth
	s.handle(r, PathCropRecommendation, client(http.HandlerFunc(s.handleCropRecommendation)), http.MethodPost)
	s.handle(r, PathWeedDetection, client(http.HandlerFunc(s.handleWeedDetection)), http.MethodPost)
	s.handle(r, PathHistory, client(http.HandlerFunc(s.handleHistory)), http.MethodGet)

	// Device bridge, client side (bearer token)
	s.handle(r, PathCommandSensors, client(http.HandlerFunc(s.handleTriggerSensors)), http.MethodPost)
	s.handle(r, PathCommandWeedScan, client(http.HandlerFunc(s.handleTriggerWeedScan)), http.MethodPost)
	s.handle(r, PathSensorsLatest, client(http.HandlerFunc(s.handleSensorsLatest)), http.MethodGet)
	s.handle(r, PathWeedScanResults, client(http.HandlerFunc(s.handleWeedScanResults)), http.MethodGet)
	if s.stream != nil {
		s.handle(r, PathDeviceEvents, client(http.HandlerFunc(s.handleDeviceEvents)), http.MethodGet)
	}

	// Device bridge, device side (optional device key)
	device := s.deviceKeys.RequireDeviceKey(s.rawDeviceID, s.logger)
	s.handle(r, PathCheckCommand, device(http.HandlerFunc(s.handleCheckCommand)), http.MethodGet)
	s.handle(r, PathUpdateSensors, device(http.HandlerFunc(s.handleUpdateSensors)), http.MethodPost)
	s.handle(r, PathUploadImage, device(http.HandlerFunc(s.handleUploadImage)), http.MethodPost)
}

func (s *Server) handle(r *mux.Router, path string, h http.Handler, method string) {
	r.Handle(path, s.metrics.WrapHandler(path, h)).Methods(method)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}
