package api

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/KushalM23/SmartAgriNode/internal/audit"
	"github.com/KushalM23/SmartAgriNode/internal/auth"
	"github.com/KushalM23/SmartAgriNode/internal/bridge"
	"github.com/KushalM23/SmartAgriNode/internal/history"
	"github.com/KushalM23/SmartAgriNode/internal/inference"
)

// multipartOverhead is allowed on top of the image limit for form boundaries and headers.
const multipartOverhead = 1 << 20

var allowedImageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

type cropPayload struct {
	N           *float64 `json:"N"`
	P           *float64 `json:"P"`
	K           *float64 `json:"K"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	PH          *float64 `json:"ph"`
	Rainfall    *float64 `json:"rainfall"`
}

func (p cropPayload) features() (inference.CropFeatures, bool) {
	for _, v := range []*float64{p.N, p.P, p.K, p.Temperature, p.Humidity, p.PH, p.Rainfall} {
		if v == nil {
			return inference.CropFeatures{}, false
		}
	}
	return inference.CropFeatures{
		N:           *p.N,
		P:           *p.P,
		K:           *p.K,
		Temperature: *p.Temperature,
		Humidity:    *p.Humidity,
		PH:          *p.PH,
		Rainfall:    *p.Rainfall,
	}, true
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cropLoaded := s.crop != nil && s.crop.Loaded()
	weedLoaded := s.weed != nil && s.weed.Loaded()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"crop_model_loaded": cropLoaded,
		"weed_model_loaded": weedLoaded,
		"models_loaded":     cropLoaded && weedLoaded,
		"uptime":            s.Uptime().Round(time.Second).String(),
	})
}

// handleCropRecommendation handles POST /api/crop-recommendation
func (s *Server) handleCropRecommendation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.cropRecommendation(w, r)
	if err != nil {
		writeErr(w, r, err)
	}
	s.logAudit(r.Context(), "crop_recommendation", err, start)
}

func (s *Server) cropRecommendation(w http.ResponseWriter, r *http.Request) error {
	var p cropPayload
	if err := decodeJSON(w, r, &p); err != nil {
		return err
	}
	features, ok := p.features()
	if !ok {
		return badRequest("N, P, K, temperature, humidity, ph and rainfall are required")
	}
	if err := features.Validate(); err != nil {
		return err
	}
	if s.crop == nil || !s.crop.Loaded() {
		return NewAPIError("MODEL_UNAVAILABLE", "Crop recommendation model not available", http.StatusServiceUnavailable)
	}

	result, err := s.crop.Recommend(r.Context(), features)
	if err != nil {
		return err
	}

	s.recordCrop(r.Context(), features, result)
	writeJSON(w, http.StatusOK, result)
	return nil
}

// handleWeedDetection handles POST /api/weed-detection with multipart field "image".
func (s *Server) handleWeedDetection(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := s.weedDetection(w, r)
	if err != nil {
		writeErr(w, r, err)
	}
	s.logAudit(r.Context(), "weed_detection", err, start)
}

func (s *Server) weedDetection(w http.ResponseWriter, r *http.Request) error {
	if s.weed == nil || !s.weed.Loaded() {
		return NewAPIError("MODEL_UNAVAILABLE", "Weed detection model not available", http.StatusServiceUnavailable)
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	file, header, err := r.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return badRequest("File size exceeds upload limit")
		}
		return badRequest("Multipart field \"image\" is required")
	}
	defer func() { _ = file.Close() }()

	if !allowedImageExts[strings.ToLower(filepath.Ext(header.Filename))] {
		return badRequest("Invalid file format. Only JPG, PNG, JPEG allowed")
	}
	data, err := readUpload(file, header, s.cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	result, err := s.weed.Detect(r.Context(), data)
	if err != nil {
		return err
	}

	s.recordWeed(r.Context(), header.Filename, result.Count())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result_image": base64.StdEncoding.EncodeToString(result.AnnotatedImage),
		"detections":   result.Count(),
		"message":      "Weed detection completed successfully",
	})
	return nil
}

func readUpload(file multipart.File, header *multipart.FileHeader, limit int64) ([]byte, error) {
	if header.Size > limit {
		return nil, badRequest("File size exceeds upload limit")
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, badRequest("Failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, badRequest("File size exceeds upload limit")
	}
	if len(data) == 0 {
		return nil, badRequest("Empty image")
	}
	return data, nil
}

// handleHistory handles GET /api/history. A failing store yields empty lists.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.history.Recent(r.Context(), userID(r.Context()), history.DefaultLimit)
	if err != nil {
		s.logger.Warn("history query failed", "error", err, "correlationId", audit.CorrelationIDFrom(r.Context()))
		h = history.Empty()
	}
	writeJSON(w, http.StatusOK, h)
}

// recordCrop stores a crop recommendation. Failures are logged and counted only.
func (s *Server) recordCrop(ctx context.Context, f inference.CropFeatures, result *inference.CropResult) {
	err := s.history.RecordCrop(ctx, history.CropRecord{
		UserID: userID(ctx),
		Input: map[string]float64{
			"N":           f.N,
			"P":           f.P,
			"K":           f.K,
			"temperature": f.Temperature,
			"humidity":    f.Humidity,
			"ph":          f.PH,
			"rainfall":    f.Rainfall,
		},
		Crop:       result.Crop,
		Confidence: result.Confidence,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		s.historyFailed("crop", err)
	}
}

// recordWeed stores a weed detection. Failures are logged and counted only.
func (s *Server) recordWeed(ctx context.Context, filename string, count int) {
	err := s.history.RecordWeed(ctx, history.WeedRecord{
		UserID:    userID(ctx),
		Filename:  filename,
		WeedCount: count,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		s.historyFailed("weed", err)
	}
}

func (s *Server) historyFailed(kind string, err error) {
	s.logger.Warn("failed to store history", "kind", kind, "error", err)
	s.metrics.HistoryWriteFailed(kind)
}

func (s *Server) logAudit(ctx context.Context, action string, err error, start time.Time) {
	if s.audit == nil {
		return
	}
	code := bridge.Code(err)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		code = apiErr.Code
	}
	s.audit.LogAction(ctx, action, "", code, time.Since(start))
}

func userID(ctx context.Context) string {
	if claims := auth.ClaimsFrom(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}
