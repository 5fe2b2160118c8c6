package history

import (
	"context"
	"time"
)

// DefaultLimit is the number of records returned per kind.
const DefaultLimit = 10

// CropRecord is one stored crop recommendation.
type CropRecord struct {
	UserID     string             `json:"user_id"`
	Input      map[string]float64 `json:"input_data"`
	Crop       string             `json:"recommended_crop"`
	Confidence float64            `json:"confidence"`
	CreatedAt  time.Time          `json:"created_at"`
}

// WeedRecord is one stored weed detection.
type WeedRecord struct {
	UserID    string    `json:"user_id"`
	Filename  string    `json:"image_filename"`
	WeedCount int       `json:"weed_count"`
	CreatedAt time.Time `json:"created_at"`
}

// History is a user's recent records, newest first.
type History struct {
	CropRecommendations []CropRecord `json:"crop_recommendations"`
	WeedDetections      []WeedRecord `json:"weed_detections"`
}

// Empty returns a History with non-nil empty lists.
func Empty() *History {
	return &History{CropRecommendations: []CropRecord{}, WeedDetections: []WeedRecord{}}
}

// Store persists history records.
type Store interface {
	RecordCrop(ctx context.Context, rec CropRecord) error
	RecordWeed(ctx context.Context, rec WeedRecord) error
	Recent(ctx context.Context, userID string, limit int) (*History, error)
	Close()
}

// Noop discards records and returns empty history.
type Noop struct{}

var _ Store = Noop{}

func (Noop) RecordCrop(context.Context, CropRecord) error { return nil }
func (Noop) RecordWeed(context.Context, WeedRecord) error { return nil }
func (Noop) Close()                                      {}

func (Noop) Recent(context.Context, string, int) (*History, error) {
	return Empty(), nil
}
