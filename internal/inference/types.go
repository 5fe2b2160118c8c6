package inference

import (
	"context"
	"fmt"
)

// Detection is one detected weed.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"bbox"`
}

// WeedResult is the output of a weed detection run.
type WeedResult struct {
	AnnotatedImage []byte
	Detections     []Detection
}

// Count returns the number of detected weeds.
func (r *WeedResult) Count() int {
	return len(r.Detections)
}

// CropFeatures is the crop model input vector.
type CropFeatures struct {
	N           float64 `json:"N"`
	P           float64 `json:"P"`
	K           float64 `json:"K"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

type featureRange struct {
	name     string
	value    float64
	min, max float64
}

// Validate checks every feature against its accepted range.
func (f CropFeatures) Validate() error {
	for _, r := range []featureRange{
		{"N", f.N, 0, 200},
		{"P", f.P, 0, 200},
		{"K", f.K, 0, 300},
		{"temperature", f.Temperature, -10, 50},
		{"humidity", f.Humidity, 0, 100},
		{"ph", f.PH, 0, 14},
		{"rainfall", f.Rainfall, 0, 5000},
	} {
		if r.value < r.min || r.value > r.max {
			return fmt.Errorf("%w: %s must be between %g and %g, got %g", ErrInvalidInput, r.name, r.min, r.max, r.value)
		}
	}
	return nil
}

// CropResult is the crop model output.
type CropResult struct {
	Crop       string  `json:"recommended_crop"`
	Confidence float64 `json:"confidence"`
}

// WeedDetector runs weed detection on encoded image bytes.
type WeedDetector interface {
	Detect(ctx context.Context, image []byte) (*WeedResult, error)
	Loaded() bool
}

// CropRecommender predicts a crop from soil and climate features.
type CropRecommender interface {
	Recommend(ctx context.Context, features CropFeatures) (*CropResult, error)
	Loaded() bool
}
