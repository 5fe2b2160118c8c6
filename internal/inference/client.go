package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

const maxResponseBytes = 64 << 20

// remote is the shared HTTP + breaker plumbing for one model service.
type remote struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// Option configures a model client.
type Option func(*options)

type options struct {
	onState func(model, state string)
}

// WithBreakerObserver reports circuit breaker transitions as (model, new state).
func WithBreakerObserver(fn func(model, state string)) Option {
	return func(o *options) { o.onState = fn }
}

func newRemote(name, baseURL string, cfg config.InferenceConfig, opts []Option) *remote {
	if baseURL == "" {
		return nil
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	failures := uint32(cfg.BreakerFailures)
	return &remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Rejected inputs and callers giving up say nothing about service health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrProcessing) ||
					errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, _, to gobreaker.State) {
				if o.onState != nil {
					o.onState(name, to.String())
				}
			},
		}),
	}
}

// post sends body to path and decodes a JSON response into out.
func (r *remote) post(ctx context.Context, path, contentType string, body []byte, out interface{}) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcessing, err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("model request: %w", ctx.Err())
			}
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("read response: %w", ctx.Err())
			}
			return nil, fmt.Errorf("%w: read response: %v", ErrModelUnavailable, err)
		}

		switch {
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: model service returned %d", ErrModelUnavailable, resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: model rejected input (%d): %s", ErrProcessing, resp.StatusCode, bytes.TrimSpace(data))
		}

		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrProcessing, err)
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return err
}

// WeedClient calls a remote weed detection service: POST {url}/detect with raw image bytes.
type WeedClient struct {
	remote *remote
}

var _ WeedDetector = (*WeedClient)(nil)

// NewWeedClient creates a weed client. An empty cfg.WeedURL yields an unloaded client.
func NewWeedClient(cfg config.InferenceConfig, opts ...Option) *WeedClient {
	return &WeedClient{remote: newRemote("weed-model", cfg.WeedURL, cfg, opts)}
}

// Loaded reports whether a model service is configured.
func (c *WeedClient) Loaded() bool {
	return c.remote != nil
}

type detectResponse struct {
	AnnotatedImage string      `json:"annotated_image"`
	Detections     []Detection `json:"detections"`
}

// Detect runs detection and returns the decoded annotated image with its detections.
func (c *WeedClient) Detect(ctx context.Context, image []byte) (*WeedResult, error) {
	if c.remote == nil {
		return nil, fmt.Errorf("%w: weed model not loaded", ErrModelUnavailable)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrProcessing)
	}

	var resp detectResponse
	if err := c.remote.post(ctx, "/detect", http.DetectContentType(image), image, &resp); err != nil {
		return nil, err
	}

	annotated, err := base64.StdEncoding.DecodeString(resp.AnnotatedImage)
	if err != nil || len(annotated) == 0 {
		return nil, fmt.Errorf("%w: invalid annotated image", ErrProcessing)
	}

	return &WeedResult{AnnotatedImage: annotated, Detections: resp.Detections}, nil
}

// CropClient calls a remote crop model: POST {url}/predict with the feature JSON.
type CropClient struct {
	remote *remote
}

var _ CropRecommender = (*CropClient)(nil)

// NewCropClient creates a crop client. An empty cfg.CropURL yields an unloaded client.
func NewCropClient(cfg config.InferenceConfig, opts ...Option) *CropClient {
	return &CropClient{remote: newRemote("crop-model", cfg.CropURL, cfg, opts)}
}

// Loaded reports whether a model service is configured.
func (c *CropClient) Loaded() bool {
	return c.remote != nil
}

type predictResponse struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// defaultConfidence is reported when the model gives no probability.
const defaultConfidence = 0.95

// Recommend validates features and asks the model for a crop.
func (c *CropClient) Recommend(ctx context.Context, features CropFeatures) (*CropResult, error) {
	if err := features.Validate(); err != nil {
		return nil, err
	}
	if c.remote == nil {
		return nil, fmt.Errorf("%w: crop model not loaded", ErrModelUnavailable)
	}

	body, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessing, err)
	}

	var resp predictResponse
	if err := c.remote.post(ctx, "/predict", "application/json", body, &resp); err != nil {
		return nil, err
	}
	if resp.Label == "" {
		return nil, fmt.Errorf("%w: empty label", ErrProcessing)
	}

	confidence := defaultConfidence
	if resp.Confidence != nil {
		confidence = *resp.Confidence
	}
	return &CropResult{Crop: resp.Label, Confidence: confidence}, nil
}
