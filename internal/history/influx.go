package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

// Measurement names.
const (
	MeasurementCrop = "crop_recommendation"
	MeasurementWeed = "weed_detection"
)

// InfluxStore keeps history in an InfluxDB bucket.
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	timeout  time.Duration
	retries  int
	logger   *slog.Logger

	newBackOff func() backoff.BackOff
}

var _ Store = (*InfluxStore)(nil)

// NewInfluxStore connects to the bucket described by cfg. The client is lazy:
// no request is made until the first write or query.
func NewInfluxStore(cfg config.HistoryConfig, logger *slog.Logger) (*InfluxStore, error) {
	if cfg.InfluxURL == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.WriteTimeout.Seconds() + 1))
	client := influxdb2.NewClientWithOptions(cfg.InfluxURL, cfg.InfluxToken, opts)

	return &InfluxStore{
		client:     client,
		writeAPI:   client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		queryAPI:   client.QueryAPI(cfg.InfluxOrg),
		bucket:     cfg.InfluxBucket,
		timeout:    cfg.WriteTimeout,
		retries:    cfg.MaxRetries,
		logger:     logger,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

// RecordCrop writes one crop recommendation.
func (s *InfluxStore) RecordCrop(ctx context.Context, rec CropRecord) error {
	fields := map[string]interface{}{"confidence": rec.Confidence}
	for k, v := range rec.Input {
		fields[k] = v
	}
	tags := map[string]string{"user_id": rec.UserID, "crop": rec.Crop}
	return s.write(ctx, influxdb2.NewPoint(MeasurementCrop, tags, fields, stamp(rec.CreatedAt)))
}

// RecordWeed writes one weed detection.
func (s *InfluxStore) RecordWeed(ctx context.Context, rec WeedRecord) error {
	fields := map[string]interface{}{
		"weed_count": rec.WeedCount,
		"filename":   rec.Filename,
	}
	tags := map[string]string{"user_id": rec.UserID}
	return s.write(ctx, influxdb2.NewPoint(MeasurementWeed, tags, fields, stamp(rec.CreatedAt)))
}

// write sends point, retrying with backoff up to the configured number of retries.
func (s *InfluxStore) write(ctx context.Context, point *write.Point) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(s.retries)), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		wctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		if err := s.writeAPI.WritePoint(wctx, point); err != nil {
			s.logger.Debug("history write attempt failed", "measurement", point.Name(), "attempt", attempt, "error", err)
			return err
		}
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("write %s after %d attempts: %w", point.Name(), attempt, err)
	}
	return nil
}

// Recent returns the newest limit records of each kind for userID.
func (s *InfluxStore) Recent(ctx context.Context, userID string, limit int) (*History, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out := Empty()

	err := s.query(ctx, recentFlux(limit), s.recentParams(MeasurementCrop, userID), func(rec *query.FluxRecord) {
		out.CropRecommendations = append(out.CropRecommendations, cropFromRecord(rec))
	})
	if err != nil {
		return nil, fmt.Errorf("query crop history: %w", err)
	}

	err = s.query(ctx, recentFlux(limit), s.recentParams(MeasurementWeed, userID), func(rec *query.FluxRecord) {
		out.WeedDetections = append(out.WeedDetections, weedFromRecord(rec))
	})
	if err != nil {
		return nil, fmt.Errorf("query weed history: %w", err)
	}

	return out, nil
}

// Close releases the client.
func (s *InfluxStore) Close() {
	s.client.Close()
}

func (s *InfluxStore) query(ctx context.Context, flux string, params interface{}, each func(*query.FluxRecord)) error {
	res, err := s.queryAPI.QueryWithParams(ctx, flux, params)
	if err != nil {
		return err
	}
	defer res.Close()

	for res.Next() {
		each(res.Record())
	}
	return res.Err()
}

// recentParams are bound server-side as params.* so user input never enters the Flux text.
type recentParams struct {
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement"`
	UserID      string `json:"userID"`
}

func (s *InfluxStore) recentParams(measurement, userID string) recentParams {
	return recentParams{Bucket: s.bucket, Measurement: measurement, UserID: userID}
}

func recentFlux(limit int) string {
	return fmt.Sprintf(`
from(bucket: params.bucket)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == params.measurement and r.user_id == params.userID)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n: %d)
`, limit)
}

// cropFeatureFields are the pivoted columns copied into CropRecord.Input.
var cropFeatureFields = []string{"N", "P", "K", "temperature", "humidity", "ph", "rainfall"}

func cropFromRecord(rec *query.FluxRecord) CropRecord {
	input := make(map[string]float64, len(cropFeatureFields))
	for _, k := range cropFeatureFields {
		if v, ok := floatValue(rec.ValueByKey(k)); ok {
			input[k] = v
		}
	}
	confidence, _ := floatValue(rec.ValueByKey("confidence"))
	return CropRecord{
		UserID:     stringValue(rec.ValueByKey("user_id")),
		Input:      input,
		Crop:       stringValue(rec.ValueByKey("crop")),
		Confidence: confidence,
		CreatedAt:  rec.Time().UTC(),
	}
}

func weedFromRecord(rec *query.FluxRecord) WeedRecord {
	count, _ := floatValue(rec.ValueByKey("weed_count"))
	return WeedRecord{
		UserID:    stringValue(rec.ValueByKey("user_id")),
		Filename:  stringValue(rec.ValueByKey("filename")),
		WeedCount: int(count),
		CreatedAt: rec.Time().UTC(),
	}
}

func floatValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
