package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultFile is read when no explicit path or AGRINODE_CONFIG is given and it exists.
const DefaultFile = "config.yaml"

// Load merges Defaults() + optional YAML file + AGRINODE_* env overrides, then validates.
// An explicit path (argument or AGRINODE_CONFIG) that cannot be read is an error;
// a missing DefaultFile is not.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	explicit := true
	if path == "" {
		path = os.Getenv("AGRINODE_CONFIG")
	}
	if path == "" {
		path = DefaultFile
		explicit = false
	}

	if err := loadFromFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file keep their current value.
func loadFromFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// applyEnvOverrides applies AGRINODE_* environment variables to the config.
// A set variable that does not parse is an error rather than being ignored.
func applyEnvOverrides(cfg *Config) error {
	// Server
	envString("AGRINODE_ADDR", &cfg.Server.Addr)
	if val := os.Getenv("AGRINODE_CORS_ORIGINS"); val != "" {
		cfg.Server.CORSOrigins = splitList(val)
	}
	if err := envInt64("AGRINODE_MAX_UPLOAD_BYTES", &cfg.Server.MaxUploadBytes); err != nil {
		return err
	}

	// Bridge
	envString("AGRINODE_DEFAULT_DEVICE", &cfg.Bridge.DefaultDevice)

	// Fallback
	if err := envBool("AGRINODE_FALLBACK_ENABLED", &cfg.Fallback.Enabled); err != nil {
		return err
	}
	if err := envDuration("AGRINODE_FALLBACK_SENSOR_DELAY", &cfg.Fallback.SensorDelay); err != nil {
		return err
	}
	if err := envDuration("AGRINODE_FALLBACK_SCAN_INTERVAL", &cfg.Fallback.ScanInterval); err != nil {
		return err
	}
	if err := envInt("AGRINODE_FALLBACK_SCAN_FRAMES", &cfg.Fallback.ScanFrames); err != nil {
		return err
	}

	// Inference
	envString("AGRINODE_WEED_MODEL_URL", &cfg.Inference.WeedURL)
	envString("AGRINODE_CROP_MODEL_URL", &cfg.Inference.CropURL)
	if err := envDuration("AGRINODE_INFERENCE_TIMEOUT", &cfg.Inference.Timeout); err != nil {
		return err
	}
	if err := envInt("AGRINODE_INFERENCE_WORKERS", &cfg.Inference.Workers); err != nil {
		return err
	}

	// Auth
	envString("AGRINODE_AUTH_ALGORITHM", &cfg.Auth.Algorithm)
	envString("AGRINODE_AUTH_SECRET", &cfg.Auth.SecretKey)
	envString("AGRINODE_AUTH_JWKS_URL", &cfg.Auth.JWKSURL)
	if err := envBool("AGRINODE_DEVICE_AUTH_ENABLED", &cfg.DeviceAuth.Enabled); err != nil {
		return err
	}

	// History
	envString("AGRINODE_INFLUX_URL", &cfg.History.InfluxURL)
	envString("AGRINODE_INFLUX_TOKEN", &cfg.History.InfluxToken)
	envString("AGRINODE_INFLUX_ORG", &cfg.History.InfluxOrg)
	envString("AGRINODE_INFLUX_BUCKET", &cfg.History.InfluxBucket)

	// Events
	envString("AGRINODE_MQTT_BROKER", &cfg.Events.MQTTBroker)
	envString("AGRINODE_MQTT_CLIENT_ID", &cfg.Events.ClientID)
	envString("AGRINODE_MQTT_USERNAME", &cfg.Events.Username)
	envString("AGRINODE_MQTT_PASSWORD", &cfg.Events.Password)
	envString("AGRINODE_MQTT_TOPIC_PREFIX", &cfg.Events.TopicPrefix)

	// Logging
	envString("AGRINODE_LOG_LEVEL", &cfg.Logging.Level)
	envString("AGRINODE_LOG_FORMAT", &cfg.Logging.Format)
	envString("AGRINODE_LOG_FILE", &cfg.Logging.File)
	envString("AGRINODE_AUDIT_DIR", &cfg.Audit.Dir)

	return nil
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
