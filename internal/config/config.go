package config

import (
	"time"
)

// Config is the complete runtime configuration of the bridge service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Fallback   FallbackConfig   `yaml:"fallback"`
	Inference  InferenceConfig  `yaml:"inference"`
	Auth       AuthConfig       `yaml:"auth"`
	DeviceAuth DeviceAuthConfig `yaml:"device_auth"`
	History    HistoryConfig    `yaml:"history"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`
	Audit      AuditConfig      `yaml:"audit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// BridgeConfig holds device bridge settings.
type BridgeConfig struct {
	DefaultDevice string `yaml:"default_device"`
	ScanCapacity  int    `yaml:"scan_capacity"`
}

// FallbackConfig controls the simulated device path.
type FallbackConfig struct {
	Enabled      bool          `yaml:"enabled"`
	SensorDelay  time.Duration `yaml:"sensor_delay"`
	ScanInterval time.Duration `yaml:"scan_interval"`
	ScanFrames   int           `yaml:"scan_frames"`
}

// InferenceConfig points at the remote model services.
// An empty URL means the model is not loaded.
type InferenceConfig struct {
	WeedURL         string        `yaml:"weed_url"`
	CropURL         string        `yaml:"crop_url"`
	Timeout         time.Duration `yaml:"timeout"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
}

// AuthConfig configures bearer token verification for client routes.
type AuthConfig struct {
	Algorithm           string        `yaml:"algorithm"` // "HS256" or "RS256"
	SecretKey           string        `yaml:"secret_key"`
	PublicKeyPEM        string        `yaml:"public_key_pem"`
	JWKSURL             string        `yaml:"jwks_url"`
	JWKSRefreshInterval time.Duration `yaml:"jwks_refresh_interval"`
	JWKSCacheTimeout    time.Duration `yaml:"jwks_cache_timeout"`
}

// DeviceAuthConfig configures the optional shared-key check on device routes.
// Keys maps a device id to the bcrypt hash of its key.
type DeviceAuthConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"`
}

// HistoryConfig points at the InfluxDB history bucket. Empty URL disables history.
type HistoryConfig struct {
	InfluxURL    string        `yaml:"influx_url"`
	InfluxToken  string        `yaml:"influx_token"`
	InfluxOrg    string        `yaml:"influx_org"`
	InfluxBucket string        `yaml:"influx_bucket"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// EventsConfig configures cycle event delivery. Empty broker disables MQTT;
// the SSE stream is always available to authenticated clients.
type EventsConfig struct {
	MQTTBroker  string `yaml:"mqtt_broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`

	StreamBuffer      int           `yaml:"stream_buffer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  16 << 20,
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
		},
		Bridge: BridgeConfig{
			DefaultDevice: "default",
			ScanCapacity:  8,
		},
		Fallback: FallbackConfig{
			Enabled:      true,
			SensorDelay:  3 * time.Second,
			ScanInterval: 1500 * time.Millisecond,
			ScanFrames:   8,
		},
		Inference: InferenceConfig{
			Timeout:         30 * time.Second,
			Workers:         2,
			QueueSize:       16,
			BreakerFailures: 5,
			BreakerOpenFor:  30 * time.Second,
		},
		Auth: AuthConfig{
			Algorithm:           "HS256",
			JWKSRefreshInterval: 10 * time.Minute,
			JWKSCacheTimeout:    time.Hour,
		},
		History: HistoryConfig{
			InfluxOrg:    "agrinode",
			InfluxBucket: "history",
			WriteTimeout: 5 * time.Second,
			MaxRetries:   3,
		},
		Events: EventsConfig{
			ClientID:          "agrinode-bridge",
			TopicPrefix:       "agrinode/devices",
			StreamBuffer:      50,
			HeartbeatInterval: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  20,
			MaxBackups: 10,
			MaxAgeDays: 90,
		},
	}
}
