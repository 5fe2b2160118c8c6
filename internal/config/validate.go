package config

import (
	"fmt"
	"strings"
)

// Validate checks the merged configuration section by section.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}

	if err := validateBridge(&cfg.Bridge); err != nil {
		return fmt.Errorf("bridge validation failed: %w", err)
	}

	if err := validateFallback(&cfg.Fallback); err != nil {
		return fmt.Errorf("fallback validation failed: %w", err)
	}

	if err := validateInference(&cfg.Inference); err != nil {
		return fmt.Errorf("inference validation failed: %w", err)
	}

	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if err := validateHistory(&cfg.History); err != nil {
		return fmt.Errorf("history validation failed: %w", err)
	}

	if err := validateEvents(&cfg.Events); err != nil {
		return fmt.Errorf("events validation failed: %w", err)
	}

	if err := validateLogging(&cfg.Logging); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}

	return nil
}

func validateServer(s *ServerConfig) error {
	if s.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 || s.IdleTimeout <= 0 {
		return fmt.Errorf("read/write/idle timeouts must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", s.ShutdownTimeout)
	}
	if s.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", s.MaxUploadBytes)
	}
	return nil
}

func validateBridge(b *BridgeConfig) error {
	if strings.TrimSpace(b.DefaultDevice) == "" {
		return fmt.Errorf("default device cannot be empty")
	}
	if b.ScanCapacity <= 0 {
		return fmt.Errorf("scan capacity must be positive, got %d", b.ScanCapacity)
	}
	return nil
}

func validateFallback(f *FallbackConfig) error {
	if !f.Enabled {
		return nil
	}
	if f.SensorDelay <= 0 {
		return fmt.Errorf("sensor delay must be positive, got %v", f.SensorDelay)
	}
	if f.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive, got %v", f.ScanInterval)
	}
	if f.ScanFrames < 0 {
		return fmt.Errorf("scan frames must be non-negative, got %d", f.ScanFrames)
	}
	return nil
}

func validateInference(i *InferenceConfig) error {
	if i.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", i.Timeout)
	}
	if i.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", i.Workers)
	}
	if i.QueueSize < 0 {
		return fmt.Errorf("queue size must be non-negative, got %d", i.QueueSize)
	}
	if i.BreakerFailures <= 0 {
		return fmt.Errorf("breaker failures must be positive, got %d", i.BreakerFailures)
	}
	if i.BreakerOpenFor <= 0 {
		return fmt.Errorf("breaker open duration must be positive, got %v", i.BreakerOpenFor)
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	switch a.Algorithm {
	case "HS256", "RS256":
	default:
		return fmt.Errorf("unsupported algorithm %q", a.Algorithm)
	}
	if a.JWKSURL != "" && a.JWKSRefreshInterval <= 0 {
		return fmt.Errorf("jwks refresh interval must be positive when jwks_url is set")
	}
	return nil
}

func validateHistory(h *HistoryConfig) error {
	if h.InfluxURL == "" {
		return nil
	}
	if h.InfluxOrg == "" || h.InfluxBucket == "" {
		return fmt.Errorf("influx org and bucket are required when influx_url is set")
	}
	if h.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %v", h.WriteTimeout)
	}
	if h.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", h.MaxRetries)
	}
	return nil
}

func validateEvents(e *EventsConfig) error {
	if e.StreamBuffer < 0 {
		return fmt.Errorf("stream buffer must be non-negative, got %d", e.StreamBuffer)
	}
	if e.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", e.HeartbeatInterval)
	}
	if e.MQTTBroker == "" {
		return nil
	}
	if e.QoS < 0 || e.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", e.QoS)
	}
	if e.TopicPrefix == "" {
		return fmt.Errorf("topic prefix cannot be empty when mqtt_broker is set")
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown format %q", l.Format)
	}
	return nil
}
