package auth

import (
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

// DeviceKeyHeader carries the per-device shared key.
const DeviceKeyHeader = "X-Device-Key"

// DeviceKeys checks device requests against bcrypt hashes keyed by device id.
type DeviceKeys struct {
	enabled bool
	hashes  map[string][]byte
}

// NewDeviceKeys builds the checker. When disabled every device request is accepted.
func NewDeviceKeys(cfg config.DeviceAuthConfig) (*DeviceKeys, error) {
	d := &DeviceKeys{enabled: cfg.Enabled, hashes: make(map[string][]byte, len(cfg.Keys))}
	for id, hash := range cfg.Keys {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("device %q: invalid bcrypt hash: %w", id, err)
		}
		d.hashes[id] = []byte(hash)
	}
	if d.enabled && len(d.hashes) == 0 {
		return nil, fmt.Errorf("device auth enabled but no keys configured")
	}
	return d, nil
}

// Enabled reports whether device keys are enforced.
func (d *DeviceKeys) Enabled() bool {
	return d != nil && d.enabled
}

// Check verifies key for deviceID. Unknown devices fail.
func (d *DeviceKeys) Check(deviceID, key string) error {
	if !d.Enabled() {
		return nil
	}
	hash, ok := d.hashes[deviceID]
	if !ok || key == "" {
		return fmt.Errorf("%w: unknown device or missing key", ErrUnauthorized)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
		return fmt.Errorf("%w: device key mismatch", ErrUnauthorized)
	}
	return nil
}

// RequireDeviceKey wraps device routes. deviceID resolves the identity the request claims.
func (d *DeviceKeys) RequireDeviceKey(deviceID func(*http.Request) string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !d.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := deviceID(r)
			if err := d.Check(id, r.Header.Get(DeviceKeyHeader)); err != nil {
				if logger != nil {
					logger.Warn("device key rejected", "deviceId", id, "remote", r.RemoteAddr)
				}
				writeUnauthorized(w, r, "Invalid device credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashDeviceKey returns the bcrypt hash to place under device_auth.keys.
func HashDeviceKey(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
