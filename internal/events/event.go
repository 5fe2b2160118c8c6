package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeCommandIssued    = "command_issued"
	TypeCommandDelivered = "command_delivered"
	TypeSensorReading    = "sensor_reading"
	TypeScanResult       = "scan_result"
)

// Event is one bridge cycle event.
type Event struct {
	Type      string      `json:"type"`
	DeviceID  string      `json:"deviceId"`
	Source    string      `json:"source,omitempty"`
	Cycle     uint64      `json:"cycle,omitempty"`
	Timestamp time.Time   `json:"ts"`
	Data      interface{} `json:"data,omitempty"`
}

// Publisher sends events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close()
}

// Noop discards events.
type Noop struct{}

var _ Publisher = Noop{}

// Publish discards ev.
func (Noop) Publish(context.Context, Event) {}

// Close does nothing.
func (Noop) Close() {}

// Multi publishes every event to each of its publishers in order.
type Multi []Publisher

var _ Publisher = Multi(nil)

// Publish hands ev to every publisher.
func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}

// Close closes every publisher.
func (m Multi) Close() {
	for _, p := range m {
		p.Close()
	}
}
