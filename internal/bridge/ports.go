package bridge

import (
	"context"
	"time"

	"github.com/KushalM23/SmartAgriNode/internal/events"
)

// AuditLogger records bridge actions.
type AuditLogger interface {
	LogAction(ctx context.Context, action, deviceID, code string, latency time.Duration)
}

// EventPublisher receives cycle events. Publish must not block on slow sinks.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// Metrics receives bridge counters.
type Metrics interface {
	CommandIssued(cmd Command)
	CommandDelivered(cmd Command)
	CycleStep(kind string, source Source)
	FallbackSuperseded(kind string)
	UploadRejected(code string)
}

type nopAudit struct{}

func (nopAudit) LogAction(context.Context, string, string, string, time.Duration) {}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, events.Event) {}

type nopMetrics struct{}

func (nopMetrics) CommandIssued(Command)     {}
func (nopMetrics) CommandDelivered(Command)  {}
func (nopMetrics) CycleStep(string, Source)  {}
func (nopMetrics) FallbackSuperseded(string) {}
func (nopMetrics) UploadRejected(string)     {}
