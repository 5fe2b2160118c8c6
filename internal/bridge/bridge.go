package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/KushalM23/SmartAgriNode/internal/config"
	"github.com/KushalM23/SmartAgriNode/internal/events"
	"github.com/KushalM23/SmartAgriNode/internal/inference"
)

// Acknowledgement messages returned by the trigger operations.
const (
	SensorsRequested  = "Sensor measurement requested"
	WeedScanRequested = "Weed scan requested"
)

// Bridge mediates between clients and poll-only devices.
type Bridge struct {
	registry  *Registry
	scheduler *Scheduler
	detector  inference.WeedDetector
	capacity  int

	auditLogger AuditLogger
	publisher   EventPublisher
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewBridge creates a bridge. detector runs weed detection for device uploads.
func NewBridge(cfg config.BridgeConfig, fallback config.FallbackConfig, detector inference.WeedDetector, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		registry:    NewRegistry(),
		scheduler:   NewScheduler(fallback, logger),
		detector:    detector,
		capacity:    cfg.ScanCapacity,
		auditLogger: nopAudit{},
		publisher:   nopEvents{},
		metrics:     nopMetrics{},
		logger:      logger,
		now:         time.Now,
	}
}

// SetAuditLogger sets the audit logger.
func (b *Bridge) SetAuditLogger(l AuditLogger) {
	if l != nil {
		b.auditLogger = l
	}
}

// SetEventPublisher sets the cycle event sink.
func (b *Bridge) SetEventPublisher(p EventPublisher) {
	if p != nil {
		b.publisher = p
	}
}

// SetMetrics sets the metrics sink.
func (b *Bridge) SetMetrics(m Metrics) {
	if m != nil {
		b.metrics = m
	}
}

// Registry exposes the per-device state store.
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// DetectorLoaded reports whether device uploads can be processed.
func (b *Bridge) DetectorLoaded() bool {
	return b.detector != nil && b.detector.Loaded()
}

// Close cancels every armed fallback and waits for running ones to exit.
func (b *Bridge) Close() {
	b.registry.stopAll()
	b.scheduler.Close()
}

// TriggerSensors asks the device for a reading. The command is set, the reading
// reset to pending and the sensor fallback re-armed in one step.
func (b *Bridge) TriggerSensors(ctx context.Context, deviceID string) string {
	start := b.now()

	cycle := b.registry.startSensorCycle(deviceID, b.armSensors(deviceID))

	b.metrics.CommandIssued(CommandMeasureSensors)
	b.publish(ctx, events.TypeCommandIssued, deviceID, "", cycle, CommandMeasureSensors)
	b.logger.Info("sensor measurement requested", "deviceId", deviceID, "cycle", cycle)
	b.logAudit(ctx, "trigger_sensors", deviceID, nil, start)
	return SensorsRequested
}

// TriggerWeedScan asks the device for a weed scan. The command is set, the
// result list emptied and the scan fallback re-armed in one step.
func (b *Bridge) TriggerWeedScan(ctx context.Context, deviceID string) string {
	start := b.now()

	cycle := b.registry.startScanCycle(deviceID, b.armScan(deviceID))

	b.metrics.CommandIssued(CommandStartWeedScan)
	b.publish(ctx, events.TypeCommandIssued, deviceID, "", cycle, CommandStartWeedScan)
	b.logger.Info("weed scan requested", "deviceId", deviceID, "cycle", cycle)
	b.logAudit(ctx, "trigger_weed_scan", deviceID, nil, start)
	return WeedScanRequested
}

// CheckCommand returns the pending command for a polling device, consuming triggers.
func (b *Bridge) CheckCommand(ctx context.Context, deviceID string) Command {
	cmd := b.registry.GetAndConsume(deviceID)
	if cmd.IsTrigger() {
		b.metrics.CommandDelivered(cmd)
		b.publish(ctx, events.TypeCommandDelivered, deviceID, string(SourceDevice), 0, cmd)
		b.logger.Info("command delivered", "deviceId", deviceID, "command", cmd)
		b.logAudit(ctx, "deliver_command", deviceID, nil, b.now())
	}
	return cmd
}

// UpdateSensors stores a genuine device reading. The device always wins: the
// reading replaces whatever is stored and the pending sensor fallback is cancelled.
func (b *Bridge) UpdateSensors(ctx context.Context, deviceID string, reading SensorReading) error {
	start := b.now()

	if err := validateReading(reading); err != nil {
		b.logAudit(ctx, "update_sensors", deviceID, err, start)
		return err
	}

	wasPending := b.registry.storeDeviceTelemetry(deviceID, Telemetry{
		Reading:    reading,
		Source:     SourceDevice,
		ReceivedAt: b.now(),
	})
	if !wasPending {
		b.logger.Debug("device reading replaced stored value", "deviceId", deviceID)
	}

	b.metrics.CycleStep(KindSensors, SourceDevice)
	b.publish(ctx, events.TypeSensorReading, deviceID, string(SourceDevice), 0, reading)
	b.logAudit(ctx, "update_sensors", deviceID, nil, start)
	return nil
}

// UploadImage runs weed detection on a device frame and appends the result.
// On any failure nothing is appended. A full scan list returns ErrScanFull.
func (b *Bridge) UploadImage(ctx context.Context, deviceID string, image []byte) (int, error) {
	start := b.now()

	count, err := b.uploadImage(ctx, deviceID, image)
	if err != nil {
		b.metrics.UploadRejected(Code(err))
		b.logger.Warn("device upload rejected", "deviceId", deviceID, "code", Code(err), "error", err)
	}
	b.logAudit(ctx, "upload_image", deviceID, err, start)
	return count, err
}

func (b *Bridge) uploadImage(ctx context.Context, deviceID string, image []byte) (int, error) {
	if len(image) == 0 {
		return 0, fmt.Errorf("%w: empty body", ErrInvalidInput)
	}
	if !b.DetectorLoaded() {
		return 0, fmt.Errorf("%w: model not loaded", inference.ErrModelUnavailable)
	}

	// The device is present: hold simulated frames back while inference runs.
	cycle, err := b.registry.claimScan(deviceID, b.capacity)
	if err != nil {
		return 0, err
	}

	result, err := b.detector.Detect(ctx, image)
	if err != nil {
		// Nothing was stored, so the simulator picks the cycle up again.
		b.registry.releaseScan(deviceID, cycle, b.resumeScan(deviceID))
		return 0, err
	}

	weeds := result.Count()
	total, err := b.registry.appendDeviceScan(deviceID, cycle, ScanResult{
		Image:      base64.StdEncoding.EncodeToString(result.AnnotatedImage),
		WeedCount:  weeds,
		Source:     SourceDevice,
		ReceivedAt: b.now(),
	}, b.capacity)
	if err != nil {
		return 0, err
	}

	b.metrics.CycleStep(KindScan, SourceDevice)
	b.publish(ctx, events.TypeScanResult, deviceID, string(SourceDevice), cycle, map[string]int{
		"index":      total - 1,
		"weed_count": weeds,
	})
	return weeds, nil
}

// PollSensors returns the current sensor cycle status. It never blocks.
func (b *Bridge) PollSensors(_ context.Context, deviceID string) SensorPoll {
	t, ok := b.registry.ReadTelemetry(deviceID)
	if !ok {
		return SensorPoll{Status: StatusPending}
	}
	reading := t.Reading
	return SensorPoll{Status: StatusComplete, Data: &reading, Source: t.Source}
}

// PollScanResults returns the scan results so far, in arrival order.
func (b *Bridge) PollScanResults(_ context.Context, deviceID string) ScanPoll {
	scans := b.registry.ReadScan(deviceID)
	out := ScanPoll{Count: len(scans), Results: make([]ScanEntry, len(scans))}
	for i, s := range scans {
		out.Results[i] = ScanEntry{Image: s.Image, WeedCount: s.WeedCount}
	}
	return out
}

func (b *Bridge) armSensors(deviceID string) func(uint64) *Task {
	if !b.scheduler.Enabled() {
		return nil
	}
	return func(cycle uint64) *Task {
		return b.scheduler.ArmSensors(deviceID, cycle, b.simulatedReading)
	}
}

func (b *Bridge) armScan(deviceID string) func(uint64) *Task {
	if !b.scheduler.Enabled() {
		return nil
	}
	return func(cycle uint64) *Task {
		return b.scheduler.ArmScan(deviceID, cycle, b.simulatedFrame, b.registry.releaseTask)
	}
}

// resumeScan re-arms the scan simulator for the frames a cycle still lacks.
func (b *Bridge) resumeScan(deviceID string) func(cycle uint64, stored int) *Task {
	if !b.scheduler.Enabled() {
		return nil
	}
	return func(cycle uint64, stored int) *Task {
		remaining := min(b.scheduler.cfg.ScanFrames, b.capacity) - stored
		if remaining <= 0 {
			return nil
		}
		b.logger.Info("resuming simulated scan after failed upload", "deviceId", deviceID, "cycle", cycle, "frames", remaining)
		return b.scheduler.ArmScanFrames(deviceID, cycle, remaining, b.simulatedFrame, b.registry.releaseTask)
	}
}

// simulatedReading completes a sensor cycle the device left pending.
func (b *Bridge) simulatedReading(deviceID string, task *Task, reading SensorReading) {
	ok := b.registry.completeSimulatedTelemetry(deviceID, task, Telemetry{
		Reading:    reading,
		Source:     SourceSimulated,
		ReceivedAt: b.now(),
	})
	if !ok {
		b.metrics.FallbackSuperseded(KindSensors)
		b.logger.Debug("simulated reading superseded", "deviceId", deviceID, "cycle", task.Cycle())
		return
	}

	b.metrics.CycleStep(KindSensors, SourceSimulated)
	b.publish(context.Background(), events.TypeSensorReading, deviceID, string(SourceSimulated), task.Cycle(), reading)
	b.logger.Info("simulated sensor reading stored", "deviceId", deviceID, "cycle", task.Cycle())
}

// simulatedFrame appends one simulated scan frame. It returns false once the
// task no longer owns the cycle, which ends the simulator loop.
func (b *Bridge) simulatedFrame(deviceID string, task *Task, image string, weeds int) bool {
	ok := b.registry.appendSimulatedScan(deviceID, task, ScanResult{
		Image:      image,
		WeedCount:  weeds,
		Source:     SourceSimulated,
		ReceivedAt: b.now(),
	}, b.capacity)
	if !ok {
		b.metrics.FallbackSuperseded(KindScan)
		b.logger.Debug("simulated frame superseded", "deviceId", deviceID, "cycle", task.Cycle())
		return false
	}

	b.metrics.CycleStep(KindScan, SourceSimulated)
	b.publish(context.Background(), events.TypeScanResult, deviceID, string(SourceSimulated), task.Cycle(), map[string]int{
		"weed_count": weeds,
	})
	return true
}

func (b *Bridge) publish(ctx context.Context, typ, deviceID, source string, cycle uint64, data interface{}) {
	b.publisher.Publish(ctx, events.Event{
		Type:      typ,
		DeviceID:  deviceID,
		Source:    source,
		Cycle:     cycle,
		Timestamp: b.now().UTC(),
		Data:      data,
	})
}

func (b *Bridge) logAudit(ctx context.Context, action, deviceID string, err error, start time.Time) {
	b.auditLogger.LogAction(ctx, action, deviceID, Code(err), b.now().Sub(start))
}

// validateReading rejects non-finite values, negative nutrients and a pH outside 0..14.
func validateReading(r SensorReading) error {
	for name, v := range map[string]float64{"N": r.N, "P": r.P, "K": r.K, "ph": r.PH} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidInput, name)
		}
	}
	if r.PH > 14 {
		return fmt.Errorf("%w: ph must be between 0 and 14", ErrInvalidInput)
	}
	return nil
}
