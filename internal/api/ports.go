package api

import (
	"context"

	"github.com/KushalM23/SmartAgriNode/internal/bridge"
)

// BridgePort is what the HTTP layer needs from the device bridge.
type BridgePort interface {
	TriggerSensors(ctx context.Context, deviceID string) string
	TriggerWeedScan(ctx context.Context, deviceID string) string
	CheckCommand(ctx context.Context, deviceID string) bridge.Command
	UpdateSensors(ctx context.Context, deviceID string, reading bridge.SensorReading) error
	UploadImage(ctx context.Context, deviceID string, image []byte) (int, error)
	PollSensors(ctx context.Context, deviceID string) bridge.SensorPoll
	PollScanResults(ctx context.Context, deviceID string) bridge.ScanPoll
}

var _ BridgePort = (*bridge.Bridge)(nil)
