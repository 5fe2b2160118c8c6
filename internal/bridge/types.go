package bridge

import (
	"regexp"
	"time"
)

// Command is the token a device receives when it polls.
type Command string

const (
	CommandStop           Command = "STOP"
	CommandMeasureSensors Command = "MEASURE_SENSORS"
	CommandStartWeedScan  Command = "START_WEED_SCAN"
)

// IsTrigger reports whether c asks the device to do something.
func (c Command) IsTrigger() bool {
	return c == CommandMeasureSensors || c == CommandStartWeedScan
}

// Source identifies who produced a result.
type Source string

const (
	SourceDevice    Source = "device"
	SourceSimulated Source = "simulated"
)

// Cycle kinds used in events and metrics.
const (
	KindSensors = "sensors"
	KindScan    = "scan"
)

// SensorReading is one soil measurement.
type SensorReading struct {
	N  float64 `json:"N"`
	P  float64 `json:"P"`
	K  float64 `json:"K"`
	PH float64 `json:"ph"`
}

// Telemetry is a stored reading with its origin.
type Telemetry struct {
	Reading    SensorReading
	Source     Source
	ReceivedAt time.Time
}

// ScanResult is one processed scan frame.
type ScanResult struct {
	Image      string // base64 JPEG
	WeedCount  int
	Source     Source
	ReceivedAt time.Time
}

// SensorPoll is the client view of the sensor cycle.
type SensorPoll struct {
	Status string         `json:"status"`
	Data   *SensorReading `json:"data,omitempty"`
	Source Source         `json:"source,omitempty"`
}

// Poll statuses.
const (
	StatusPending  = "pending"
	StatusComplete = "complete"
)

// ScanEntry is the client view of one ScanResult.
type ScanEntry struct {
	Image     string `json:"image"`
	WeedCount int    `json:"weed_count"`
}

// ScanPoll is the client view of the scan cycle.
type ScanPoll struct {
	Count   int         `json:"count"`
	Results []ScanEntry `json:"results"`
}

var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

// ValidDeviceID reports whether id is an acceptable device identity.
func ValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}
