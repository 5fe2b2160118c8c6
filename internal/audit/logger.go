package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

// Outcome codes written to the audit trail.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeError   = "ERROR"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp     time.Time `json:"ts"`
	User          string    `json:"user"`
	DeviceID      string    `json:"deviceId"`
	Action        string    `json:"action"`
	Outcome       string    `json:"outcome"`
	Code          string    `json:"code"`
	LatencyMs     int64     `json:"latencyMs"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Logger appends audit entries as JSON lines to a size-rotated file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      io.WriteCloser
	now      func() time.Time
}

// NewLogger creates an audit logger writing audit.jsonl under cfg.Dir.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, "audit.jsonl")
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		now: time.Now,
	}, nil
}

// LogAction records one action. code is the outcome code (OutcomeSuccess or an
// error code such as SCAN_FULL); any code other than OutcomeSuccess is logged as an error outcome.
func (l *Logger) LogAction(ctx context.Context, action, deviceID, code string, latency time.Duration) {
	outcome := OutcomeSuccess
	if code != OutcomeSuccess {
		outcome = OutcomeError
	}

	l.writeEntry(Entry{
		Timestamp:     l.now().UTC(),
		User:          UserFrom(ctx),
		DeviceID:      deviceID,
		Action:        action,
		Outcome:       outcome,
		Code:          code,
		LatencyMs:     latency.Milliseconds(),
		CorrelationID: CorrelationIDFrom(ctx),
	})
}

func (l *Logger) writeEntry(entry Entry) {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Close closes the underlying file. Later LogAction calls are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out != nil {
		err := l.out.Close()
		l.out = nil
		return err
	}
	return nil
}

// FilePath returns the path to the active audit log file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Rotate closes the active file and starts a new one, keeping the old one as a backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rotator, ok := l.out.(*lumberjack.Logger)
	if !ok {
		return fmt.Errorf("audit log is closed")
	}
	return rotator.Rotate()
}
