package bridge

import (
	"context"
	"errors"

	"github.com/KushalM23/SmartAgriNode/internal/inference"
)

var (
	// ErrInvalidInput indicates a malformed reading, an empty upload or a bad device id.
	ErrInvalidInput = errors.New("BAD_REQUEST")

	// ErrScanFull indicates the scan cycle already holds its full set of results.
	ErrScanFull = errors.New("SCAN_FULL")
)

// Code maps an error to its outcome code. nil maps to SUCCESS.
func Code(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrInvalidInput), errors.Is(err, inference.ErrInvalidInput):
		return "BAD_REQUEST"
	case errors.Is(err, ErrScanFull):
		return "SCAN_FULL"
	case errors.Is(err, inference.ErrModelUnavailable):
		return "MODEL_UNAVAILABLE"
	case errors.Is(err, inference.ErrProcessing):
		return "PROCESSING_FAILED"
	case errors.Is(err, inference.ErrBusy):
		return "BUSY"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	default:
		return "INTERNAL"
	}
}
