package inference

import "errors"

var (
	// ErrModelUnavailable indicates the model is not configured or its service is down.
	ErrModelUnavailable = errors.New("MODEL_UNAVAILABLE")

	// ErrProcessing indicates the model rejected the input or returned an unusable result.
	ErrProcessing = errors.New("PROCESSING_FAILED")

	// ErrBusy indicates the worker pool queue is full.
	ErrBusy = errors.New("BUSY")

	// ErrInvalidInput indicates crop features outside their accepted ranges.
	ErrInvalidInput = errors.New("BAD_REQUEST")
)
