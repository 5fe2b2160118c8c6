// Package api implements the HTTP surface of the AgriNode bridge.
//
// Device routes under /api/device are polled by field hardware and optionally
// guarded by per-device keys. Client routes require a bearer token. Every error
// body has the form {"error", "code", "correlationId"}.
package api
