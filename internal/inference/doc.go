// Package inference talks to the weed detection and crop recommendation models.
//
// Both models run as separate HTTP services. Each client is guarded by a
// circuit breaker so a dead model service fails fast with ErrModelUnavailable.
// Image detection is latency heavy and runs on a fixed worker Pool so slow
// inference never occupies the goroutines serving unrelated requests.
package inference
