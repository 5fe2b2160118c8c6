// Package audit implements the audit trail for the SmartAgriNode bridge.
//
// Every trigger, device write and image upload is recorded as one JSON line
// carrying the acting user, device id, outcome code, latency and the request
// correlation id. The file is rotated by size.
package audit
