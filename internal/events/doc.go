// Package events publishes bridge cycle events to external subscribers.
//
// Events are JSON documents sent to an MQTT broker under
// <topic_prefix>/<deviceId>/<type>, and to web clients subscribed to a device's
// Server-Sent Events stream. With no broker configured only the stream is fed.
// Publishing never blocks the caller and failures are only logged.
package events
