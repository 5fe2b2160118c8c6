// Package bridge implements the device command/telemetry bridge.
//
// A web client issues a trigger (measure sensors or start a weed scan) for a
// device. The command is held until the device polls for it; the device then
// posts a sensor reading or uploads images, and the client polls for the
// result. When the device stays silent the Scheduler completes the cycle with
// simulated data.
//
// All per-device state lives in a Registry behind one lock per device, so the
// composite operations (consume a command, write if pending, reset and re-arm
// the fallback) are atomic per device. Every armed fallback keeps a handle in
// the device state; a genuine device write cancels it, and each fallback write
// is checked against the cycle it was armed for.
//
// Sensor policy: the device always wins. A device reading is stored even if a
// simulated one already completed the cycle, while the simulator only writes
// into a pending cycle. Scan policy: the first real upload of a cycle stops the
// simulator, so simulated frames never follow real ones.
package bridge
