package bridge

import (
	"sort"
	"sync"
)

// deviceState is everything the bridge knows about one device. mu guards all fields.
type deviceState struct {
	mu sync.Mutex

	command   Command
	telemetry *Telemetry // nil while pending
	scans     []ScanResult

	sensorCycle uint64
	scanCycle   uint64
	sensorTask  *Task
	scanTask    *Task

	// uploads counts device uploads of the current scan cycle still being
	// processed. scanSuspended is set while one of them holds the simulator stopped.
	uploads       int
	scanSuspended bool
}

// Registry owns per-device state. The registry lock guards only the id map;
// each device has its own lock for its command, stores and fallback handles.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*deviceState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*deviceState)}
}

func (r *Registry) lookup(id string) *deviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// state returns the device state, creating it on first use.
func (r *Registry) state(id string) *deviceState {
	if st := r.lookup(id); st != nil {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.devices[id]
	if !ok {
		st = &deviceState{command: CommandStop}
		r.devices[id] = st
	}
	return st
}

// Devices returns the known device ids in sorted order.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// SetCommand overwrites the pending command.
func (r *Registry) SetCommand(id string, cmd Command) {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.command = cmd
}

// GetAndConsume returns the pending command. A trigger command is reset to
// STOP in the same step, so it is delivered at most once. Unknown devices get STOP.
func (r *Registry) GetAndConsume(id string) Command {
	st := r.lookup(id)
	if st == nil {
		return CommandStop
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	cmd := st.command
	if cmd.IsTrigger() {
		st.command = CommandStop
	}
	return cmd
}

// ResetTelemetry clears the stored reading back to pending.
func (r *Registry) ResetTelemetry(id string) {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.telemetry = nil
}

// WriteTelemetryIfPending stores t only while the reading is pending.
// It returns false, without error, when a reading is already stored.
func (r *Registry) WriteTelemetryIfPending(id string, t Telemetry) bool {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.writeIfPending(t)
}

func (st *deviceState) writeIfPending(t Telemetry) bool {
	if st.telemetry != nil {
		return false
	}
	st.telemetry = &t
	return true
}

// WriteTelemetry stores t unconditionally and reports whether the reading was pending.
func (r *Registry) WriteTelemetry(id string, t Telemetry) bool {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	wasPending := st.telemetry == nil
	st.telemetry = &t
	return wasPending
}

// ReadTelemetry returns the stored reading, or false while pending.
func (r *Registry) ReadTelemetry(id string) (Telemetry, bool) {
	st := r.lookup(id)
	if st == nil {
		return Telemetry{}, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.telemetry == nil {
		return Telemetry{}, false
	}
	return *st.telemetry, true
}

// ResetScan empties the scan result list.
func (r *Registry) ResetScan(id string) {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scans = nil
}

// AppendScan appends res and returns the new count. Capacity is the caller's concern.
func (r *Registry) AppendScan(id string, res ScanResult) int {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scans = append(st.scans, res)
	return len(st.scans)
}

// ReadScan returns a copy of the scan results in arrival order.
func (r *Registry) ReadScan(id string) []ScanResult {
	st := r.lookup(id)
	if st == nil {
		return []ScanResult{}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]ScanResult, len(st.scans))
	copy(out, st.scans)
	return out
}

// startSensorCycle sets MEASURE_SENSORS, resets the reading, cancels the previous
// sensor fallback and installs the task returned by arm, all under the device lock.
// arm may be nil when fallback is disabled. It returns the new cycle number.
func (r *Registry) startSensorCycle(id string, arm func(cycle uint64) *Task) uint64 {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.command = CommandMeasureSensors
	st.telemetry = nil
	st.sensorCycle++
	st.sensorTask.Stop()
	st.sensorTask = nil
	if arm != nil {
		st.sensorTask = arm(st.sensorCycle)
	}
	return st.sensorCycle
}

// startScanCycle is startSensorCycle for weed scans.
func (r *Registry) startScanCycle(id string, arm func(cycle uint64) *Task) uint64 {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.command = CommandStartWeedScan
	st.scans = nil
	st.scanCycle++
	st.scanTask.Stop()
	st.scanTask = nil
	st.uploads = 0
	st.scanSuspended = false
	if arm != nil {
		st.scanTask = arm(st.scanCycle)
	}
	return st.scanCycle
}

// storeDeviceTelemetry writes a genuine reading and cancels the pending sensor fallback.
func (r *Registry) storeDeviceTelemetry(id string, t Telemetry) (wasPending bool) {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	wasPending = st.telemetry == nil
	st.telemetry = &t
	st.sensorTask.Stop()
	st.sensorTask = nil
	return wasPending
}

// completeSimulatedTelemetry writes a simulated reading if task is still the
// armed sensor fallback of the current cycle and the reading is pending.
func (r *Registry) completeSimulatedTelemetry(id string, task *Task, t Telemetry) bool {
	st := r.lookup(id)
	if st == nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sensorTask != task || st.sensorCycle != task.cycle {
		return false
	}
	st.sensorTask = nil
	return st.writeIfPending(t)
}

// claimScan checks capacity for a device upload and suspends the scan simulator
// while the upload is processed. It returns the scan cycle the claim belongs to;
// the claim ends with appendDeviceScan or releaseScan.
func (r *Registry) claimScan(id string, capacity int) (uint64, error) {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.scans) >= capacity {
		return 0, ErrScanFull
	}
	st.uploads++
	if st.scanTask != nil {
		st.scanTask.Stop()
		st.scanTask = nil
		st.scanSuspended = true
	}
	return st.scanCycle, nil
}

// releaseScan ends a claim whose upload produced no result. When it was the
// last upload in flight and the simulator was suspended for it, resume re-arms
// the simulator in the same cycle with the number of results already stored.
// resume may be nil or return nil.
func (r *Registry) releaseScan(id string, cycle uint64, resume func(cycle uint64, stored int) *Task) {
	st := r.lookup(id)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if cycle != st.scanCycle {
		return
	}
	if st.uploads > 0 {
		st.uploads--
	}
	if st.uploads > 0 || !st.scanSuspended || resume == nil {
		return
	}
	st.scanSuspended = false
	st.scanTask = resume(st.scanCycle, len(st.scans))
}

// appendDeviceScan ends a claim with a genuine result. The result is appended
// within capacity and the simulator stays stopped for the rest of the cycle.
func (r *Registry) appendDeviceScan(id string, cycle uint64, res ScanResult, capacity int) (int, error) {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if cycle == st.scanCycle {
		if st.uploads > 0 {
			st.uploads--
		}
		st.scanSuspended = false
	}
	if len(st.scans) >= capacity {
		return len(st.scans), ErrScanFull
	}
	st.scanTask.Stop()
	st.scanTask = nil
	st.scans = append(st.scans, res)
	return len(st.scans), nil
}

// appendSimulatedScan appends a simulated frame if task is still the armed scan
// fallback of the current cycle and capacity remains.
func (r *Registry) appendSimulatedScan(id string, task *Task, res ScanResult, capacity int) bool {
	st := r.lookup(id)
	if st == nil {
		return false
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.scanTask != task || st.scanCycle != task.cycle || len(st.scans) >= capacity {
		return false
	}
	st.scans = append(st.scans, res)
	return true
}

// releaseTask drops the handle of a task that finished on its own.
func (r *Registry) releaseTask(id string, task *Task) {
	st := r.lookup(id)
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.sensorTask == task {
		st.sensorTask = nil
	}
	if st.scanTask == task {
		st.scanTask = nil
	}
}

// stopAll cancels every armed fallback.
func (r *Registry) stopAll() {
	r.mu.RLock()
	states := make([]*deviceState, 0, len(r.devices))
	for _, st := range r.devices {
		states = append(states, st)
	}
	r.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		st.sensorTask.Stop()
		st.scanTask.Stop()
		st.sensorTask, st.scanTask = nil, nil
		st.mu.Unlock()
	}
}
