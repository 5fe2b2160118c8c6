package bridge

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/KushalM23/SmartAgriNode/internal/config"
	"github.com/KushalM23/SmartAgriNode/internal/events"
	"github.com/KushalM23/SmartAgriNode/internal/inference"
)

type fakeDetector struct {
	loaded bool
	weeds  int
	err    error
	delay  time.Duration
}

func (f *fakeDetector) Loaded() bool { return f.loaded }

func (f *fakeDetector) Detect(ctx context.Context, image []byte) (*inference.WeedResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &inference.WeedResult{
		AnnotatedImage: append([]byte("annotated:"), image...),
		Detections:     make([]inference.Detection, f.weeds),
	}, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
	codes   []string
}

func (a *recordingAudit) LogAction(_ context.Context, action, _, code string, _ time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	a.codes = append(a.codes, code)
}

type recordingMetrics struct {
	mu         sync.Mutex
	steps      map[string]int
	superseded map[string]int
	rejected   map[string]int
	issued     int
	delivered  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{steps: map[string]int{}, superseded: map[string]int{}, rejected: map[string]int{}}
}

func (m *recordingMetrics) CommandIssued(Command) { m.mu.Lock(); m.issued++; m.mu.Unlock() }

func (m *recordingMetrics) CommandDelivered(Command) { m.mu.Lock(); m.delivered++; m.mu.Unlock() }

func (m *recordingMetrics) CycleStep(kind string, source Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[kind+"/"+string(source)]++
}

func (m *recordingMetrics) FallbackSuperseded(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.superseded[kind]++
}

func (m *recordingMetrics) UploadRejected(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[code]++
}

func (m *recordingMetrics) step(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steps[key]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

const (
	testSensorDelay  = 60 * time.Millisecond
	testScanInterval = 15 * time.Millisecond
)

func testFallback() config.FallbackConfig {
	return config.FallbackConfig{
		Enabled:      true,
		SensorDelay:  testSensorDelay,
		ScanInterval: testScanInterval,
		ScanFrames:   8,
	}
}

func newTestBridge(t *testing.T, fallback config.FallbackConfig, det inference.WeedDetector) (*Bridge, *recordingMetrics) {
	t.Helper()
	b := NewBridge(config.BridgeConfig{DefaultDevice: "default", ScanCapacity: 8}, fallback, det, nil)
	m := newRecordingMetrics()
	b.SetMetrics(m)
	t.Cleanup(b.Close)
	return b, m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func inRange(v, lo, hi float64) bool { return v >= lo && v <= hi }

func TestTriggerSensorsFallbackCompletes(t *testing.T) {
	b, m := newTestBridge(t, testFallback(), &fakeDetector{loaded: true})
	ctx := context.Background()

	if msg := b.TriggerSensors(ctx, "default"); msg != SensorsRequested {
		t.Errorf("unexpected ack %q", msg)
	}
	if got := b.PollSensors(ctx, "default"); got.Status != StatusPending || got.Data != nil {
		t.Fatalf("Expected pending right after trigger, got %+v", got)
	}

	time.Sleep(testSensorDelay / 3)
	if got := b.PollSensors(ctx, "default"); got.Status != StatusPending {
		t.Fatalf("Expected pending before fallback delay, got %+v", got)
	}

	waitFor(t, time.Second, func() bool { return b.PollSensors(ctx, "default").Status == StatusComplete })

	got := b.PollSensors(ctx, "default")
	d := got.Data
	if got.Source != SourceSimulated {
		t.Errorf("Expected simulated source, got %s", got.Source)
	}
	if !inRange(d.N, 30, 100) || !inRange(d.P, 20, 80) || !inRange(d.K, 20, 80) || !inRange(d.PH, 5.5, 7.5) {
		t.Errorf("simulated reading out of range: %+v", d)
	}
	if m.step("sensors/simulated") != 1 {
		t.Errorf("Expected one simulated sensor step, got %d", m.step("sensors/simulated"))
	}
}

func TestDeviceReadingCancelsFallback(t *testing.T) {
	b, m := newTestBridge(t, testFallback(), &fakeDetector{loaded: true})
	ctx := context.Background()

	b.TriggerSensors(ctx, "default")
	if cmd := b.CheckCommand(ctx, "default"); cmd != CommandMeasureSensors {
		t.Fatalf("Expected MEASURE_SENSORS, got %s", cmd)
	}
	if cmd := b.CheckCommand(ctx, "default"); cmd != CommandStop {
		t.Fatalf("Expected STOP on second poll, got %s", cmd)
	}

	reading := SensorReading{N: 12, P: 34, K: 56, PH: 6.8}
	if err := b.UpdateSensors(ctx, "default", reading); err != nil {
		t.Fatalf("UpdateSensors() failed: %v", err)
	}

	got := b.PollSensors(ctx, "default")
	if got.Status != StatusComplete || *got.Data != reading || got.Source != SourceDevice {
		t.Fatalf("Expected device reading, got %+v", got)
	}

	// The fallback never fires
	time.Sleep(2 * testSensorDelay)
	if got := b.PollSensors(ctx, "default"); *got.Data != reading {
		t.Errorf("simulated reading overwrote device reading: %+v", got.Data)
	}
	if m.step("sensors/simulated") != 0 {
		t.Errorf("Expected no simulated step, got %d", m.step("sensors/simulated"))
	}
}

func TestDeviceReadingReplacesSimulated(t *testing.T) {
	b, _ := newTestBridge(t, testFallback(), &fakeDetector{loaded: true})
	ctx := context.Background()

	b.TriggerSensors(ctx, "default")
	waitFor(t, time.Second, func() bool { return b.PollSensors(ctx, "default").Status == StatusComplete })

	late := SensorReading{N: 1, P: 2, K: 3, PH: 4}
	if err := b.UpdateSensors(ctx, "default", late); err != nil {
		t.Fatalf("UpdateSensors() failed: %v", err)
	}
	got := b.PollSensors(ctx, "default")
	if *got.Data != late || got.Source != SourceDevice {
		t.Errorf("Expected device reading to win, got %+v", got)
	}
}

func TestFallbackDisabledStaysPending(t *testing.T) {
	fb := testFallback()
	fb.Enabled = false
	b, _ := newTestBridge(t, fb, &fakeDetector{loaded: true})
	ctx := context.Background()

	b.TriggerSensors(ctx, "default")
	b.TriggerWeedScan(ctx, "default")
	time.Sleep(2 * testSensorDelay)

	if got := b.PollSensors(ctx, "default"); got.Status != StatusPending {
		t.Errorf("Expected pending without fallback, got %+v", got)
	}
	if got := b.PollScanResults(ctx, "default"); got.Count != 0 {
		t.Errorf("Expected no scan results without fallback, got %d", got.Count)
	}
}

func TestConcurrentTriggersLeaveOnePendingCycle(t *testing.T) {
	b, m := newTestBridge(t, testFallback(), &fakeDetector{loaded: true})
	ctx := context.Background()
	b.UpdateSensors(ctx, "default", SensorReading{N: 1, P: 1, K: 1, PH: 7})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.TriggerSensors(ctx, "default")
		}()
	}
	wg.Wait()

	if got := b.PollSensors(ctx, "default"); got.Status != StatusPending || got.Data != nil {
		t.Fatalf("Expected fully pending snapshot, got %+v", got)
	}

	waitFor(t, time.Second, func() bool { return b.PollSensors(ctx, "default").Status == StatusComplete })
	time.Sleep(testSensorDelay)
	if n := m.step("sensors/simulated"); n != 1 {
		t.Errorf("Expected exactly one simulated write, got %d", n)
	}
}

func TestWeedScanFallbackFillsEightInOrder(t *testing.T) {
	b, _ := newTestBridge(t, testFallback(), &fakeDetector{loaded: true})
	ctx := context.Background()

	if msg := b.TriggerWeedScan(ctx, "default"); msg != WeedScanRequested {
		t.Errorf("unexpected ack %q", msg)
	}
	if got := b.PollScanResults(ctx, "default"); got.Count != 0 || got.Results == nil || len(got.Results) != 0 {
		t.Fatalf("Expected empty results right after trigger, got %+v", got)
	}

	last := 0
	waitFor(t, 2*time.Second, func() bool {
		n := b.PollScanResults(ctx, "default").Count
		if n < last {
			t.Errorf("count went backwards from %d to %d", last, n)
		}
		last = n
		return n == 8
	})

	time.Sleep(3 * testScanInterval)
	got := b.PollScanResults(ctx, "default")
	if got.Count != 8 || len(got.Results) != 8 {
		t.Fatalf("Expected exactly 8 results, got %d", got.Count)
	}
	for i, r := range got.Results {
		if r.Image == "" || r.WeedCount < 0 || r.WeedCount > 5 {
			t.Errorf("result %d invalid: count=%d imageLen=%d", i, r.WeedCount, len(r.Image))
		}
	}
}

func TestDeviceUploadStopsScanSimulator(t *testing.T) {
	fb := testFallback()
	fb.ScanInterval = 40 * time.Millisecond
	b, m := newTestBridge(t, fb, &fakeDetector{loaded: true, weeds: 3})
	ctx := context.Background()

	b.TriggerWeedScan(ctx, "default")
	time.Sleep(fb.ScanInterval / 4)

	weeds, err := b.UploadImage(ctx, "default", []byte("frame-1"))
	if err != nil {
		t.Fatalf("UploadImage() failed: %v", err)
	}
	if weeds != 3 {
		t.Errorf("Expected 3 weeds, got %d", weeds)
	}

	time.Sleep(4 * fb.ScanInterval)
	got := b.PollScanResults(ctx, "default")
	if got.Count != 1 {
		t.Fatalf("Expected only the device result, got %d results", got.Count)
	}
	if got.Results[0].WeedCount != 3 {
		t.Errorf("first entry is not the device result: %+v", got.Results[0])
	}
	if m.step("scan/simulated") != 0 {
		t.Errorf("Expected no simulated frames, got %d", m.step("scan/simulated"))
	}
}

func TestUploadImageCapacity(t *testing.T) {
	fb := testFallback()
	fb.Enabled = false
	b, m := newTestBridge(t, fb, &fakeDetector{loaded: true, weeds: 1})
	ctx := context.Background()

	b.TriggerWeedScan(ctx, "default")
	for i := 0; i < 8; i++ {
		if _, err := b.UploadImage(ctx, "default", []byte{byte(i)}); err != nil {
			t.Fatalf("upload %d failed: %v", i, err)
		}
	}

	_, err := b.UploadImage(ctx, "default", []byte("ninth"))
	if !errors.Is(err, ErrScanFull) {
		t.Fatalf("Expected ErrScanFull, got %v", err)
	}
	if got := b.PollScanResults(ctx, "default").Count; got != 8 {
		t.Errorf("Expected 8 results after rejected upload, got %d", got)
	}
	if m.rejected["SCAN_FULL"] != 1 {
		t.Errorf("Expected one SCAN_FULL rejection, got %v", m.rejected)
	}

	// A new trigger starts a fresh cycle
	b.TriggerWeedScan(ctx, "default")
	if _, err := b.UploadImage(ctx, "default", []byte("again")); err != nil {
		t.Errorf("upload after retrigger failed: %v", err)
	}
}

func TestUploadImageFailuresAppendNothing(t *testing.T) {
	tests := []struct {
		name     string
		detector *fakeDetector
		image    []byte
		wantErr  error
		wantCode string
	}{
		{name: "empty body", detector: &fakeDetector{loaded: true}, image: nil, wantErr: ErrInvalidInput, wantCode: "BAD_REQUEST"},
		{name: "model not loaded", detector: &fakeDetector{}, image: []byte("x"), wantErr: inference.ErrModelUnavailable, wantCode: "MODEL_UNAVAILABLE"},
		{name: "inference failure", detector: &fakeDetector{loaded: true, err: inference.ErrProcessing}, image: []byte("x"), wantErr: inference.ErrProcessing, wantCode: "PROCESSING_FAILED"},
		{name: "pool busy", detector: &fakeDetector{loaded: true, err: inference.ErrBusy}, image: []byte("x"), wantErr: inference.ErrBusy, wantCode: "BUSY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := testFallback()
			fb.Enabled = false
			b, _ := newTestBridge(t, fb, tt.detector)
			audit := &recordingAudit{}
			b.SetAuditLogger(audit)
			ctx := context.Background()

			b.TriggerWeedScan(ctx, "default")
			_, err := b.UploadImage(ctx, "default", tt.image)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if got := b.PollScanResults(ctx, "default").Count; got != 0 {
				t.Errorf("Expected no append on failure, got %d", got)
			}
			if audit.codes[len(audit.codes)-1] != tt.wantCode {
				t.Errorf("Expected audit code %s, got %v", tt.wantCode, audit.codes)
			}
		})
	}
}

func TestFailedUploadResumesScanSimulator(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "inference failure", err: inference.ErrProcessing},
		{name: "pool busy", err: inference.ErrBusy},
		{name: "deadline", err: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, m := newTestBridge(t, testFallback(), &fakeDetector{loaded: true, err: tt.err, delay: 2 * testScanInterval})
			ctx := context.Background()

			b.TriggerWeedScan(ctx, "default")
			if _, err := b.UploadImage(ctx, "default", []byte("x")); !errors.Is(err, tt.err) {
				t.Fatalf("Expected %v, got %v", tt.err, err)
			}

			waitFor(t, 2*time.Second, func() bool { return b.PollScanResults(ctx, "default").Count == 8 })
			time.Sleep(3 * testScanInterval)
			got := b.PollScanResults(ctx, "default")
			if got.Count != 8 {
				t.Fatalf("Expected the cycle to fill to 8, got %d", got.Count)
			}
			for i, r := range b.registry.ReadScan("default") {
				if r.Source != SourceSimulated {
					t.Errorf("result %d has source %s", i, r.Source)
				}
			}
			if n := m.step("scan/simulated"); n != 8 {
				t.Errorf("Expected 8 simulated frames, got %d", n)
			}
		})
	}
}

func TestFailedUploadAfterDeviceResultKeepsSimulatorStopped(t *testing.T) {
	det := &fakeDetector{loaded: true, weeds: 2}
	b, m := newTestBridge(t, testFallback(), det)
	ctx := context.Background()

	b.TriggerWeedScan(ctx, "default")
	if _, err := b.UploadImage(ctx, "default", []byte("ok")); err != nil {
		t.Fatalf("UploadImage() failed: %v", err)
	}
	det.err = inference.ErrProcessing
	if _, err := b.UploadImage(ctx, "default", []byte("bad")); !errors.Is(err, inference.ErrProcessing) {
		t.Fatalf("Expected ErrProcessing, got %v", err)
	}

	time.Sleep(4 * testScanInterval)
	if got := b.PollScanResults(ctx, "default").Count; got != 1 {
		t.Errorf("Expected only the device result, got %d", got)
	}
	if n := m.step("scan/simulated"); n != 0 {
		t.Errorf("Expected no simulated frames, got %d", n)
	}
}

func TestUpdateSensorsValidation(t *testing.T) {
	b, _ := newTestBridge(t, testFallback(), &fakeDetector{loaded: true})
	ctx := context.Background()
	b.TriggerSensors(ctx, "default")

	for _, r := range []SensorReading{
		{N: -1, P: 1, K: 1, PH: 7},
		{N: 1, P: -0.5, K: 1, PH: 7},
		{N: 1, P: 1, K: -3, PH: 7},
		{N: 1, P: 1, K: 1, PH: -0.1},
		{N: 1, P: 1, K: 1, PH: 14.1},
		{N: math.NaN(), P: 1, K: 1, PH: 7},
		{N: 1, P: math.Inf(1), K: 1, PH: 7},
	} {
		if err := b.UpdateSensors(ctx, "default", r); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput for %+v, got %v", r, err)
		}
	}
	if got := b.PollSensors(ctx, "default"); got.Status != StatusPending {
		t.Errorf("rejected reading changed state: %+v", got)
	}

	// Zero nutrients and both ends of the pH scale are accepted
	for _, r := range []SensorReading{
		{N: 0, P: 0, K: 0, PH: 0},
		{N: 0, P: 0, K: 0, PH: 14},
	} {
		if err := b.UpdateSensors(ctx, "default", r); err != nil {
			t.Errorf("UpdateSensors(%+v) failed: %v", r, err)
		}
	}
}

func TestBridgeAuditAndEvents(t *testing.T) {
	fb := testFallback()
	fb.Enabled = false
	b, m := newTestBridge(t, fb, &fakeDetector{loaded: true, weeds: 2})
	audit := &recordingAudit{}
	pub := &recordingEvents{}
	b.SetAuditLogger(audit)
	b.SetEventPublisher(pub)
	ctx := context.Background()

	b.TriggerSensors(ctx, "default")
	b.CheckCommand(ctx, "default")
	b.CheckCommand(ctx, "default")
	_ = b.UpdateSensors(ctx, "default", SensorReading{N: 1, P: 2, K: 3, PH: 7})
	b.TriggerWeedScan(ctx, "default")
	_, _ = b.UploadImage(ctx, "default", []byte("img"))

	wantActions := []string{"trigger_sensors", "deliver_command", "update_sensors", "trigger_weed_scan", "upload_image"}
	if len(audit.actions) != len(wantActions) {
		t.Fatalf("Expected actions %v, got %v", wantActions, audit.actions)
	}
	for i, a := range wantActions {
		if audit.actions[i] != a || audit.codes[i] != "SUCCESS" {
			t.Errorf("action %d = %s/%s, want %s/SUCCESS", i, audit.actions[i], audit.codes[i], a)
		}
	}

	wantEvents := []string{
		events.TypeCommandIssued, events.TypeCommandDelivered, events.TypeSensorReading,
		events.TypeCommandIssued, events.TypeScanResult,
	}
	gotEvents := pub.types()
	if len(gotEvents) != len(wantEvents) {
		t.Fatalf("Expected events %v, got %v", wantEvents, gotEvents)
	}
	for i := range wantEvents {
		if gotEvents[i] != wantEvents[i] {
			t.Errorf("event %d = %s, want %s", i, gotEvents[i], wantEvents[i])
		}
	}
	if m.issued != 2 || m.delivered != 1 {
		t.Errorf("Expected 2 issued / 1 delivered, got %d / %d", m.issued, m.delivered)
	}
}

func TestMultipleDevices(t *testing.T) {
	b, _ := newTestBridge(t, testFallback(), &fakeDetector{loaded: true})
	ctx := context.Background()

	b.TriggerSensors(ctx, "field-a")
	if cmd := b.CheckCommand(ctx, "field-b"); cmd != CommandStop {
		t.Errorf("field-b received field-a's command: %s", cmd)
	}
	if err := b.UpdateSensors(ctx, "field-b", SensorReading{N: 5, P: 5, K: 5, PH: 6}); err != nil {
		t.Fatalf("UpdateSensors() failed: %v", err)
	}
	if got := b.PollSensors(ctx, "field-a"); got.Status != StatusPending {
		t.Errorf("field-a completed by field-b's reading: %+v", got)
	}
}

func TestCloseStopsFallbacks(t *testing.T) {
	b := NewBridge(config.BridgeConfig{ScanCapacity: 8}, testFallback(), &fakeDetector{loaded: true}, nil)
	ctx := context.Background()
	b.TriggerSensors(ctx, "default")
	b.TriggerWeedScan(ctx, "default")

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() did not return")
	}

	time.Sleep(2 * testSensorDelay)
	if got := b.PollSensors(ctx, "default"); got.Status != StatusPending {
		t.Errorf("fallback fired after Close: %+v", got)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "SUCCESS"},
		{ErrInvalidInput, "BAD_REQUEST"},
		{inference.ErrInvalidInput, "BAD_REQUEST"},
		{ErrScanFull, "SCAN_FULL"},
		{inference.ErrModelUnavailable, "MODEL_UNAVAILABLE"},
		{inference.ErrProcessing, "PROCESSING_FAILED"},
		{inference.ErrBusy, "BUSY"},
		{context.DeadlineExceeded, "TIMEOUT"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestValidDeviceID(t *testing.T) {
	for id, want := range map[string]bool{
		"default":        true,
		"esp32-cam_01":   true,
		"greenhouse.a:1": true,
		"":               false,
		"has space":      false,
		"slash/inside":   false,
	} {
		if got := ValidDeviceID(id); got != want {
			t.Errorf("ValidDeviceID(%q) = %v, want %v", id, got, want)
		}
	}
}
