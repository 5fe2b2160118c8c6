package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

func TestTaskStopNilSafe(t *testing.T) {
	var task *Task
	task.Stop()
	(&Task{}).Stop()
}

func TestArmSensorsStopBeforeFire(t *testing.T) {
	s := NewScheduler(config.FallbackConfig{Enabled: true, SensorDelay: 20 * time.Millisecond}, nil)

	var fired atomic.Bool
	task := s.ArmSensors("default", 1, func(string, *Task, SensorReading) { fired.Store(true) })
	task.Stop()
	task.Stop()

	time.Sleep(50 * time.Millisecond)
	s.Close()
	if fired.Load() {
		t.Error("stopped task fired")
	}
}

func TestArmSensorsFiresOnce(t *testing.T) {
	s := NewScheduler(config.FallbackConfig{Enabled: true, SensorDelay: 10 * time.Millisecond}, nil)
	defer s.Close()

	got := make(chan *Task, 2)
	task := s.ArmSensors("default", 7, func(_ string, tk *Task, _ SensorReading) { got <- tk })

	select {
	case tk := <-got:
		if tk != task || tk.Cycle() != 7 {
			t.Errorf("fire received wrong task: %+v", tk)
		}
	case <-time.After(time.Second):
		t.Fatal("sensor fallback never fired")
	}
	task.Stop()
}

func TestArmScanStopsAfterFrames(t *testing.T) {
	s := NewScheduler(config.FallbackConfig{Enabled: true, ScanInterval: 5 * time.Millisecond, ScanFrames: 3}, nil)
	s.frame = func() (string, int, error) { return "img", 1, nil }

	var steps atomic.Int32
	doneCh := make(chan struct{})
	s.ArmScan("default", 1,
		func(string, *Task, string, int) bool { steps.Add(1); return true },
		func(string, *Task) { close(doneCh) },
	)

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("scan loop did not finish")
	}
	s.Close()
	if steps.Load() != 3 {
		t.Errorf("Expected 3 frames, got %d", steps.Load())
	}
}

func TestArmScanEndsWhenStepRejected(t *testing.T) {
	s := NewScheduler(config.FallbackConfig{Enabled: true, ScanInterval: 5 * time.Millisecond, ScanFrames: 8}, nil)
	s.frame = func() (string, int, error) { return "img", 0, nil }

	var steps atomic.Int32
	doneCh := make(chan struct{})
	s.ArmScan("default", 1,
		func(string, *Task, string, int) bool { return steps.Add(1) < 2 },
		func(string, *Task) { close(doneCh) },
	)

	<-doneCh
	s.Close()
	if steps.Load() != 2 {
		t.Errorf("Expected loop to end after the rejected frame, got %d steps", steps.Load())
	}
}

func TestArmScanSkipsFailedFrames(t *testing.T) {
	s := NewScheduler(config.FallbackConfig{Enabled: true, ScanInterval: 5 * time.Millisecond, ScanFrames: 4}, nil)
	var calls atomic.Int32
	s.frame = func() (string, int, error) {
		if calls.Add(1)%2 == 0 {
			return "", 0, errors.New("encode failed")
		}
		return "img", 2, nil
	}

	var steps atomic.Int32
	doneCh := make(chan struct{})
	s.ArmScan("default", 1,
		func(string, *Task, string, int) bool { steps.Add(1); return true },
		func(string, *Task) { close(doneCh) },
	)

	<-doneCh
	s.Close()
	if steps.Load() != 2 {
		t.Errorf("Expected 2 accepted frames, got %d", steps.Load())
	}
}

func TestArmScanRecoversPanic(t *testing.T) {
	s := NewScheduler(config.FallbackConfig{Enabled: true, ScanInterval: 5 * time.Millisecond, ScanFrames: 8}, nil)
	s.frame = func() (string, int, error) { panic("boom") }

	var released sync.WaitGroup
	released.Add(1)
	s.ArmScan("default", 1,
		func(string, *Task, string, int) bool { return true },
		func(string, *Task) { released.Done() },
	)

	released.Wait()
	s.Close()
}

func TestSchedulerClosedRefusesArming(t *testing.T) {
	s := NewScheduler(config.FallbackConfig{Enabled: true, SensorDelay: time.Millisecond, ScanInterval: time.Millisecond, ScanFrames: 1}, nil)
	s.Close()

	if task := s.ArmSensors("default", 1, func(string, *Task, SensorReading) {}); task != nil {
		t.Error("Expected nil sensor task after Close")
	}
	if task := s.ArmScan("default", 1, func(string, *Task, string, int) bool { return true }, func(string, *Task) {}); task != nil {
		t.Error("Expected nil scan task after Close")
	}
}

func TestStaleTaskCannotWrite(t *testing.T) {
	r := NewRegistry()
	stale := &Task{cycle: 1}
	r.startSensorCycle("default", func(uint64) *Task { return stale })
	r.startSensorCycle("default", func(c uint64) *Task { return &Task{cycle: c} })

	if r.completeSimulatedTelemetry("default", stale, Telemetry{Source: SourceSimulated}) {
		t.Error("stale sensor task wrote a reading")
	}
	if r.appendSimulatedScan("default", stale, ScanResult{}, 8) {
		t.Error("stale scan task appended a frame")
	}
}

func TestArmScanFramesCount(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		want   int32
		armed  bool
	}{
		{"remaining frames", 2, 2, true},
		{"nothing left", 0, 0, false},
		{"negative", -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(config.FallbackConfig{Enabled: true, ScanInterval: 5 * time.Millisecond, ScanFrames: 8}, nil)
			s.frame = func() (string, int, error) { return "img", 1, nil }

			var steps atomic.Int32
			doneCh := make(chan struct{})
			task := s.ArmScanFrames("default", 1, tt.frames,
				func(string, *Task, string, int) bool { steps.Add(1); return true },
				func(string, *Task) { close(doneCh) },
			)
			if (task != nil) != tt.armed {
				t.Fatalf("Expected armed=%v, got task %v", tt.armed, task)
			}
			if tt.armed {
				select {
				case <-doneCh:
				case <-time.After(time.Second):
					t.Fatal("scan loop did not finish")
				}
			}
			s.Close()
			if steps.Load() != tt.want {
				t.Errorf("Expected %d frames, got %d", tt.want, steps.Load())
			}
		})
	}
}

func TestSchedulerArmingRacesClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := NewScheduler(config.FallbackConfig{Enabled: true, SensorDelay: time.Millisecond, ScanInterval: time.Millisecond, ScanFrames: 2}, nil)
		s.frame = func() (string, int, error) { return "img", 0, nil }

		var armed, finished atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for {
					task := s.ArmScan("default", 1,
						func(string, *Task, string, int) bool { return true },
						func(string, *Task) { finished.Add(1) },
					)
					if task == nil {
						return
					}
					armed.Add(1)
				}
			}()
		}

		close(start)
		time.Sleep(time.Millisecond)
		s.Close()
		closedArmed, closedFinished := armed.Load(), finished.Load()
		wg.Wait()

		// Every task armed before Close returned has run to completion.
		if closedFinished < closedArmed {
			t.Fatalf("round %d: Close returned with %d of %d scan tasks still running", round, closedArmed-closedFinished, closedArmed)
		}
		if task := s.ArmSensors("default", 1, func(string, *Task, SensorReading) {}); task != nil {
			t.Fatalf("round %d: armed a sensor task after Close", round)
		}
	}
}
