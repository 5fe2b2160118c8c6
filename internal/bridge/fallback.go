package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KushalM23/SmartAgriNode/internal/config"
)

// Task is the retained handle of an armed fallback.
type Task struct {
	cycle uint64
	stop  func()
}

// Cycle returns the cycle the task was armed for.
func (t *Task) Cycle() uint64 {
	return t.cycle
}

// Stop cancels the task. It never blocks and is safe on a nil or already stopped task.
func (t *Task) Stop() {
	if t != nil && t.stop != nil {
		t.stop()
	}
}

// Scheduler runs simulated device responses.
type Scheduler struct {
	cfg    config.FallbackConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu orders wg.Add against Close.
	mu     sync.Mutex
	closed bool

	reading func() SensorReading
	frame   func() (string, int, error)
}

// NewScheduler creates a scheduler using the synthetic reading and frame generators.
func NewScheduler(cfg config.FallbackConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		reading: synthesizeReading,
		frame:   synthesizeFrame,
	}
}

// Enabled reports whether fallbacks are armed at all.
func (s *Scheduler) Enabled() bool {
	return s.cfg.Enabled
}

// ArmSensors schedules one simulated reading after the sensor delay.
// fire is called from the timer goroutine unless the task is stopped first.
func (s *Scheduler) ArmSensors(id string, cycle uint64, fire func(id string, task *Task, reading SensorReading)) *Task {
	if !s.track() {
		return nil
	}

	task := &Task{cycle: cycle}
	timer := time.AfterFunc(s.cfg.SensorDelay, func() {
		defer s.wg.Done()
		defer s.recoverTask(KindSensors, id, cycle)

		if s.ctx.Err() != nil {
			return
		}
		fire(id, task, s.reading())
	})
	task.stop = func() {
		if timer.Stop() {
			s.wg.Done()
		}
	}
	return task
}

// ArmScan starts the simulated scan: ScanFrames steps, one every ScanInterval.
// step returns false when the frame was not accepted, which ends the loop.
// done runs once the loop exits for any reason.
func (s *Scheduler) ArmScan(id string, cycle uint64, step func(id string, task *Task, image string, weeds int) bool, done func(id string, task *Task)) *Task {
	return s.ArmScanFrames(id, cycle, s.cfg.ScanFrames, step, done)
}

// ArmScanFrames is ArmScan with an explicit frame count.
func (s *Scheduler) ArmScanFrames(id string, cycle uint64, frames int, step func(id string, task *Task, image string, weeds int) bool, done func(id string, task *Task)) *Task {
	if frames <= 0 || !s.track() {
		return nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &Task{cycle: cycle, stop: cancel}

	go func() {
		defer s.wg.Done()
		defer cancel()
		defer done(id, task)
		defer s.recoverTask(KindScan, id, cycle)

		ticker := time.NewTicker(s.cfg.ScanInterval)
		defer ticker.Stop()

		for i := 0; i < frames; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			image, weeds, err := s.frame()
			if err != nil {
				s.logger.Warn("simulated frame failed", "deviceId", id, "cycle", cycle, "error", err)
				continue
			}
			if !step(id, task, image, weeds) {
				return
			}
		}
	}()
	return task
}

// track registers one task with the wait group. It reports false once Close has started.
func (s *Scheduler) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// recoverTask keeps a failing fallback from taking the process down.
func (s *Scheduler) recoverTask(kind, id string, cycle uint64) {
	if r := recover(); r != nil {
		s.logger.Error("fallback task panicked", "kind", kind, "deviceId", id, "cycle", cycle, "panic", r)
	}
}

// Close stops new arming and waits for running tasks. Armed timers must be stopped first.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
