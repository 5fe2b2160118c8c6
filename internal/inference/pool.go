package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type job struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan struct{}
	ran  bool
}

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	jobs   chan *job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
}

// NewPool starts workers goroutines with a queue of queueSize pending jobs.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		jobs:   make(chan *job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			p.process(j)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) process(j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("inference job panicked", "panic", r)
		}
	}()

	// Skip work whose caller already gave up.
	if j.ctx.Err() != nil {
		return
	}
	j.ran = true
	j.run(j.ctx)
}

// Do queues fn and waits for it to finish. A full queue returns ErrBusy without waiting.
// If ctx ends first Do returns ctx.Err(); fn still observes the cancelled ctx.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if p.ctx.Err() != nil {
		return fmt.Errorf("%w: pool closed", ErrModelUnavailable)
	}

	j := &job{ctx: ctx, run: fn, done: make(chan struct{})}
	select {
	case p.jobs <- j:
	default:
		return fmt.Errorf("%w: inference queue full", ErrBusy)
	}

	select {
	case <-j.done:
		if !j.ran {
			return ctx.Err()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("%w: pool closed", ErrModelUnavailable)
	}
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

// Close stops the workers after their current job.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// PooledWeedDetector runs a WeedDetector on a Pool.
type PooledWeedDetector struct {
	pool     *Pool
	detector WeedDetector
}

var _ WeedDetector = (*PooledWeedDetector)(nil)

// NewPooledWeedDetector wraps detector so Detect runs on pool.
func NewPooledWeedDetector(pool *Pool, detector WeedDetector) *PooledWeedDetector {
	return &PooledWeedDetector{pool: pool, detector: detector}
}

// Loaded reports whether the wrapped detector is loaded.
func (d *PooledWeedDetector) Loaded() bool {
	return d.detector.Loaded()
}

// Detect runs the wrapped detector on a pool worker.
func (d *PooledWeedDetector) Detect(ctx context.Context, image []byte) (*WeedResult, error) {
	if !d.detector.Loaded() {
		return nil, fmt.Errorf("%w: weed model not loaded", ErrModelUnavailable)
	}

	var (
		result *WeedResult
		err    error
	)
	if poolErr := d.pool.Do(ctx, func(ctx context.Context) {
		result, err = d.detector.Detect(ctx, image)
	}); poolErr != nil {
		return nil, poolErr
	}
	if result == nil && err == nil {
		return nil, fmt.Errorf("%w: detector returned no result", ErrProcessing)
	}
	return result, err
}
