package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/execgw/internal/log"
)

// DefaultPoolSize is the worker count used when Config.PoolSize is unset.
const DefaultPoolSize = 16

// Task is one unit of request handling. It runs on a worker goroutine.
type Task func() Result

// State is the dispatcher lifecycle position.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds dispatcher settings.
type Config struct {
	PoolSize int
}

// Dispatcher runs submitted tasks on a fixed pool of workers and gates
// admission with a one-way flag.
type Dispatcher struct {
	size   int
	logger *slog.Logger
	queue  *taskQueue

	// stopped is the admission flag. Written once, under mu.
	stopped atomic.Bool
	mu      sync.Mutex

	running atomic.Int32
	wg      sync.WaitGroup
	done    chan struct{}
}

// New creates a Dispatcher and starts its workers.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = log.WithComponent("dispatch")
	}

	d := &Dispatcher{
		size:   cfg.PoolSize,
		logger: logger,
		queue:  newTaskQueue(),
		done:   make(chan struct{}),
	}

	d.wg.Add(d.size)
	for i := range d.size {
		go d.worker(i)
	}
	go func() {
		d.wg.Wait()
		d.logger.Info("dispatcher stopped")
		close(d.done)
	}()

	d.logger.Debug("dispatcher started", "pool_size", d.size)
	return d
}

// Submit enqueues task for asynchronous execution and reports whether it was
// admitted. After DrainAndStop the task is dropped without logging.
func (d *Dispatcher) Submit(task Task) bool {
	if task == nil || d.stopped.Load() {
		return false
	}
	// A push racing with DrainAndStop is rejected by the closed queue.
	return d.queue.push(task)
}

// DrainAndStop closes admission and lets the queue drain. It returns once
// shutdown has been initiated; use Wait or Done to observe completion.
func (d *Dispatcher) DrainAndStop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped.Load() {
		return
	}
	d.stopped.Store(true)
	pending := d.queue.close()

	d.logger.Info("dispatcher draining", "queued", pending, "running", d.running.Load())
}

// Done is closed once every worker has exited after DrainAndStop.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the dispatcher is fully drained or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for drain: %w", ctx.Err())
	}
}

// State reports the lifecycle position.
func (d *Dispatcher) State() State {
	select {
	case <-d.done:
		return StateStopped
	default:
	}
	if d.stopped.Load() {
		return StateDraining
	}
	return StateRunning
}

// PoolSize returns the number of workers.
func (d *Dispatcher) PoolSize() int {
	return d.size
}

// Queued returns the number of admitted tasks not yet picked up by a worker.
func (d *Dispatcher) Queued() int {
	return d.queue.len()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		task, ok := d.queue.pop()
		if !ok {
			return
		}
		d.run(id, task)
	}
}

// run executes one task. Nothing a task does can escape this frame.
func (d *Dispatcher) run(worker int, task Task) {
	d.running.Add(1)
	defer d.running.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("task panicked",
				"worker", worker,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	res := task()
	switch res.Status {
	case StatusFailed:
		args := append([]any{"worker", worker, "error", res.Err}, res.attrs...)
		d.logger.Error("request handling failed", args...)
	case StatusSkipped:
		args := append([]any{"worker", worker, "reason", res.Reason}, res.attrs...)
		d.logger.Debug("task skipped", args...)
	}
}
