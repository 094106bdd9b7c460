// Package janitor runs periodic housekeeping tasks on a fixed-rate schedule.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// maxCancelWait bounds how long Stop waits for a cancelled run to return.
const maxCancelWait = time.Second

// Task is one unit of housekeeping. It returns how many items it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	// Grace is how long Stop waits for an in-flight run before cancelling it.
	Grace time.Duration
}

type Janitor struct {
	cfg   Config
	tasks []Task
	log   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopRuns context.CancelFunc
	done     chan struct{}
	started  bool
}

func New(cfg Config, log *slog.Logger, tasks ...Task) (*Janitor, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("janitor: interval must be positive")
	}
	if cfg.InitialDelay < 0 {
		return nil, errors.New("janitor: initial delay must not be negative")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Janitor{cfg: cfg, tasks: tasks, log: log.With("component", "janitor")}, nil
}

// Start launches the schedule. The parent context bounds the whole loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.started {
		return errors.New("janitor: already started")
	}
	j.started = true

	loopCtx, cancelLoop := context.WithCancel(ctx)
	// Runs get their own context so Stop can let one finish before cancelling it.
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	j.cancel = cancelLoop
	j.stopRuns = cancelRuns
	j.done = make(chan struct{})

	go j.loop(loopCtx, runCtx)
	j.log.Info("janitor_started", "initial_delay", j.cfg.InitialDelay, "interval", j.cfg.Interval, "tasks", len(j.tasks))
	return nil
}

// Stop ends the schedule and waits up to the grace period for a running pass.
// A pass still running after that has its context cancelled; if it ignores the
// cancellation Stop gives up after one more bounded wait and leaves it behind.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.started || j.cancel == nil {
		j.mu.Unlock()
		return
	}
	cancelLoop, cancelRuns, done := j.cancel, j.stopRuns, j.done
	j.cancel = nil
	j.mu.Unlock()

	cancelLoop()
	select {
	case <-done:
	case <-time.After(j.cfg.Grace):
		j.log.Warn("janitor_grace_exceeded", "grace", j.cfg.Grace)
		cancelRuns()
		wait := min(j.cfg.Grace, maxCancelWait)
		select {
		case <-done:
		case <-time.After(wait):
			j.log.Error("janitor_abandoned_run", "waited", j.cfg.Grace+wait)
		}
	}
	cancelRuns()
	j.log.Info("janitor_stopped")
}

func (j *Janitor) loop(loopCtx, runCtx context.Context) {
	defer close(j.done)

	timer := time.NewTimer(j.cfg.InitialDelay)
	defer timer.Stop()
	select {
	case <-loopCtx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		j.RunOnce(runCtx)
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes every task once. Failures are logged and do not stop later tasks.
func (j *Janitor) RunOnce(ctx context.Context) {
	for _, t := range j.tasks {
		start := time.Now()
		n, err := j.safeRun(ctx, t)
		if err != nil {
			j.log.Error("janitor_task_failed", "task", t.Name, "error", err)
			continue
		}
		j.log.Debug("janitor_task_done", "task", t.Name, "removed", n, "took", time.Since(start))
	}
}

func (j *Janitor) safeRun(ctx context.Context, t Task) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx)
}
