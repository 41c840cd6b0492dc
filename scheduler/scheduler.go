package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mediaconvert/logger"
)

// TaskFunc performs one run of a periodic task.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler runs each registered task on its own ticker. A slow or failing
// task never delays the others, and a task never overlaps with itself.
type Scheduler struct {
	locker Locker
	tasks  []task

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New returns a scheduler. With a nil locker every instance runs every task.
func New(locker Locker) *Scheduler {
	return &Scheduler{locker: locker}
}

// Add registers a task. It must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) {
	if interval <= 0 {
		logger.Warnf("Task %s has no interval, not scheduling it", name)
		return
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, fn: fn})
}

// Start launches one goroutine per task. Tasks first run one interval after Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	logger.Infof("Scheduler started with %d task(s)", len(s.tasks))
}

// Stop cancels all tasks and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	logger.Infof("Task %s scheduled every %v", t.name, t.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Debugf("Task %s stopped", t.name)
			return
		case <-ticker.C:
			s.runTask(ctx, t)
		}
	}
}

// runTask executes one run, holding the task lock when a locker is configured.
func (s *Scheduler) runTask(ctx context.Context, t task) {
	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, t.name, t.interval)
		if err != nil {
			logger.Errorf("Task %s: failed to acquire lock: %v", t.name, err)
			return
		}
		if !ok {
			logger.Debugf("Task %s is running elsewhere, skipping", t.name)
			return
		}
		defer release()
	}

	start := time.Now()
	if err := safeRun(ctx, t.fn); err != nil {
		logger.Errorf("Task %s failed after %v: %v", t.name, time.Since(start), err)
		return
	}
	logger.Debugf("Task %s finished in %v", t.name, time.Since(start))
}

func safeRun(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
