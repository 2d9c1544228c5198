package engine

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lazypower/recall/internal/logging"
)

// Task is a named periodic job. Interval is re-read after every run so it can adapt.
type Task struct {
	Name     string
	Interval func() time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler fires tasks on their own timers. A firing while the previous run
// of the same task still holds its in-progress token is a no-op.
type Scheduler struct {
	locks *LockTable

	mu      sync.Mutex
	tasks   map[string]Task
	order   []string
	started bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler whose in-progress tokens expire after staleAfter.
func NewScheduler(staleAfter time.Duration) *Scheduler {
	return &Scheduler{
		locks:  NewLockTable(staleAfter),
		tasks:  make(map[string]Task),
		stopCh: make(chan struct{}),
	}
}

// Add registers a task. Tasks added after Start are not scheduled.
func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; !ok {
		s.order = append(s.order, t.Name)
	}
	s.tasks[t.Name] = t
}

// Tasks returns the registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start launches one goroutine per task. Calling it twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, name := range s.order {
		t := s.tasks[name]
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	logging.Info().Strs("tasks", s.order).Msg("scheduler: started")
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	timer := time.NewTimer(t.Interval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.fire(ctx, t)
			timer.Reset(t.Interval())
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// fire runs t unless a previous run still holds its token. Reports whether it ran.
func (s *Scheduler) fire(ctx context.Context, t Task) bool {
	release, ok := s.locks.TryAcquire("task:" + t.Name)
	if !ok {
		logging.Debug().Str("task", t.Name).Msg("scheduler: previous run still active")
		return false
	}
	defer release()

	start := time.Now()
	if err := t.Run(ctx); err != nil {
		logging.Warn().Err(err).Str("task", t.Name).Msg("scheduler: task failed")
	} else {
		logging.Debug().Str("task", t.Name).Dur("took", time.Since(start)).Msg("scheduler: task done")
	}
	return true
}

// RunNow fires a task immediately on the caller's goroutine. It returns false
// when the task is already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return false, invalidInput("unknown task", goerr.V("task", name))
	}
	return s.fire(ctx, t), nil
}

// Stop cancels all timers and waits for running tasks. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
