// Package tasksync keeps a displayed task collection consistent with
// asynchronous backend generation jobs. It polls only while at least one
// tracked task is still pending or generating and goes quiet the moment the
// whole list is terminal.
package tasksync

import (
	"context"
	"sync"
	"time"

	"github.com/yungbote/neurobridge-agent/internal/platform/logger"
	"github.com/yungbote/neurobridge-agent/internal/types"
)

// FetchFunc returns the current task collection from the backend.
type FetchFunc func(ctx context.Context) ([]types.Task, error)

type Synchronizer struct {
	log      *logger.Logger
	fetch    FetchFunc
	period   time.Duration
	onUpdate func([]types.Task)

	mu      sync.Mutex
	tasks   []types.Task
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func New(log *logger.Logger, fetch FetchFunc, period time.Duration) *Synchronizer {
	if period <= 0 {
		period = 3 * time.Second
	}
	return &Synchronizer{
		log:    log.With("service", "TaskSynchronizer"),
		fetch:  fetch,
		period: period,
	}
}

// SetOnUpdate registers the observer notified after each successful refresh.
// Must be called before the first Update.
func (s *Synchronizer) SetOnUpdate(fn func([]types.Task)) {
	s.mu.Lock()
	s.onUpdate = fn
	s.mu.Unlock()
}

// anyPending is the arming predicate: re-evaluated against the current list
// after every change rather than tracked as separate state that could drift.
func anyPending(tasks []types.Task) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return true
		}
	}
	return false
}

// Update replaces the tracked list (a fresh fetch done by the caller, or a
// newly created task arriving) and arms or disarms the poll timer to match.
func (s *Synchronizer) Update(tasks []types.Task) {
	s.mu.Lock()
	s.tasks = append([]types.Task(nil), tasks...)
	s.reconcileLocked()
	s.mu.Unlock()
}

// RefreshNow fetches once, outside the timer, and applies the result.
func (s *Synchronizer) RefreshNow(ctx context.Context) error {
	tasks, err := s.fetch(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tasks = append([]types.Task(nil), tasks...)
	s.reconcileLocked()
	fn := s.onUpdate
	snapshot := append([]types.Task(nil), s.tasks...)
	s.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
	return nil
}

// Tasks returns a snapshot of the tracked list.
func (s *Synchronizer) Tasks() []types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Task(nil), s.tasks...)
}

// Polling reports whether the refresh timer is currently armed.
func (s *Synchronizer) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop disarms the timer permanently and waits for the poll loop to exit.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Synchronizer) reconcileLocked() {
	pending := anyPending(s.tasks)
	running := s.cancel != nil
	switch {
	case pending && !running && !s.stopped:
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		s.cancel = cancel
		s.done = done
		s.log.Debug("poll timer armed", "period", s.period)
		go s.pollLoop(ctx, done)
	case !pending && running:
		s.cancel()
		s.cancel = nil
		s.done = nil
		s.log.Debug("poll timer disarmed, all tasks terminal")
	}
}

func (s *Synchronizer) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// refresh fetches the collection and replaces the list. A failed fetch keeps
// the previous list intact and leaves the timer armed for the next tick.
func (s *Synchronizer) refresh(ctx context.Context) {
	tasks, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("task refresh failed, keeping previous list", "error", err)
		}
		return
	}

	s.mu.Lock()
	s.tasks = append([]types.Task(nil), tasks...)
	s.reconcileLocked()
	fn := s.onUpdate
	snapshot := append([]types.Task(nil), s.tasks...)
	s.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}
