package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/proxychecker/internal/domain"
	"github.com/hamed0406/proxychecker/internal/probe"
	"github.com/hamed0406/proxychecker/internal/repo"
)

// Supervisor owns one probe loop per target id.
type Supervisor struct {
	Logger  *zap.Logger
	Targets repo.TargetStore
	History repo.HistoryStore
	Prober  probe.Prober
	Timeout time.Duration

	tick time.Duration // one interval unit
	now  func() time.Time

	mu     sync.Mutex
	tasks  map[domain.TargetID]*task
	closed bool // set by Shutdown; Start is a no-op afterwards
	wg    sync.WaitGroup
}

type task struct {
	id     domain.TargetID
	cancel context.CancelFunc
	done   chan struct{}

	// gate serializes history writes against stop; once stopped is set
	// the loop never writes again.
	gate    sync.Mutex
	stopped bool
}

func NewSupervisor(
	logger *zap.Logger,
	ts repo.TargetStore,
	hs repo.HistoryStore,
	prober probe.Prober,
	timeout time.Duration,
) *Supervisor {
	if timeout <= 0 {
		timeout = probe.Timeout
	}
	return &Supervisor{
		Logger:  logger,
		Targets: ts,
		History: hs,
		Prober:  prober,
		Timeout: timeout,
		tick:    time.Second,
		now:     time.Now,
		tasks:   make(map[domain.TargetID]*task),
	}
}

// StartAll starts a loop for every registered target.
func (s *Supervisor) StartAll(ctx context.Context) error {
	ts, err := s.Targets.List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	for _, t := range ts {
		s.Start(t)
	}
	s.Logger.Info("supervisor_started", zap.Int("tasks", len(ts)))
	return nil
}

// Start launches a loop for t, cancelling any loop already running for
// the same id first. It is used for both create and update.
func (s *Supervisor) Start(t domain.Target) {
	ctx, cancel := context.WithCancel(context.Background())
	nt := &task{id: t.ID, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		s.Logger.Warn("probe_task_rejected_after_shutdown", zap.Int64("target_id", int64(t.ID)))
		return
	}
	if old, ok := s.tasks[t.ID]; ok {
		old.stop()
		s.Logger.Debug("probe_task_superseded", zap.Int64("target_id", int64(t.ID)))
	}
	s.tasks[t.ID] = nt
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, nt)
}

// Cancel stops the loop for id. Calling it for an absent id is a no-op.
// It does not wait for an in-flight probe to finish.
func (s *Supervisor) Cancel(id domain.TargetID) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if ok {
		t.stop()
		s.Logger.Debug("probe_task_cancelled", zap.Int64("target_id", int64(id)))
	}
}

// IsRunning reports whether a loop is registered for id and has not exited.
func (s *Supervisor) IsRunning(id domain.TargetID) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Running returns the ids that currently have a live loop.
func (s *Supervisor) Running() []domain.TargetID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TargetID, 0, len(s.tasks))
	for id := range s.tasks {
		out = append(out, id)
	}
	return out
}

// Shutdown cancels every loop and waits for them to exit or ctx to end.
// Later calls to Start are ignored.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	all := s.tasks
	s.tasks = make(map[domain.TargetID]*task)
	s.mu.Unlock()

	for _, t := range all {
		t.stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.Logger.Info("supervisor_stopped", zap.Int("tasks", len(all)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *task) stop() {
	t.cancel()
	t.gate.Lock()
	t.stopped = true
	t.gate.Unlock()
}

// write runs fn unless the task was stopped. It reports false when stopped.
func (t *task) write(fn func() error) (bool, error) {
	t.gate.Lock()
	defer t.gate.Unlock()
	if t.stopped {
		return false, nil
	}
	return true, fn()
}

func (s *Supervisor) run(ctx context.Context, t *task) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.forget(t)

	log := s.Logger.With(zap.Int64("target_id", int64(t.id)))
	log.Debug("probe_loop_started")

	interval := 1
	for {
		tgt, err := s.Targets.Get(ctx, t.id)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			log.Info("probe_loop_target_gone")
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Error("probe_loop_read_error", zap.Error(err))
			if !s.sleep(ctx, interval) {
				return
			}
			continue
		}
		interval = tgt.Interval

		res := s.probeOnce(ctx, tgt)
		if ctx.Err() != nil {
			log.Debug("probe_loop_cancelled")
			return
		}

		written, err := t.write(func() error { return s.History.Append(ctx, t.id, res) })
		if !written {
			return
		}
		if errors.Is(err, repo.ErrNotFound) {
			log.Info("probe_loop_target_gone")
			return
		}
		if err != nil {
			log.Error("history_append_error", zap.Error(err))
		} else {
			log.Debug("probe_recorded",
				zap.String("type", string(res.Kind)),
				zap.Bool("success", res.OK()),
				zap.String("result", probe.Describe(res)),
			)
		}

		tgt, err = s.Targets.Get(ctx, t.id)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			log.Info("probe_loop_target_gone")
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			log.Error("probe_loop_read_error", zap.Error(err))
		default:
			interval = tgt.Interval
		}

		if !s.sleep(ctx, interval) {
			log.Debug("probe_loop_cancelled")
			return
		}
	}
}

// probeOnce never panics; a panicking prober becomes a failure result.
func (s *Supervisor) probeOnce(ctx context.Context, tgt domain.Target) (res domain.ProbeResult) {
	pctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("probe_panic",
				zap.Int64("target_id", int64(tgt.ID)),
				zap.Any("panic", r),
			)
			res = domain.ProbeResult{
				Kind:    tgt.Kind,
				Outcome: domain.Failure{Error: fmt.Sprintf("probe panic: %v", r)},
			}
		}
		res.Timestamp = s.now()
		if res.Kind == "" {
			res.Kind = tgt.Kind
		}
	}()
	return s.Prober.Probe(pctx, probe.RequestFor(tgt, s.Timeout))
}

// sleep waits max(1, interval) units; false means ctx ended first.
func (s *Supervisor) sleep(ctx context.Context, interval int) bool {
	if interval < 1 {
		interval = 1
	}
	timer := time.NewTimer(time.Duration(interval) * s.tick)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// forget drops t from the map unless it was already replaced.
func (s *Supervisor) forget(t *task) {
	s.mu.Lock()
	if cur, ok := s.tasks[t.id]; ok && cur == t {
		delete(s.tasks, t.id)
	}
	s.mu.Unlock()
}
