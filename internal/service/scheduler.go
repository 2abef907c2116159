package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrSchedulerStopped is returned when timers are registered before Start or after Stop.
var ErrSchedulerStopped = errors.New("scheduler is not running")

// JobRunner executes one due post. Run must not panic past its own recovery;
// the scheduler still guards against it.
type JobRunner interface {
	Run(ctx context.Context, postID uint)
}

// TimerRegistry is the part of the scheduler the executor and recovery sweep use.
type TimerRegistry interface {
	Schedule(postID uint, fireAt time.Time) error
	Cancel(postID uint)
	FireNow(postID uint) error
}

type timerEntry struct {
	fireAt time.Time
	timer  *time.Timer
	gen    uint64
}

// Scheduler maps post ids to one-shot timers and hands due posts to the runner.
// The registry holds nothing that cannot be rebuilt from the pending posts in the store.
type Scheduler struct {
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	runner  JobRunner
	entries map[uint]*timerEntry
	running map[uint]struct{}
	gen     uint64
	started bool
	stopped bool

	wg sync.WaitGroup
}

func NewScheduler(grace time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		grace:   grace,
		logger:  logger,
		now:     time.Now,
		entries: make(map[uint]*timerEntry),
		running: make(map[uint]struct{}),
	}
}

// Start enables timer registration. Executions run under ctx; it should outlive
// Stop so in-flight publishes are not cut short.
func (s *Scheduler) Start(ctx context.Context, runner JobRunner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	s.ctx = ctx
	s.runner = runner
	s.started = true

	s.logger.Info("Scheduler started", zap.Duration("grace_period", s.grace))
	return nil
}

// Stop disarms every timer and waits for in-flight executions until ctx expires.
// Posts stay pending in the store and are re-armed by the next recovery sweep.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		for id, entry := range s.entries {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(s.entries, id)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler shutdown completed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown interrupted: %w", ctx.Err())
	}
}

// Schedule registers or replaces the timer for postID.
func (s *Scheduler) Schedule(postID uint, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return ErrSchedulerStopped
	}

	entry := s.replaceLocked(postID, fireAt)

	delay := fireAt.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	gen := entry.gen
	entry.timer = time.AfterFunc(delay, func() {
		s.onTimer(postID, gen)
	})

	s.logger.Debug("Post scheduled",
		zap.Uint("post_id", postID),
		zap.Time("fire_at", fireAt),
		zap.Duration("delay", delay))
	return nil
}

// Cancel removes the timer for postID. Absent ids are ignored.
func (s *Scheduler) Cancel(postID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[postID]
	if !ok {
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.entries, postID)
}

// FireNow runs postID immediately through the same single-execution path as a timer.
func (s *Scheduler) FireNow(postID uint) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.replaceLocked(postID, s.now())
	s.mu.Unlock()

	s.dispatch(postID)
	return nil
}

// Registered reports whether postID currently has a timer entry.
func (s *Scheduler) Registered(postID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[postID]
	return ok
}

// Executing reports whether an execution for postID is in flight.
func (s *Scheduler) Executing(postID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[postID]
	return ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// replaceLocked stops any previous timer and installs a fresh entry with a new generation.
func (s *Scheduler) replaceLocked(postID uint, fireAt time.Time) *timerEntry {
	if prev, ok := s.entries[postID]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	s.gen++
	entry := &timerEntry{fireAt: fireAt, gen: s.gen}
	s.entries[postID] = entry
	return entry
}

// onTimer ignores fires from timers that were cancelled or replaced after they went off.
func (s *Scheduler) onTimer(postID uint, gen uint64) {
	s.mu.Lock()
	entry, ok := s.entries[postID]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	fireAt := entry.fireAt
	s.mu.Unlock()

	if late := s.now().Sub(fireAt); late > s.grace {
		s.logger.Warn("Post fired past grace period, running as overdue",
			zap.Uint("post_id", postID),
			zap.Duration("late_by", late))
	}

	s.dispatch(postID)
}

// dispatch starts the runner unless an execution for the same post is already in flight;
// duplicate fires are coalesced into that execution.
func (s *Scheduler) dispatch(postID uint) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if _, busy := s.running[postID]; busy {
		s.mu.Unlock()
		s.logger.Debug("Post already executing, coalescing fire", zap.Uint("post_id", postID))
		return false
	}
	s.running[postID] = struct{}{}
	s.wg.Add(1)
	ctx, runner := s.ctx, s.runner
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, postID)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Post execution panicked",
					zap.Uint("post_id", postID),
					zap.Any("panic", r))
			}
		}()

		runner.Run(ctx, postID)
	}()
	return true
}
