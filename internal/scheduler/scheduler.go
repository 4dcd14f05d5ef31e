package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/playbook/internal/store"
)

// TriggerDispatcher is the interface the scheduler fires triggers through.
// Satisfied by the engine dispatcher (avoids import cycle).
type TriggerDispatcher interface {
	DispatchTrigger(ctx context.Context, triggerKey, scopeID string, payload map[string]any) error
}

// Scheduler polls the store for due scheduled triggers and fires them through
// the dispatcher. A trigger is due when its cron schedule has a fire time at
// or before now, computed from its last firing; each trigger fires at most
// once per schedule window.
type Scheduler struct {
	store      store.Store
	dispatcher TriggerDispatcher
	parser     cron.Parser
	logger     *slog.Logger
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger IDs currently firing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, dispatcher TriggerDispatcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      s,
		dispatcher: dispatcher,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

// Start launches the background polling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now().UTC())
		}
	}
}

// tick checks all enabled triggers and fires those that are due.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	triggers, err := s.store.ListScheduledTriggers(ctx, true)
	if err != nil {
		s.logger.Error("failed to list scheduled triggers", slog.String("error", err.Error()))
		return
	}

	for _, trig := range triggers {
		due, err := s.isDue(trig, now)
		if err != nil {
			s.logger.Error("invalid cron expression",
				slog.String("trigger_id", trig.ID),
				slog.String("cron", trig.CronExpr),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(trig.ID) {
			continue // already firing (dedup)
		}
		if err := s.fire(ctx, trig, now); err != nil {
			s.logger.Error("failed to fire scheduled trigger",
				slog.String("trigger_id", trig.ID),
				slog.String("trigger_key", trig.TriggerKey),
				slog.String("error", err.Error()),
			)
		}
		s.release(trig.ID)
	}
}

// isDue reports whether the trigger's schedule has a fire time at or before
// now, starting from its last firing (or creation, when it never fired).
func (s *Scheduler) isDue(trig *store.ScheduledTrigger, now time.Time) (bool, error) {
	schedule, err := s.parser.Parse(trig.CronExpr)
	if err != nil {
		return false, err
	}

	from := trig.CreatedAt
	if trig.LastFiredAt != nil {
		from = *trig.LastFiredAt
	}
	return !schedule.Next(from).After(now), nil
}

// fire dispatches a trigger and records the firing. The fired timestamp is
// recorded even when the dispatch fails, so a broken scope does not refire on
// every tick.
func (s *Scheduler) fire(ctx context.Context, trig *store.ScheduledTrigger, now time.Time) error {
	s.logger.Info("firing scheduled trigger",
		slog.String("trigger_id", trig.ID),
		slog.String("trigger_key", trig.TriggerKey),
		slog.String("scope_id", trig.ScopeID),
	)

	var payload map[string]any
	if len(trig.Payload) > 0 {
		if err := json.Unmarshal(trig.Payload, &payload); err != nil {
			if markErr := s.store.MarkTriggerFired(ctx, trig.ID, now); markErr != nil {
				return markErr
			}
			return fmt.Errorf("parse trigger payload: %w", err)
		}
	}

	dispatchErr := s.dispatcher.DispatchTrigger(ctx, trig.TriggerKey, trig.ScopeID, payload)
	if err := s.store.MarkTriggerFired(ctx, trig.ID, now); err != nil {
		return fmt.Errorf("mark trigger fired: %w", err)
	}
	return dispatchErr
}

// tryAcquire returns true and marks the trigger in-flight if it is not
// already firing.
func (s *Scheduler) tryAcquire(triggerID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[triggerID]; ok {
		return false
	}
	s.inflight[triggerID] = struct{}{}
	return true
}

func (s *Scheduler) release(triggerID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, triggerID)
}

// NextFire computes the next fire time for a cron expression.
func (s *Scheduler) NextFire(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
