package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rendis/playbook/internal/graph"
	"github.com/rendis/playbook/internal/logging"
	"github.com/rendis/playbook/internal/store"
	"github.com/rendis/playbook/pkg/schema"
)

// DefaultPoolSize is the default trigger fan-out concurrency.
const DefaultPoolSize = 10

// DispatchResult summarizes one dispatch call. Results holds one snapshot per
// routine that was actually started; skipped instances are only counted.
type DispatchResult struct {
	TriggerKey string         `json:"trigger_key"`
	ScopeID    string         `json:"scope_id"`
	Matched    int            `json:"matched"`
	Ignored    int            `json:"ignored"`
	Failed     int            `json:"failed"`
	Results    []*RunSnapshot `json:"results,omitempty"`
}

// Dispatcher is the single entry point by which external events reach the
// engine. It fans a trigger out over the scope's matching active routines in
// parallel, while a per-routine lock keeps each instance single-owner for its
// run at any time.
type Dispatcher struct {
	store  store.Store
	interp *Interpreter
	pool   *WorkerPool
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDispatcher creates a Dispatcher with the given fan-out pool size.
func NewDispatcher(s store.Store, interp *Interpreter, poolSize int, logger *slog.Logger) *Dispatcher {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  s,
		interp: interp,
		pool:   NewWorkerPool(poolSize),
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Dispatch finds active routines in scope whose trigger node key matches
// triggerKey and starts a run on each, seeded with payload. Non-active
// matches are skipped and counted, never executed and never an error.
func (d *Dispatcher) Dispatch(ctx context.Context, triggerKey, scopeID string, payload map[string]any) (*DispatchResult, error) {
	if triggerKey == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "trigger key is empty")
	}

	ctx = logging.WithScopeID(ctx, scopeID)
	routines, err := d.store.ListRoutines(ctx, store.RoutineFilter{ScopeID: scopeID})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list routines: %s", err.Error()).WithCause(err)
	}

	result := &DispatchResult{TriggerKey: triggerKey, ScopeID: scopeID}

	var wg sync.WaitGroup
	var resMu sync.Mutex

	for _, r := range routines {
		g, err := graph.Build(&r.Definition)
		if err != nil {
			logging.LogWith(ctx, d.logger).Warn("skipping routine with invalid definition",
				slog.String("routine_id", r.ID), slog.String("error", err.Error()))
			continue
		}
		trigger := g.TriggerNode()
		if trigger == nil || trigger.Key != triggerKey {
			continue
		}
		result.Matched++

		if r.Status != schema.RoutineStatusActive {
			result.Ignored++
			d.appendEvent(ctx, r.ID, schema.EventTriggerIgnored, map[string]any{
				"trigger_key": triggerKey,
				"status":      string(r.Status),
			})
			logging.LogWith(ctx, d.logger).Info("trigger ignored",
				slog.String("routine_id", r.ID), slog.String("status", string(r.Status)))
			continue
		}

		d.appendEvent(ctx, r.ID, schema.EventTriggerDispatched, map[string]any{
			"trigger_key": triggerKey,
		})

		routine := r
		wg.Add(1)
		submitErr := d.pool.Submit(ctx, func(runCtx context.Context) error {
			defer wg.Done()

			// One in-flight run per routine instance.
			lock := d.routineLock(routine.ID)
			lock.Lock()
			defer lock.Unlock()

			snap, runErr := d.interp.StartRun(runCtx, routine, payload)
			resMu.Lock()
			defer resMu.Unlock()
			if runErr != nil {
				result.Failed++
				logging.LogWith(runCtx, d.logger).Error("run failed to start",
					slog.String("routine_id", routine.ID), slog.String("error", runErr.Error()))
				return runErr
			}
			result.Results = append(result.Results, snap)
			return nil
		})
		if submitErr != nil {
			wg.Done()
			resMu.Lock()
			result.Failed++
			resMu.Unlock()
		}
	}

	wg.Wait()
	return result, nil
}

// DispatchTrigger is the result-free form of Dispatch, used by callers that
// only care about delivery (the scheduler).
func (d *Dispatcher) DispatchTrigger(ctx context.Context, triggerKey, scopeID string, payload map[string]any) error {
	_, err := d.Dispatch(ctx, triggerKey, scopeID, payload)
	return err
}

// Shutdown stops the fan-out pool, waiting for in-flight runs.
func (d *Dispatcher) Shutdown() {
	d.pool.Shutdown()
}

// Metrics exposes the fan-out pool metrics.
func (d *Dispatcher) Metrics() PoolMetrics {
	return d.pool.Metrics()
}

func (d *Dispatcher) routineLock(routineID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[routineID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[routineID] = lock
	}
	return lock
}

func (d *Dispatcher) appendEvent(ctx context.Context, routineID, eventType string, payload map[string]any) {
	raw, _ := json.Marshal(payload)
	if err := d.store.AppendEvent(ctx, &store.Event{
		RoutineID: routineID,
		Type:      eventType,
		Payload:   raw,
	}); err != nil {
		logging.LogWith(ctx, d.logger).Error("append dispatch event",
			slog.String("routine_id", routineID), slog.String("error", err.Error()))
	}
}
