package engine

import (
	"context"
	"time"

	"edusched/src-server/academic"
	"edusched/src-server/conflict"
	"edusched/src-server/model"
	"edusched/src-server/recurrence"
	"edusched/src-server/store"
)

const DefaultHorizon = recurrence.DefaultHorizonDays * 24 * time.Hour

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Metrics is what the engine reports; metric.Scheduler implements it.
type Metrics interface {
	ObserveOperation(operation, outcome string, d time.Duration)
	ObserveConflicts(conflicts []conflict.Conflict)
	AddInstances(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) ObserveConflicts([]conflict.Conflict)           {}
func (nopMetrics) AddInstances(int)                               {}

// Deps are the collaborators of an Engine. Store is required; the rest fall
// back to defaults when left zero.
type Deps struct {
	Store store.Store
	// Academic may be nil when no academic calendar is configured; events
	// naming an academic year are then rejected.
	Academic academic.Provider
	Clock    Clock
	Locker   *TenantLocker
	Metrics  Metrics
	Policies *conflict.Policies
	// Horizon is how far ahead recurring events are materialised.
	Horizon  time.Duration
	Expander recurrence.Expander
}

// Engine is the scheduling service. It holds no mutable state of its own, so
// one value can serve any number of requests.
type Engine struct {
	store    store.Store
	academic academic.Provider
	clock    Clock
	locker   *TenantLocker
	metrics  Metrics
	policies *conflict.Policies
	horizon  time.Duration
	expander recurrence.Expander
}

func New(deps Deps) *Engine {
	e := &Engine{
		store:    deps.Store,
		academic: deps.Academic,
		clock:    deps.Clock,
		locker:   deps.Locker,
		metrics:  deps.Metrics,
		policies: deps.Policies,
		horizon:  deps.Horizon,
		expander: deps.Expander,
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.locker == nil {
		e.locker = NewTenantLocker()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.policies == nil {
		e.policies = conflict.NewPolicies(conflict.DefaultPolicy())
	}
	if e.horizon <= 0 {
		e.horizon = DefaultHorizon
	}
	return e
}

// Result is returned by successful writes. Warnings never block.
type Result struct {
	Event     model.Event         `json:"event"`
	Instances int                 `json:"instances"`
	Warnings  []conflict.Conflict `json:"warnings"`
}

func (e *Engine) ValidateRecurrenceRule(rule model.RecurrenceRule) []string {
	return recurrence.ValidateRule(rule)
}

// GenerateOccurrences previews a rule with the engine's occurrence cap. A zero
// horizonEnd uses the engine horizon.
func (e *Engine) GenerateOccurrences(anchorStart, anchorEnd time.Time, rule model.RecurrenceRule, horizonEnd time.Time) ([]recurrence.Occurrence, error) {
	if horizonEnd.IsZero() {
		horizonEnd = anchorStart.Add(e.horizon)
	}
	return e.expander.Generate(anchorStart, anchorEnd, rule, horizonEnd)
}

// CheckConflicts runs the detector for a candidate without writing anything.
// It reads the tenant calendar as it is now and takes no lock.
func (e *Engine) CheckConflicts(ctx context.Context, c conflict.Candidate, academicYearID string) ([]conflict.Conflict, error) {
	year, err := e.loadYear(ctx, academicYearID)
	if err != nil {
		return nil, err
	}
	existing, err := e.existing(ctx, e.store, c.TenantID, c.Start, c.End)
	if err != nil {
		return nil, err
	}
	return conflict.Check(c, existing, year, e.policies.For(c.TenantID)), nil
}

func (e *Engine) observe(operation string, began time.Time, err error) {
	outcome := "ok"
	switch err.(type) {
	case nil:
	case *ValidationError, *NotFoundError:
		outcome = "rejected"
	case *SchedulingConflictError:
		outcome = "conflict"
	default:
		outcome = "error"
	}
	e.metrics.ObserveOperation(operation, outcome, time.Since(began))
}
