package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"edusched/src-server/conflict"
	"edusched/src-server/model"
	"edusched/src-server/recurrence"
	"edusched/src-server/store"
)

const errNoOccurrences = "recurrenceRule yields no occurrences"

func newID() string { return uuid.NewString() }

// CreateEvent validates, checks a single event or every occurrence of a
// series for conflicts, and persists the event with its instances as one unit. Any ERROR
// conflict aborts with nothing written.
func (e *Engine) CreateEvent(ctx context.Context, in NewEvent) (res Result, err error) {
	began := time.Now()
	defer func() { e.observe("create", began, err) }()

	ev, err := e.build(in, newID(), e.clock.Now())
	if err != nil {
		slog.Info("event rejected", "tenant", in.TenantID, "error", err)
		return Result{}, err
	}

	unlock := e.locker.Lock(ev.TenantID)
	defer unlock()

	var instances []model.EventInstance
	var warnings []conflict.Conflict
	if err := e.store.Atomic(ctx, func(tx store.EventStore) error {
		occs, err := e.plan(ev, ev.StartTime)
		if err != nil {
			return err
		}
		if ev.IsRecurring && len(occs) == 0 {
			return invalid(errNoOccurrences)
		}
		// A series occupies its occurrences only; an anchor that falls off
		// the rule (a Tuesday anchor on a Monday rule) takes no slot.
		found, err := e.detect(ctx, tx, ev, occs, !ev.IsRecurring)
		if err != nil {
			return err
		}
		if conflict.HasErrors(found) {
			return &SchedulingConflictError{Conflicts: found}
		}
		warnings = conflict.Warnings(found)

		if err := tx.Save(ctx, ev); err != nil {
			return &StoreError{Op: "save event", Err: err}
		}
		instances = e.instancesFor(ev, occs)
		if err := tx.SaveInstances(ctx, instances); err != nil {
			return &StoreError{Op: "save instances", Err: err}
		}
		return nil
	}); err != nil {
		err = surface("create event", err)
		e.logFailure("create event", ev.TenantID, err)
		return Result{}, err
	}

	e.metrics.AddInstances(len(instances))
	slog.Debug("event created", "tenant", ev.TenantID, "id", ev.ID, "instances", len(instances), "warnings", len(warnings))
	return Result{Event: ev, Instances: len(instances), Warnings: warnings}, nil
}

// UpdateEvent merges patch into the event. When the anchor or rule changes,
// instances from now on that are not COMPLETED are regenerated; earlier ones
// stay as they are. A series whose type, academic placement or room changes
// has its upcoming instances re-checked in place.
func (e *Engine) UpdateEvent(ctx context.Context, id string, patch EventPatch) (res Result, err error) {
	began := time.Now()
	defer func() { e.observe("update", began, err) }()

	before, err := e.findEvent(ctx, e.store, id)
	if err != nil {
		return Result{}, err
	}
	unlock := e.locker.Lock(before.TenantID)
	defer unlock()

	var regenerated int
	if err := e.store.Atomic(ctx, func(tx store.EventStore) error {
		cur, err := e.findEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() {
			return invalid(fmt.Sprintf("event is %s and can no longer change", cur.Status))
		}

		next, problems := patch.apply(cur)
		problems = append(problems, eventProblems(&next)...)
		if patch.Status != nil && *patch.Status != cur.Status {
			if !cur.Status.CanTransitionTo(*patch.Status) {
				problems = append(problems, fmt.Sprintf("status can't go from %s to %s", cur.Status, *patch.Status))
			}
			next.Status = *patch.Status
		}
		if len(problems) > 0 {
			return invalid(problems...)
		}
		now := e.clock.Now()
		next.UpdatedAt = now.UTC()

		// A series is judged by its regenerated occurrences; a series whose
		// schedule did not move is judged by the instances it already has.
		regenerate := next.IsRecurring && scheduleChanged(cur, next)
		recheck := next.IsRecurring && !regenerate && placementChanged(cur, next)
		var occs []recurrence.Occurrence
		switch {
		case regenerate:
			if occs, err = e.plan(next, now); err != nil {
				return err
			}
			if len(occs) == 0 {
				all, err := e.plan(next, next.StartTime)
				if err != nil {
					return err
				}
				if len(all) == 0 {
					return invalid(errNoOccurrences)
				}
			}
		case recheck:
			if occs, err = e.upcoming(ctx, tx, next, now); err != nil {
				return err
			}
		}
		if next.Status == model.StatusScheduled && (regenerate || recheck || !next.IsRecurring) {
			found, err := e.detect(ctx, tx, next, occs, !next.IsRecurring)
			if err != nil {
				return err
			}
			if conflict.HasErrors(found) {
				return &SchedulingConflictError{Conflicts: found}
			}
			res.Warnings = conflict.Warnings(found)
		}

		if err := tx.Save(ctx, next); err != nil {
			return &StoreError{Op: "save event", Err: err}
		}
		if regenerate {
			n, err := e.regenerate(ctx, tx, next, occs, now)
			if err != nil {
				return err
			}
			regenerated = n
		}
		if next.Status != cur.Status {
			if err := e.cascade(ctx, tx, next, now); err != nil {
				return err
			}
		}
		res.Event = next
		return nil
	}); err != nil {
		err = surface("update event", err)
		e.logFailure("update event", before.TenantID, err)
		return Result{}, err
	}

	e.metrics.AddInstances(regenerated)
	res.Instances = regenerated
	slog.Debug("event updated", "tenant", before.TenantID, "id", id, "regenerated", regenerated)
	return res, nil
}

// upcoming lists the SCHEDULED instances of a series from now on as
// occurrences on the series' own clock.
func (e *Engine) upcoming(ctx context.Context, tx store.EventStore, ev model.Event, now time.Time) ([]recurrence.Occurrence, error) {
	instances, err := tx.FindInstancesByParent(ctx, ev.ID)
	if err != nil {
		return nil, &StoreError{Op: "find instances", Err: err}
	}
	out := make([]recurrence.Occurrence, 0, len(instances))
	for _, inst := range instances {
		if inst.StartTime.Before(now) || inst.Status != model.StatusScheduled {
			continue
		}
		inst = rezone(inst, ev)
		out = append(out, recurrence.Occurrence{Start: inst.StartTime, End: inst.EndTime})
	}
	return out, nil
}

// regenerate swaps the parent's future instances for fresh ones built from
// occs. COMPLETED instances survive and keep their slot.
func (e *Engine) regenerate(ctx context.Context, tx store.EventStore, ev model.Event, occs []recurrence.Occurrence, now time.Time) (int, error) {
	if _, err := tx.DeleteInstancesByParentFrom(ctx, ev.ID, now); err != nil {
		return 0, &StoreError{Op: "delete future instances", Err: err}
	}
	kept, err := tx.FindInstancesByParent(ctx, ev.ID)
	if err != nil {
		return 0, &StoreError{Op: "find instances", Err: err}
	}
	taken := make(map[int64]struct{}, len(kept))
	for _, inst := range kept {
		taken[inst.StartTime.UnixMilli()] = struct{}{}
	}

	fresh := make([]recurrence.Occurrence, 0, len(occs))
	for _, occ := range occs {
		if _, ok := taken[occ.Start.UnixMilli()]; ok {
			continue
		}
		fresh = append(fresh, occ)
	}
	instances := e.instancesFor(ev, fresh)
	if err := tx.SaveInstances(ctx, instances); err != nil {
		return 0, &StoreError{Op: "save instances", Err: err}
	}
	return len(instances), nil
}

// cascade carries a parent's cancellation down to its instances from now on
// that have not reached a terminal status.
func (e *Engine) cascade(ctx context.Context, tx store.EventStore, ev model.Event, now time.Time) error {
	if !ev.IsRecurring || ev.Status != model.StatusCancelled {
		return nil
	}
	instances, err := tx.FindInstancesByParent(ctx, ev.ID)
	if err != nil {
		return &StoreError{Op: "find instances", Err: err}
	}
	for _, inst := range instances {
		if inst.StartTime.Before(now) || inst.Status.IsTerminal() {
			continue
		}
		if err := tx.UpdateInstanceStatus(ctx, inst.ID, model.StatusCancelled); err != nil {
			return &StoreError{Op: "cancel instance", Err: err}
		}
	}
	return nil
}

// DeleteEvent removes a single event, a recurring parent with all of its
// instances, or, given an instance id, just that instance.
func (e *Engine) DeleteEvent(ctx context.Context, id string) (err error) {
	began := time.Now()
	defer func() { e.observe("delete", began, err) }()

	ev, err := e.store.FindByID(ctx, id)
	switch {
	case err == nil:
		unlock := e.locker.Lock(ev.TenantID)
		defer unlock()
		var removed int
		if err := e.store.Atomic(ctx, func(tx store.EventStore) error {
			n, err := tx.DeleteInstancesByParent(ctx, id)
			if err != nil {
				return &StoreError{Op: "delete instances", Err: err}
			}
			removed = n
			if err := tx.Delete(ctx, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &NotFoundError{ID: id}
				}
				return &StoreError{Op: "delete event", Err: err}
			}
			return nil
		}); err != nil {
			err = surface("delete event", err)
			e.logFailure("delete event", ev.TenantID, err)
			return err
		}
		slog.Debug("event deleted", "tenant", ev.TenantID, "id", id, "instances", removed)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return &StoreError{Op: "find event", Err: err}
	}

	inst, err := e.store.FindInstanceByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{ID: id}
	case err != nil:
		return &StoreError{Op: "find instance", Err: err}
	}
	unlock := e.locker.Lock(inst.TenantID)
	defer unlock()
	if err := e.store.Atomic(ctx, func(tx store.EventStore) error {
		if err := tx.DeleteInstance(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{ID: id}
			}
			return &StoreError{Op: "delete instance", Err: err}
		}
		return nil
	}); err != nil {
		err = surface("delete instance", err)
		e.logFailure("delete instance", inst.TenantID, err)
		return err
	}
	slog.Debug("instance deleted", "tenant", inst.TenantID, "id", id, "parent", inst.ParentEventID)
	return nil
}

// TransitionStatus moves an event or a single instance along the status state
// machine. Cancelling a recurring parent also cancels its future instances.
func (e *Engine) TransitionStatus(ctx context.Context, id string, to model.Status) (err error) {
	began := time.Now()
	defer func() { e.observe("transition", began, err) }()

	if !to.Valid() {
		return invalid(fmt.Sprintf("unknown status %q", to))
	}

	ev, err := e.store.FindByID(ctx, id)
	switch {
	case err == nil:
		unlock := e.locker.Lock(ev.TenantID)
		defer unlock()
		if err := e.store.Atomic(ctx, func(tx store.EventStore) error {
			cur, err := e.findEvent(ctx, tx, id)
			if err != nil {
				return err
			}
			if !cur.Status.CanTransitionTo(to) {
				return invalid(fmt.Sprintf("status can't go from %s to %s", cur.Status, to))
			}
			if to == model.StatusScheduled && !cur.IsRecurring {
				if err := e.mustFit(ctx, tx, cur, nil, true); err != nil {
					return err
				}
			}
			now := e.clock.Now()
			cur.Status = to
			cur.UpdatedAt = now.UTC()
			if err := tx.Save(ctx, cur); err != nil {
				return &StoreError{Op: "save event", Err: err}
			}
			return e.cascade(ctx, tx, cur, now)
		}); err != nil {
			err = surface("transition event", err)
			e.logFailure("transition event", ev.TenantID, err)
			return err
		}
		slog.Debug("event status changed", "tenant", ev.TenantID, "id", id, "status", to)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return &StoreError{Op: "find event", Err: err}
	}

	inst, err := e.store.FindInstanceByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{ID: id}
	case err != nil:
		return &StoreError{Op: "find instance", Err: err}
	}
	unlock := e.locker.Lock(inst.TenantID)
	defer unlock()
	if err := e.store.Atomic(ctx, func(tx store.EventStore) error {
		cur, err := tx.FindInstanceByID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{ID: id}
			}
			return &StoreError{Op: "find instance", Err: err}
		}
		if !cur.Status.CanTransitionTo(to) {
			return invalid(fmt.Sprintf("status can't go from %s to %s", cur.Status, to))
		}
		if to == model.StatusScheduled {
			parent, err := e.findEvent(ctx, tx, cur.ParentEventID)
			if err != nil {
				return err
			}
			span := []recurrence.Occurrence{{Start: cur.StartTime, End: cur.EndTime}}
			if err := e.mustFit(ctx, tx, parent, span, false); err != nil {
				return err
			}
		}
		if err := tx.UpdateInstanceStatus(ctx, id, to); err != nil {
			return &StoreError{Op: "update instance status", Err: err}
		}
		return nil
	}); err != nil {
		err = surface("transition instance", err)
		e.logFailure("transition instance", inst.TenantID, err)
		return err
	}
	slog.Debug("instance status changed", "tenant", inst.TenantID, "id", id, "status", to)
	return nil
}

// mustFit fails with a SchedulingConflictError when ev cannot take its slots
// back on the calendar.
func (e *Engine) mustFit(ctx context.Context, tx store.EventStore, ev model.Event, occs []recurrence.Occurrence, checkAnchor bool) error {
	found, err := e.detect(ctx, tx, ev, occs, checkAnchor)
	if err != nil {
		return err
	}
	if conflict.HasErrors(found) {
		return &SchedulingConflictError{Conflicts: found}
	}
	return nil
}

func (e *Engine) findEvent(ctx context.Context, s store.EventStore, id string) (model.Event, error) {
	ev, err := s.FindByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Event{}, &NotFoundError{ID: id}
	case err != nil:
		return model.Event{}, &StoreError{Op: "find event", Err: err}
	}
	return ev, nil
}

func (e *Engine) logFailure(op, tenantID string, err error) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		slog.Error("can't "+op, "tenant", tenantID, "error", err)
		return
	}
	slog.Info(op+" rejected", "tenant", tenantID, "error", err)
}
