package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"edusched/src-server/model"
	"edusched/src-server/store"
)

// GetEventsInRange lists what a tenant's calendar shows in [start, end): the
// single events and the instances of recurring events, sorted by start. It
// takes no lock.
func (e *Engine) GetEventsInRange(ctx context.Context, tenantID string, start, end time.Time) ([]model.Occurrence, error) {
	switch {
	case tenantID == "":
		return nil, invalid("tenantId is required")
	case !start.Before(end):
		return nil, invalid("range start must be before range end")
	}

	events, err := e.store.FindInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, &StoreError{Op: "find events in range", Err: err}
	}
	instances, err := e.store.FindInstancesInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, &StoreError{Op: "find instances in range", Err: err}
	}
	parents, err := e.parentsOf(ctx, e.store, instances)
	if err != nil {
		return nil, err
	}

	out := make([]model.Occurrence, 0, len(events)+len(instances))
	for _, ev := range events {
		if ev.IsRecurring {
			continue
		}
		out = append(out, model.OccurrenceOfEvent(ev))
	}
	for _, inst := range instances {
		parent, ok := parents[inst.ParentEventID]
		if !ok {
			slog.Debug("skipping orphaned instance", "tenant", tenantID, "id", inst.ID, "parent", inst.ParentEventID)
			continue
		}
		out = append(out, model.OccurrenceOfInstance(parent, rezone(inst, parent)))
	}
	sortOccurrences(out)
	return out, nil
}

// GetEvent returns one event by id.
func (e *Engine) GetEvent(ctx context.Context, id string) (model.Event, error) {
	return e.findEvent(ctx, e.store, id)
}

// GetOccurrence resolves an event id or an instance id to what the calendar
// would draw for it.
func (e *Engine) GetOccurrence(ctx context.Context, id string) (model.Occurrence, error) {
	ev, err := e.store.FindByID(ctx, id)
	switch {
	case err == nil:
		return model.OccurrenceOfEvent(ev), nil
	case !errors.Is(err, store.ErrNotFound):
		return model.Occurrence{}, &StoreError{Op: "find event", Err: err}
	}

	inst, err := e.store.FindInstanceByID(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return model.Occurrence{}, &NotFoundError{ID: id}
	case err != nil:
		return model.Occurrence{}, &StoreError{Op: "find instance", Err: err}
	}
	parent, err := e.findEvent(ctx, e.store, inst.ParentEventID)
	if err != nil {
		return model.Occurrence{}, err
	}
	return model.OccurrenceOfInstance(parent, rezone(inst, parent)), nil
}

// rezone puts an instance's instants on its parent's wall clock.
func rezone(inst model.EventInstance, parent model.Event) model.EventInstance {
	if loc, err := parent.Location(); err == nil {
		inst.StartTime = inst.StartTime.In(loc)
		inst.EndTime = inst.EndTime.In(loc)
	}
	return inst
}

func sortOccurrences(occs []model.Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		a, b := occs[i], occs[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.InstanceID < b.InstanceID
	})
}

// CalendarFeed lists what a tenant's calendar feed publishes: the single
// events overlapping [start, end) and every recurring series, whose
// occurrences a feed reader expands from the rule itself.
func (e *Engine) CalendarFeed(ctx context.Context, tenantID string, start, end time.Time) (singles, series []model.Event, err error) {
	switch {
	case tenantID == "":
		return nil, nil, invalid("tenantId is required")
	case !start.Before(end):
		return nil, nil, invalid("range start must be before range end")
	}
	events, err := e.store.FindInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, nil, &StoreError{Op: "find events in range", Err: err}
	}
	singles = make([]model.Event, 0, len(events))
	for _, ev := range events {
		if !ev.IsRecurring {
			singles = append(singles, ev)
		}
	}
	series, err = e.store.FindRecurring(ctx, tenantID)
	if err != nil {
		return nil, nil, &StoreError{Op: "find recurring events", Err: err}
	}
	return singles, series, nil
}
