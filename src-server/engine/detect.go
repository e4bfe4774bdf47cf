package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edusched/src-server/academic"
	"edusched/src-server/conflict"
	"edusched/src-server/model"
	"edusched/src-server/recurrence"
	"edusched/src-server/store"
)

// Metadata keys naming the room or shared resource an event occupies.
const (
	MetaRoom     = "room"
	MetaResource = "resource"
)

// ResourceOf names the room or shared resource in an event's metadata.
func ResourceOf(metadata map[string]string) string {
	if r := strings.TrimSpace(metadata[MetaRoom]); r != "" {
		return r
	}
	return strings.TrimSpace(metadata[MetaResource])
}

func (e *Engine) loadYear(ctx context.Context, academicYearID string) (*academic.AcademicYear, error) {
	if academicYearID == "" {
		return nil, nil
	}
	if e.academic == nil {
		return nil, invalid(fmt.Sprintf("academic year %s can't be checked: no academic calendar is configured", academicYearID))
	}
	year, err := academic.Load(ctx, e.academic, academicYearID)
	if err != nil {
		if errors.Is(err, academic.ErrYearNotFound) {
			return nil, &ValidationError{Problems: []string{fmt.Sprintf("academic year %s does not exist", academicYearID)}, Err: err}
		}
		return nil, fmt.Errorf("Engine.loadYear: %w", err)
	}
	return &year, nil
}

// existing lists what is on the tenant's calendar in [start, end): single
// events and instances. Recurring parents are represented by their instances.
func (e *Engine) existing(ctx context.Context, s store.EventStore, tenantID string, start, end time.Time) ([]conflict.Existing, error) {
	events, err := s.FindInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, &StoreError{Op: "find events in range", Err: err}
	}
	instances, err := s.FindInstancesInRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, &StoreError{Op: "find instances in range", Err: err}
	}

	out := make([]conflict.Existing, 0, len(events)+len(instances))
	for _, ev := range events {
		if ev.IsRecurring {
			continue
		}
		out = append(out, conflict.Existing{
			EventID:  ev.ID,
			TenantID: ev.TenantID,
			Title:    ev.Title,
			Start:    ev.StartTime,
			End:      ev.EndTime,
			Status:   ev.Status,
			Resource: ResourceOf(ev.Metadata),
		})
	}
	parents, err := e.parentsOf(ctx, s, instances)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		parent, ok := parents[inst.ParentEventID]
		if !ok {
			continue
		}
		out = append(out, conflict.Existing{
			EventID:    parent.ID,
			InstanceID: inst.ID,
			TenantID:   inst.TenantID,
			Title:      parent.Title,
			Start:      inst.StartTime,
			End:        inst.EndTime,
			Status:     inst.Status,
			Resource:   ResourceOf(parent.Metadata),
		})
	}
	return out, nil
}

// parentsOf loads each distinct parent once. Instances whose parent is gone
// are left out of the map.
func (e *Engine) parentsOf(ctx context.Context, s store.EventStore, instances []model.EventInstance) (map[string]model.Event, error) {
	parents := make(map[string]model.Event)
	missing := make(map[string]struct{})
	for _, inst := range instances {
		id := inst.ParentEventID
		if _, ok := parents[id]; ok {
			continue
		}
		if _, ok := missing[id]; ok {
			continue
		}
		parent, err := s.FindByID(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			missing[id] = struct{}{}
		case err != nil:
			return nil, &StoreError{Op: "find parent event", Err: err}
		default:
			parents[id] = parent
		}
	}
	return parents, nil
}

// plan expands a recurring event's occurrences starting at or after from.
func (e *Engine) plan(ev model.Event, from time.Time) ([]recurrence.Occurrence, error) {
	if !ev.IsRecurring {
		return nil, nil
	}
	if from.Before(ev.StartTime) {
		from = ev.StartTime
	}
	occs, err := e.expander.Between(ev.StartTime, ev.EndTime, *ev.RecurrenceRule, from, from.Add(e.horizon))
	if err != nil {
		if errors.Is(err, recurrence.ErrTooManyOccurrences) {
			return nil, &ValidationError{Problems: []string{err.Error()}, Err: err}
		}
		return nil, invalid(err.Error())
	}
	return occs, nil
}

// detect checks the anchor and every occurrence against the tenant calendar
// and returns the deduplicated findings.
func (e *Engine) detect(ctx context.Context, s store.EventStore, ev model.Event, occs []recurrence.Occurrence, checkAnchor bool) ([]conflict.Conflict, error) {
	year, err := e.loadYear(ctx, ev.AcademicYearID)
	if err != nil {
		return nil, err
	}

	spans := make([]recurrence.Occurrence, 0, len(occs)+1)
	if checkAnchor {
		spans = append(spans, recurrence.Occurrence{Start: ev.StartTime, End: ev.EndTime})
	}
	spans = append(spans, occs...)
	if len(spans) == 0 {
		return []conflict.Conflict{}, nil
	}

	windowStart, windowEnd := spans[0].Start, spans[0].End
	for _, sp := range spans[1:] {
		if sp.Start.Before(windowStart) {
			windowStart = sp.Start
		}
		if sp.End.After(windowEnd) {
			windowEnd = sp.End
		}
	}
	existing, err := e.existing(ctx, s, ev.TenantID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	policy := e.policies.For(ev.TenantID)
	found := make([]conflict.Conflict, 0)
	for _, sp := range spans {
		c := conflict.Candidate{
			EventID:   ev.ID,
			TenantID:  ev.TenantID,
			Title:     ev.Title,
			Start:     sp.Start,
			End:       sp.End,
			EventType: ev.EventType,
			TermID:    ev.TermID,
			Resource:  ResourceOf(ev.Metadata),
		}
		found = append(found, conflict.Check(c, existing, year, policy)...)
	}
	found = conflict.Dedupe(found)
	e.metrics.ObserveConflicts(found)
	return found, nil
}

func (e *Engine) instancesFor(ev model.Event, occs []recurrence.Occurrence) []model.EventInstance {
	out := make([]model.EventInstance, 0, len(occs))
	for _, occ := range occs {
		out = append(out, model.EventInstance{
			ID:            newID(),
			ParentEventID: ev.ID,
			TenantID:      ev.TenantID,
			StartTime:     occ.Start,
			EndTime:       occ.End,
			Status:        model.StatusScheduled,
		})
	}
	return out
}
