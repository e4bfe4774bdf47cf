package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"edusched/src-server/conflict"
	"edusched/src-server/model"
	"edusched/src-server/recurrence"
	"edusched/src-server/store"
)

// ExtendResult summarises one horizon run.
type ExtendResult struct {
	Events    int `json:"events"`
	Instances int `json:"instances"`
	Skipped   int `json:"skipped"`
}

// ExtendHorizon materialises occurrences of every SCHEDULED series that fall
// between its last instance and now plus the horizon. Occurrences that would
// collide with the calendar are skipped and logged rather than failing the
// run. A blank tenantID extends every tenant.
func (e *Engine) ExtendHorizon(ctx context.Context, tenantID string) (res ExtendResult, err error) {
	began := time.Now()
	defer func() { e.observe("extend_horizon", began, err) }()

	parents, err := e.store.FindRecurring(ctx, tenantID)
	if err != nil {
		return ExtendResult{}, &StoreError{Op: "find recurring events", Err: err}
	}
	byTenant := make(map[string][]model.Event)
	for _, p := range parents {
		if p.Status != model.StatusScheduled || p.RecurrenceRule == nil {
			continue
		}
		byTenant[p.TenantID] = append(byTenant[p.TenantID], p)
	}
	tenants := make([]string, 0, len(byTenant))
	for t := range byTenant {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)

	for _, t := range tenants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		got, err := e.extendTenant(ctx, t, byTenant[t])
		if err != nil {
			err = surface("extend horizon", err)
			e.logFailure("extend horizon", t, err)
			return res, err
		}
		res.Events += got.Events
		res.Instances += got.Instances
		res.Skipped += got.Skipped
	}

	e.metrics.AddInstances(res.Instances)
	slog.Info("horizon extended", "tenant", tenantID, "events", res.Events, "instances", res.Instances, "skipped", res.Skipped)
	return res, nil
}

func (e *Engine) extendTenant(ctx context.Context, tenantID string, parents []model.Event) (ExtendResult, error) {
	unlock := e.locker.Lock(tenantID)
	defer unlock()

	var res ExtendResult
	err := e.store.Atomic(ctx, func(tx store.EventStore) error {
		res = ExtendResult{}
		horizonEnd := e.clock.Now().Add(e.horizon)
		for _, stale := range parents {
			// The list was read before the lock; the series may have been
			// deleted, cancelled or rewritten since.
			parent, err := tx.FindByID(ctx, stale.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				slog.Debug("series gone before extend", "tenant", tenantID, "id", stale.ID)
				continue
			case err != nil:
				return &StoreError{Op: "find event", Err: err}
			}
			if parent.Status != model.StatusScheduled || !parent.IsRecurring || parent.RecurrenceRule == nil {
				continue
			}
			added, skipped, err := e.extendSeries(ctx, tx, parent, horizonEnd)
			if err != nil {
				return err
			}
			if added > 0 {
				res.Events++
			}
			res.Instances += added
			res.Skipped += skipped
		}
		return nil
	})
	return res, err
}

// extendSeries appends the occurrences after the series' last instance.
func (e *Engine) extendSeries(ctx context.Context, tx store.EventStore, parent model.Event, horizonEnd time.Time) (added, skipped int, err error) {
	instances, err := tx.FindInstancesByParent(ctx, parent.ID)
	if err != nil {
		return 0, 0, &StoreError{Op: "find instances", Err: err}
	}
	from := parent.StartTime
	for _, inst := range instances {
		if next := inst.StartTime.Add(time.Millisecond); next.After(from) {
			from = next
		}
	}
	if !from.Before(horizonEnd) {
		return 0, 0, nil
	}

	occs, err := e.expander.Between(parent.StartTime, parent.EndTime, *parent.RecurrenceRule, from, horizonEnd)
	if err != nil {
		// One broken series must not hold back the rest of the tenant.
		slog.Warn("can't extend series", "tenant", parent.TenantID, "id", parent.ID,
			"capped", errors.Is(err, recurrence.ErrTooManyOccurrences), "error", err)
		return 0, 0, nil
	}
	if len(occs) == 0 {
		return 0, 0, nil
	}

	year, err := e.loadYear(ctx, parent.AcademicYearID)
	if err != nil {
		return 0, 0, err
	}
	existing, err := e.existing(ctx, tx, parent.TenantID, occs[0].Start, occs[len(occs)-1].End)
	if err != nil {
		return 0, 0, err
	}

	policy := e.policies.For(parent.TenantID)
	keep := make([]recurrence.Occurrence, 0, len(occs))
	for _, occ := range occs {
		found := conflict.Check(conflict.Candidate{
			EventID:   parent.ID,
			TenantID:  parent.TenantID,
			Title:     parent.Title,
			Start:     occ.Start,
			End:       occ.End,
			EventType: parent.EventType,
			TermID:    parent.TermID,
			Resource:  ResourceOf(parent.Metadata),
		}, existing, year, policy)
		e.metrics.ObserveConflicts(found)
		if conflict.HasErrors(found) {
			skipped++
			slog.Info("skipping conflicting occurrence", "tenant", parent.TenantID, "id", parent.ID,
				"start", occ.Start, "conflicts", len(conflict.Errors(found)))
			continue
		}
		keep = append(keep, occ)
	}

	if err := tx.SaveInstances(ctx, e.instancesFor(parent, keep)); err != nil {
		return 0, 0, &StoreError{Op: "save instances", Err: err}
	}
	return len(keep), skipped, nil
}
