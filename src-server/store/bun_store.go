package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"edusched/src-server/model"
)

// instanceBatch keeps a bulk insert well below sqlite's bound-variable limit.
const instanceBatch = 100

// BunStore persists events and instances through bun.
type BunStore struct {
	db  bun.IDB
	obs LatencyObserver
}

var _ Store = (*BunStore)(nil)

// NewBunStore wraps db. obs may be nil.
func NewBunStore(db *bun.DB, obs LatencyObserver) *BunStore {
	return &BunStore{db: db, obs: obs}
}

// Atomic runs fn inside one transaction. Nested calls join the outer one.
func (s *BunStore) Atomic(ctx context.Context, fn func(tx EventStore) error) error {
	db, ok := s.db.(*bun.DB)
	if !ok {
		return fn(s)
	}
	if err := db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(&BunStore{db: tx, obs: s.obs})
	}); err != nil {
		return fmt.Errorf("BunStore.Atomic: %w", err)
	}
	return nil
}

func (s *BunStore) Save(ctx context.Context, ev model.Event) error {
	switch {
	case ev.ID == "":
		return fmt.Errorf("BunStore.Save: id is required")
	case ev.TenantID == "":
		return fmt.Errorf("BunStore.Save: tenant id is required")
	case !ev.StartTime.Before(ev.EndTime):
		return fmt.Errorf("BunStore.Save: start time must be before end time")
	}
	row, err := eventToRow(ev)
	if err != nil {
		return fmt.Errorf("BunStore.Save: %w", err)
	}

	defer s.write(time.Now())
	if _, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (id) DO UPDATE").
		Set("tenant_id = EXCLUDED.tenant_id").
		Set("title = EXCLUDED.title").
		Set("description = EXCLUDED.description").
		Set("event_type = EXCLUDED.event_type").
		Set("timezone = EXCLUDED.timezone").
		Set("status = EXCLUDED.status").
		Set("start_date = EXCLUDED.start_date").
		Set("end_date = EXCLUDED.end_date").
		Set("is_recurring = EXCLUDED.is_recurring").
		Set("recurrence_rule = EXCLUDED.recurrence_rule").
		Set("max_attendees = EXCLUDED.max_attendees").
		Set("requires_registration = EXCLUDED.requires_registration").
		Set("metadata = EXCLUDED.metadata").
		Set("created_by = EXCLUDED.created_by").
		Set("academic_year_id = EXCLUDED.academic_year_id").
		Set("term_id = EXCLUDED.term_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("BunStore.Save: %w", err)
	}
	return nil
}

func (s *BunStore) SaveInstances(ctx context.Context, instances []model.EventInstance) error {
	if len(instances) == 0 {
		return nil
	}
	rows := make([]instanceRow, 0, len(instances))
	for _, inst := range instances {
		switch {
		case inst.ID == "":
			return fmt.Errorf("BunStore.SaveInstances: id is required")
		case inst.ParentEventID == "":
			return fmt.Errorf("BunStore.SaveInstances: parent event id is required")
		case !inst.StartTime.Before(inst.EndTime):
			return fmt.Errorf("BunStore.SaveInstances: start time must be before end time")
		}
		rows = append(rows, instanceToRow(inst))
	}

	defer s.write(time.Now())
	for from := 0; from < len(rows); from += instanceBatch {
		to := min(from+instanceBatch, len(rows))
		batch := rows[from:to]
		if _, err := s.db.NewInsert().
			Model(&batch).
			Exec(ctx); err != nil {
			return fmt.Errorf("BunStore.SaveInstances: %w", err)
		}
	}
	return nil
}

func (s *BunStore) FindByID(ctx context.Context, id string) (model.Event, error) {
	defer s.read(time.Now())
	row := new(eventRow)
	if err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, fmt.Errorf("BunStore.FindByID: event %s: %w", id, ErrNotFound)
		}
		return model.Event{}, fmt.Errorf("BunStore.FindByID: %w", err)
	}
	return row.toModel()
}

func (s *BunStore) FindInstanceByID(ctx context.Context, id string) (model.EventInstance, error) {
	defer s.read(time.Now())
	row := new(instanceRow)
	if err := s.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EventInstance{}, fmt.Errorf("BunStore.FindInstanceByID: instance %s: %w", id, ErrNotFound)
		}
		return model.EventInstance{}, fmt.Errorf("BunStore.FindInstanceByID: %w", err)
	}
	return row.toModel(), nil
}

func (s *BunStore) FindInRange(ctx context.Context, tenantID string, start, end time.Time) ([]model.Event, error) {
	defer s.read(time.Now())
	rows := make([]eventRow, 0)
	if err := s.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("start_date < ?", end.UnixMilli()).
		Where("end_date > ?", start.UnixMilli()).
		Order("start_date ASC", "id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("BunStore.FindInRange: %w", err)
	}
	return eventsOf(rows)
}

func (s *BunStore) FindInstancesInRange(ctx context.Context, tenantID string, start, end time.Time) ([]model.EventInstance, error) {
	defer s.read(time.Now())
	rows := make([]instanceRow, 0)
	if err := s.db.NewSelect().
		Model(&rows).
		Where("tenant_id = ?", tenantID).
		Where("start_date < ?", end.UnixMilli()).
		Where("end_date > ?", start.UnixMilli()).
		Order("start_date ASC", "id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("BunStore.FindInstancesInRange: %w", err)
	}
	return instancesOf(rows), nil
}

func (s *BunStore) FindInstancesByParent(ctx context.Context, parentID string) ([]model.EventInstance, error) {
	defer s.read(time.Now())
	rows := make([]instanceRow, 0)
	if err := s.db.NewSelect().
		Model(&rows).
		Where("parent_event_id = ?", parentID).
		Order("start_date ASC", "id ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("BunStore.FindInstancesByParent: %w", err)
	}
	return instancesOf(rows), nil
}

func (s *BunStore) FindRecurring(ctx context.Context, tenantID string) ([]model.Event, error) {
	defer s.read(time.Now())
	rows := make([]eventRow, 0)
	q := s.db.NewSelect().
		Model(&rows).
		Where("is_recurring = ?", true)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if err := q.Order("tenant_id ASC", "start_date ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("BunStore.FindRecurring: %w", err)
	}
	return eventsOf(rows)
}

func (s *BunStore) Delete(ctx context.Context, id string) error {
	defer s.write(time.Now())
	res, err := s.db.NewDelete().
		Model((*eventRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("BunStore.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("BunStore.Delete: event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *BunStore) DeleteInstance(ctx context.Context, id string) error {
	defer s.write(time.Now())
	res, err := s.db.NewDelete().
		Model((*instanceRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("BunStore.DeleteInstance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("BunStore.DeleteInstance: instance %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *BunStore) DeleteInstancesByParent(ctx context.Context, parentID string) (int, error) {
	defer s.write(time.Now())
	res, err := s.db.NewDelete().
		Model((*instanceRow)(nil)).
		Where("parent_event_id = ?", parentID).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("BunStore.DeleteInstancesByParent: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *BunStore) DeleteInstancesByParentFrom(ctx context.Context, parentID string, from time.Time) (int, error) {
	defer s.write(time.Now())
	res, err := s.db.NewDelete().
		Model((*instanceRow)(nil)).
		Where("parent_event_id = ?", parentID).
		Where("start_date >= ?", from.UnixMilli()).
		Where("status != ?", string(model.StatusCompleted)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("BunStore.DeleteInstancesByParentFrom: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *BunStore) UpdateInstanceStatus(ctx context.Context, id string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("BunStore.UpdateInstanceStatus: unknown status %q", status)
	}
	defer s.write(time.Now())
	res, err := s.db.NewUpdate().
		Model((*instanceRow)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("BunStore.UpdateInstanceStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("BunStore.UpdateInstanceStatus: instance %s: %w", id, ErrNotFound)
	}
	return nil
}

// Ping runs an empty read, for latency probes.
func (s *BunStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := s.db.NewSelect().
		Model((*eventRow)(nil)).
		Where("id = ?", "").
		Exists(ctx); err != nil {
		return 0, fmt.Errorf("BunStore.Ping: %w", err)
	}
	return time.Since(start), nil
}

func (s *BunStore) read(start time.Time) {
	if s.obs != nil {
		s.obs.ObserveStoreRead(time.Since(start))
	}
}

func (s *BunStore) write(start time.Time) {
	if s.obs != nil {
		s.obs.ObserveStoreWrite(time.Since(start))
	}
}

func eventsOf(rows []eventRow) ([]model.Event, error) {
	out := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func instancesOf(rows []instanceRow) []model.EventInstance {
	out := make([]model.EventInstance, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out
}
