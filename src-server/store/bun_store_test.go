package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"edusched/src-server/model"
	"edusched/src-server/store"
)

func newStore(t *testing.T) *store.BunStore {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.CreateSchema(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	return store.NewBunStore(db, nil)
}

func sampleEvent(tenant string, start time.Time) model.Event {
	return model.Event{
		ID:        uuid.NewString(),
		Title:     "Maths",
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		EventType: model.EventTypeClass,
		Timezone:  "UTC",
		Status:    model.StatusScheduled,
		TenantID:  tenant,
		CreatedBy: "teacher-1",
		CreatedAt: start,
	}
}

func TestSaveAndFind(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	start := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	ev := sampleEvent("school-a", start)
	ev.IsRecurring = true
	ev.RecurrenceRule = &model.RecurrenceRule{
		Frequency:  model.FrequencyWeekly,
		Interval:   1,
		Weekdays:   []time.Weekday{time.Monday, time.Friday},
		Exceptions: []model.Date{{Year: 2024, Month: time.January, Day: 19}},
	}
	seats := 30
	ev.MaxAttendees = &seats
	ev.Metadata = map[string]string{"room": "B12"}
	if err := s.Save(ctx, ev); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindByID(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.StartTime.Equal(ev.StartTime) || got.Title != "Maths" || got.Metadata["room"] != "B12" {
		t.Errorf("FindByID() = %+v", got)
	}
	if got.MaxAttendees == nil || *got.MaxAttendees != 30 {
		t.Errorf("MaxAttendees = %v", got.MaxAttendees)
	}
	if !got.RecurrenceRule.Equal(ev.RecurrenceRule) {
		t.Errorf("rule = %+v, want %+v", got.RecurrenceRule, ev.RecurrenceRule)
	}

	// upsert
	ev.Title = "Further maths"
	if err := s.Save(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.FindByID(ctx, ev.ID); got.Title != "Further maths" {
		t.Errorf("title after upsert = %q", got.Title)
	}

	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEventsComeBackInTheirZone(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	nairobi, err := time.LoadLocation("Africa/Nairobi")
	if err != nil {
		t.Skip("tzdata not available:", err)
	}
	ev := sampleEvent("school-a", time.Date(2024, time.March, 4, 9, 0, 0, 0, nairobi))
	ev.Timezone = "Africa/Nairobi"
	if err := s.Save(ctx, ev); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindByID(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartTime.Location().String() != "Africa/Nairobi" || got.StartTime.Hour() != 9 {
		t.Errorf("StartTime = %s", got.StartTime)
	}
}

func TestRangeQueries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)

	inside := sampleEvent("school-a", base.Add(9*time.Hour))
	edge := sampleEvent("school-a", base.Add(-time.Hour)) // ends exactly at base
	other := sampleEvent("school-b", base.Add(9*time.Hour))
	for _, ev := range []model.Event{inside, edge, other} {
		if err := s.Save(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindInRange(ctx, "school-a", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != inside.ID {
		t.Errorf("FindInRange() = %+v, want only %s", got, inside.ID)
	}

	instances := []model.EventInstance{
		{ID: "i1", ParentEventID: inside.ID, TenantID: "school-a", StartTime: base.Add(9 * time.Hour), EndTime: base.Add(10 * time.Hour), Status: model.StatusScheduled},
		{ID: "i2", ParentEventID: inside.ID, TenantID: "school-a", StartTime: base.Add(33 * time.Hour), EndTime: base.Add(34 * time.Hour), Status: model.StatusScheduled},
	}
	if err := s.SaveInstances(ctx, instances); err != nil {
		t.Fatal(err)
	}
	gotInst, err := s.FindInstancesInRange(ctx, "school-a", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(gotInst) != 1 || gotInst[0].ID != "i1" {
		t.Errorf("FindInstancesInRange() = %+v", gotInst)
	}
	if gotInst, _ := s.FindInstancesInRange(ctx, "school-b", base, base.Add(48*time.Hour)); len(gotInst) != 0 {
		t.Errorf("other tenant sees %+v", gotInst)
	}
}

func TestSaveInstancesInBatches(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	start := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	parent := sampleEvent("school-a", start)
	instances := make([]model.EventInstance, 0, 250)
	for i := range 250 {
		at := start.AddDate(0, 0, i)
		instances = append(instances, model.EventInstance{
			ID: uuid.NewString(), ParentEventID: parent.ID, TenantID: "school-a",
			StartTime: at, EndTime: at.Add(time.Hour), Status: model.StatusScheduled,
		})
	}
	if err := s.SaveInstances(ctx, instances); err != nil {
		t.Fatal(err)
	}
	got, err := s.FindInstancesByParent(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 250 {
		t.Errorf("len = %d, want 250", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartTime.Before(got[i-1].StartTime) {
			t.Fatal("instances are not ordered by start")
		}
	}
}

func TestDeletes(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	start := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	parent := sampleEvent("school-a", start)
	if err := s.Save(ctx, parent); err != nil {
		t.Fatal(err)
	}
	instances := []model.EventInstance{
		{ID: "past", ParentEventID: parent.ID, TenantID: "school-a", StartTime: start, EndTime: start.Add(time.Hour), Status: model.StatusScheduled},
		{ID: "done", ParentEventID: parent.ID, TenantID: "school-a", StartTime: start.AddDate(0, 0, 7), EndTime: start.AddDate(0, 0, 7).Add(time.Hour), Status: model.StatusCompleted},
		{ID: "future", ParentEventID: parent.ID, TenantID: "school-a", StartTime: start.AddDate(0, 0, 14), EndTime: start.AddDate(0, 0, 14).Add(time.Hour), Status: model.StatusScheduled},
		{ID: "unrelated", ParentEventID: "other", TenantID: "school-a", StartTime: start.AddDate(0, 0, 14), EndTime: start.AddDate(0, 0, 14).Add(time.Hour), Status: model.StatusScheduled},
	}
	if err := s.SaveInstances(ctx, instances); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteInstancesByParentFrom(ctx, parent.ID, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d future instances, want 1", n)
	}
	if _, err := s.FindInstanceByID(ctx, "done"); err != nil {
		t.Errorf("completed instance must survive: %v", err)
	}

	if err := s.UpdateInstanceStatus(ctx, "past", model.StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.FindInstanceByID(ctx, "past"); got.Status != model.StatusCancelled {
		t.Errorf("status = %s", got.Status)
	}

	if n, err := s.DeleteInstancesByParent(ctx, parent.ID); err != nil || n != 2 {
		t.Errorf("DeleteInstancesByParent() = %d, %v, want 2", n, err)
	}
	if _, err := s.FindInstanceByID(ctx, "unrelated"); err != nil {
		t.Errorf("unrelated instance must survive: %v", err)
	}
	if err := s.Delete(ctx, parent.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, parent.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteInstance(ctx, "unrelated"); err != nil {
		t.Fatal(err)
	}
}

func TestAtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ev := sampleEvent("school-a", time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC))
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx store.EventStore) error {
		if err := tx.Save(ctx, ev); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic() = %v, want boom", err)
	}
	if _, err := s.FindByID(ctx, ev.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("event leaked out of a rolled back transaction: %v", err)
	}

	if err := s.Atomic(ctx, func(tx store.EventStore) error {
		return tx.Save(ctx, ev)
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.FindByID(ctx, ev.ID); err != nil {
		t.Errorf("committed event missing: %v", err)
	}
}

func TestFindRecurring(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	start := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	for _, tenant := range []string{"school-a", "school-b"} {
		ev := sampleEvent(tenant, start)
		ev.IsRecurring = true
		ev.RecurrenceRule = &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}
		if err := s.Save(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Save(ctx, sampleEvent("school-a", start.Add(2*time.Hour))); err != nil {
		t.Fatal(err)
	}

	if got, _ := s.FindRecurring(ctx, "school-a"); len(got) != 1 {
		t.Errorf("FindRecurring(school-a) = %d events, want 1", len(got))
	}
	if got, _ := s.FindRecurring(ctx, ""); len(got) != 2 {
		t.Errorf("FindRecurring(all) = %d events, want 2", len(got))
	}
}
