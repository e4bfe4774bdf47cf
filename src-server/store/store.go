package store

import (
	"context"
	"errors"
	"time"

	"edusched/src-server/model"
)

var ErrNotFound = errors.New("not found")

// EventStore is the persistence the scheduling engine consumes.
type EventStore interface {
	Save(ctx context.Context, ev model.Event) error
	SaveInstances(ctx context.Context, instances []model.EventInstance) error

	FindByID(ctx context.Context, id string) (model.Event, error)
	FindInstanceByID(ctx context.Context, id string) (model.EventInstance, error)
	// FindInRange returns the tenant's events whose [start, end) overlaps
	// [start, end), recurring parents included.
	FindInRange(ctx context.Context, tenantID string, start, end time.Time) ([]model.Event, error)
	FindInstancesInRange(ctx context.Context, tenantID string, start, end time.Time) ([]model.EventInstance, error)
	FindInstancesByParent(ctx context.Context, parentID string) ([]model.EventInstance, error)
	// FindRecurring lists recurring parents; a blank tenantID lists every tenant.
	FindRecurring(ctx context.Context, tenantID string) ([]model.Event, error)

	Delete(ctx context.Context, id string) error
	DeleteInstance(ctx context.Context, id string) error
	DeleteInstancesByParent(ctx context.Context, parentID string) (int, error)
	// DeleteInstancesByParentFrom removes the parent's instances starting at or
	// after from, except COMPLETED ones.
	DeleteInstancesByParentFrom(ctx context.Context, parentID string, from time.Time) (int, error)
	UpdateInstanceStatus(ctx context.Context, id string, status model.Status) error
}

// Store is an EventStore that can group writes into one unit. Everything fn
// does through the EventStore it is handed commits or rolls back together.
type Store interface {
	EventStore
	Atomic(ctx context.Context, fn func(tx EventStore) error) error
}

// LatencyObserver receives the duration of each store round trip.
type LatencyObserver interface {
	ObserveStoreRead(d time.Duration)
	ObserveStoreWrite(d time.Duration)
}
