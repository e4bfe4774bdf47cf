package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"edusched/src-server/model"
)

// Instants are stored as unix milliseconds in UTC.
type eventRow struct {
	bun.BaseModel `bun:"table:events"`

	ID          string `bun:"id,pk,notnull"`
	TenantID    string `bun:"tenant_id,notnull"`
	Title       string `bun:"title,notnull"`
	Description string `bun:"description"`
	EventType   string `bun:"event_type,notnull"`
	Timezone    string `bun:"timezone,notnull"`
	Status      string `bun:"status,notnull"`

	StartDate int64 `bun:"start_date,notnull"`
	EndDate   int64 `bun:"end_date,notnull"`

	IsRecurring bool `bun:"is_recurring,notnull"`
	// JSON encoded model.RecurrenceRule, blank for single events
	RecurrenceRule string `bun:"recurrence_rule"`

	MaxAttendees         *int64 `bun:"max_attendees,nullzero"`
	RequiresRegistration bool   `bun:"requires_registration,notnull"`
	Metadata             string `bun:"metadata"`

	CreatedBy      string `bun:"created_by"`
	AcademicYearID string `bun:"academic_year_id"`
	TermID         string `bun:"term_id"`

	CreatedAt int64 `bun:"created_at,notnull"`
	UpdatedAt int64 `bun:"updated_at"`
}

type instanceRow struct {
	bun.BaseModel `bun:"table:event_instances"`

	ID            string `bun:"id,pk,notnull"`
	ParentEventID string `bun:"parent_event_id,notnull"`
	TenantID      string `bun:"tenant_id,notnull"`
	StartDate     int64  `bun:"start_date,notnull"`
	EndDate       int64  `bun:"end_date,notnull"`
	Status        string `bun:"status,notnull"`
	Notes         string `bun:"notes"`
}

func eventToRow(ev model.Event) (eventRow, error) {
	row := eventRow{
		ID:                   ev.ID,
		TenantID:             ev.TenantID,
		Title:                ev.Title,
		Description:          ev.Description,
		EventType:            string(ev.EventType),
		Timezone:             ev.Timezone,
		Status:               string(ev.Status),
		StartDate:            ev.StartTime.UnixMilli(),
		EndDate:              ev.EndTime.UnixMilli(),
		IsRecurring:          ev.IsRecurring,
		RequiresRegistration: ev.RequiresRegistration,
		CreatedBy:            ev.CreatedBy,
		AcademicYearID:       ev.AcademicYearID,
		TermID:               ev.TermID,
		CreatedAt:            ev.CreatedAt.UnixMilli(),
	}
	if !ev.UpdatedAt.IsZero() {
		row.UpdatedAt = ev.UpdatedAt.UnixMilli()
	}
	if ev.MaxAttendees != nil {
		n := int64(*ev.MaxAttendees)
		row.MaxAttendees = &n
	}
	if ev.RecurrenceRule != nil {
		raw, err := json.Marshal(ev.RecurrenceRule)
		if err != nil {
			return eventRow{}, fmt.Errorf("eventToRow: can't encode recurrence rule: %w", err)
		}
		row.RecurrenceRule = string(raw)
	}
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return eventRow{}, fmt.Errorf("eventToRow: can't encode metadata: %w", err)
		}
		row.Metadata = string(raw)
	}
	return row, nil
}

// toModel rebuilds the event with its instants in the event's own zone.
func (r eventRow) toModel() (model.Event, error) {
	loc := locationOf(r.Timezone)
	ev := model.Event{
		ID:                   r.ID,
		TenantID:             r.TenantID,
		Title:                r.Title,
		Description:          r.Description,
		EventType:            model.EventType(r.EventType),
		Timezone:             r.Timezone,
		Status:               model.Status(r.Status),
		StartTime:            time.UnixMilli(r.StartDate).In(loc),
		EndTime:              time.UnixMilli(r.EndDate).In(loc),
		IsRecurring:          r.IsRecurring,
		RequiresRegistration: r.RequiresRegistration,
		CreatedBy:            r.CreatedBy,
		AcademicYearID:       r.AcademicYearID,
		TermID:               r.TermID,
		CreatedAt:            time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.UpdatedAt != 0 {
		ev.UpdatedAt = time.UnixMilli(r.UpdatedAt).UTC()
	}
	if r.MaxAttendees != nil {
		n := int(*r.MaxAttendees)
		ev.MaxAttendees = &n
	}
	if r.RecurrenceRule != "" {
		rule := new(model.RecurrenceRule)
		if err := json.Unmarshal([]byte(r.RecurrenceRule), rule); err != nil {
			return model.Event{}, fmt.Errorf("eventRow.toModel: can't decode recurrence rule of %s: %w", r.ID, err)
		}
		ev.RecurrenceRule = rule
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &ev.Metadata); err != nil {
			return model.Event{}, fmt.Errorf("eventRow.toModel: can't decode metadata of %s: %w", r.ID, err)
		}
	}
	return ev, nil
}

func instanceToRow(inst model.EventInstance) instanceRow {
	return instanceRow{
		ID:            inst.ID,
		ParentEventID: inst.ParentEventID,
		TenantID:      inst.TenantID,
		StartDate:     inst.StartTime.UnixMilli(),
		EndDate:       inst.EndTime.UnixMilli(),
		Status:        string(inst.Status),
		Notes:         inst.Notes,
	}
}

// Instances come back in UTC; callers that need wall-clock re-zone them with
// the parent's timezone.
func (r instanceRow) toModel() model.EventInstance {
	return model.EventInstance{
		ID:            r.ID,
		ParentEventID: r.ParentEventID,
		TenantID:      r.TenantID,
		StartTime:     time.UnixMilli(r.StartDate).UTC(),
		EndTime:       time.UnixMilli(r.EndDate).UTC(),
		Status:        model.Status(r.Status),
		Notes:         r.Notes,
	}
}

func locationOf(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
