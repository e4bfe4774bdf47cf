package model

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventTypeClass            EventType = "CLASS"
	EventTypeExam             EventType = "EXAM"
	EventTypeMeeting          EventType = "MEETING"
	EventTypeAssembly         EventType = "ASSEMBLY"
	EventTypeSports           EventType = "SPORTS"
	EventTypeHoliday          EventType = "HOLIDAY"
	EventTypeParentConference EventType = "PARENT_CONFERENCE"
	EventTypeExtracurricular  EventType = "EXTRACURRICULAR"
	EventTypeOther            EventType = "OTHER"
)

var EventTypes = []EventType{
	EventTypeClass,
	EventTypeExam,
	EventTypeMeeting,
	EventTypeAssembly,
	EventTypeSports,
	EventTypeHoliday,
	EventTypeParentConference,
	EventTypeExtracurricular,
	EventTypeOther,
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is either a single scheduled event or the definition of a recurring
// series. For a series, StartTime/EndTime are the anchor.
type Event struct {
	ID                   string            `json:"id"`
	Title                string            `json:"title"`
	Description          string            `json:"description,omitempty"`
	StartTime            time.Time         `json:"startTime"`
	EndTime              time.Time         `json:"endTime"`
	EventType            EventType         `json:"eventType"`
	Timezone             string            `json:"timezone"`
	IsRecurring          bool              `json:"isRecurring"`
	RecurrenceRule       *RecurrenceRule   `json:"recurrenceRule,omitempty"`
	Status               Status            `json:"status"`
	MaxAttendees         *int              `json:"maxAttendees,omitempty"`
	RequiresRegistration bool              `json:"requiresRegistration"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	TenantID             string            `json:"tenantId"`
	CreatedBy            string            `json:"createdBy"`
	AcademicYearID       string            `json:"academicYearId,omitempty"`
	TermID               string            `json:"termId,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// Location loads the event's declared zone.
func (e *Event) Location() (*time.Location, error) {
	switch e.Timezone {
	case "":
		return nil, fmt.Errorf("(*Event).Location: timezone is blank")
	case "Local":
		return nil, fmt.Errorf("(*Event).Location: the server's local zone is not an event zone")
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("(*Event).Location: %w", err)
	}
	return loc, nil
}

func (e *Event) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// Clone returns a deep copy so callers can patch without aliasing.
func (e Event) Clone() Event {
	out := e
	if e.RecurrenceRule != nil {
		rule := *e.RecurrenceRule
		rule.Weekdays = append([]time.Weekday(nil), e.RecurrenceRule.Weekdays...)
		rule.Exceptions = append([]Date(nil), e.RecurrenceRule.Exceptions...)
		out.RecurrenceRule = &rule
	}
	if e.MaxAttendees != nil {
		n := *e.MaxAttendees
		out.MaxAttendees = &n
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
