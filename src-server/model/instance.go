package model

import "time"

// EventInstance is one materialised occurrence of a recurring Event.
// ParentEventID is a weak reference; the instance does not own its parent.
type EventInstance struct {
	ID            string    `json:"id"`
	ParentEventID string    `json:"parentEventId"`
	TenantID      string    `json:"tenantId"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	Status        Status    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
}

// Occurrence is the flattened read model used by range queries: a single event
// or one instance of a series, whichever the dashboard has to draw.
type Occurrence struct {
	EventID    string    `json:"eventId"`
	InstanceID string    `json:"instanceId,omitempty"`
	Title      string    `json:"title"`
	EventType  EventType `json:"eventType"`
	Status     Status    `json:"status"`
	Timezone   string    `json:"timezone"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
}

func OccurrenceOfEvent(e Event) Occurrence {
	return Occurrence{
		EventID:   e.ID,
		Title:     e.Title,
		EventType: e.EventType,
		Status:    e.Status,
		Timezone:  e.Timezone,
		StartTime: e.StartTime,
		EndTime:   e.EndTime,
	}
}

func OccurrenceOfInstance(parent Event, inst EventInstance) Occurrence {
	return Occurrence{
		EventID:    parent.ID,
		InstanceID: inst.ID,
		Title:      parent.Title,
		EventType:  parent.EventType,
		Status:     inst.Status,
		Timezone:   parent.Timezone,
		StartTime:  inst.StartTime,
		EndTime:    inst.EndTime,
	}
}

// Overlaps uses half-open [start, end) semantics.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
