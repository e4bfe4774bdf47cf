package conflict

import (
	"fmt"
	"strings"
	"time"

	"edusched/src-server/academic"
	"edusched/src-server/model"
)

type Type string

const (
	TypeTimeOverlap         Type = "TIME_OVERLAP"
	TypeResourceConflict    Type = "RESOURCE_CONFLICT"
	TypeConstraintViolation Type = "CONSTRAINT_VIOLATION"
)

type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Conflict is a transient finding; it is never persisted.
type Conflict struct {
	Type               Type     `json:"type"`
	Severity           Severity `json:"severity"`
	Message            string   `json:"message"`
	ConflictingEventID string   `json:"conflictingEventId,omitempty"`
}

// Candidate is one occurrence being placed on the calendar.
type Candidate struct {
	// EventID is set when an existing event is being rescheduled so that
	// its own entries are not reported against it.
	EventID  string
	TenantID string
	Title    string

	// Start and End carry the event's declared location; business hours
	// are judged on that wall clock.
	Start     time.Time
	End       time.Time
	EventType model.EventType
	TermID    string

	// Resource is the room or shared resource the candidate occupies, if any.
	Resource string
}

// Existing is one entry already on a tenant's calendar: a single event or an
// instance of a series.
type Existing struct {
	EventID    string
	InstanceID string
	TenantID   string
	Title      string
	Start      time.Time
	End        time.Time
	Status     model.Status
	Resource   string
}

// ID is the id a caller should be pointed at.
func (e Existing) ID() string {
	if e.InstanceID != "" {
		return e.InstanceID
	}
	return e.EventID
}

// Check runs every rule against candidate and returns all findings in a
// fixed order: overlap (and shared resource), academic boundary, business
// hours, duration. year may be nil when the event has no academic year.
func Check(c Candidate, existing []Existing, year *academic.AcademicYear, policy Policy) []Conflict {
	out := make([]Conflict, 0)

	for _, ex := range existing {
		switch {
		case ex.TenantID != c.TenantID,
			ex.Status != model.StatusScheduled,
			c.EventID != "" && ex.EventID == c.EventID,
			!model.Overlaps(c.Start, c.End, ex.Start, ex.End):
			continue
		}
		out = append(out, Conflict{
			Type:               TypeTimeOverlap,
			Severity:           SeverityError,
			Message:            fmt.Sprintf("%s overlaps %q (%s)", span(c.Start, c.End, c.Start.Location()), ex.Title, span(ex.Start, ex.End, c.Start.Location())),
			ConflictingEventID: ex.ID(),
		})
		if c.Resource != "" && strings.EqualFold(strings.TrimSpace(c.Resource), strings.TrimSpace(ex.Resource)) {
			out = append(out, Conflict{
				Type:               TypeResourceConflict,
				Severity:           SeverityError,
				Message:            fmt.Sprintf("%s is already booked by %q at %s", ex.Resource, ex.Title, span(ex.Start, ex.End, c.Start.Location())),
				ConflictingEventID: ex.ID(),
			})
		}
	}

	if year != nil {
		spn := academic.Span{Start: c.Start, End: c.End, EventType: c.EventType, TermID: c.TermID}
		for _, msg := range academic.BoundaryConflicts(spn, *year) {
			out = append(out, Conflict{
				Type:     TypeConstraintViolation,
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s: %s", span(c.Start, c.End, c.Start.Location()), msg),
			})
		}
	}

	if policy.OutsideBusinessHours(c.Start, c.End) {
		out = append(out, Conflict{
			Type:     TypeConstraintViolation,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("event runs outside business hours %s", policy.BusinessHours()),
		})
	}

	if d := c.End.Sub(c.Start); policy.MaxDuration > 0 && d > policy.MaxDuration {
		out = append(out, Conflict{
			Type:     TypeConstraintViolation,
			Severity: SeverityError,
			Message:  fmt.Sprintf("event lasts %s, longer than the %s maximum", d, policy.MaxDuration),
		})
	}

	return out
}

func HasErrors(conflicts []Conflict) bool {
	for _, c := range conflicts {
		if c.Severity == SeverityError {
			return true
		}
	}
	return false
}

func Errors(conflicts []Conflict) []Conflict {
	return filter(conflicts, SeverityError)
}

func Warnings(conflicts []Conflict) []Conflict {
	return filter(conflicts, SeverityWarning)
}

// Dedupe drops repeated findings while keeping first-seen order. Expanding a
// series repeats identical business-hour and duration findings per occurrence.
func Dedupe(conflicts []Conflict) []Conflict {
	seen := make(map[Conflict]struct{}, len(conflicts))
	out := make([]Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func filter(conflicts []Conflict, sev Severity) []Conflict {
	out := make([]Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		if c.Severity == sev {
			out = append(out, c)
		}
	}
	return out
}

func span(start, end time.Time, loc *time.Location) string {
	start, end = start.In(loc), end.In(loc)
	if model.DateOf(start) == model.DateOf(end) {
		return start.Format("2006-01-02 15:04") + "-" + end.Format("15:04 MST")
	}
	return start.Format("2006-01-02 15:04") + " - " + end.Format("2006-01-02 15:04 MST")
}
