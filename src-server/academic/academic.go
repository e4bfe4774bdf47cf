package academic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edusched/src-server/model"
)

type ConstraintType string

const (
	ConstraintNoClasses   ConstraintType = "NO_CLASSES"
	ConstraintExamOnly    ConstraintType = "EXAM_ONLY"
	ConstraintBreakPeriod ConstraintType = "BREAK_PERIOD"
	ConstraintCustom      ConstraintType = "CUSTOM"
)

// Metadata keys read by CUSTOM constraints.
const (
	MetaBlockedEventTypes = "blockedEventTypes"
	MetaAllowedEventTypes = "allowedEventTypes"
	MetaMessage           = "message"
)

type Term struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	StartDate time.Time `json:"startDate" yaml:"startDate"`
	EndDate   time.Time `json:"endDate" yaml:"endDate"`
	IsActive  bool      `json:"isActive" yaml:"isActive"`
}

// Constraint is a declared window inside an academic year that restricts
// which event types may be scheduled.
type Constraint struct {
	ID        string            `json:"id" yaml:"id"`
	Type      ConstraintType    `json:"type" yaml:"type"`
	Title     string            `json:"title" yaml:"title"`
	StartDate time.Time         `json:"startDate" yaml:"startDate"`
	EndDate   time.Time         `json:"endDate" yaml:"endDate"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type AcademicYear struct {
	ID          string       `json:"id" yaml:"id"`
	TenantID    string       `json:"tenantId" yaml:"tenantId"`
	Name        string       `json:"name" yaml:"name"`
	StartDate   time.Time    `json:"startDate" yaml:"startDate"`
	EndDate     time.Time    `json:"endDate" yaml:"endDate"`
	Terms       []Term       `json:"terms" yaml:"terms"`
	Constraints []Constraint `json:"constraints" yaml:"constraints"`
}

// Span is the part of an event the checker looks at.
type Span struct {
	Start     time.Time
	End       time.Time
	EventType model.EventType
	// TermID, when set, pins the event to one term.
	TermID string
}

// Provider supplies academic calendars. Implementations live outside the core.
type Provider interface {
	GetAcademicYear(ctx context.Context, id string) (AcademicYear, error)
	GetActiveTerms(ctx context.Context, academicYearID string) ([]Term, error)
	GetConstraints(ctx context.Context, academicYearID string) ([]Constraint, error)
}

// Load assembles a year with its active terms and constraints.
func Load(ctx context.Context, p Provider, academicYearID string) (AcademicYear, error) {
	year, err := p.GetAcademicYear(ctx, academicYearID)
	if err != nil {
		return AcademicYear{}, fmt.Errorf("academic.Load: can't get academic year: %w", err)
	}
	if year.Terms, err = p.GetActiveTerms(ctx, academicYearID); err != nil {
		return AcademicYear{}, fmt.Errorf("academic.Load: can't get active terms: %w", err)
	}
	if year.Constraints, err = p.GetConstraints(ctx, academicYearID); err != nil {
		return AcademicYear{}, fmt.Errorf("academic.Load: can't get constraints: %w", err)
	}
	return year, nil
}

// WithinActiveTerm reports whether [ev.Start, ev.End] lies entirely inside an
// active term.
func WithinActiveTerm(ev Span, year AcademicYear) bool {
	for _, term := range year.Terms {
		if !term.IsActive {
			continue
		}
		if ev.TermID != "" && term.ID != ev.TermID {
			continue
		}
		if !ev.Start.Before(term.StartDate) && !ev.End.After(term.EndDate) {
			return true
		}
	}
	return false
}

// BoundaryConflicts lists every academic rule the event breaks: out-of-term
// placement first, then each blocking constraint window in declaration order.
func BoundaryConflicts(ev Span, year AcademicYear) []string {
	messages := make([]string, 0)

	if !WithinActiveTerm(ev, year) {
		if ev.TermID != "" {
			messages = append(messages, fmt.Sprintf("event is not inside active term %s of academic year %s", ev.TermID, yearLabel(year)))
		} else {
			messages = append(messages, fmt.Sprintf("event is not inside any active term of academic year %s", yearLabel(year)))
		}
	}

	for _, c := range year.Constraints {
		if !model.Overlaps(ev.Start, ev.End, c.StartDate, c.EndDate) {
			continue
		}
		if !c.Blocks(ev.EventType) {
			continue
		}
		messages = append(messages, c.message(ev.EventType))
	}

	return messages
}

// Blocks reports whether the constraint forbids events of type t.
func (c Constraint) Blocks(t model.EventType) bool {
	switch c.Type {
	case ConstraintNoClasses:
		return t == model.EventTypeClass
	case ConstraintExamOnly:
		return t != model.EventTypeExam
	case ConstraintBreakPeriod:
		return t != model.EventTypeHoliday
	case ConstraintCustom:
		if blocked, ok := c.Metadata[MetaBlockedEventTypes]; ok {
			return typeListed(blocked, t)
		}
		if allowed, ok := c.Metadata[MetaAllowedEventTypes]; ok {
			return !typeListed(allowed, t)
		}
		return true
	}
	return false
}

func (c Constraint) message(t model.EventType) string {
	if msg := c.Metadata[MetaMessage]; c.Type == ConstraintCustom && msg != "" {
		return msg
	}
	title := c.Title
	if title == "" {
		title = c.ID
	}
	switch c.Type {
	case ConstraintNoClasses:
		return fmt.Sprintf("no classes may be scheduled during %s", title)
	case ConstraintExamOnly:
		return fmt.Sprintf("only exams may be scheduled during %s, got %s", title, t)
	case ConstraintBreakPeriod:
		return fmt.Sprintf("%s events may not be scheduled during break %s", t, title)
	default:
		return fmt.Sprintf("%s events are blocked by constraint %s", t, title)
	}
}

func typeListed(list string, t model.EventType) bool {
	for _, item := range strings.Split(list, ",") {
		if strings.EqualFold(strings.TrimSpace(item), string(t)) {
			return true
		}
	}
	return false
}

func yearLabel(year AcademicYear) string {
	if year.Name != "" {
		return year.Name
	}
	return year.ID
}
