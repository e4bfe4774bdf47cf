package engine

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"edusched/src-server/model"
	"edusched/src-server/recurrence"
)

// NewEvent is what a caller submits to CreateEvent.
type NewEvent struct {
	Title                string                `json:"title" validate:"required,max=200"`
	Description          string                `json:"description" validate:"max=5000"`
	StartTime            time.Time             `json:"startTime"`
	EndTime              time.Time             `json:"endTime"`
	EventType            model.EventType       `json:"eventType" validate:"required"`
	Timezone             string                `json:"timezone" validate:"required"`
	IsRecurring          bool                  `json:"isRecurring"`
	RecurrenceRule       *model.RecurrenceRule `json:"recurrenceRule"`
	MaxAttendees         *int                  `json:"maxAttendees" validate:"omitempty,gte=1"`
	RequiresRegistration bool                  `json:"requiresRegistration"`
	Metadata             map[string]string     `json:"metadata" validate:"max=32"`
	TenantID             string                `json:"tenantId" validate:"required,max=64"`
	CreatedBy            string                `json:"createdBy" validate:"required"`
	AcademicYearID       string                `json:"academicYearId"`
	TermID               string                `json:"termId"`
}

// EventPatch changes the fields that are set. Metadata, when non-nil,
// replaces the whole map.
type EventPatch struct {
	Title                *string               `json:"title"`
	Description          *string               `json:"description"`
	StartTime            *time.Time            `json:"startTime"`
	EndTime              *time.Time            `json:"endTime"`
	EventType            *model.EventType      `json:"eventType"`
	Timezone             *string               `json:"timezone"`
	RecurrenceRule       *model.RecurrenceRule `json:"recurrenceRule"`
	Status               *model.Status         `json:"status"`
	MaxAttendees         *int                  `json:"maxAttendees"`
	RequiresRegistration *bool                 `json:"requiresRegistration"`
	Metadata             map[string]string     `json:"metadata"`
	AcademicYearID       *string               `json:"academicYearId"`
	TermID               *string               `json:"termId"`
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

func normalizeTitle(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// build turns a submission into a SCHEDULED event, or reports every problem.
func (e *Engine) build(in NewEvent, id string, now time.Time) (model.Event, error) {
	in.Title = normalizeTitle(in.Title)
	problems := structProblems(in)

	ev := model.Event{
		ID:                   id,
		Title:                in.Title,
		Description:          in.Description,
		StartTime:            in.StartTime,
		EndTime:              in.EndTime,
		EventType:            in.EventType,
		Timezone:             strings.TrimSpace(in.Timezone),
		IsRecurring:          in.IsRecurring,
		RecurrenceRule:       in.RecurrenceRule,
		Status:               model.StatusScheduled,
		MaxAttendees:         in.MaxAttendees,
		RequiresRegistration: in.RequiresRegistration,
		Metadata:             in.Metadata,
		TenantID:             in.TenantID,
		CreatedBy:            in.CreatedBy,
		AcademicYearID:       in.AcademicYearID,
		TermID:               in.TermID,
		CreatedAt:            now.UTC(),
		UpdatedAt:            now.UTC(),
	}
	problems = append(problems, eventProblems(&ev)...)
	if len(problems) > 0 {
		return model.Event{}, invalid(problems...)
	}
	return ev, nil
}

// eventProblems checks the invariants struct tags can't express and moves the
// instants into the event's zone.
func eventProblems(ev *model.Event) []string {
	problems := make([]string, 0)
	switch {
	case ev.StartTime.IsZero():
		problems = append(problems, "startTime is required")
	case ev.EndTime.IsZero():
		problems = append(problems, "endTime is required")
	case !ev.StartTime.Before(ev.EndTime):
		problems = append(problems, "startTime must be before endTime")
	}
	if ev.EventType != "" && !ev.EventType.Valid() {
		problems = append(problems, fmt.Sprintf("eventType %q is not one of %v", ev.EventType, model.EventTypes))
	}
	if ev.Timezone != "" {
		if loc, err := ev.Location(); err != nil {
			problems = append(problems, fmt.Sprintf("timezone %q is not a known IANA zone", ev.Timezone))
		} else {
			ev.StartTime = ev.StartTime.In(loc)
			ev.EndTime = ev.EndTime.In(loc)
		}
	}
	switch {
	case ev.IsRecurring && ev.RecurrenceRule == nil:
		problems = append(problems, "recurring events need a recurrenceRule")
	case !ev.IsRecurring && ev.RecurrenceRule != nil:
		problems = append(problems, "recurrenceRule is only allowed on recurring events")
	case ev.RecurrenceRule != nil:
		for _, p := range recurrence.ValidateRule(*ev.RecurrenceRule) {
			problems = append(problems, "recurrenceRule: "+p)
		}
	}
	if ev.TermID != "" && ev.AcademicYearID == "" {
		problems = append(problems, "termId needs academicYearId")
	}
	return problems
}

func structProblems(v any) []string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fe.Field()+" is required")
		case "max":
			problems = append(problems, fmt.Sprintf("%s must be at most %s long", fe.Field(), fe.Param()))
		case "gte":
			problems = append(problems, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return problems
}

// scheduleChanged reports whether a patch moves the anchor or changes the
// rule, which means future instances must be regenerated.
func scheduleChanged(before, after model.Event) bool {
	return !before.StartTime.Equal(after.StartTime) ||
		!before.EndTime.Equal(after.EndTime) ||
		before.Timezone != after.Timezone ||
		!before.RecurrenceRule.Equal(after.RecurrenceRule)
}

// placementChanged reports a change the academic and room checks depend on.
func placementChanged(before, after model.Event) bool {
	return before.EventType != after.EventType ||
		before.AcademicYearID != after.AcademicYearID ||
		before.TermID != after.TermID ||
		ResourceOf(before.Metadata) != ResourceOf(after.Metadata)
}

// apply merges p into a copy of ev. Status is left to the caller.
func (p EventPatch) apply(ev model.Event) (model.Event, []string) {
	out := ev.Clone()
	problems := make([]string, 0)
	if p.Title != nil {
		out.Title = normalizeTitle(*p.Title)
		if out.Title == "" {
			problems = append(problems, "title is required")
		}
		if utf8.RuneCountInString(out.Title) > 200 {
			problems = append(problems, "title must be at most 200 long")
		}
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.StartTime != nil {
		out.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		out.EndTime = *p.EndTime
	}
	if p.EventType != nil {
		out.EventType = *p.EventType
		if out.EventType == "" {
			problems = append(problems, "eventType is required")
		}
	}
	if p.Timezone != nil {
		out.Timezone = strings.TrimSpace(*p.Timezone)
		if out.Timezone == "" {
			problems = append(problems, "timezone is required")
		}
	}
	if p.RecurrenceRule != nil {
		if !ev.IsRecurring {
			problems = append(problems, "a single event can't gain a recurrenceRule; create a recurring event instead")
		}
		rule := *p.RecurrenceRule
		out.RecurrenceRule = &rule
	}
	if p.MaxAttendees != nil {
		if *p.MaxAttendees < 1 {
			problems = append(problems, "maxAttendees must be at least 1")
		}
		n := *p.MaxAttendees
		out.MaxAttendees = &n
	}
	if p.RequiresRegistration != nil {
		out.RequiresRegistration = *p.RequiresRegistration
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	if p.AcademicYearID != nil {
		out.AcademicYearID = *p.AcademicYearID
	}
	if p.TermID != nil {
		out.TermID = *p.TermID
	}
	return out, problems
}
