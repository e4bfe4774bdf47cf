package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xyedo/rrule"

	"edusched/src-server/model"
)

const (
	DefaultMaxOccurrences = 1000
	DefaultHorizonDays    = 365
)

var ErrTooManyOccurrences = errors.New("too many occurrences")

// Occurrence is one concrete start/end pair produced from a rule.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Expander turns rules into occurrences. The zero value uses the defaults.
type Expander struct {
	// MaxOccurrences is the hard cap; going over it is an error, never a
	// silent truncation.
	MaxOccurrences int
}

// GenerateOccurrences expands rule with the default Expander.
func GenerateOccurrences(anchorStart, anchorEnd time.Time, rule model.RecurrenceRule, horizonEnd time.Time) ([]Occurrence, error) {
	return Expander{}.Generate(anchorStart, anchorEnd, rule, horizonEnd)
}

// Generate returns the ordered occurrences of rule within
// [anchorStart, horizonEnd]. The anchor's location is the event's declared
// zone: calendar arithmetic and the time-of-day overlay both happen there, so
// a 09:00 class stays at 09:00 local across DST changes.
//
// A zero horizonEnd means DefaultHorizonDays after the anchor.
func (x Expander) Generate(anchorStart, anchorEnd time.Time, rule model.RecurrenceRule, horizonEnd time.Time) ([]Occurrence, error) {
	return x.Between(anchorStart, anchorEnd, rule, anchorStart, horizonEnd)
}

// Between is Generate restricted to occurrences starting at or after from.
// An occurrence count still counts from the anchor; the cap only applies to
// what is returned. A zero horizonEnd means DefaultHorizonDays after the later
// of the anchor and from.
func (x Expander) Between(anchorStart, anchorEnd time.Time, rule model.RecurrenceRule, from, horizonEnd time.Time) ([]Occurrence, error) {
	if problems := validate(rule, false); len(problems) > 0 {
		return nil, fmt.Errorf("recurrence: invalid rule: %s", strings.Join(problems, "; "))
	}
	if !anchorStart.Before(anchorEnd) {
		return nil, fmt.Errorf("recurrence: anchor start must be before anchor end")
	}
	maxOccurrences := x.MaxOccurrences
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}

	loc := anchorStart.Location()
	anchorEnd = anchorEnd.In(loc)
	if from.Before(anchorStart) {
		from = anchorStart
	}
	if horizonEnd.IsZero() {
		horizonEnd = from.AddDate(0, 0, DefaultHorizonDays)
	}
	if horizonEnd.Before(from) {
		return []Occurrence{}, nil
	}

	r, err := ToRRule(anchorStart, rule)
	if err != nil {
		return nil, err
	}

	lastDate := model.DateOf(horizonEnd.In(loc))
	if rule.UntilDate != nil && rule.UntilDate.Before(lastDate) {
		lastDate = *rule.UntilDate
	}
	daySpan := daysBetween(model.DateOf(anchorStart), model.DateOf(anchorEnd))

	out := make([]Occurrence, 0)
	next := r.Iterator()
	for {
		candidate, ok := next()
		if !ok {
			break
		}
		date := model.DateOf(candidate.In(loc))
		if date.After(lastDate) {
			break
		}
		start := overlay(date, anchorStart, loc)
		if start.After(horizonEnd) {
			break
		}
		if start.Before(from) || rule.IsExcluded(date) {
			continue
		}
		if len(out) >= maxOccurrences {
			return nil, fmt.Errorf("recurrence: %w: %s yields more than %d occurrences before %s",
				ErrTooManyOccurrences, Describe(rule), maxOccurrences, lastDate)
		}
		endDate := model.DateOf(date.In(loc).AddDate(0, 0, daySpan))
		out = append(out, Occurrence{
			Start: start,
			End:   overlay(endDate, anchorEnd, loc),
		})
	}

	return out, nil
}

// ToRRule builds the RFC 5545 rule equivalent to rule, anchored at
// anchorStart. Exceptions are not part of an RRULE and are left to the caller.
func ToRRule(anchorStart time.Time, rule model.RecurrenceRule) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart:  anchorStart,
		Interval: rule.Interval,
		Wkst:     rrule.MO,
	}

	switch rule.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		weekdays := rule.Weekdays
		if len(weekdays) == 0 {
			weekdays = []time.Weekday{anchorStart.Weekday()}
		}
		for _, wd := range weekdays {
			opt.Byweekday = append(opt.Byweekday, toRRuleWeekday(wd))
		}
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if rule.MonthDay != nil {
			opt.Bymonthday = []int{*rule.MonthDay}
		} else {
			wd := toRRuleWeekday(*rule.MonthWeekday)
			opt.Byweekday = []rrule.Weekday{wd.Nth(*rule.MonthWeek)}
		}
	case model.FrequencyYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(anchorStart.Month())}
		opt.Bymonthday = []int{anchorStart.Day()}
	default:
		return nil, fmt.Errorf("ToRRule: unknown frequency %q", rule.Frequency)
	}

	if rule.OccurrenceCount != nil {
		opt.Count = *rule.OccurrenceCount
	}
	if rule.UntilDate != nil {
		u := rule.UntilDate
		opt.Until = time.Date(u.Year, u.Month, u.Day, 23, 59, 59, 0, anchorStart.Location())
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("ToRRule: %w", err)
	}
	return r, nil
}

// RRuleString renders rule as the value of an iCalendar RRULE property,
// without the DTSTART line.
func RRuleString(anchorStart time.Time, rule model.RecurrenceRule) (string, error) {
	r, err := ToRRule(anchorStart, rule)
	if err != nil {
		return "", err
	}
	return r.OrigOptions.RRuleString(), nil
}

// Describe renders rule for log lines and error messages.
func Describe(rule model.RecurrenceRule) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("every %d %s", rule.Interval, rule.Frequency))
	if len(rule.Weekdays) > 0 {
		names := make([]string, 0, len(rule.Weekdays))
		for _, wd := range rule.Weekdays {
			names = append(names, wd.String()[:3])
		}
		sb.WriteString(" on " + strings.Join(names, ","))
	}
	switch {
	case rule.MonthDay != nil:
		sb.WriteString(fmt.Sprintf(" on day %d", *rule.MonthDay))
	case rule.MonthWeek != nil && rule.MonthWeekday != nil:
		sb.WriteString(fmt.Sprintf(" on week %d %s", *rule.MonthWeek, *rule.MonthWeekday))
	}
	switch {
	case rule.UntilDate != nil:
		sb.WriteString(" until " + rule.UntilDate.String())
	case rule.OccurrenceCount != nil:
		sb.WriteString(fmt.Sprintf(" for %d occurrences", *rule.OccurrenceCount))
	}
	return sb.String()
}

// overlay puts the wall-clock fields of tmpl onto date in loc.
func overlay(date model.Date, tmpl time.Time, loc *time.Location) time.Time {
	tmpl = tmpl.In(loc)
	return time.Date(date.Year, date.Month, date.Day,
		tmpl.Hour(), tmpl.Minute(), tmpl.Second(), tmpl.Nanosecond(), loc)
}

func daysBetween(from, to model.Date) int {
	a := from.In(time.UTC)
	b := to.In(time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

func toRRuleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}
