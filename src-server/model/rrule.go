package model

import "time"

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// RecurrenceRule is the rule schema produced by the dashboard's rule builder.
//
// Weekdays only apply to weekly rules. Monthly rules use either MonthDay or
// the MonthWeek+MonthWeekday pair ("third Thursday"); MonthWeek -1 is the last
// week of the month. UntilDate and OccurrenceCount are mutually exclusive.
type RecurrenceRule struct {
	Frequency       Frequency      `json:"frequency" yaml:"frequency"`
	Interval        int            `json:"interval" yaml:"interval"`
	Weekdays        []time.Weekday `json:"weekdays,omitempty" yaml:"weekdays,omitempty"`
	MonthDay        *int           `json:"monthDay,omitempty" yaml:"monthDay,omitempty"`
	MonthWeek       *int           `json:"monthWeek,omitempty" yaml:"monthWeek,omitempty"`
	MonthWeekday    *time.Weekday  `json:"monthWeekday,omitempty" yaml:"monthWeekday,omitempty"`
	UntilDate       *Date          `json:"untilDate,omitempty" yaml:"untilDate,omitempty"`
	OccurrenceCount *int           `json:"occurrenceCount,omitempty" yaml:"occurrenceCount,omitempty"`
	Exceptions      []Date         `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
}

// IsExcluded reports whether d is one of the rule's exception dates.
func (r *RecurrenceRule) IsExcluded(d Date) bool {
	for _, ex := range r.Exceptions {
		if ex == d {
			return true
		}
	}
	return false
}

// Equal reports whether both rules describe the same recurrence.
func (r *RecurrenceRule) Equal(other *RecurrenceRule) bool {
	switch {
	case r == nil || other == nil:
		return r == other
	case r.Frequency != other.Frequency,
		r.Interval != other.Interval,
		!intPtrEqual(r.MonthDay, other.MonthDay),
		!intPtrEqual(r.MonthWeek, other.MonthWeek),
		!intPtrEqual(r.OccurrenceCount, other.OccurrenceCount),
		len(r.Weekdays) != len(other.Weekdays),
		len(r.Exceptions) != len(other.Exceptions):
		return false
	}
	if (r.MonthWeekday == nil) != (other.MonthWeekday == nil) ||
		(r.MonthWeekday != nil && *r.MonthWeekday != *other.MonthWeekday) {
		return false
	}
	if (r.UntilDate == nil) != (other.UntilDate == nil) ||
		(r.UntilDate != nil && *r.UntilDate != *other.UntilDate) {
		return false
	}
	for i := range r.Weekdays {
		if r.Weekdays[i] != other.Weekdays[i] {
			return false
		}
	}
	for i := range r.Exceptions {
		if r.Exceptions[i] != other.Exceptions[i] {
			return false
		}
	}
	return true
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
