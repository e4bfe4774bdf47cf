package recurrence

import (
	"fmt"
	"time"

	"edusched/src-server/model"
)

// ValidateRule returns every structural problem found in rule. An empty
// result means the rule can be attached to an event.
func ValidateRule(rule model.RecurrenceRule) []string {
	return validate(rule, true)
}

// validate is shared with the expander, which accepts weekly rules without
// weekdays and falls back to the anchor's weekday.
func validate(rule model.RecurrenceRule, requireWeekdays bool) []string {
	problems := make([]string, 0)

	if !rule.Frequency.Valid() {
		problems = append(problems, fmt.Sprintf("unknown frequency %q", rule.Frequency))
	}
	if rule.Interval < 1 {
		problems = append(problems, "interval must be at least 1")
	}

	switch rule.Frequency {
	case model.FrequencyWeekly:
		if requireWeekdays && len(rule.Weekdays) == 0 {
			problems = append(problems, "weekly recurrence requires at least one weekday")
		}
		for _, wd := range rule.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				problems = append(problems, fmt.Sprintf("weekday %d is out of range", wd))
			}
		}
	default:
		if len(rule.Weekdays) > 0 {
			problems = append(problems, "weekdays only apply to weekly recurrence")
		}
	}

	hasDay := rule.MonthDay != nil
	hasWeek := rule.MonthWeek != nil || rule.MonthWeekday != nil
	switch rule.Frequency {
	case model.FrequencyMonthly:
		switch {
		case hasDay && hasWeek:
			problems = append(problems, "monthly recurrence takes either a day of month or a week pattern, not both")
		case !hasDay && !hasWeek:
			problems = append(problems, "monthly recurrence requires a day of month or a week pattern")
		case hasDay && (*rule.MonthDay < 1 || *rule.MonthDay > 31):
			problems = append(problems, "day of month must be between 1 and 31")
		case hasWeek && (rule.MonthWeek == nil || rule.MonthWeekday == nil):
			problems = append(problems, "week pattern requires both a week number and a weekday")
		case hasWeek:
			if w := *rule.MonthWeek; w != -1 && (w < 1 || w > 5) {
				problems = append(problems, "week number must be 1 to 5, or -1 for the last week")
			}
			if wd := *rule.MonthWeekday; wd < time.Sunday || wd > time.Saturday {
				problems = append(problems, fmt.Sprintf("weekday %d is out of range", wd))
			}
		}
	default:
		if hasDay || hasWeek {
			problems = append(problems, "day of month and week pattern only apply to monthly recurrence")
		}
	}

	if rule.UntilDate != nil && rule.OccurrenceCount != nil {
		problems = append(problems, "until date and occurrence count are mutually exclusive")
	}
	if rule.OccurrenceCount != nil && *rule.OccurrenceCount < 1 {
		problems = append(problems, "occurrence count must be at least 1")
	}
	if rule.UntilDate != nil && rule.UntilDate.IsZero() {
		problems = append(problems, "until date is blank")
	}

	return problems
}
