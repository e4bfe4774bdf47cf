package engine

import (
	"time"

	"edusched/src-server/model"
)

const (
	dayLayout  = "Mon, 02 Jan 2006 15:04"
	timeLayout = "15:04"
)

// FormatEventTime renders the event's span on the wall clock of tz, e.g.
// "Mon, 15 Jan 2024 09:00 – 10:00 EST". An unknown tz never fails: the start
// is rendered as an RFC 3339 UTC timestamp instead. "Local" and a blank tz
// count as unknown; the server's own zone is never used.
func FormatEventTime(ev model.Event, tz string) string {
	return FormatSpan(ev.StartTime, ev.EndTime, tz)
}

func FormatSpan(start, end time.Time, tz string) string {
	if tz == "" || tz == "Local" {
		return start.UTC().Format(time.RFC3339)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return start.UTC().Format(time.RFC3339)
	}
	start, end = start.In(loc), end.In(loc)
	if model.DateOf(start) == model.DateOf(end) {
		return start.Format(dayLayout) + " – " + end.Format(timeLayout) + " " + zoneName(end)
	}
	return start.Format(dayLayout) + " " + zoneName(start) + " – " + end.Format(dayLayout) + " " + zoneName(end)
}

// zoneName is the abbreviation when the zone has one, the offset otherwise.
func zoneName(t time.Time) string {
	name, _ := t.Zone()
	if name == "" || name[0] == '+' || name[0] == '-' {
		return t.Format("-07:00")
	}
	return name
}
