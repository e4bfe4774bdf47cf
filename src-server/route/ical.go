package route

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	ical "github.com/arran4/golang-ical"

	"edusched/src-server/engine"
	"edusched/src-server/model"
	"edusched/src-server/recurrence"
	"edusched/src-server/utils"
)

const (
	icalLocalLayout = "20060102T150405"
	// singles further back than this are left out of the feed by default
	feedLookBack = 90 * 24 * time.Hour
)

func Ical(muxer *http.ServeMux, as *utils.AppState) {
	muxer.HandleFunc("GET /tenants/{tenant}/calendar.ics", func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenant")
		start, end := time.Now().Add(-feedLookBack), time.Now().Add(as.Config.GetHorizon())
		if r.URL.Query().Get("start") != "" || r.URL.Query().Get("end") != "" {
			var ok bool
			if start, end, ok = rangeOf(w, r); !ok {
				return
			}
		}

		singles, series, err := as.Engine.CalendarFeed(r.Context(), tenantID, start, end)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		cal, err := buildFeed(tenantID, singles, series)
		if err != nil {
			writeEngineError(w, err)
			return
		}

		// write the ical calendar
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, cal.Serialize()); err != nil {
			slog.Warn("can't write to response", "where", "route/ical.go", "err", err)
		}
	})
}

func buildFeed(tenantID string, singles, series []model.Event) (*ical.Calendar, error) {
	cal := ical.NewCalendarFor("edusched")
	cal.SetMethod(ical.MethodPublish)
	cal.SetXWRCalName(tenantID)

	for _, ev := range singles {
		if _, err := addFeedEvent(cal, ev); err != nil {
			return nil, err
		}
	}
	for _, ev := range series {
		vevent, err := addFeedEvent(cal, ev)
		if err != nil {
			return nil, err
		}
		if ev.RecurrenceRule == nil {
			continue
		}
		rrule, err := recurrence.RRuleString(ev.StartTime, *ev.RecurrenceRule)
		if err != nil {
			return nil, fmt.Errorf("buildFeed: event %s: %w", ev.ID, err)
		}
		vevent.AddProperty(ical.ComponentPropertyRrule, rrule)

		loc := ev.StartTime.Location()
		for _, ex := range ev.RecurrenceRule.Exceptions {
			at := time.Date(ex.Year, ex.Month, ex.Day,
				ev.StartTime.Hour(), ev.StartTime.Minute(), ev.StartTime.Second(), 0, loc)
			vevent.AddProperty(ical.ComponentPropertyExdate, at.Format(icalLocalLayout), tzidOf(loc))
		}
	}
	return cal, nil
}

func addFeedEvent(cal *ical.Calendar, ev model.Event) (*ical.VEvent, error) {
	loc, err := ev.Location()
	if err != nil {
		return nil, fmt.Errorf("addFeedEvent: event %s: %w", ev.ID, err)
	}
	vevent := cal.AddEvent(ev.ID)
	vevent.SetDtStampTime(ev.UpdatedAt)
	vevent.SetCreatedTime(ev.CreatedAt)
	vevent.SetModifiedAt(ev.UpdatedAt)
	vevent.SetProperty(ical.ComponentPropertyDtStart, ev.StartTime.In(loc).Format(icalLocalLayout), tzidOf(loc))
	vevent.SetProperty(ical.ComponentPropertyDtEnd, ev.EndTime.In(loc).Format(icalLocalLayout), tzidOf(loc))
	vevent.SetSummary(ev.Title)
	if ev.Description != "" {
		vevent.SetDescription(ev.Description)
	}
	if room := engine.ResourceOf(ev.Metadata); room != "" {
		vevent.SetLocation(room)
	}
	vevent.AddProperty(ical.ComponentPropertyCategories, string(ev.EventType))
	vevent.SetStatus(feedStatus(ev.Status))
	return vevent, nil
}

func tzidOf(loc *time.Location) ical.PropertyParameter {
	return &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}}
}

func feedStatus(s model.Status) ical.ObjectStatus {
	switch s {
	case model.StatusCancelled:
		return ical.ObjectStatusCancelled
	case model.StatusPostponed:
		return ical.ObjectStatusTentative
	default:
		return ical.ObjectStatusConfirmed
	}
}
