package route_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"

	"edusched/src-server/engine"
	"edusched/src-server/model"
	"edusched/src-server/route"
	"edusched/src-server/store"
	"edusched/src-server/utils"
)

func newHandler(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("POLICY_FILE", "")
	t.Setenv("ACADEMIC_CALENDAR_FILE", "")
	t.Setenv("HORIZON_CRON", "")

	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.CreateSchema(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	s := store.NewBunStore(db, nil)
	as := &utils.AppState{
		Config: utils.NewConfig(),
		BunDB:  db,
		Store:  s,
		Engine: engine.New(engine.Deps{Store: s}),
		When:   utils.NewWhen(),
	}
	return route.LogMiddleware(route.NewMuxer(as))
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(route.UserHeaderName, "teacher-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("can't decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func eventBody(start time.Time, minutes int) map[string]any {
	return map[string]any{
		"title":     "Algebra",
		"startTime": start,
		"endTime":   start.Add(time.Duration(minutes) * time.Minute),
		"eventType": model.EventTypeClass,
		"timezone":  "UTC",
	}
}

type errorResp struct {
	Error     string   `json:"error"`
	Problems  []string `json:"problems"`
	Conflicts []struct {
		Type               string `json:"type"`
		ConflictingEventID string `json:"conflictingEventId"`
	} `json:"conflicts"`
}

var nine = time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)

func TestCreateAndList(t *testing.T) {
	h := newHandler(t)

	rec := do(t, h, "POST", "/tenants/school-a/events", eventBody(nine, 60))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	created := decode[engine.Result](t, rec)
	if created.Event.TenantID != "school-a" || created.Event.CreatedBy != "teacher-1" {
		t.Errorf("event = %+v", created.Event)
	}

	rec = do(t, h, "POST", "/tenants/school-a/events", eventBody(nine.Add(30*time.Minute), 60))
	if rec.Code != http.StatusConflict {
		t.Fatalf("overlap status = %d: %s", rec.Code, rec.Body)
	}
	conflictResp := decode[errorResp](t, rec)
	if len(conflictResp.Conflicts) == 0 || conflictResp.Conflicts[0].ConflictingEventID != created.Event.ID {
		t.Errorf("conflicts = %+v", conflictResp.Conflicts)
	}

	bad := eventBody(nine, 60)
	bad["timezone"] = "Mars/Base"
	rec = do(t, h, "POST", "/tenants/school-a/events", bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status = %d: %s", rec.Code, rec.Body)
	}
	if len(decode[errorResp](t, rec).Problems) == 0 {
		t.Error("no problems reported")
	}

	rec = do(t, h, "GET", "/tenants/school-a/events?start=2024-01-15T00:00:00Z&end=2024-01-16T00:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body)
	}
	if occs := decode[[]model.Occurrence](t, rec); len(occs) != 1 {
		t.Errorf("occurrences = %+v", occs)
	}

	rec = do(t, h, "GET", "/tenants/school-a/events?start=yesterday&end=2024-01-16T00:00:00Z", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad range status = %d", rec.Code)
	}
}

func TestWritesNeedAUser(t *testing.T) {
	h := newHandler(t)
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(eventBody(nine, 60))
	req := httptest.NewRequest("POST", "/tenants/school-a/events", &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestNaturalLanguageStart(t *testing.T) {
	h := newHandler(t)
	body := map[string]any{
		"title":           "Staff meeting",
		"startText":       "tomorrow at 10am",
		"durationMinutes": 45,
		"eventType":       model.EventTypeMeeting,
		"timezone":        "UTC",
	}
	rec := do(t, h, "POST", "/tenants/school-a/events", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	ev := decode[engine.Result](t, rec).Event
	if ev.StartTime.UTC().Hour() != 10 || ev.EndTime.Sub(ev.StartTime) != 45*time.Minute {
		t.Errorf("event runs %s to %s", ev.StartTime, ev.EndTime)
	}

	body["startText"] = "whenever suits"
	if rec := do(t, h, "POST", "/tenants/school-a/events", body); rec.Code != http.StatusBadRequest {
		t.Errorf("unreadable startText: status = %d", rec.Code)
	}
}

func TestUpdateStatusAndDelete(t *testing.T) {
	h := newHandler(t)
	created := decode[engine.Result](t, do(t, h, "POST", "/tenants/school-a/events", eventBody(nine, 60)))
	id := created.Event.ID

	rec := do(t, h, "PATCH", "/events/"+id, map[string]any{"title": "Geometry"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body)
	}
	if got := decode[engine.Result](t, rec).Event.Title; got != "Geometry" {
		t.Errorf("title = %q", got)
	}

	if rec := do(t, h, "POST", "/events/"+id+"/status", map[string]any{"status": model.StatusPostponed}); rec.Code != http.StatusNoContent {
		t.Errorf("postpone status = %d: %s", rec.Code, rec.Body)
	}
	if rec := do(t, h, "POST", "/events/"+id+"/status", map[string]any{"status": model.StatusCompleted}); rec.Code != http.StatusBadRequest {
		t.Errorf("POSTPONED to COMPLETED status = %d", rec.Code)
	}

	rec = do(t, h, "GET", "/events/"+id+"/time?tz=America/New_York", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("time status = %d", rec.Code)
	}
	var timeResp struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&timeResp); err != nil {
		t.Fatal(err)
	}
	if timeResp.Text != "Mon, 15 Jan 2024 04:00 – 05:00 EST" {
		t.Errorf("text = %q", timeResp.Text)
	}

	if rec := do(t, h, "DELETE", "/events/"+id, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/events/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
	if rec := do(t, h, "DELETE", "/events/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d", rec.Code)
	}
}

func TestRecurrenceEndpoints(t *testing.T) {
	h := newHandler(t)

	rec := do(t, h, "POST", "/recurrence/validate", map[string]any{
		"frequency":       "daily",
		"interval":        1,
		"untilDate":       "2024-02-01",
		"occurrenceCount": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d: %s", rec.Code, rec.Body)
	}
	var validateResp struct {
		Valid    bool     `json:"valid"`
		Problems []string `json:"problems"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&validateResp); err != nil {
		t.Fatal(err)
	}
	if validateResp.Valid || len(validateResp.Problems) == 0 {
		t.Errorf("until+count = %+v", validateResp)
	}

	rec = do(t, h, "POST", "/recurrence/preview", map[string]any{
		"anchorStart": nine,
		"anchorEnd":   nine.Add(time.Hour),
		"timezone":    "UTC",
		"rule":        map[string]any{"frequency": "daily", "interval": 2, "occurrenceCount": 3},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d: %s", rec.Code, rec.Body)
	}
	var previewResp struct {
		Occurrences []struct {
			StartTime time.Time `json:"startTime"`
		} `json:"occurrences"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&previewResp); err != nil {
		t.Fatal(err)
	}
	if len(previewResp.Occurrences) != 3 || !previewResp.Occurrences[2].StartTime.Equal(nine.AddDate(0, 0, 4)) {
		t.Errorf("occurrences = %+v", previewResp.Occurrences)
	}
}

func TestCalendarFeed(t *testing.T) {
	h := newHandler(t)

	if rec := do(t, h, "POST", "/tenants/school-a/events", eventBody(nine.Add(-2*time.Hour), 30)); rec.Code != http.StatusCreated {
		t.Fatalf("single: %d %s", rec.Code, rec.Body)
	}
	weekly := eventBody(nine, 60)
	weekly["isRecurring"] = true
	weekly["recurrenceRule"] = map[string]any{
		"frequency":       "weekly",
		"interval":        1,
		"weekdays":        []int{1},
		"occurrenceCount": 4,
		"exceptions":      []string{"2024-01-22"},
	}
	if rec := do(t, h, "POST", "/tenants/school-a/events", weekly); rec.Code != http.StatusCreated {
		t.Fatalf("series: %d %s", rec.Code, rec.Body)
	}

	rec := do(t, h, "GET", "/tenants/school-a/calendar.ics?start=2024-01-01T00:00:00Z&end=2024-03-01T00:00:00Z", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, part := range []string{"RRULE:FREQ=WEEKLY", "EXDATE", "20240122T090000", "CATEGORIES:CLASS"} {
		if !strings.Contains(body, part) {
			t.Errorf("feed is missing %q:\n%s", part, body)
		}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if got := len(cal.Events()); got != 2 {
		t.Errorf("feed events = %d, want 2", got)
	}
}

func TestPing(t *testing.T) {
	h := newHandler(t)
	if rec := do(t, h, "GET", "/ping", nil); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
