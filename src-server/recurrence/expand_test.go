package recurrence_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"edusched/src-server/model"
	"edusched/src-server/recurrence"
)

func intPtr(n int) *int { return &n }

func weekdayPtr(wd time.Weekday) *time.Weekday { return &wd }

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skip("tzdata unavailable:", err)
	}
	return loc
}

func TestWeeklyMatchesWeekdayCount(t *testing.T) {
	loc := mustLoad(t, "Africa/Nairobi")
	anchorStart := time.Date(2024, time.January, 15, 9, 0, 0, 0, loc)
	anchorEnd := anchorStart.Add(time.Hour)
	rule := model.RecurrenceRule{
		Frequency: model.FrequencyWeekly,
		Interval:  1,
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		Exceptions: []model.Date{
			{Year: 2024, Month: time.February, Day: 19},
			{Year: 2024, Month: time.February, Day: 20}, // a Tuesday, never generated anyway
		},
	}

	occs, err := recurrence.GenerateOccurrences(anchorStart, anchorEnd, rule, time.Time{})
	if err != nil {
		t.Fatal(err)
	}

	horizon := anchorStart.AddDate(0, 0, recurrence.DefaultHorizonDays)
	want := 0
	for d := anchorStart; !d.After(horizon); d = d.AddDate(0, 0, 1) {
		switch d.Weekday() {
		case time.Monday, time.Wednesday, time.Friday:
			if !rule.IsExcluded(model.DateOf(d)) {
				want++
			}
		}
	}
	if len(occs) != want {
		t.Fatalf("got %d occurrences, want %d", len(occs), want)
	}

	for i, occ := range occs {
		if h, m := occ.Start.Hour(), occ.Start.Minute(); h != 9 || m != 0 {
			t.Errorf("occurrence %d starts at %02d:%02d", i, h, m)
		}
		if occ.End.Sub(occ.Start) != time.Hour {
			t.Errorf("occurrence %d lasts %s", i, occ.End.Sub(occ.Start))
		}
		if i > 0 && !occs[i-1].Start.Before(occ.Start) {
			t.Errorf("occurrence %d is out of order", i)
		}
		if model.DateOf(occ.Start) == (model.Date{Year: 2024, Month: time.February, Day: 19}) {
			t.Error("exception date was generated")
		}
	}
}

func TestWallClockFollowsEventZoneAcrossDST(t *testing.T) {
	ny := mustLoad(t, "America/New_York")
	anchorStart := time.Date(2024, time.March, 4, 9, 0, 0, 0, ny)
	rule := model.RecurrenceRule{
		Frequency: model.FrequencyWeekly,
		Interval:  1,
		Weekdays:  []time.Weekday{time.Monday},
	}
	occs, err := recurrence.GenerateOccurrences(anchorStart, anchorStart.Add(time.Hour), rule, anchorStart.AddDate(0, 0, 14))
	if err != nil {
		t.Fatal(err)
	}
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(occs))
	}
	if got := occs[0].Start.UTC().Hour(); got != 14 {
		t.Errorf("before DST: UTC hour = %d, want 14", got)
	}
	if got := occs[1].Start.UTC().Hour(); got != 13 {
		t.Errorf("after DST: UTC hour = %d, want 13", got)
	}
	if got := occs[1].Start.In(ny).Hour(); got != 9 {
		t.Errorf("after DST: local hour = %d, want 9", got)
	}
}

func TestMonthlyPatterns(t *testing.T) {
	anchorStart := time.Date(2024, time.January, 18, 14, 30, 0, 0, time.UTC)
	anchorEnd := anchorStart.Add(90 * time.Minute)
	horizon := time.Date(2024, time.April, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule model.RecurrenceRule
		want []int // day of month per occurrence, Jan..Apr
	}{
		{
			name: "third thursday",
			rule: model.RecurrenceRule{
				Frequency:    model.FrequencyMonthly,
				Interval:     1,
				MonthWeek:    intPtr(3),
				MonthWeekday: weekdayPtr(time.Thursday),
			},
			want: []int{18, 15, 21, 18},
		},
		{
			name: "last friday",
			rule: model.RecurrenceRule{
				Frequency:    model.FrequencyMonthly,
				Interval:     1,
				MonthWeek:    intPtr(-1),
				MonthWeekday: weekdayPtr(time.Friday),
			},
			want: []int{26, 23, 29, 26},
		},
		{
			name: "day 20 every other month",
			rule: model.RecurrenceRule{
				Frequency: model.FrequencyMonthly,
				Interval:  2,
				MonthDay:  intPtr(20),
			},
			want: []int{20, 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs, err := recurrence.GenerateOccurrences(anchorStart, anchorEnd, tt.rule, horizon)
			if err != nil {
				t.Fatal(err)
			}
			if len(occs) != len(tt.want) {
				t.Fatalf("got %d occurrences, want %d", len(occs), len(tt.want))
			}
			for i, occ := range occs {
				if occ.Start.Day() != tt.want[i] {
					t.Errorf("occurrence %d on day %d, want %d", i, occ.Start.Day(), tt.want[i])
				}
				if occ.Start.Hour() != 14 || occ.Start.Minute() != 30 {
					t.Errorf("occurrence %d at %s", i, occ.Start.Format("15:04"))
				}
			}
		})
	}
}

func TestTerminators(t *testing.T) {
	anchorStart := time.Date(2024, time.September, 2, 8, 0, 0, 0, time.UTC)
	anchorEnd := anchorStart.Add(45 * time.Minute)

	t.Run("count counts before exceptions", func(t *testing.T) {
		rule := model.RecurrenceRule{
			Frequency:       model.FrequencyDaily,
			Interval:        1,
			OccurrenceCount: intPtr(5),
			Exceptions:      []model.Date{{Year: 2024, Month: time.September, Day: 4}},
		}
		occs, err := recurrence.GenerateOccurrences(anchorStart, anchorEnd, rule, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		if len(occs) != 4 {
			t.Errorf("got %d occurrences, want 4", len(occs))
		}
	})

	t.Run("until is inclusive", func(t *testing.T) {
		rule := model.RecurrenceRule{
			Frequency: model.FrequencyDaily,
			Interval:  2,
			UntilDate: &model.Date{Year: 2024, Month: time.September, Day: 10},
		}
		occs, err := recurrence.GenerateOccurrences(anchorStart, anchorEnd, rule, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		// 2, 4, 6, 8, 10
		if len(occs) != 5 {
			t.Fatalf("got %d occurrences, want 5", len(occs))
		}
		if last := occs[len(occs)-1].Start.Day(); last != 10 {
			t.Errorf("last occurrence on day %d, want 10", last)
		}
	})

	t.Run("yearly", func(t *testing.T) {
		rule := model.RecurrenceRule{Frequency: model.FrequencyYearly, Interval: 1}
		occs, err := recurrence.GenerateOccurrences(anchorStart, anchorEnd, rule, anchorStart.AddDate(3, 0, 0))
		if err != nil {
			t.Fatal(err)
		}
		if len(occs) != 4 {
			t.Fatalf("got %d occurrences, want 4", len(occs))
		}
		for i, occ := range occs {
			if occ.Start.Month() != time.September || occ.Start.Day() != 2 {
				t.Errorf("occurrence %d on %s", i, occ.Start.Format("01-02"))
			}
		}
	})
}

func TestOverlayKeepsSubSecondAndSpan(t *testing.T) {
	anchorStart := time.Date(2024, time.May, 6, 22, 0, 0, 250_000_000, time.UTC)
	anchorEnd := time.Date(2024, time.May, 7, 1, 30, 0, 0, time.UTC)
	rule := model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, OccurrenceCount: intPtr(3)}

	occs, err := recurrence.GenerateOccurrences(anchorStart, anchorEnd, rule, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(occs) != 3 {
		t.Fatalf("got %d occurrences, want 3", len(occs))
	}
	for i, occ := range occs {
		if occ.Start.Nanosecond() != 250_000_000 {
			t.Errorf("occurrence %d lost sub-second precision: %d", i, occ.Start.Nanosecond())
		}
		if occ.End.Day() != occ.Start.Day()+1 || occ.End.Hour() != 1 || occ.End.Minute() != 30 {
			t.Errorf("occurrence %d ends %s", i, occ.End)
		}
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	anchorStart := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	rule := model.RecurrenceRule{
		Frequency: model.FrequencyWeekly,
		Interval:  2,
		Weekdays:  []time.Weekday{time.Tuesday, time.Thursday},
	}
	first, err := recurrence.GenerateOccurrences(anchorStart, anchorStart.Add(time.Hour), rule, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := recurrence.GenerateOccurrences(anchorStart, anchorStart.Add(time.Hour), rule, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) || !first[i].End.Equal(second[i].End) {
			t.Fatalf("occurrence %d differs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestWeeklyDefaultsToAnchorWeekday(t *testing.T) {
	anchorStart := time.Date(2024, time.January, 17, 9, 0, 0, 0, time.UTC) // Wednesday
	rule := model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, OccurrenceCount: intPtr(3)}
	occs, err := recurrence.GenerateOccurrences(anchorStart, anchorStart.Add(time.Hour), rule, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	for i, occ := range occs {
		if occ.Start.Weekday() != time.Wednesday {
			t.Errorf("occurrence %d on %s", i, occ.Start.Weekday())
		}
	}
}

func TestHardCap(t *testing.T) {
	anchorStart := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	rule := model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}

	_, err := recurrence.GenerateOccurrences(anchorStart, anchorStart.Add(time.Hour), rule, anchorStart.AddDate(5, 0, 0))
	if !errors.Is(err, recurrence.ErrTooManyOccurrences) {
		t.Fatalf("err = %v, want ErrTooManyOccurrences", err)
	}

	small := recurrence.Expander{MaxOccurrences: 10}
	if _, err := small.Generate(anchorStart, anchorStart.Add(time.Hour), rule, anchorStart.AddDate(0, 0, 9)); err != nil {
		t.Errorf("exactly 10 occurrences must fit the cap: %v", err)
	}
	if _, err := small.Generate(anchorStart, anchorStart.Add(time.Hour), rule, anchorStart.AddDate(0, 0, 10)); !errors.Is(err, recurrence.ErrTooManyOccurrences) {
		t.Errorf("11 occurrences must exceed the cap, err = %v", err)
	}
}

func TestToRRuleString(t *testing.T) {
	anchorStart := time.Date(2024, time.January, 15, 9, 0, 0, 0, time.UTC)
	rule := model.RecurrenceRule{
		Frequency: model.FrequencyWeekly,
		Interval:  1,
		Weekdays:  []time.Weekday{time.Monday, time.Friday},
		UntilDate: &model.Date{Year: 2024, Month: time.June, Day: 28},
	}
	r, err := recurrence.ToRRule(anchorStart, rule)
	if err != nil {
		t.Fatal(err)
	}
	got := r.String()
	for _, part := range []string{"FREQ=WEEKLY", "BYDAY=MO,FR", "UNTIL="} {
		if !strings.Contains(got, part) {
			t.Errorf("RRULE %q is missing %s", got, part)
		}
	}

	line, err := recurrence.RRuleString(anchorStart, rule)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(line, "DTSTART") || !strings.HasPrefix(line, "FREQ=WEEKLY") {
		t.Errorf("RRuleString() = %q", line)
	}
}

func TestBetweenKeepsCountFromAnchor(t *testing.T) {
	anchor := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	rule := model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1, OccurrenceCount: intPtr(10)}
	from := anchor.AddDate(0, 0, 7)

	got, err := recurrence.Expander{}.Between(anchor, anchor.Add(time.Hour), rule, from, anchor.AddDate(0, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	// days 8, 9 and 10 of a ten-day series
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if !got[0].Start.Equal(from) {
		t.Errorf("first = %s, want %s", got[0].Start, from)
	}

	// an old daily anchor only materialises the window, well under the cap
	old := anchor.AddDate(-3, 0, 0)
	daily := model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}
	window, err := recurrence.Expander{}.Between(old, old.Add(time.Hour), daily, anchor, anchor.AddDate(0, 0, 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 31 {
		t.Errorf("len = %d, want 31", len(window))
	}
}
