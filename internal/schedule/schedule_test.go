package schedule

import (
	"testing"
	"time"
)

func mustTOD(t *testing.T, s string) TimeOfDay {
	t.Helper()
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q) error: %v", s, err)
	}
	return tod
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    TimeOfDay
		wantErr bool
	}{
		{raw: "00:00", want: TimeOfDay{}},
		{raw: "14:30", want: TimeOfDay{Hour: 14, Minute: 30}},
		{raw: "23:59:59", want: TimeOfDay{Hour: 23, Minute: 59, Second: 59}},
		{raw: " 09:05 ", want: TimeOfDay{Hour: 9, Minute: 5}},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "12:00:61", wantErr: true},
		{raw: "noon", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextFireAfter(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	tests := []struct {
		name string
		now  time.Time
		at   string
		want time.Time
	}{
		{
			name: "before todays instant",
			now:  time.Date(2026, 3, 10, 9, 0, 0, 0, loc),
			at:   "14:00",
			want: time.Date(2026, 3, 10, 14, 0, 0, 0, loc),
		},
		{
			name: "exactly at the instant fires now",
			now:  time.Date(2026, 3, 10, 14, 0, 0, 0, loc),
			at:   "14:00",
			want: time.Date(2026, 3, 10, 14, 0, 0, 0, loc),
		},
		{
			name: "after todays instant rolls to tomorrow",
			now:  time.Date(2026, 3, 10, 14, 0, 1, 0, loc),
			at:   "14:00",
			want: time.Date(2026, 3, 11, 14, 0, 0, 0, loc),
		},
		{
			name: "midnight fire shortly before midnight",
			now:  time.Date(2026, 3, 10, 23, 50, 0, 0, loc),
			at:   "00:00",
			want: time.Date(2026, 3, 11, 0, 0, 0, 0, loc),
		},
		{
			name: "month boundary",
			now:  time.Date(2026, 1, 31, 23, 0, 0, 0, loc),
			at:   "01:30",
			want: time.Date(2026, 2, 1, 1, 30, 0, 0, loc),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := NextFireAfter(tt.now, mustTOD(t, tt.at))
			if !got.Equal(tt.want) {
				t.Fatalf("NextFireAfter = %v, want %v", got, tt.want)
			}
			if got.Before(tt.now) {
				t.Fatalf("returned a past instant: %v < %v", got, tt.now)
			}
		})
	}
}

func TestNextFireAfterNeverSkipsADay(t *testing.T) {
	t.Parallel()
	at := mustTOD(t, "06:15")
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 48; i++ {
		next := NextFireAfter(now, at)
		if next.Sub(now) > 24*time.Hour {
			t.Fatalf("gap exceeds a day: now=%v next=%v", now, next)
		}
		if next.Hour() != 6 || next.Minute() != 15 || next.Second() != 0 {
			t.Fatalf("wrong time-of-day: %v", next)
		}
		now = now.Add(30 * time.Minute)
	}
}

func TestDailyPlanMissedAt(t *testing.T) {
	t.Parallel()
	loc := time.UTC
	at := TimeOfDay{} // midnight
	plan := Daily(at, loc).(CatchUp)

	now := time.Date(2026, 3, 10, 8, 0, 0, 0, loc)

	// No fire recorded today: the elapsed midnight counts as missed.
	missedAt, missed := plan.MissedAt(now, "")
	if !missed {
		t.Fatal("expected a missed fire")
	}
	if want := time.Date(2026, 3, 10, 0, 0, 0, 0, loc); !missedAt.Equal(want) {
		t.Fatalf("missedAt = %v, want %v", missedAt, want)
	}

	// Down across several days still yields exactly one catch-up instant.
	missedAt, missed = plan.MissedAt(now, "2026-03-05")
	if !missed || missedAt.Day() != 10 {
		t.Fatalf("multi-day gap: missed=%v at=%v", missed, missedAt)
	}

	// Already fired today: nothing to catch up.
	if _, missed = plan.MissedAt(now, "2026-03-10"); missed {
		t.Fatal("unexpected missed fire after same-day record")
	}

	// Before today's instant: nothing missed yet.
	early := time.Date(2026, 3, 10, 8, 0, 0, 0, loc)
	lateFire := Daily(TimeOfDay{Hour: 14}, loc).(CatchUp)
	if _, missed = lateFire.MissedAt(early, ""); missed {
		t.Fatal("instant not yet reached, should not be missed")
	}
}

func TestCronPlanNext(t *testing.T) {
	t.Parallel()
	plan, err := Cron("30 14 * * *", time.UTC)
	if err != nil {
		t.Fatalf("Cron error: %v", err)
	}
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	next := plan.Next(now)
	if next.Before(now) {
		t.Fatalf("past instant: %v", next)
	}
	want := time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestCronPlanInvalidSpec(t *testing.T) {
	t.Parallel()
	if _, err := Cron("not a cron", time.UTC); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestDateKey(t *testing.T) {
	t.Parallel()
	ts := time.Date(2026, 3, 5, 23, 59, 0, 0, time.UTC)
	if got := DateKey(ts); got != "2026-03-05" {
		t.Fatalf("DateKey = %q", got)
	}
}
