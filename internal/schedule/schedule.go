// Package schedule computes daily fire instants and provides the
// suspension primitive the agent loop parks on between cycles.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TimeOfDay is a wall-clock time within a day, independent of date and zone.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM or HH:MM:SS", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
		}
	}
	return TimeOfDay{Hour: h, Minute: m, Second: sec}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns the instant with this time-of-day on day's calendar date, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, day.Location())
}

// NextFireAfter returns the earliest instant >= now whose time-of-day in
// now's location equals at. If today's instant has already passed, the
// result is at on the next calendar date.
func NextFireAfter(now time.Time, at TimeOfDay) time.Time {
	candidate := at.On(now)
	if candidate.Before(now) {
		candidate = at.On(now.AddDate(0, 0, 1))
	}
	return candidate
}

// DateKey renders t's calendar date as a stable key ("2006-01-02").
func DateKey(t time.Time) string { return t.Format("2006-01-02") }

// Plan yields fire instants. Implementations are pure: Next never blocks
// and never returns an instant before now.
type Plan interface {
	Next(now time.Time) time.Time
	Describe() string
}

// CatchUp is implemented by plans that can detect a fire missed while the
// process was down. MissedAt reports the instant that should have fired
// already today when lastFireDate does not cover it.
type CatchUp interface {
	MissedAt(now time.Time, lastFireDate string) (time.Time, bool)
}

type dailyPlan struct {
	at  TimeOfDay
	loc *time.Location
}

// Daily builds a plan that fires once per calendar day at the given
// time-of-day in loc.
func Daily(at TimeOfDay, loc *time.Location) Plan {
	if loc == nil {
		loc = time.Local
	}
	return dailyPlan{at: at, loc: loc}
}

func (p dailyPlan) Next(now time.Time) time.Time {
	return NextFireAfter(now.In(p.loc), p.at)
}

func (p dailyPlan) Describe() string {
	return fmt.Sprintf("daily at %s (%s)", p.at, p.loc)
}

// MissedAt fires at most once regardless of how many days were skipped:
// only today's elapsed instant counts, and only if the last recorded fire
// was on an earlier date.
func (p dailyPlan) MissedAt(now time.Time, lastFireDate string) (time.Time, bool) {
	local := now.In(p.loc)
	today := p.at.On(local)
	if local.Before(today) {
		return time.Time{}, false
	}
	if lastFireDate == DateKey(local) {
		return time.Time{}, false
	}
	return today, true
}

type cronPlan struct {
	spec  string
	sched cron.Schedule
	loc   *time.Location
}

// Cron builds a plan from a cron expression (standard five fields, an
// optional leading seconds field, or descriptors like @daily). Used to
// override the daily time-of-day, e.g. for staging runs.
func Cron(spec string, loc *time.Location) (Plan, error) {
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return cronPlan{spec: spec, sched: sched, loc: loc}, nil
}

func (p cronPlan) Next(now time.Time) time.Time {
	local := now.In(p.loc)
	// cron.Schedule.Next is strictly-after; honor the >= contract at
	// whole-second boundaries.
	next := p.sched.Next(local.Add(-time.Second))
	if next.Before(local) {
		next = p.sched.Next(local)
	}
	return next
}

func (p cronPlan) Describe() string {
	return fmt.Sprintf("cron %q (%s)", p.spec, p.loc)
}
