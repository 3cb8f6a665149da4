// Package agent sequences the daily lifecycle: wait for the fire instant,
// run one cycle through the retry controller, record the outcome, advance.
package agent

import (
	"context"
	"time"

	"rewardsd/internal/retry"
	"rewardsd/internal/schedule"
	"rewardsd/internal/store"
	logx "rewardsd/pkg/logx"
)

// CycleRunner drives one day's attempts to a terminal state.
type CycleRunner interface {
	Run(ctx context.Context) retry.Result
}

// Notifier receives finalized run records. A nil implementation is allowed.
type Notifier interface {
	CycleFinished(ctx context.Context, rec store.RunRecord)
}

// Params wires the agent. Plan, Controller and Location are required;
// everything else degrades gracefully when absent.
type Params struct {
	Plan       schedule.Plan
	Clock      schedule.Clock
	Controller CycleRunner
	Store      store.Store // nil disables restart-resume
	Notifier   Notifier
	Location   *time.Location
	Log        logx.Logger

	// LastDistribution, when set, exposes the contract's own record of
	// the most recent distribution for the startup re-check.
	LastDistribution func(ctx context.Context) (time.Time, error)
}

// Agent owns the ScheduleState. Single writer: only the loop goroutine
// touches lastFireDate, exactly once per completed cycle.
type Agent struct {
	plan     schedule.Plan
	clk      schedule.Clock
	ctrl     CycleRunner
	st       store.Store
	notifier Notifier
	loc      *time.Location
	log      logx.Logger
	lastDist func(ctx context.Context) (time.Time, error)

	lastFireDate string
}

func New(p Params) *Agent {
	if p.Clock == nil {
		p.Clock = schedule.System()
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	if p.Log.IsZero() {
		p.Log = logx.Nop()
	}
	return &Agent{
		plan:     p.Plan,
		clk:      p.Clock,
		ctrl:     p.Controller,
		st:       p.Store,
		notifier: p.Notifier,
		loc:      p.Location,
		log:      p.Log,
		lastDist: p.LastDistribution,
	}
}

// Run loops until ctx is cancelled. It always returns nil: nothing inside
// a daily cycle is allowed to terminate the process.
func (a *Agent) Run(ctx context.Context) error {
	a.restoreState(ctx)

	if at, ok := a.missedFire(ctx); ok {
		a.log.Info("startup past today's fire instant, firing immediately",
			logx.Time("scheduled_at", at))
		if done := a.fire(ctx, at); !done {
			return nil
		}
	}

	for {
		next := a.plan.Next(a.clk.Now())
		a.log.Info("waiting for next fire",
			logx.Time("next_fire", next),
			logx.String("plan", a.plan.Describe()))
		if err := schedule.SleepUntil(ctx, a.clk, next); err != nil {
			a.log.Info("shutdown while waiting for next fire")
			return nil
		}
		if done := a.fire(ctx, next); !done {
			return nil
		}
	}
}

func (a *Agent) restoreState(ctx context.Context) {
	if a.st == nil {
		return
	}
	date, err := a.st.GetLastFireDate(ctx)
	if err != nil {
		a.log.Warn("failed reading persisted schedule state", logx.Err(err))
		return
	}
	if date != "" {
		a.lastFireDate = date
		a.log.Info("resumed schedule state", logx.String("last_fire_date", date))
	}
}

// missedFire decides whether today's instant elapsed without a fire. At
// most one catch-up fire regardless of how many days the process was down.
func (a *Agent) missedFire(ctx context.Context) (time.Time, bool) {
	cu, ok := a.plan.(schedule.CatchUp)
	if !ok {
		return time.Time{}, false
	}
	now := a.clk.Now().In(a.loc)
	at, missed := cu.MissedAt(now, a.lastFireDate)
	if !missed {
		return time.Time{}, false
	}

	today := schedule.DateKey(now)
	if a.st != nil {
		if rec, found, err := a.st.GetRun(ctx, today); err == nil && found {
			a.log.Info("today already decided, skipping catch-up fire",
				logx.String("date", today),
				logx.String("outcome", rec.Outcome))
			return time.Time{}, false
		}
	}
	if a.distributedToday(ctx, now) {
		a.log.Info("contract already distributed today, skipping catch-up fire",
			logx.String("date", today))
		return time.Time{}, false
	}
	return at, true
}

// distributedToday consults the contract's lastDistributionTime view when
// the re-check is enabled. Errors err on the side of firing: a revert is
// cheaper than a silently skipped day.
func (a *Agent) distributedToday(ctx context.Context, now time.Time) bool {
	if a.lastDist == nil {
		return false
	}
	last, err := a.lastDist(ctx)
	if err != nil {
		a.log.Warn("on-chain distribution re-check failed", logx.Err(err))
		return false
	}
	if last.IsZero() {
		return false
	}
	return schedule.DateKey(last.In(a.loc)) == schedule.DateKey(now)
}

// fire runs one full cycle. Returns false when shutdown interrupted the
// cycle before a terminal state.
func (a *Agent) fire(ctx context.Context, instant time.Time) bool {
	date := schedule.DateKey(instant.In(a.loc))
	a.log.Info("cycle starting", logx.String("date", date))

	res := a.ctrl.Run(ctx)
	if res.Aborted {
		a.log.Warn("shutdown interrupted cycle before a terminal state",
			logx.String("date", date),
			logx.Int("attempts", res.Attempts),
			logx.String("tx", res.TxHash))
		return false
	}

	rec := store.RunRecord{
		Date:        date,
		Outcome:     res.State.String(),
		TxHash:      res.TxHash,
		Attempts:    res.Attempts,
		FinalizedAt: a.clk.Now(),
	}

	switch res.State {
	case retry.StateConfirmed:
		a.log.Info("daily distribution confirmed",
			logx.String("date", date),
			logx.String("tx", rec.TxHash),
			logx.Int("attempts", rec.Attempts))
	case retry.StateReverted:
		a.log.Warn("daily distribution reverted by contract",
			logx.String("date", date),
			logx.Int("attempts", rec.Attempts),
			logx.Err(res.Last.Err))
	case retry.StateExhausted:
		a.log.Warn("attempt budget exhausted, giving up until tomorrow",
			logx.String("date", date),
			logx.Int("attempts", rec.Attempts),
			logx.Err(res.Last.Err))
	}

	// Advance ScheduleState only after the cycle reached a terminal state.
	a.lastFireDate = date
	if a.st != nil {
		if err := a.st.PutRun(ctx, rec); err != nil {
			a.log.Warn("failed persisting run record", logx.Err(err))
		}
		if err := a.st.PutLastFireDate(ctx, date); err != nil {
			a.log.Warn("failed persisting schedule state", logx.Err(err))
		}
	}
	if a.notifier != nil {
		a.notifier.CycleFinished(ctx, rec)
	}
	return true
}
