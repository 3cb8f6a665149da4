// Package retry drives one day's cycle: bounded re-submission on transient
// failures, immediate stop on semantic rejection.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"rewardsd/internal/chain"
	"rewardsd/internal/schedule"
	logx "rewardsd/pkg/logx"
)

// State is the controller's position in the cycle state machine:
// Idle -> Attempting -> {Confirmed, Reverted, Exhausted}.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateConfirmed
	StateReverted
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateConfirmed:
		return "confirmed"
	case StateReverted:
		return "reverted"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the cycle.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateReverted || s == StateExhausted
}

// Policy bounds the retry budget and shapes the backoff curve.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // 0.2 = +/-20%
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Minute
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	} else if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Backoff returns the wait before the next attempt: exponential in the
// attempt number, jittered, capped at MaxDelay, floored at 100ms.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if p.Jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*p.Jitter
		delay = time.Duration(float64(delay) * factor)
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 100*time.Millisecond {
		delay = 100 * time.Millisecond
	}
	return delay
}

// Submitter is the single operation the controller drives.
type Submitter interface {
	Submit(ctx context.Context) chain.Outcome
}

// Result is the finalized report of one cycle.
type Result struct {
	State    State
	Attempts int
	TxHash   string
	Last     chain.Outcome
	// Aborted is set when shutdown interrupted the cycle before a
	// terminal state; the day must not be recorded as decided.
	Aborted bool
}

// Controller owns the per-cycle attempt loop. One instance serves all
// cycles; the per-cycle state lives in Run's frame.
type Controller struct {
	policy Policy
	sub    Submitter
	clk    schedule.Clock
	log    logx.Logger
}

func New(policy Policy, sub Submitter, clk schedule.Clock, log logx.Logger) *Controller {
	if clk == nil {
		clk = schedule.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{policy: policy.withDefaults(), sub: sub, clk: clk, log: log}
}

// Run executes attempts until a terminal state or shutdown. It never
// exceeds the attempt budget and never retries a revert.
func (c *Controller) Run(ctx context.Context) Result {
	for attempt := 1; ; attempt++ {
		started := c.clk.Now()
		out := c.sub.Submit(ctx)
		c.log.Info("attempt finished",
			logx.Time("started_at", started),
			logx.Int("attempt", attempt),
			logx.String("outcome", out.Status.String()),
			logx.String("tx", out.TxHash),
			logx.Err(out.Err),
		)

		switch out.Status {
		case chain.StatusConfirmed:
			return Result{State: StateConfirmed, Attempts: attempt, TxHash: out.TxHash, Last: out}
		case chain.StatusReverted:
			return Result{State: StateReverted, Attempts: attempt, TxHash: out.TxHash, Last: out}
		}

		if ctx.Err() != nil {
			return Result{State: StateAttempting, Attempts: attempt, TxHash: out.TxHash, Last: out, Aborted: true}
		}
		if attempt >= c.policy.MaxAttempts {
			return Result{State: StateExhausted, Attempts: attempt, TxHash: out.TxHash, Last: out}
		}

		delay := c.policy.Backoff(attempt)
		c.log.Warn("transient failure, backing off",
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(out.Err),
		)
		if err := c.clk.Sleep(ctx, delay); err != nil {
			return Result{State: StateAttempting, Attempts: attempt, TxHash: out.TxHash, Last: out, Aborted: true}
		}
	}
}
