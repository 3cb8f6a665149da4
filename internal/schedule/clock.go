package schedule

import (
	"context"
	"time"
)

// Clock abstracts wall-clock reads and timer waits so SleepUntil can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	// Sleep blocks for at most d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

// System returns the real wall clock.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// maxSleepSlice bounds a single timer wait. A timer armed for a far-off
// wall-clock instant measures monotonic duration, which stalls across host
// suspend/resume; waking at least this often and re-reading the clock keeps
// the fire instant honest.
const maxSleepSlice = time.Minute

// SleepUntil suspends until instant is reached or ctx is cancelled,
// whichever comes first. The remaining duration is recomputed from the
// clock on every wake rather than pre-baked as one long sleep.
func SleepUntil(ctx context.Context, clk Clock, instant time.Time) error {
	for {
		remaining := instant.Sub(clk.Now())
		if remaining <= 0 {
			return ctx.Err()
		}
		if remaining > maxSleepSlice {
			remaining = maxSleepSlice
		}
		if err := clk.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
