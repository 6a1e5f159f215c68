package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// restartSchedule yields the delay before each automatic restart:
// initial, 2x, 4x, ... capped at max, with no jitter. Not thread-safe;
// the supervisor only touches it under its mutex.
type restartSchedule struct {
	b *backoff.ExponentialBackOff
}

func newRestartSchedule(initial, maxDelay time.Duration) *restartSchedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxDelay
	b.Reset()
	return &restartSchedule{b: b}
}

// Next returns the delay for the next restart and advances the schedule.
func (r *restartSchedule) Next() time.Duration {
	return r.b.NextBackOff()
}

// Reset starts the schedule over at the initial delay.
func (r *restartSchedule) Reset() {
	r.b.Reset()
}

// RestartDelay is the closed form of the schedule: the delay before the
// restart that follows the restartCount-th consecutive crash (1-based).
func RestartDelay(restartCount int, initial, maxDelay time.Duration) time.Duration {
	if restartCount < 1 {
		restartCount = 1
	}
	d := initial
	for i := 1; i < restartCount && d < maxDelay; i++ {
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	return d
}
