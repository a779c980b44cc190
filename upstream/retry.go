package upstream

import "time"

// RetryPolicy bounds reconnect attempts: multiplicative delay growth from
// BaseDelay, capped at MaxDelay, for at most MaxAttempts tries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the wait before the given attempt (1-based). Attempt 1
// waits BaseDelay; each further attempt doubles, capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	wait := p.BaseDelay
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if wait > p.MaxDelay {
		return p.MaxDelay
	}
	return wait
}

// Exhausted reports whether the given attempt exceeds the budget
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}
