package connection

import "time"

// Backoff computes the retry delay after consecutive errors: Base doubled per
// additional error, never above Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Minute, Max: 60 * time.Minute}
}

// Delay returns the wait after the n-th consecutive error (n >= 1).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		if d >= b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// RetryAfter is the hint surfaced to callers: time left until NextRetryAt
// for an ERROR connection, else the delay the next error would incur.
func (b Backoff) RetryAfter(c *Connection, now time.Time) time.Duration {
	if c.Status == StatusError && c.NextRetryAt != nil {
		if d := c.NextRetryAt.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return b.Delay(c.ConsecutiveErrors + 1)
}
