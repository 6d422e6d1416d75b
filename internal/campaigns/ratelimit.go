package campaigns

import "time"

// RateLimiter spaces campaign sends.
type RateLimiter struct {
	MessageInterval     time.Duration
	LongerIntervalAfter int
	GreaterInterval     time.Duration
}

func NewRateLimiter(s Settings) RateLimiter {
	return RateLimiter{
		MessageInterval:     s.MessageInterval,
		LongerIntervalAfter: s.LongerIntervalAfter,
		GreaterInterval:     s.GreaterInterval,
	}
}

// Delay returns how long to wait before sending to recipient i:
// start + i*MessageInterval - now, plus a flat interval that switches to
// GreaterInterval once i exceeds LongerIntervalAfter. Never negative.
func (r RateLimiter) Delay(i int, start, now time.Time) time.Duration {
	flat := r.MessageInterval
	if r.LongerIntervalAfter > 0 && i > r.LongerIntervalAfter {
		flat = r.GreaterInterval
	}
	d := start.Add(time.Duration(i)*r.MessageInterval).Sub(now) + flat
	return max(d, 0)
}
