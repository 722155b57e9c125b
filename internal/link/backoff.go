package link

import "time"

// Backoff yields the delay before the next connect attempt.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

// FixedBackoff retries at the same interval forever.
type FixedBackoff struct {
	Interval time.Duration
}

func NewFixedBackoff(interval time.Duration) *FixedBackoff {
	return &FixedBackoff{Interval: interval}
}

func (b *FixedBackoff) NextDelay(int) time.Duration {
	return b.Interval
}
