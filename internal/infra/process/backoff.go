package process

import "time"

// Backoff yields the delay before each automatic restart. Delays grow by
// doubling, never decrease, and are capped.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func NewBackoff(base, maxDelay time.Duration) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{base: base, max: maxDelay, current: base}
}

// Next returns the delay for the upcoming attempt and advances the
// schedule.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	next := b.current * 2
	if next > b.max {
		next = b.max
	}
	b.current = next
	return delay
}

// Current returns the delay the next call to Next would yield.
func (b *Backoff) Current() time.Duration {
	return b.current
}
