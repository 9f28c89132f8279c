package feeds

import "time"

const (
	DefaultBackoffInitial = 5 * time.Second
	DefaultBackoffMax     = 300 * time.Second
)

// Backoff yields exponentially growing reconnect delays: initial, 2x, 4x...
// capped at the maximum. Reset starts the sequence over.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

func NewBackoff(initial time.Duration, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &Backoff{initial: initial, max: maxDelay}
}

func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.initial
	}
	d := b.next
	if b.next < b.max {
		b.next *= 2
		if b.next > b.max {
			b.next = b.max
		}
	}
	return d
}

func (b *Backoff) Reset() {
	b.next = 0
}
