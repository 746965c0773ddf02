package stream

import (
	"math/rand/v2"
	"time"
)

// Backoff produces exponentially growing, jittered reconnect delays
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the fraction by which a delay may deviate in either direction
	Jitter float64

	rng     *rand.Rand
	attempt int
}

// NewBackoff creates a backoff. A nil rng uses a randomly seeded source.
func NewBackoff(initial, max time.Duration, jitter float64, rng *rand.Rand) *Backoff {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Backoff{Initial: initial, Max: max, Jitter: jitter, rng: rng}
}

// Next returns the delay before the next attempt and advances the counter
func (b *Backoff) Next() time.Duration {
	d := b.Initial
	for i := 0; i < b.attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	b.attempt++

	if b.Jitter > 0 {
		factor := 1 + b.Jitter*(2*b.rng.Float64()-1)
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// Attempt is the number of delays handed out since the last reset
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset restarts the schedule at the initial delay
func (b *Backoff) Reset() {
	b.attempt = 0
}
