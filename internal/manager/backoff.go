package manager

import "time"

// Backoff produces exponentially growing retry delays.
//
// The first call to Next returns Initial; each later call doubles the delay
// up to Max. Reset starts the sequence again. With Initial=5s and Max=300s
// the sequence is 5, 10, 20, 40, 80, 160, 300, 300...
//
// Backoff is not safe for concurrent use; each supervisor owns one.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.next == 0 {
		b.next = b.Initial
	}
	d := b.next
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	b.next = d * 2
	if b.Max > 0 && b.next > b.Max {
		b.next = b.Max
	}
	return d
}

// Reset returns the sequence to Initial.
func (b *Backoff) Reset() {
	b.next = 0
}
