package group

import (
	"context"
	"time"
)

// Redundancy is the fixed-redundancy send policy for group traffic: one
// logical message is written Copies times, Gap apart, reusing its message id
// so receivers discard the extra copies. It reduces the chance that a single
// lost datagram drops a group message. It is not acknowledged delivery and
// gives no guarantee that any copy arrives.
type Redundancy struct {
	Copies int
	Gap    time.Duration
}

// DefaultRedundancy sends every group message twice, 50ms apart.
func DefaultRedundancy() Redundancy {
	return Redundancy{Copies: 2, Gap: 50 * time.Millisecond}
}

// Run calls send once per copy, waiting Gap between copies. It stops early
// and returns the context error when ctx is cancelled during a gap.
func (r Redundancy) Run(ctx context.Context, send func(copy int)) error {
	copies := r.Copies
	if copies < 1 {
		copies = 1
	}

	for i := 0; i < copies; i++ {
		if i > 0 && r.Gap > 0 {
			timer := time.NewTimer(r.Gap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		send(i)
	}
	return nil
}
