package async

import (
	"context"
	"sync"
)

// Barrier is a reusable rendezvous point. Participants register before they
// start work and arrive when they are done; every time the number of
// unarrived participants drops to zero the phase advances and waiters are
// released. The barrier never completes permanently unless terminated.
type Barrier struct {
	mu         sync.Mutex
	phase      uint64
	unarrived  int
	advanced   chan struct{}
	terminated bool
}

// NewBarrier returns a barrier in phase zero with no participants.
func NewBarrier() *Barrier {
	return &Barrier{advanced: make(chan struct{})}
}

// Register adds one participant to the current phase and returns the phase.
func (b *Barrier) Register() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.terminated {
		b.unarrived++
	}
	return b.phase
}

// Arrive marks one participant as done. When it was the last one, the phase
// advances.
func (b *Barrier) Arrive() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated || b.unarrived == 0 {
		return
	}
	b.unarrived--
	if b.unarrived == 0 {
		b.advanceLocked()
	}
}

func (b *Barrier) advanceLocked() {
	b.phase++
	close(b.advanced)
	b.advanced = make(chan struct{})
}

// Phase returns the current phase.
func (b *Barrier) Phase() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Unarrived returns the number of registered participants that did not
// arrive yet.
func (b *Barrier) Unarrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.unarrived
}

// AwaitIdle returns once no participant is outstanding. The phase is
// captured together with the participant count so that a participant
// arriving between the check and the wait cannot be missed.
func (b *Barrier) AwaitIdle(ctx context.Context) error {
	b.mu.Lock()
	if b.terminated || b.unarrived == 0 {
		b.mu.Unlock()
		return nil
	}
	ch := b.advanced
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitAdvance blocks until the barrier leaves the given phase.
func (b *Barrier) AwaitAdvance(ctx context.Context, phase uint64) error {
	b.mu.Lock()
	if b.terminated || b.phase != phase {
		b.mu.Unlock()
		return nil
	}
	ch := b.advanced
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate releases every waiter and turns further registrations and
// arrivals into no-ops.
func (b *Barrier) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.terminated {
		return
	}
	b.terminated = true
	b.unarrived = 0
	b.advanceLocked()
}

// Terminated reports whether Terminate was called.
func (b *Barrier) Terminated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminated
}
