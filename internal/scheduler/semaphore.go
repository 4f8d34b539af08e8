package scheduler

import "context"

// Semaphore bounds how many jobs run at once.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore returns a semaphore with n slots. n below 1 means 1.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{slots: make(chan struct{}, n)}
}

// Acquire takes a slot, waiting until one frees up or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (s *Semaphore) Release() { <-s.slots }

// InUse reports how many slots are taken.
func (s *Semaphore) InUse() int { return len(s.slots) }

// Cap reports the slot count.
func (s *Semaphore) Cap() int { return cap(s.slots) }
