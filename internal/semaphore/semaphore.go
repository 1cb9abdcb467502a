// Package semaphore provides a FIFO counting semaphore whose capacity can be
// changed while permits are held.
package semaphore

import (
	"context"
	"sync"
)

// Semaphore grants at most Max permits at a time. Waiters are served in
// arrival order and a released permit goes straight to the oldest waiter.
type Semaphore struct {
	mu      sync.Mutex
	max     int
	held    int
	waiters []chan struct{}
}

func New(n int) *Semaphore {
	if n < 0 {
		n = 0
	}
	return &Semaphore{max: n}
}

// Acquire blocks until a permit is granted or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.held < s.max && len(s.waiters) == 0 {
		s.held++
		s.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-w:
			// granted while we were giving up; pass it on
			s.mu.Unlock()
			s.Release()
		default:
			s.remove(w)
			s.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release returns a permit. If waiters are queued the permit is handed to the
// oldest one, unless the semaphore was shrunk below its current usage.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held == 0 {
		panic("semaphore: released more than held")
	}
	if s.held > s.max {
		s.held--
		return
	}
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w)
		return
	}
	s.held--
}

// UpdatePermits changes the capacity. Growing wakes queued waiters right away;
// shrinking only stops new grants until usage drains below n.
func (s *Semaphore) UpdatePermits(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.max = n
	for s.held < s.max && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.held++
		close(w)
	}
}

// InFlight is the number of permits currently granted.
func (s *Semaphore) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

func (s *Semaphore) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max
}

func (s *Semaphore) remove(w chan struct{}) {
	for i, c := range s.waiters {
		if c == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}
