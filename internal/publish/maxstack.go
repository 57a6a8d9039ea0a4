package publish

import "sync"

// MaxStack counts claimed slots up to a fixed maximum.
type MaxStack struct {
	mu    sync.Mutex
	max   int
	count int
}

func NewMaxStack(max int) *MaxStack {
	if max < 1 {
		max = 1
	}
	return &MaxStack{max: max}
}

// Push claims a slot, false when all are taken.
func (s *MaxStack) Push() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count >= s.max {
		return false
	}
	s.count++
	return true
}

func (s *MaxStack) Pop() {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
	}
	s.mu.Unlock()
}

func (s *MaxStack) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *MaxStack) Max() int { return s.max }
