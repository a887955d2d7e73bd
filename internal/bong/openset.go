package bong

import "sync"

// openSet holds messages that can still be won.
type openSet struct {
	mu sync.Mutex
	m  map[MessageKey]OpenMessage
}

func newOpenSet() *openSet { return &openSet{m: map[MessageKey]OpenMessage{}} }

func (s *openSet) add(m OpenMessage) {
	s.mu.Lock()
	s.m[m.Key] = m
	s.mu.Unlock()
}

func (s *openSet) contains(k MessageKey) bool {
	s.mu.Lock()
	_, ok := s.m[k]
	s.mu.Unlock()
	return ok
}

// take removes k and reports whether it was open. At most one caller gets true.
func (s *openSet) take(k MessageKey) (OpenMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	return m, ok
}

func (s *openSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *openSet) reset() {
	s.mu.Lock()
	s.m = map[MessageKey]OpenMessage{}
	s.mu.Unlock()
}
