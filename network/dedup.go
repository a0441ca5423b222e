package network

import "sync"

// SeenSet remembers message ids that have already been processed. It is
// cleared wholesale by the transport's cleanup worker once it grows past a
// threshold, so a duplicate arriving after a clear is delivered again.
type SeenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSeenSet creates an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[string]struct{})}
}

// CheckAndInsert records id and reports whether it was new. The check and
// the insert happen atomically.
func (s *SeenSet) CheckAndInsert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.ids[id]; seen {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of remembered ids.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// ClearIfLarger empties the set when it holds more than threshold ids. It
// returns the resulting size and whether a clear happened.
func (s *SeenSet) ClearIfLarger(threshold int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ids) <= threshold {
		return len(s.ids), false
	}
	s.ids = make(map[string]struct{})
	return 0, true
}
