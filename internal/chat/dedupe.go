package chat

// seenSet remembers the most recent message ids.
type seenSet struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newSeenSet(size int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, size), ring: make([]string, size)}
}

// add records id and reports whether it was new.
func (s *seenSet) add(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.next = (s.next + 1) % len(s.ring)
	s.ids[id] = struct{}{}
	return true
}
