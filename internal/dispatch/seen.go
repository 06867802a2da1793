package dispatch

// seenSet is a bounded FIFO set of message client ids. When full, the
// oldest id is evicted, so very old duplicates may slip through rather
// than letting the set grow without bound.
type seenSet struct {
	limit int
	order []string
	index map[string]struct{}
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{
		limit: limit,
		index: make(map[string]struct{}, limit),
	}
}

// observe records id and reports whether it was already present.
func (s *seenSet) observe(id string) bool {
	if _, ok := s.index[id]; ok {
		return true
	}
	if len(s.order) >= s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.index, oldest)
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	return false
}

func (s *seenSet) len() int { return len(s.order) }
