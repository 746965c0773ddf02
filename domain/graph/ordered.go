package graph

// orderedSet keeps insertion order with O(1) add, remove and membership.
// Removal swaps the last element into the freed slot.
type orderedSet[K comparable] struct {
	items []K
	index map[K]int
}

func newOrderedSet[K comparable]() *orderedSet[K] {
	return &orderedSet[K]{index: make(map[K]int)}
}

func (s *orderedSet[K]) add(k K) bool {
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.items)
	s.items = append(s.items, k)
	return true
}

func (s *orderedSet[K]) remove(k K) bool {
	i, ok := s.index[k]
	if !ok {
		return false
	}
	last := len(s.items) - 1
	if i != last {
		moved := s.items[last]
		s.items[i] = moved
		s.index[moved] = i
	}
	var zero K
	s.items[last] = zero
	s.items = s.items[:last]
	delete(s.index, k)
	return true
}

func (s *orderedSet[K]) has(k K) bool {
	_, ok := s.index[k]
	return ok
}

func (s *orderedSet[K]) len() int {
	return len(s.items)
}

// snapshot returns a copy of the members
func (s *orderedSet[K]) snapshot() []K {
	out := make([]K, len(s.items))
	copy(out, s.items)
	return out
}
