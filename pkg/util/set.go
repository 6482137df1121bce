package util

// Set is an unordered collection of distinct comparable values
type Set[K comparable] map[K]struct{}

// SetOf builds a Set from the given values, dropping duplicates
func SetOf[K comparable](values ...K) Set[K] {
	res := make(Set[K], len(values))
	for _, v := range values {
		res.Add(v)
	}
	return res
}

// Add inserts a value
func (s Set[K]) Add(v K) {
	s[v] = struct{}{}
}

// Remove deletes a value if present
func (s Set[K]) Remove(v K) {
	delete(s, v)
}

// Contains reports whether the value is a member
func (s Set[K]) Contains(v K) bool {
	_, ok := s[v]
	return ok
}

// Len returns the number of members
func (s Set[K]) Len() int {
	return len(s)
}

// IsEmpty reports whether the set has no members
func (s Set[K]) IsEmpty() bool {
	return len(s) == 0
}

// Items returns the members in no particular order
func (s Set[K]) Items() []K {
	res := make([]K, 0, len(s))
	for v := range s {
		res = append(res, v)
	}
	return res
}
