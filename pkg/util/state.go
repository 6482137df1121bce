package util

// StateTransitions is a table of the states reachable from each state
type StateTransitions[T comparable] map[T]Set[T]

// CanTransition reports whether moving between the two states is allowed.
// Unknown states allow nothing
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	return t[from].Contains(to)
}
