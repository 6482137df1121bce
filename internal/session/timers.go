package session

import "time"

type (
	// streamTimers holds at most one inactivity timer per streaming node.
	// Only the session runner touches the map; fires carry the generation
	// they were armed with so a fire that lost a race with rearm or cancel
	// can be recognized and ignored
	streamTimers struct {
		timeout time.Duration
		fire    func(nodeID string, gen uint64)
		active  map[string]*streamTimer
		gen     uint64
	}

	streamTimer struct {
		timer *time.Timer
		gen   uint64
	}
)

func newStreamTimers(
	timeout time.Duration, fire func(string, uint64),
) *streamTimers {
	return &streamTimers{
		timeout: timeout,
		fire:    fire,
		active:  map[string]*streamTimer{},
	}
}

// arm (re)starts the timer for a node, superseding any earlier activation
func (s *streamTimers) arm(nodeID string) {
	s.cancel(nodeID)
	s.gen++
	gen := s.gen
	s.active[nodeID] = &streamTimer{
		gen: gen,
		timer: time.AfterFunc(s.timeout, func() {
			s.fire(nodeID, gen)
		}),
	}
}

func (s *streamTimers) cancel(nodeID string) {
	if t, ok := s.active[nodeID]; ok {
		t.timer.Stop()
		delete(s.active, nodeID)
	}
}

func (s *streamTimers) cancelAll() {
	for id, t := range s.active {
		t.timer.Stop()
		delete(s.active, id)
	}
}

// claim reports whether a fire is for the node's current activation, and if
// so forgets the handle
func (s *streamTimers) claim(nodeID string, gen uint64) bool {
	t, ok := s.active[nodeID]
	if !ok || t.gen != gen {
		return false
	}
	delete(s.active, nodeID)
	return true
}

func (s *streamTimers) len() int {
	return len(s.active)
}
