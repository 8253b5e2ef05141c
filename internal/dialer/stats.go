package dialer

import (
	"sync"

	"github.com/dialcast/dialcast/internal/store"
)

// Stats is a snapshot of orchestrator counters since process start.
type Stats struct {
	DialsPlaced     int
	Winners         int
	Screened        int
	HangupsIssued   int
	AttemptOutcomes map[string]int
}

type stats struct {
	mu            sync.Mutex
	dialsPlaced   int
	winners       int
	screenedCount int
	hangupsIssued int
	outcomes      map[string]int
}

func (s *stats) dialPlaced() {
	s.mu.Lock()
	s.dialsPlaced++
	s.mu.Unlock()
}

func (s *stats) winner() {
	s.mu.Lock()
	s.winners++
	s.mu.Unlock()
}

func (s *stats) screened() {
	s.mu.Lock()
	s.screenedCount++
	s.mu.Unlock()
}

func (s *stats) hangup() {
	s.mu.Lock()
	s.hangupsIssued++
	s.mu.Unlock()
}

func (s *stats) attemptOutcome(status store.AttemptStatus) {
	s.mu.Lock()
	if s.outcomes == nil {
		s.outcomes = make(map[string]int)
	}
	s.outcomes[string(status)]++
	s.mu.Unlock()
}

// Stats returns a copy of the orchestrator's counters.
func (o *Orchestrator) Stats() Stats {
	o.stats.mu.Lock()
	defer o.stats.mu.Unlock()

	out := Stats{
		DialsPlaced:     o.stats.dialsPlaced,
		Winners:         o.stats.winners,
		Screened:        o.stats.screenedCount,
		HangupsIssued:   o.stats.hangupsIssued,
		AttemptOutcomes: make(map[string]int, len(o.stats.outcomes)),
	}
	for k, v := range o.stats.outcomes {
		out.AttemptOutcomes[k] = v
	}
	return out
}
