package http

import (
	"sync"

	"github.com/fluxcd/ecsroll/pkg/rollout"
)

// OutcomeStore keeps the most recent outcomes, for serving while a
// run is in progress. Record is meant to be a Coordinator's OnOutcome.
type OutcomeStore struct {
	mu       sync.RWMutex
	limit    int
	outcomes []rollout.Outcome
}

func NewOutcomeStore(limit int) *OutcomeStore {
	return &OutcomeStore{limit: limit}
}

func (s *OutcomeStore) Record(o rollout.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	if s.limit > 0 && len(s.outcomes) > s.limit {
		s.outcomes = append([]rollout.Outcome(nil), s.outcomes[len(s.outcomes)-s.limit:]...)
	}
}

// Outcomes returns the stored outcomes, oldest first, optionally only
// those of one service.
func (s *OutcomeStore) Outcomes(service string) []rollout.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outcomes := []rollout.Outcome{}
	for _, o := range s.outcomes {
		if service == "" || o.Service == service {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}
