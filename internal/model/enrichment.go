package model

import (
	"sync"

	"github.com/rotisserie/eris"
)

// EnrichmentSet accumulates at most one ProviderResult per provider kind for
// a single run. Partial content (some kinds missing or failed) is a valid
// state. Recording is concurrency-safe and order-independent: the final
// content depends only on which providers delivered, never on arrival order.
type EnrichmentSet struct {
	mu      sync.Mutex
	results map[ProviderKind]ProviderResult
}

// NewEnrichmentSet returns an empty accumulator.
func NewEnrichmentSet() *EnrichmentSet {
	return &EnrichmentSet{results: make(map[ProviderKind]ProviderResult)}
}

// Record stores the result for its kind. A second result for the same kind is
// rejected; the first write wins.
func (s *EnrichmentSet) Record(res ProviderResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.results[res.Kind]; dup {
		return eris.Errorf("enrichment: duplicate result for provider %s", res.Kind)
	}
	s.results[res.Kind] = res
	return nil
}

// Get returns the recorded result for kind.
func (s *EnrichmentSet) Get(kind ProviderKind) (ProviderResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[kind]
	return res, ok
}

// Snapshot returns a copy of the recorded results keyed by kind.
func (s *EnrichmentSet) Snapshot() map[ProviderKind]ProviderResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ProviderKind]ProviderResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// MarkMissingTimedOut records a timeout failure for every kind in kinds that
// has no result yet. Used when the run deadline elapses with calls pending.
func (s *EnrichmentSet) MarkMissingTimedOut(kinds []ProviderKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		if _, ok := s.results[k]; !ok {
			s.results[k] = ProviderResult{
				Kind:    k,
				Failure: NewFailure(FailureTimeout, "run deadline elapsed before response"),
			}
		}
	}
}

// OKCount returns how many of kinds have a successful payload.
func (s *EnrichmentSet) OKCount(kinds []ProviderKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range kinds {
		if res, ok := s.results[k]; ok && res.OK() {
			n++
		}
	}
	return n
}

// Settled reports whether every kind in kinds has a recorded result,
// successful or failed.
func (s *EnrichmentSet) Settled(kinds []ProviderKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range kinds {
		if _, ok := s.results[k]; !ok {
			return false
		}
	}
	return true
}
