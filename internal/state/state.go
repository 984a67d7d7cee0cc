// Package state holds the two mutable accumulators shared across pipeline
// stages: the evidence bundle written by detectors and the per-criterion
// opinion sets written by scorers. Both are append/merge-only while active
// and read-only after Freeze; a single mutex per accumulator serializes
// merges while producers run lock-free.
package state

import (
	"fmt"
	"sort"
	"sync"

	"tribunal/internal/schema"
)

// ErrFrozen is returned by writes against a frozen accumulator.
var ErrFrozen = fmt.Errorf("state: accumulator is frozen")

// EvidenceBundle is the shared evidence accumulator. Items are kept in
// insertion order and keyed by ID; inserting a duplicate ID is a no-op that
// preserves the original item.
type EvidenceBundle struct {
	mu     sync.Mutex
	order  []string
	byID   map[string]schema.EvidenceItem
	frozen bool
}

// NewEvidenceBundle returns an empty, writable bundle.
func NewEvidenceBundle() *EvidenceBundle {
	return &EvidenceBundle{byID: make(map[string]schema.EvidenceItem)}
}

// Add inserts items into the bundle. Duplicate IDs are ignored. Returns
// ErrFrozen if the bundle has been frozen.
func (b *EvidenceBundle) Add(items ...schema.EvidenceItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrFrozen
	}
	for _, it := range items {
		if _, seen := b.byID[it.ID]; seen {
			continue
		}
		b.byID[it.ID] = it
		b.order = append(b.order, it.ID)
	}
	return nil
}

// Freeze makes the bundle read-only. Idempotent.
func (b *EvidenceBundle) Freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}

// Frozen reports whether the bundle has been frozen.
func (b *EvidenceBundle) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// Len returns the number of items in the bundle.
func (b *EvidenceBundle) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Get returns the item with the given ID.
func (b *EvidenceBundle) Get(id string) (schema.EvidenceItem, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.byID[id]
	return it, ok
}

// Items returns every item in insertion order.
func (b *EvidenceBundle) Items() []schema.EvidenceItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.EvidenceItem, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}

// ForCriterion returns the items whose CriterionRefs contain criterionID,
// in insertion order. This is the filtered view handed to scorer tasks.
func (b *EvidenceBundle) ForCriterion(criterionID string) []schema.EvidenceItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []schema.EvidenceItem
	for _, id := range b.order {
		it := b.byID[id]
		for _, ref := range it.CriterionRefs {
			if ref == criterionID {
				out = append(out, it)
				break
			}
		}
	}
	return out
}

// OpinionSet accumulates opinions for one criterion, keyed by scorer
// identity. A re-run of a scorer replaces only that identity's prior entry;
// it never touches another identity's opinion.
type OpinionSet struct {
	mu          sync.Mutex
	criterionID string
	byScorer    map[schema.ScorerIdentity]schema.Opinion
	frozen      bool
}

// NewOpinionSet returns an empty opinion set for criterionID.
func NewOpinionSet(criterionID string) *OpinionSet {
	return &OpinionSet{
		criterionID: criterionID,
		byScorer:    make(map[schema.ScorerIdentity]schema.Opinion),
	}
}

// CriterionID returns the criterion this set accumulates for.
func (s *OpinionSet) CriterionID() string { return s.criterionID }

// Put merges an opinion into the set (last-write-wins within the same
// identity). Opinions for a different criterion are rejected.
func (s *OpinionSet) Put(op schema.Opinion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	if op.CriterionID != s.criterionID {
		return fmt.Errorf("state: opinion for %q merged into set for %q", op.CriterionID, s.criterionID)
	}
	s.byScorer[op.Scorer] = op
	return nil
}

// Freeze makes the set read-only. Idempotent.
func (s *OpinionSet) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Len returns the number of distinct scorer identities present.
func (s *OpinionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byScorer)
}

// Get returns the opinion recorded for the given identity.
func (s *OpinionSet) Get(id schema.ScorerIdentity) (schema.Opinion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.byScorer[id]
	return op, ok
}

// Opinions returns all opinions ordered by scorer identity for determinism.
func (s *OpinionSet) Opinions() []schema.Opinion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Opinion, 0, len(s.byScorer))
	for _, op := range s.byScorer {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scorer < out[j].Scorer })
	return out
}
