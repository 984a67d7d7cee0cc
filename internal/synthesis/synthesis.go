// Package synthesis resolves a panel decision into one final score per
// criterion. The rules are deterministic local logic; no LLM calls are made
// here, and the same decision always produces the same result.
package synthesis

import (
	"fmt"
	"sort"

	"tribunal/internal/adjudicate"
	"tribunal/internal/schema"
)

// Rule names recorded in SynthesisResult.OverridesApplied. The base weighted
// mean (functionality-weight) is never recorded: it is the computation the
// overrides act on, not an override itself.
const (
	RuleSecurityOverride    = "security-override"
	RuleFactSupremacy       = "fact-supremacy"
	RuleFunctionalityWeight = "functionality-weight"
	RuleVarianceTrigger     = "variance-trigger"
)

// securityCap is the highest score a criterion can receive when any cited
// evidence is security-tagged.
const securityCap = 3.0

// varianceThreshold is the score range above which the panel is considered
// divergent.
const varianceThreshold = 2.0

// factSupremacyFactor multiplies the weight of a scorer whose citations
// strictly dominate the rest of the panel with structural facts.
const factSupremacyFactor = 2.0

// EvidenceLookup resolves cited evidence IDs. *state.EvidenceBundle
// satisfies it.
type EvidenceLookup interface {
	Get(id string) (schema.EvidenceItem, bool)
}

// Resolve applies the ordered rule chain to one panel decision.
//
// Rules (in order of application):
//  1. fact-supremacy: a scorer citing a strict superset of every sibling's
//     evidence, with structural facts among the extras, counts double.
//  2. functionality-weight: the score is the persona-weighted mean.
//  3. variance-trigger: a score range above 2.0 flags divergence and
//     recomputes from the opinions that overlap the majority evidence set.
//  4. security-override: any cited security finding caps the score at 3.0.
//
// The cap runs last so no later rule can lift a security-limited score.
// Scores are clamped to [0.0, 5.0].
func Resolve(d *adjudicate.Decision, evidence EvidenceLookup, weights map[schema.ScorerIdentity]float64) schema.SynthesisResult {
	res := schema.SynthesisResult{
		CriterionID:      d.CriterionID,
		OverridesApplied: []string{},
		CitedEvidenceIDs: []string{},
		AbsentScorers:    absentInOrder(d),
		PersonaCollapse:  d.PersonaCollapse,
		FallbackUsed:     d.FallbackUsed,
	}

	ops := d.Opinions.Opinions()
	if len(ops) == 0 {
		res.Unscored = true
		res.Severity = "critical"
		res.DissentSummary = "no usable opinions: every scorer was absent and the fallback failed"
		return res
	}

	res.CitedEvidenceIDs = unionCited(ops)

	// Rule 1: fact-supremacy.
	w := make(map[schema.ScorerIdentity]float64, len(ops))
	for _, op := range ops {
		w[op.Scorer] = weights[op.Scorer]
	}
	if dominant, ok := factDominant(ops, evidence); ok {
		w[dominant] *= factSupremacyFactor
		res.OverridesApplied = append(res.OverridesApplied, RuleFactSupremacy)
	}

	// Rule 2: functionality-weight.
	res.FinalScore = weightedMean(ops, w)

	// Rule 3: variance-trigger.
	if lo, hi := scoreRange(ops); hi-lo > varianceThreshold {
		res.VarianceDetected = true
		res.DissentSummary = dissentSummary(ops, lo, hi)
		if kept := majorityOverlap(ops); len(kept) > 0 && len(kept) < len(ops) {
			res.FinalScore = weightedMean(kept, w)
			res.OverridesApplied = append(res.OverridesApplied, RuleVarianceTrigger)
		}
	}

	// Rule 4: security-override.
	if citesSecurity(ops, evidence) && res.FinalScore > securityCap {
		res.FinalScore = securityCap
		res.OverridesApplied = append(res.OverridesApplied, RuleSecurityOverride)
	}

	res.FinalScore = clamp(res.FinalScore, 0.0, 5.0)
	return res
}

// absentInOrder returns the absent identities in dispatch order.
func absentInOrder(d *adjudicate.Decision) []schema.ScorerIdentity {
	var out []schema.ScorerIdentity
	for _, id := range schema.AllScorerIdentities {
		if _, ok := d.Absent[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// unionCited returns the sorted union of every opinion's citations.
func unionCited(ops []schema.Opinion) []string {
	seen := map[string]bool{}
	for _, op := range ops {
		for _, id := range op.CitedEvidenceIDs {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// factDominant finds the scorer whose cited set is a strict superset of every
// other scorer's, with at least one structural-fact item among the extras.
// With fewer than two opinions there is nothing to dominate.
func factDominant(ops []schema.Opinion, evidence EvidenceLookup) (schema.ScorerIdentity, bool) {
	if len(ops) < 2 {
		return "", false
	}
	for _, cand := range ops {
		cited := idSet(cand.CitedEvidenceIDs)
		shared := map[string]bool{}
		dominant := true
		for _, other := range ops {
			if other.Scorer == cand.Scorer {
				continue
			}
			otherIDs := idSet(other.CitedEvidenceIDs)
			if !strictSuperset(cited, otherIDs) {
				dominant = false
				break
			}
			for id := range otherIDs {
				shared[id] = true
			}
		}
		if !dominant {
			continue
		}
		for id := range cited {
			if shared[id] {
				continue
			}
			if item, ok := evidence.Get(id); ok && item.SourceKind.Structural() {
				return cand.Scorer, true
			}
		}
	}
	return "", false
}

func idSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// strictSuperset reports whether a contains every element of b and more.
func strictSuperset(a, b map[string]bool) bool {
	if len(a) <= len(b) {
		return false
	}
	for id := range b {
		if !a[id] {
			return false
		}
	}
	return true
}

// weightedMean computes the weight-normalized mean score. A zero total weight
// falls back to the plain mean so a misconfigured weight map cannot divide
// by zero.
func weightedMean(ops []schema.Opinion, w map[schema.ScorerIdentity]float64) float64 {
	var sum, total float64
	for _, op := range ops {
		weight := w[op.Scorer]
		sum += op.Score * weight
		total += weight
	}
	if total == 0 {
		for _, op := range ops {
			sum += op.Score
		}
		return sum / float64(len(ops))
	}
	return sum / total
}

func scoreRange(ops []schema.Opinion) (lo, hi float64) {
	lo, hi = ops[0].Score, ops[0].Score
	for _, op := range ops[1:] {
		if op.Score < lo {
			lo = op.Score
		}
		if op.Score > hi {
			hi = op.Score
		}
	}
	return lo, hi
}

// majorityOverlap returns the opinions that cite at least one ID from the
// majority evidence set (IDs cited by more than half of the opinions). An
// empty majority returns nil and the caller keeps the original score.
func majorityOverlap(ops []schema.Opinion) []schema.Opinion {
	counts := map[string]int{}
	for _, op := range ops {
		for id := range idSet(op.CitedEvidenceIDs) {
			counts[id]++
		}
	}
	majority := map[string]bool{}
	for id, n := range counts {
		if n*2 > len(ops) {
			majority[id] = true
		}
	}
	if len(majority) == 0 {
		return nil
	}
	var kept []schema.Opinion
	for _, op := range ops {
		for _, id := range op.CitedEvidenceIDs {
			if majority[id] {
				kept = append(kept, op)
				break
			}
		}
	}
	return kept
}

// citesSecurity reports whether any opinion cites a security-tagged item.
func citesSecurity(ops []schema.Opinion, evidence EvidenceLookup) bool {
	for _, op := range ops {
		for _, id := range op.CitedEvidenceIDs {
			if item, ok := evidence.Get(id); ok && item.Security {
				return true
			}
		}
	}
	return false
}

// dissentSummary names the extremes driving a detected variance.
func dissentSummary(ops []schema.Opinion, lo, hi float64) string {
	var loScorer, hiScorer schema.ScorerIdentity
	for _, op := range ops {
		if op.Score == lo && loScorer == "" {
			loScorer = op.Scorer
		}
		if op.Score == hi && hiScorer == "" {
			hiScorer = op.Scorer
		}
	}
	return fmt.Sprintf("scores diverged by %.1f: %s at %.1f against %s at %.1f",
		hi-lo, hiScorer, hi, loScorer, lo)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
