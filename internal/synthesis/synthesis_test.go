package synthesis

import (
	"math"
	"testing"

	"tribunal/internal/adjudicate"
	"tribunal/internal/persona"
	"tribunal/internal/schema"
	"tribunal/internal/state"
)

func newBundle(t *testing.T, items ...schema.EvidenceItem) *state.EvidenceBundle {
	t.Helper()
	b := state.NewEvidenceBundle()
	if err := b.Add(items...); err != nil {
		t.Fatal(err)
	}
	b.Freeze()
	return b
}

func newDecision(t *testing.T, ops ...schema.Opinion) *adjudicate.Decision {
	t.Helper()
	d := &adjudicate.Decision{
		CriterionID: "GOV-ARCH",
		Opinions:    state.NewOpinionSet("GOV-ARCH"),
		Absent:      map[schema.ScorerIdentity]schema.FailureKind{},
	}
	for _, op := range ops {
		op.CriterionID = "GOV-ARCH"
		if err := d.Opinions.Put(op); err != nil {
			t.Fatal(err)
		}
	}
	d.Opinions.Freeze()
	return d
}

func op(id schema.ScorerIdentity, score float64, cited ...string) schema.Opinion {
	return schema.Opinion{
		Scorer:           id,
		Verdict:          schema.VerdictWarn,
		Confidence:       80,
		Score:            score,
		CitedEvidenceIDs: cited,
		Rationale:        "rationale of " + string(id),
	}
}

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func hasOverride(res schema.SynthesisResult, name string) bool {
	for _, o := range res.OverridesApplied {
		if o == name {
			return true
		}
	}
	return false
}

func TestResolve_ConvergentPanelNoOverrides(t *testing.T) {
	bundle := newBundle(t, schema.EvidenceItem{ID: "ev-1", SourceKind: schema.SourceDocumentSnippet})
	d := newDecision(t,
		op(schema.ScorerAdversarial, 4.5, "ev-1"),
		op(schema.ScorerSympathetic, 4.6, "ev-1"),
		op(schema.ScorerPragmatic, 4.4, "ev-1"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if res.VarianceDetected {
		t.Error("variance flagged on a convergent panel")
	}
	if len(res.OverridesApplied) != 0 {
		t.Errorf("overrides = %v, want none", res.OverridesApplied)
	}
	// (4.5*1.2 + 4.6*0.8 + 4.4*1.0) / 3.0
	want := (4.5*1.2 + 4.6*0.8 + 4.4*1.0) / 3.0
	if !almostEqual(res.FinalScore, want) {
		t.Errorf("final = %v, want %v", res.FinalScore, want)
	}
	if res.DissentSummary != "" {
		t.Errorf("dissent = %q, want empty", res.DissentSummary)
	}
}

func TestResolve_VarianceFlaggedWithDissent(t *testing.T) {
	bundle := newBundle(t, schema.EvidenceItem{ID: "ev-1", SourceKind: schema.SourceDocumentSnippet})
	d := newDecision(t,
		op(schema.ScorerAdversarial, 1.0, "ev-1"),
		op(schema.ScorerSympathetic, 5.0, "ev-1"),
		op(schema.ScorerPragmatic, 3.0, "ev-1"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if !res.VarianceDetected {
		t.Fatal("variance not detected on range 4.0")
	}
	if res.DissentSummary == "" {
		t.Error("dissent summary empty")
	}
	// All three cite the majority item, so the recompute keeps everyone and
	// changes nothing.
	if hasOverride(res, RuleVarianceTrigger) {
		t.Errorf("overrides = %v, recompute should not fire when all overlap", res.OverridesApplied)
	}
	want := (1.0*1.2 + 5.0*0.8 + 3.0*1.0) / 3.0
	if !almostEqual(res.FinalScore, want) {
		t.Errorf("final = %v, want %v", res.FinalScore, want)
	}
}

func TestResolve_VarianceRecomputesFromMajorityEvidence(t *testing.T) {
	bundle := newBundle(t,
		schema.EvidenceItem{ID: "ev-1", SourceKind: schema.SourceDocumentSnippet},
		schema.EvidenceItem{ID: "ev-lone", SourceKind: schema.SourceDocumentSnippet},
	)
	// The outlier cites only evidence nobody else trusts.
	d := newDecision(t,
		op(schema.ScorerAdversarial, 0.5, "ev-lone"),
		op(schema.ScorerSympathetic, 4.0, "ev-1"),
		op(schema.ScorerPragmatic, 3.8, "ev-1"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if !res.VarianceDetected {
		t.Fatal("variance not detected")
	}
	if !hasOverride(res, RuleVarianceTrigger) {
		t.Errorf("overrides = %v, want variance-trigger", res.OverridesApplied)
	}
	// Recompute drops the adversarial outlier.
	want := (4.0*0.8 + 3.8*1.0) / 1.8
	if !almostEqual(res.FinalScore, want) {
		t.Errorf("final = %v, want %v", res.FinalScore, want)
	}
}

func TestResolve_EmptyMajorityKeepsScore(t *testing.T) {
	bundle := newBundle(t,
		schema.EvidenceItem{ID: "a", SourceKind: schema.SourceDocumentSnippet},
		schema.EvidenceItem{ID: "b", SourceKind: schema.SourceDocumentSnippet},
		schema.EvidenceItem{ID: "c", SourceKind: schema.SourceDocumentSnippet},
	)
	// Every scorer cites something different; no ID reaches a majority.
	d := newDecision(t,
		op(schema.ScorerAdversarial, 1.0, "a"),
		op(schema.ScorerSympathetic, 5.0, "b"),
		op(schema.ScorerPragmatic, 3.0, "c"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if !res.VarianceDetected {
		t.Fatal("variance not detected")
	}
	if hasOverride(res, RuleVarianceTrigger) {
		t.Error("recompute fired without a majority evidence set")
	}
	want := (1.0*1.2 + 5.0*0.8 + 3.0*1.0) / 3.0
	if !almostEqual(res.FinalScore, want) {
		t.Errorf("final = %v, want %v", res.FinalScore, want)
	}
}

func TestResolve_SecurityOverrideCaps(t *testing.T) {
	bundle := newBundle(t,
		schema.EvidenceItem{ID: "sec-1", SourceKind: schema.SourceRepoStructure, Security: true},
	)
	// Unanimous perfect scores cannot survive a cited security finding.
	d := newDecision(t,
		op(schema.ScorerAdversarial, 5.0, "sec-1"),
		op(schema.ScorerSympathetic, 5.0, "sec-1"),
		op(schema.ScorerPragmatic, 5.0, "sec-1"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if res.FinalScore > 3.0 {
		t.Errorf("final = %v, want capped at 3.0", res.FinalScore)
	}
	if !hasOverride(res, RuleSecurityOverride) {
		t.Errorf("overrides = %v, want security-override", res.OverridesApplied)
	}
}

func TestResolve_SecurityCapNotRecordedWhenItDoesNotBind(t *testing.T) {
	bundle := newBundle(t,
		schema.EvidenceItem{ID: "sec-1", SourceKind: schema.SourceRepoStructure, Security: true},
	)
	d := newDecision(t,
		op(schema.ScorerAdversarial, 2.0, "sec-1"),
		op(schema.ScorerSympathetic, 2.2, "sec-1"),
		op(schema.ScorerPragmatic, 2.1, "sec-1"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if hasOverride(res, RuleSecurityOverride) {
		t.Errorf("overrides = %v, cap did not bind", res.OverridesApplied)
	}
	if res.FinalScore > 3.0 {
		t.Errorf("final = %v", res.FinalScore)
	}
}

func TestResolve_FactSupremacyDoublesWeight(t *testing.T) {
	bundle := newBundle(t,
		schema.EvidenceItem{ID: "ev-1", SourceKind: schema.SourceDocumentSnippet},
		schema.EvidenceItem{ID: "hist-1", SourceKind: schema.SourceVersionHistory},
	)
	d := newDecision(t,
		op(schema.ScorerAdversarial, 3.0, "ev-1", "hist-1"),
		op(schema.ScorerSympathetic, 4.0, "ev-1"),
		op(schema.ScorerPragmatic, 4.0, "ev-1"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if !hasOverride(res, RuleFactSupremacy) {
		t.Fatalf("overrides = %v, want fact-supremacy", res.OverridesApplied)
	}
	// Adversarial weight doubles to 2.4.
	want := (3.0*2.4 + 4.0*0.8 + 4.0*1.0) / 4.2
	if !almostEqual(res.FinalScore, want) {
		t.Errorf("final = %v, want %v", res.FinalScore, want)
	}
}

func TestResolve_NoSupremacyWithoutStructuralExtras(t *testing.T) {
	bundle := newBundle(t,
		schema.EvidenceItem{ID: "ev-1", SourceKind: schema.SourceDocumentSnippet},
		schema.EvidenceItem{ID: "dia-1", SourceKind: schema.SourceDiagramPattern},
	)
	// Superset citations, but the extra item is narrative, not structural.
	d := newDecision(t,
		op(schema.ScorerAdversarial, 3.0, "ev-1", "dia-1"),
		op(schema.ScorerSympathetic, 4.0, "ev-1"),
		op(schema.ScorerPragmatic, 4.0, "ev-1"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if hasOverride(res, RuleFactSupremacy) {
		t.Errorf("overrides = %v, narrative extras must not dominate", res.OverridesApplied)
	}
}

func TestResolve_SoloFallbackOpinion(t *testing.T) {
	bundle := newBundle(t, schema.EvidenceItem{ID: "ev-1", SourceKind: schema.SourceRepoStructure})
	d := newDecision(t, op(schema.ScorerPragmatic, 2.0, "ev-1"))
	d.FallbackUsed = true
	d.Absent = map[schema.ScorerIdentity]schema.FailureKind{
		schema.ScorerAdversarial: schema.FailProvider,
		schema.ScorerSympathetic: schema.FailTimeout,
	}

	res := Resolve(d, bundle, persona.Weights())

	if !res.FallbackUsed {
		t.Error("fallback flag dropped")
	}
	if !almostEqual(res.FinalScore, 2.0) {
		t.Errorf("final = %v, want 2.0", res.FinalScore)
	}
	if len(res.AbsentScorers) != 2 || res.AbsentScorers[0] != schema.ScorerAdversarial {
		t.Errorf("absent = %v", res.AbsentScorers)
	}
}

func TestResolve_UnscoredDecision(t *testing.T) {
	bundle := newBundle(t, schema.EvidenceItem{ID: "ev-1", SourceKind: schema.SourceRepoStructure})
	d := newDecision(t)
	d.Unscored = true
	d.Absent = map[schema.ScorerIdentity]schema.FailureKind{
		schema.ScorerAdversarial: schema.FailProvider,
		schema.ScorerSympathetic: schema.FailProvider,
		schema.ScorerPragmatic:   schema.FailProvider,
	}

	res := Resolve(d, bundle, persona.Weights())

	if !res.Unscored {
		t.Error("unscored not set")
	}
	if res.Severity == "" {
		t.Error("severity empty on unscored result")
	}
	if res.FinalScore != 0 {
		t.Errorf("final = %v, want 0", res.FinalScore)
	}
	if len(res.AbsentScorers) != 3 {
		t.Errorf("absent = %v", res.AbsentScorers)
	}
}

func TestResolve_CitedUnionSorted(t *testing.T) {
	bundle := newBundle(t,
		schema.EvidenceItem{ID: "b", SourceKind: schema.SourceDocumentSnippet},
		schema.EvidenceItem{ID: "a", SourceKind: schema.SourceDocumentSnippet},
	)
	d := newDecision(t,
		op(schema.ScorerAdversarial, 3.0, "b"),
		op(schema.ScorerSympathetic, 3.1, "a", "b"),
		op(schema.ScorerPragmatic, 3.2, "a"),
	)

	res := Resolve(d, bundle, persona.Weights())

	if len(res.CitedEvidenceIDs) != 2 || res.CitedEvidenceIDs[0] != "a" || res.CitedEvidenceIDs[1] != "b" {
		t.Errorf("cited = %v, want [a b]", res.CitedEvidenceIDs)
	}
}
