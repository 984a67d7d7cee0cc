// Package schema defines all canonical data types carried through the
// tribunal pipeline: evidence, opinions, synthesis results, and the final
// audit report.
package schema

import "time"

// SourceKind identifies the analysis dimension an evidence item came from.
type SourceKind string

const (
	SourceRepoStructure   SourceKind = "repo-structure"
	SourceDocumentSnippet SourceKind = "document-snippet"
	SourceDiagramPattern  SourceKind = "diagram-pattern"
	SourceVersionHistory  SourceKind = "version-history"
)

// AllSourceKinds lists every valid SourceKind.
var AllSourceKinds = []SourceKind{
	SourceRepoStructure,
	SourceDocumentSnippet,
	SourceDiagramPattern,
	SourceVersionHistory,
}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	for _, s := range AllSourceKinds {
		if k == s {
			return true
		}
	}
	return false
}

// Structural reports whether k is a structural-fact kind. Structural facts
// (file trees, commit history) carry extra weight during fact-supremacy
// synthesis; narrative kinds (document snippets, diagrams) do not.
func (k SourceKind) Structural() bool {
	return k == SourceRepoStructure || k == SourceVersionHistory
}

// Verdict is a single scorer's categorical judgment on one criterion.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWarn Verdict = "warn"
	VerdictFail Verdict = "fail"
)

// Valid reports whether v is a known verdict.
func (v Verdict) Valid() bool {
	return v == VerdictPass || v == VerdictWarn || v == VerdictFail
}

// ScorerIdentity is the fixed viewpoint a scorer argues from. The set is
// closed: every identity maps to a configuration record in internal/persona
// rather than to a distinct implementation.
type ScorerIdentity string

const (
	ScorerAdversarial ScorerIdentity = "adversarial"
	ScorerSympathetic ScorerIdentity = "sympathetic"
	ScorerPragmatic   ScorerIdentity = "pragmatic"
)

// AllScorerIdentities lists the identities in dispatch order.
var AllScorerIdentities = []ScorerIdentity{
	ScorerAdversarial,
	ScorerSympathetic,
	ScorerPragmatic,
}

// Valid reports whether s is a known scorer identity.
func (s ScorerIdentity) Valid() bool {
	switch s {
	case ScorerAdversarial, ScorerSympathetic, ScorerPragmatic:
		return true
	}
	return false
}

// FailureKind classifies a scorer task failure.
type FailureKind string

const (
	FailParse    FailureKind = "parse-error"
	FailTimeout  FailureKind = "timeout"
	FailProvider FailureKind = "provider-error"
)

// EvidenceItem is one atomic finding produced by a detector. Items are
// immutable once created; the bundle never mutates an inserted item.
type EvidenceItem struct {
	ID            string            `json:"id"`
	SourceKind    SourceKind        `json:"source_kind"`
	CriterionRefs []string          `json:"criterion_refs"`
	Summary       string            `json:"summary"`
	Attrs         map[string]string `json:"attrs,omitempty"`
	Locator       string            `json:"locator,omitempty"`
	// Security marks the item as a security finding. It is set by the
	// producing detector, never inferred downstream, and triggers the
	// security-override synthesis rule for every criterion it supports.
	Security bool `json:"security,omitempty"`
}

// Opinion is one scorer's verdict on one criterion. Rationale is advisory
// text for the report; it never drives control flow.
type Opinion struct {
	CriterionID      string         `json:"criterion_id"`
	Scorer           ScorerIdentity `json:"scorer"`
	Verdict          Verdict        `json:"verdict"`
	Confidence       int            `json:"confidence"` // 0–100
	Score            float64        `json:"score"`      // 0.0–5.0
	CitedEvidenceIDs []string       `json:"cited_evidence_ids"`
	Rationale        string         `json:"rationale"`
}

// SynthesisResult is the final, rule-resolved verdict for one criterion.
type SynthesisResult struct {
	CriterionID      string           `json:"criterion_id"`
	FinalScore       float64          `json:"final_score"`
	OverridesApplied []string         `json:"overrides_applied"`
	VarianceDetected bool             `json:"variance_detected"`
	DissentSummary   string           `json:"dissent_summary,omitempty"`
	CitedEvidenceIDs []string         `json:"cited_evidence_ids"`
	AbsentScorers    []ScorerIdentity `json:"absent_scorers,omitempty"`
	// PersonaCollapse is set when two scorers returned indistinguishable
	// opinions. The strengthened retry may have replaced one of them; the
	// flag records that the collapse happened at all.
	PersonaCollapse bool `json:"persona_collapse,omitempty"`
	// FallbackUsed is set when the criterion was scored by the solo
	// pragmatic fallback after every panel scorer was marked absent.
	FallbackUsed bool `json:"fallback_used,omitempty"`
	// Unscored marks a criterion with zero usable opinions. The score is
	// meaningless (0.0) and Severity explains the gap.
	Unscored bool   `json:"unscored,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// AuditReport is the root output object. It owns every nested record by
// value; nothing in it back-references pipeline state.
type AuditReport struct {
	RunID        string            `json:"run_id"`
	Target       string            `json:"target"`
	Timestamp    time.Time         `json:"timestamp"`
	OverallScore float64           `json:"overall_score"`
	Results      []SynthesisResult `json:"results"`
	Evidence     []EvidenceItem    `json:"evidence"`
	Opinions     []Opinion         `json:"opinions"`
	// Degraded is set when one or more detectors failed and the audit ran
	// on partial evidence.
	Degraded bool     `json:"degraded,omitempty"`
	RunNotes []string `json:"run_notes,omitempty"`
}
