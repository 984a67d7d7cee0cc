package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tribunal/internal/persona"
	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

func TestStripMarkdownFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"backtick fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"tilde fence", "~~~\n{\"a\":1}\n~~~", `{"a":1}`},
		{"truncated open fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"surrounding whitespace", "  ```\n{}\n```  ", "{}"},
		{"empty fenced body", "```json\n```", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripMarkdownFences(tt.in); got != tt.want {
				t.Errorf("stripMarkdownFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFixInvalidJSONEscapes(t *testing.T) {
	in := `{"rationale": "matches \d+ files"}`
	want := `{"rationale": "matches \\d+ files"}`
	if got := fixInvalidJSONEscapes(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	valid := `{"a": "line\nbreak \"quoted\" \\backslash"}`
	if got := fixInvalidJSONEscapes(valid); got != valid {
		t.Errorf("valid escapes were rewritten: %q", got)
	}
}

const goodOpinion = `{
  "verdict": "warn",
  "confidence": 70,
  "score": 3.2,
  "cited_evidence_ids": ["ev-1", "ev-2"],
  "rationale": "partial coverage of the criterion"
}`

func TestParseOpinion_Valid(t *testing.T) {
	shown := map[string]bool{"ev-1": true, "ev-2": true}
	op, errs := ParseOpinion(goodOpinion, "GOV-ARCH", schema.ScorerAdversarial, shown)
	if len(errs) != 0 {
		t.Fatalf("errs = %v, want none", errs)
	}
	if op.CriterionID != "GOV-ARCH" || op.Scorer != schema.ScorerAdversarial {
		t.Errorf("identity fields not stamped: %+v", op)
	}
	if op.Verdict != schema.VerdictWarn || op.Confidence != 70 || op.Score != 3.2 {
		t.Errorf("parsed fields wrong: %+v", op)
	}
	if len(op.CitedEvidenceIDs) != 2 {
		t.Errorf("cited = %v", op.CitedEvidenceIDs)
	}
}

func TestParseOpinion_FencedResponse(t *testing.T) {
	raw := "```json\n" + goodOpinion + "\n```"
	op, errs := ParseOpinion(raw, "GOV-ARCH", schema.ScorerPragmatic, map[string]bool{"ev-1": true, "ev-2": true})
	if op == nil {
		t.Fatalf("fenced response rejected: %v", errs)
	}
}

func TestParseOpinion_InvalidEscapeRepaired(t *testing.T) {
	raw := `{"verdict":"pass","confidence":90,"score":4.5,"cited_evidence_ids":[],"rationale":"regex \d+ matched"}`
	op, errs := ParseOpinion(raw, "GOV-ARCH", schema.ScorerSympathetic, nil)
	if op == nil {
		t.Fatalf("escape repair failed: %v", errs)
	}
	if !strings.Contains(op.Rationale, `\d+`) {
		t.Errorf("rationale = %q", op.Rationale)
	}
}

func TestParseOpinion_FatalErrors(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", "the repo looks fine to me", "json_parse"},
		{"missing verdict", `{"confidence":50,"score":2.0,"rationale":"x"}`, "verdict"},
		{"bad verdict", `{"verdict":"maybe","confidence":50,"score":2.0,"rationale":"x"}`, "verdict"},
		{"missing confidence", `{"verdict":"pass","score":2.0,"rationale":"x"}`, "confidence"},
		{"confidence over 100", `{"verdict":"pass","confidence":150,"score":2.0,"rationale":"x"}`, "confidence"},
		{"missing score", `{"verdict":"pass","confidence":50,"rationale":"x"}`, "score"},
		{"score over 5", `{"verdict":"pass","confidence":50,"score":6.0,"rationale":"x"}`, "score"},
		{"score negative", `{"verdict":"pass","confidence":50,"score":-1.0,"rationale":"x"}`, "score"},
		{"empty rationale", `{"verdict":"pass","confidence":50,"score":2.0,"rationale":"  "}`, "rationale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, errs := ParseOpinion(tt.raw, "GOV-ARCH", schema.ScorerAdversarial, nil)
			if op != nil {
				t.Fatalf("opinion accepted: %+v", op)
			}
			if !Fatal(errs) {
				t.Error("errors not fatal")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("errs = %v, want field %q", errs, tt.field)
			}
		})
	}
}

func TestParseOpinion_UnknownCitationsDroppedNonFatal(t *testing.T) {
	raw := `{"verdict":"fail","confidence":95,"score":1.0,"cited_evidence_ids":["ev-1","fabricated"],"rationale":"x"}`
	op, errs := ParseOpinion(raw, "GOV-SEC", schema.ScorerAdversarial, map[string]bool{"ev-1": true})
	if op == nil {
		t.Fatalf("opinion rejected: %v", errs)
	}
	if Fatal(errs) {
		t.Error("dropped citation treated as fatal")
	}
	if len(op.CitedEvidenceIDs) != 1 || op.CitedEvidenceIDs[0] != "ev-1" {
		t.Errorf("cited = %v, want [ev-1]", op.CitedEvidenceIDs)
	}
	if len(errs) != 1 || errs[0].Field != "cited_evidence_ids" {
		t.Errorf("errs = %v", errs)
	}
}

func TestClassify(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != schema.FailTimeout {
		t.Errorf("deadline: got %q", got)
	}
	if got := Classify(context.Canceled); got != schema.FailTimeout {
		t.Errorf("canceled: got %q", got)
	}
	if got := Classify(errors.New("api rate limit")); got != schema.FailProvider {
		t.Errorf("provider: got %q", got)
	}
}

func TestBuildSystemPrompt_PersonaAndAddendum(t *testing.T) {
	p, err := persona.Get(schema.ScorerAdversarial)
	if err != nil {
		t.Fatal(err)
	}
	base := BuildSystemPrompt(p, false)
	if !strings.Contains(base, p.Stance[:40]) {
		t.Error("stance missing from system prompt")
	}
	if strings.Contains(base, p.CollapseAddendum) {
		t.Error("addendum present without strengthening")
	}
	strengthened := BuildSystemPrompt(p, true)
	if !strings.Contains(strengthened, p.CollapseAddendum) {
		t.Error("addendum missing from strengthened prompt")
	}
}

func TestBuildUserPrompt_ListsEvidence(t *testing.T) {
	c := rubric.Criterion{ID: "GOV-SEC", Name: "Security posture", Description: "d"}
	ev := []schema.EvidenceItem{{
		ID:         "sec-1",
		SourceKind: schema.SourceRepoStructure,
		Summary:    "eval of dynamic input in app.py",
		Locator:    "app.py:10",
		Security:   true,
	}}
	prompt := BuildUserPrompt(c, ev)
	for _, want := range []string{"GOV-SEC", "[sec-1]", "app.py:10", "security-relevant"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	empty := BuildUserPrompt(c, nil)
	if !strings.Contains(empty, "none collected") {
		t.Error("empty evidence view not marked")
	}
}

func TestNewProvider_Unknown(t *testing.T) {
	if _, err := NewProvider("mystery", "m"); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

// mockProvider verifies the factory seam tests rely on.
type mockProvider struct{ out string }

func (m *mockProvider) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	return m.out, nil
}

func TestNewProvider_Replaceable(t *testing.T) {
	orig := NewProvider
	t.Cleanup(func() { NewProvider = orig })
	NewProvider = func(name, model string) (Provider, error) {
		return &mockProvider{out: goodOpinion}, nil
	}
	p, err := NewProvider("anything", "any-model")
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Complete(context.Background(), "s", "u", 100, 0.2)
	if err != nil || out != goodOpinion {
		t.Fatalf("mock not wired: %v %q", err, out)
	}
}
