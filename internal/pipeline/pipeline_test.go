package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tribunal/internal/detect"
	"tribunal/internal/llm"
	"tribunal/internal/report"
	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// fixtureRepo lays out a small target: source with a dangerous call, a doc
// with a heading and a mermaid block, and no git history.
func fixtureRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"go.mod":  "module demo\n",
		"main.go": "package main\n\nfunc main() {}\n",
		"run.py":  "import os\nos.system(\"cleanup\")\n",
		"DESIGN.md": "# Overview\n\nA small demo service.\n\n## Flow\n\n" +
			"```mermaid\ngraph TD\n  A --> B\n```\n",
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// panelProvider returns a valid, persona-distinct opinion for every call.
type panelProvider struct{}

func (panelProvider) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	score := 3.0
	stance := "pragmatic"
	switch {
	case strings.Contains(system, "adversarial reviewer"):
		score, stance = 2.0, "adversarial"
	case strings.Contains(system, "sympathetic reviewer"):
		score, stance = 4.0, "sympathetic"
	}
	return fmt.Sprintf(
		`{"verdict":"warn","confidence":80,"score":%.1f,"cited_evidence_ids":[],"rationale":"the %s case rests on separate considerations entirely"}`,
		score, stance), nil
}

func TestRun_EndToEnd(t *testing.T) {
	root := fixtureRepo(t)
	var buf bytes.Buffer

	rep, runLog, err := Run(context.Background(), Config{
		Target:   detect.Target{Root: root, Docs: []string{"DESIGN.md"}},
		Rubric:   rubric.Default(),
		Provider: panelProvider{},
		Workers:  4,
		Sink:     report.WriterSink{W: &buf, Format: report.FormatJSON},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep == nil {
		t.Fatal("nil report")
	}
	if rep.RunID == "" {
		t.Error("run ID missing")
	}
	if len(rep.Results) != len(rubric.Default().Criteria) {
		t.Errorf("results = %d, want %d", len(rep.Results), len(rubric.Default().Criteria))
	}
	if rep.OverallScore <= 0 || rep.OverallScore > 5 {
		t.Errorf("overall = %v", rep.OverallScore)
	}
	// No git repository: the history detector fails, the run degrades.
	if !rep.Degraded {
		t.Error("degraded flag not set with a failed detector")
	}
	if len(rep.RunNotes) == 0 {
		t.Error("failed detector left no run note")
	}
	if len(rep.Evidence) == 0 {
		t.Error("no evidence in report")
	}
	if len(rep.Opinions) != 3*len(rep.Results) {
		t.Errorf("opinions = %d, want a full panel per criterion", len(rep.Opinions))
	}

	var steps []string
	for _, s := range runLog.Steps {
		steps = append(steps, s.Node)
	}
	want := []string{"detect", "adjudicate", "synthesize", "report"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d = %q, want %q", i, steps[i], want[i])
		}
	}
	if !runLog.Degraded {
		t.Error("run log degraded flag not set")
	}

	var sunk schema.AuditReport
	if err := json.Unmarshal(buf.Bytes(), &sunk); err != nil {
		t.Fatalf("sink output not valid JSON: %v", err)
	}
	if sunk.RunID != rep.RunID {
		t.Errorf("sink run ID = %q, want %q", sunk.RunID, rep.RunID)
	}
}

func TestRun_SecurityFindingCapsCriterion(t *testing.T) {
	root := fixtureRepo(t)

	// A sycophantic panel: perfect scores citing everything it was shown.
	provider := citeAllProvider{}
	rep, _, err := Run(context.Background(), Config{
		Target:   detect.Target{Root: root, Docs: []string{"DESIGN.md"}},
		Rubric:   rubric.Default(),
		Provider: provider,
		Workers:  2,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// GOV-SEC draws on repo-structure evidence, which includes the
	// security-tagged os.system finding from run.py.
	for _, r := range rep.Results {
		if r.CriterionID != "GOV-SEC" {
			continue
		}
		if r.FinalScore > 3.0 {
			t.Errorf("GOV-SEC = %v, want capped at 3.0", r.FinalScore)
		}
		found := false
		for _, o := range r.OverridesApplied {
			if o == "security-override" {
				found = true
			}
		}
		if !found {
			t.Errorf("GOV-SEC overrides = %v", r.OverridesApplied)
		}
	}
}

// citeAllProvider scores 5.0 and cites every ID in the prompt's evidence list.
type citeAllProvider struct{}

func (citeAllProvider) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	var ids []string
	for _, line := range strings.Split(user, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") {
			if end := strings.Index(line, "]"); end > 1 {
				ids = append(ids, fmt.Sprintf("%q", line[1:end]))
			}
		}
	}
	stance := "pragmatic"
	switch {
	case strings.Contains(system, "adversarial reviewer"):
		stance = "adversarial"
	case strings.Contains(system, "sympathetic reviewer"):
		stance = "sympathetic"
	}
	return fmt.Sprintf(
		`{"verdict":"pass","confidence":95,"score":5.0,"cited_evidence_ids":[%s],"rationale":"flawless from the %s seat for wholly separate reasons"}`,
		strings.Join(ids, ","), stance), nil
}

func TestRun_AllDetectorsFailedIsFatal(t *testing.T) {
	// Missing root: every detector reports a Failure, no evidence survives.
	missing := filepath.Join(t.TempDir(), "nope")

	_, runLog, err := Run(context.Background(), Config{
		Target:   detect.Target{Root: missing},
		Rubric:   rubric.Default(),
		Provider: panelProvider{},
	})
	if err == nil {
		t.Fatal("run succeeded with zero evidence sources")
	}
	if runLog == nil || len(runLog.Steps) != 1 || runLog.Steps[0].Node != "detect" {
		t.Errorf("run log = %+v, want a single detect step", runLog)
	}
}

func TestRun_NoProvider(t *testing.T) {
	_, _, err := Run(context.Background(), Config{Rubric: rubric.Default()})
	if err == nil {
		t.Fatal("nil provider accepted")
	}
}

func TestRun_InvalidRubric(t *testing.T) {
	_, _, err := Run(context.Background(), Config{
		Provider: panelProvider{},
		Rubric:   rubric.Rubric{Name: "empty"},
	})
	if err == nil {
		t.Fatal("invalid rubric accepted")
	}
}

var _ llm.Provider = panelProvider{}
var _ llm.Provider = citeAllProvider{}
