// Package report assembles the final audit report and produces output from
// it. Assembly is pure; sinks own the I/O.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// Inputs carries everything a finished run feeds into the report.
type Inputs struct {
	RunID    string
	Target   string
	Rubric   rubric.Rubric
	Results  []schema.SynthesisResult
	Evidence []schema.EvidenceItem
	Opinions []schema.Opinion
	Degraded bool
	Notes    []string
}

// Build assembles the audit report. The overall score is the
// criterion-weighted mean of scored results; unscored criteria are excluded
// from the mean but still listed. Results are ordered by rubric position.
func Build(in Inputs) *schema.AuditReport {
	byID := make(map[string]schema.SynthesisResult, len(in.Results))
	for _, r := range in.Results {
		byID[r.CriterionID] = r
	}

	var ordered []schema.SynthesisResult
	var sum, total float64
	for _, c := range in.Rubric.Criteria {
		r, ok := byID[c.ID]
		if !ok {
			continue
		}
		ordered = append(ordered, r)
		if r.Unscored {
			continue
		}
		sum += r.FinalScore * c.Weight
		total += c.Weight
	}

	overall := 0.0
	if total > 0 {
		overall = sum / total
	}

	return &schema.AuditReport{
		RunID:        in.RunID,
		Target:       in.Target,
		Timestamp:    time.Now().UTC(),
		OverallScore: overall,
		Results:      ordered,
		Evidence:     in.Evidence,
		Opinions:     in.Opinions,
		Degraded:     in.Degraded,
		RunNotes:     in.Notes,
	}
}

// Format selects a report rendering.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Render produces the report in the requested format.
func Render(report *schema.AuditReport, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return RenderJSON(report)
	case FormatMarkdown:
		return []byte(RenderMarkdown(report)), nil
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
}

// RenderJSON produces a pretty-printed JSON representation of the report.
// The output round-trips through json.Unmarshal back to an equal report.
func RenderJSON(report *schema.AuditReport) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("report: nil report")
	}
	b, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: json marshal: %w", err)
	}
	return b, nil
}

// RenderMarkdown produces a GitHub-flavoured Markdown summary, suitable for
// PR comments or terminal output. Every criterion in the report appears.
func RenderMarkdown(report *schema.AuditReport) string {
	if report == nil {
		return ""
	}
	var sb strings.Builder

	sb.WriteString("## Tribunal Audit\n\n")
	fmt.Fprintf(&sb, "**Target:** `%s`  \n", report.Target)
	fmt.Fprintf(&sb, "**Run:** %s  \n", report.RunID)
	fmt.Fprintf(&sb, "**Overall:** %.2f/5.0\n\n", report.OverallScore)
	if report.Degraded {
		sb.WriteString("> Degraded run: one or more detectors failed and scoring " +
			"used partial evidence.\n\n")
	}

	if len(report.Results) > 0 {
		sb.WriteString("## Criteria\n\n")
		sb.WriteString("| Criterion | Score | Overrides | Flags |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, r := range report.Results {
			score := fmt.Sprintf("%.2f", r.FinalScore)
			if r.Unscored {
				score = "unscored"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n",
				r.CriterionID, score, mdEscape(strings.Join(r.OverridesApplied, ", ")), flags(r))
		}
		sb.WriteString("\n")
	}

	for _, r := range report.Results {
		if !r.VarianceDetected && !r.Unscored && len(r.AbsentScorers) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "<details>\n<summary><strong>%s</strong> — %s</summary>\n\n",
			r.CriterionID, detailCaption(r))
		if r.DissentSummary != "" {
			fmt.Fprintf(&sb, "**Dissent:** %s\n\n", mdEscape(r.DissentSummary))
		}
		if len(r.AbsentScorers) > 0 {
			fmt.Fprintf(&sb, "**Absent scorers:** %s\n\n", joinIdentities(r.AbsentScorers))
		}
		if len(r.CitedEvidenceIDs) > 0 {
			sb.WriteString("**Cited evidence:**\n\n")
			for _, id := range r.CitedEvidenceIDs {
				fmt.Fprintf(&sb, "- `%s`\n", id)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("</details>\n\n")
	}

	if len(report.RunNotes) > 0 {
		sb.WriteString("## Run Notes\n\n")
		for _, n := range report.RunNotes {
			fmt.Fprintf(&sb, "- %s\n", mdEscape(n))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// flags renders the boolean result markers for the criteria table.
func flags(r schema.SynthesisResult) string {
	var out []string
	if r.VarianceDetected {
		out = append(out, "variance")
	}
	if r.PersonaCollapse {
		out = append(out, "collapse")
	}
	if r.FallbackUsed {
		out = append(out, "fallback")
	}
	if r.Unscored {
		out = append(out, "unscored")
	}
	return strings.Join(out, ", ")
}

func detailCaption(r schema.SynthesisResult) string {
	if r.Unscored {
		return fmt.Sprintf("unscored (%s)", r.Severity)
	}
	return fmt.Sprintf("%.2f/5.0", r.FinalScore)
}

func joinIdentities(ids []schema.ScorerIdentity) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

// mdEscape replaces characters that would break Markdown table cells.
func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

// ── Sinks ────────────────────────────────────────────────────────────────────

// Sink delivers a rendered report somewhere.
type Sink interface {
	Emit(report *schema.AuditReport) error
}

// WriterSink renders into an io.Writer (stdout, a buffer).
type WriterSink struct {
	W      io.Writer
	Format Format
}

// Emit renders and writes the report.
func (s WriterSink) Emit(report *schema.AuditReport) error {
	b, err := Render(report, s.Format)
	if err != nil {
		return err
	}
	if _, err := s.W.Write(b); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}

// FileSink renders into a file, replacing any previous content.
type FileSink struct {
	Path   string
	Format Format
}

// Emit renders and writes the report to the sink's path.
func (s FileSink) Emit(report *schema.AuditReport) error {
	b, err := Render(report, s.Format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, b, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", s.Path, err)
	}
	return nil
}
