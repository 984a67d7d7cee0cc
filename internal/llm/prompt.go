package llm

import (
	"fmt"
	"sort"
	"strings"

	"tribunal/internal/persona"
	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// BuildSystemPrompt assembles the system prompt for one scorer persona.
// The persona stance comes first so it frames everything that follows.
func BuildSystemPrompt(p persona.Config, strengthened bool) string {
	var sb strings.Builder

	sb.WriteString(p.Stance)
	sb.WriteString("\n\n")

	if strengthened && p.CollapseAddendum != "" {
		sb.WriteString(p.CollapseAddendum)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Output ONLY valid JSON conforming to the schema below. " +
		"No prose, no markdown, no explanation outside the JSON.\n\n")

	sb.WriteString("Only cite evidence IDs that appear in the EVIDENCE list below. " +
		"Never fabricate IDs. If no evidence supports your verdict, " +
		"set cited_evidence_ids to [] and explain in the rationale.\n\n")

	sb.WriteString(opinionSchema)

	return sb.String()
}

// opinionSchema is the JSON schema fragment shown to every scorer.
const opinionSchema = `Output schema (JSON only):
{
  "verdict": "pass|warn|fail",
  "confidence": 85,
  "score": 3.5,
  "cited_evidence_ids": ["st-a1b2c3d4"],
  "rationale": "one short paragraph grounding the score in the cited evidence"
}
Rules: confidence is an integer 0-100, score is a number 0.0-5.0.
`

// BuildUserPrompt renders one criterion and its evidence view for a scorer.
func BuildUserPrompt(c rubric.Criterion, evidence []schema.EvidenceItem) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "CRITERION %s: %s\n%s\n", c.ID, c.Name, c.Description)

	sb.WriteString("\nEVIDENCE:\n")
	if len(evidence) == 0 {
		sb.WriteString("  (none collected for this criterion)\n")
	}
	for _, item := range evidence {
		fmt.Fprintf(&sb, "  [%s] (%s) %s\n", item.ID, item.SourceKind, item.Summary)
		if item.Locator != "" {
			fmt.Fprintf(&sb, "      at %s\n", item.Locator)
		}
		keys := make([]string, 0, len(item.Attrs))
		for k := range item.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "      %s: %s\n", k, item.Attrs[k])
		}
		if item.Security {
			sb.WriteString("      security-relevant finding\n")
		}
	}

	sb.WriteString("\nProduce the JSON opinion now.")
	return sb.String()
}

// BuildRepairPrompt constructs the retry message after a validation failure.
// It includes the original prompt and the previous invalid response so the
// model has full context.
func BuildRepairPrompt(originalUserPrompt, previousResponse string, errs []ValidationError) string {
	var sb strings.Builder
	sb.WriteString(originalUserPrompt)
	sb.WriteString("\n\nYour previous response was:\n")
	sb.WriteString(previousResponse)
	sb.WriteString("\n\nThat response was invalid. Errors:\n")
	for _, e := range errs {
		fmt.Fprintf(&sb, "  - %s\n", e.Error())
	}
	sb.WriteString("\nOutput only the corrected JSON conforming to the schema. Do not repeat the error.")
	return sb.String()
}
