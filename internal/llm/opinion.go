package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"tribunal/internal/schema"
)

// ValidationError records a single validation failure on a scorer response.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Fatal reports whether errs contain a failure that makes the opinion
// unusable. Dropped citation IDs are recorded but do not force a retry.
func Fatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Field != "cited_evidence_ids" {
			return true
		}
	}
	return false
}

// opinionWire is the JSON shape scorers are instructed to emit. Pointer
// fields distinguish a missing key from a zero value.
type opinionWire struct {
	Verdict          string   `json:"verdict"`
	Confidence       *int     `json:"confidence"`
	Score            *float64 `json:"score"`
	CitedEvidenceIDs []string `json:"cited_evidence_ids"`
	Rationale        string   `json:"rationale"`
}

// ParseOpinion parses and validates a raw scorer response. Leading and
// trailing markdown fences are stripped before parsing, and invalid JSON
// escapes get one sanitization pass. Cited evidence IDs are checked against
// the evidence the scorer was actually shown: unknown IDs are dropped and
// recorded as non-fatal errors. A nil opinion means the response is
// unusable and the caller should retry with the errors fed back.
func ParseOpinion(raw, criterionID string, scorer schema.ScorerIdentity, shown map[string]bool) (*schema.Opinion, []ValidationError) {
	var errs []ValidationError

	raw = stripMarkdownFences(raw)

	var wire opinionWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		fixed := fixInvalidJSONEscapes(raw)
		if err2 := json.Unmarshal([]byte(fixed), &wire); err2 != nil {
			errs = append(errs, ValidationError{Field: "json_parse", Message: err.Error()})
			return nil, errs
		}
	}

	verdict := schema.Verdict(strings.ToLower(strings.TrimSpace(wire.Verdict)))
	switch verdict {
	case schema.VerdictPass, schema.VerdictWarn, schema.VerdictFail:
	case "":
		errs = append(errs, ValidationError{Field: "verdict", Message: "verdict is missing"})
	default:
		errs = append(errs, ValidationError{Field: "verdict", Message: fmt.Sprintf("invalid verdict %q", wire.Verdict)})
	}

	if wire.Confidence == nil {
		errs = append(errs, ValidationError{Field: "confidence", Message: "confidence is missing"})
	} else if *wire.Confidence < 0 || *wire.Confidence > 100 {
		errs = append(errs, ValidationError{Field: "confidence", Message: fmt.Sprintf("confidence %d outside 0-100", *wire.Confidence)})
	}

	if wire.Score == nil {
		errs = append(errs, ValidationError{Field: "score", Message: "score is missing"})
	} else if *wire.Score < 0.0 || *wire.Score > 5.0 {
		errs = append(errs, ValidationError{Field: "score", Message: fmt.Sprintf("score %.2f outside 0.0-5.0", *wire.Score)})
	}

	if strings.TrimSpace(wire.Rationale) == "" {
		errs = append(errs, ValidationError{Field: "rationale", Message: "rationale is missing"})
	}

	if Fatal(errs) {
		return nil, errs
	}

	var cited []string
	for _, id := range wire.CitedEvidenceIDs {
		if !shown[id] {
			errs = append(errs, ValidationError{
				Field:   "cited_evidence_ids",
				Message: fmt.Sprintf("id %q was not in the evidence shown; dropped", id),
			})
			continue
		}
		cited = append(cited, id)
	}

	return &schema.Opinion{
		CriterionID:      criterionID,
		Scorer:           scorer,
		Verdict:          verdict,
		Confidence:       *wire.Confidence,
		Score:            *wire.Score,
		CitedEvidenceIDs: cited,
		Rationale:        strings.TrimSpace(wire.Rationale),
	}, errs
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences. The content group
// uses `.*?` (not `.+?`) to allow empty bodies inside fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line (no closing fence required).
// Used to strip orphaned opening fences from truncated responses.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that
// models sometimes wrap around JSON output (e.g., "```json\n...\n```").
// If only an opening fence is present the opening line is stripped so that
// the JSON content can still be parsed.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape. Models sometimes emit regex patterns
// (e.g. \d+) unescaped inside JSON strings; the sanitizer double-escapes them
// so the parser accepts the response.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}
