package detect

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// maxExcerptWords bounds the excerpt stored per snippet so evidence stays a
// record, not a document dump.
const maxExcerptWords = 80

// DocSnippet segments the target's documents into heading-delimited snippet
// evidence with file/line locators.
type DocSnippet struct {
	refs []string
}

// NewDocSnippet builds the document detector for a rubric.
func NewDocSnippet(r rubric.Rubric) *DocSnippet {
	return &DocSnippet{refs: refsFor(r, schema.SourceDocumentSnippet)}
}

func (d *DocSnippet) Name() string            { return "docsnippet" }
func (d *DocSnippet) Kind() schema.SourceKind { return schema.SourceDocumentSnippet }

// Detect reads every target document and emits one item per section.
func (d *DocSnippet) Detect(ctx context.Context, target Target) ([]schema.EvidenceItem, error) {
	docs := resolveDocs(target)
	if len(docs) == 0 {
		return nil, &Failure{Detector: d.Name(), Reason: "no documents to analyze"}
	}

	var items []schema.EvidenceItem
	var unreadable []string
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, &Failure{Detector: d.Name(), Reason: "canceled", Err: err}
		}
		lines, err := readLines(doc)
		if err != nil {
			unreadable = append(unreadable, doc)
			continue
		}
		rel := docLabel(target.Root, doc)
		for _, sec := range splitSections(lines) {
			heading := sec.Heading
			if heading == "" {
				heading = "(preamble)"
			}
			items = append(items, schema.EvidenceItem{
				ID:            newID("doc"),
				SourceKind:    schema.SourceDocumentSnippet,
				CriterionRefs: d.refs,
				Summary:       fmt.Sprintf("section %q in %s", heading, rel),
				Attrs:         map[string]string{"excerpt": excerpt(sec.Body)},
				Locator:       fmt.Sprintf("%s:%d-%d", rel, sec.LineStart, sec.LineEnd),
			})
		}
	}

	if len(items) == 0 {
		return nil, &Failure{
			Detector: d.Name(),
			Reason:   fmt.Sprintf("no readable documents (tried %d)", len(docs)),
		}
	}
	return items, nil
}

// resolveDocs returns the document paths for a target, resolving relative
// paths against Root.
func resolveDocs(target Target) []string {
	out := make([]string, 0, len(target.Docs))
	for _, doc := range target.Docs {
		if !filepath.IsAbs(doc) {
			doc = filepath.Join(target.Root, doc)
		}
		out = append(out, doc)
	}
	return out
}

// docLabel renders a document path relative to the target root when possible.
func docLabel(root, doc string) string {
	if rel, err := filepath.Rel(root, doc); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filepath.Base(doc)
}

// excerpt joins body lines and truncates to maxExcerptWords.
func excerpt(body []string) string {
	words := strings.Fields(strings.Join(body, " "))
	if len(words) > maxExcerptWords {
		words = append(words[:maxExcerptWords], "…")
	}
	return strings.Join(words, " ")
}
