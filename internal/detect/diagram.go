package detect

import (
	"context"
	"fmt"
	"strings"

	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// diagramInfos are fence info strings treated as diagram sources.
var diagramInfos = map[string]bool{
	"mermaid":  true,
	"dot":      true,
	"graphviz": true,
	"plantuml": true,
	"d2":       true,
}

// Diagram extracts fenced diagram blocks from the target documents and
// labels the pattern each one encodes.
type Diagram struct {
	refs []string
}

// NewDiagram builds the diagram detector for a rubric.
func NewDiagram(r rubric.Rubric) *Diagram {
	return &Diagram{refs: refsFor(r, schema.SourceDiagramPattern)}
}

func (d *Diagram) Name() string            { return "diagram" }
func (d *Diagram) Kind() schema.SourceKind { return schema.SourceDiagramPattern }

// Detect scans each document for diagram blocks. Finding none is a Failure
// (nothing to grade), not an empty success.
func (d *Diagram) Detect(ctx context.Context, target Target) ([]schema.EvidenceItem, error) {
	docs := resolveDocs(target)
	if len(docs) == 0 {
		return nil, &Failure{Detector: d.Name(), Reason: "no documents to analyze"}
	}

	var items []schema.EvidenceItem
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, &Failure{Detector: d.Name(), Reason: "canceled", Err: err}
		}
		lines, err := readLines(doc)
		if err != nil {
			continue
		}
		rel := docLabel(target.Root, doc)
		for _, block := range extractFenced(lines) {
			if !diagramInfos[block.Info] {
				continue
			}
			pattern, nodes := classifyDiagram(block)
			items = append(items, schema.EvidenceItem{
				ID:            newID("dia"),
				SourceKind:    schema.SourceDiagramPattern,
				CriterionRefs: d.refs,
				Summary:       fmt.Sprintf("%s diagram (%s) in %s", block.Info, pattern, rel),
				Attrs: map[string]string{
					"pattern": pattern,
					"shape":   nodes,
				},
				Locator: fmt.Sprintf("%s:%d-%d", rel, block.LineStart, block.LineEnd),
			})
		}
	}

	if len(items) == 0 {
		return nil, &Failure{Detector: d.Name(), Reason: "no diagram blocks found"}
	}
	return items, nil
}

// classifyDiagram labels the pattern a diagram block encodes from its
// declaration line, and summarizes its size (edge count) for the scorers.
func classifyDiagram(block fencedBlock) (pattern, shape string) {
	pattern = "unknown"
	for _, line := range block.Body {
		first := strings.ToLower(strings.TrimSpace(line))
		if first == "" {
			continue
		}
		switch {
		case strings.HasPrefix(first, "graph"), strings.HasPrefix(first, "flowchart"):
			pattern = "flowchart"
		case strings.HasPrefix(first, "sequencediagram"):
			pattern = "sequence"
		case strings.HasPrefix(first, "classdiagram"):
			pattern = "class"
		case strings.HasPrefix(first, "statediagram"):
			pattern = "state"
		case strings.HasPrefix(first, "digraph"), strings.HasPrefix(first, "strict digraph"):
			pattern = "directed-graph"
		case strings.HasPrefix(first, "erdiagram"):
			pattern = "entity-relation"
		}
		break
	}

	edges := 0
	for _, line := range block.Body {
		edges += strings.Count(line, "->") // matches both -> and -->
	}
	shape = fmt.Sprintf("%d lines, ~%d edges", len(block.Body), edges)
	return pattern, shape
}
