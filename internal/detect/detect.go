// Package detect implements the evidence-producing detector tasks. Each
// detector analyzes one dimension of the target (tree structure, documents,
// diagrams, git history) and returns immutable evidence items; faults
// surface as a typed *Failure, never as a panic into the graph engine.
package detect

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tribunal/internal/rubric"
	"tribunal/internal/schema"
)

// Target identifies what a run inspects.
type Target struct {
	// Root is the repository tree to analyze.
	Root string
	// Docs are paths to design/readme documents, relative to Root or
	// absolute. When empty, detectors that need documents report a Failure
	// with nothing found.
	Docs []string
}

// Detector produces evidence for one source kind.
type Detector interface {
	Name() string
	Kind() schema.SourceKind
	Detect(ctx context.Context, target Target) ([]schema.EvidenceItem, error)
}

// Failure is the typed, non-fatal error a detector returns. The pipeline
// records it and continues with partial evidence.
type Failure struct {
	Detector string
	Reason   string
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("detect: %s: %s: %v", f.Detector, f.Reason, f.Err)
	}
	return fmt.Sprintf("detect: %s: %s", f.Detector, f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// All returns the full detector set for a rubric.
func All(r rubric.Rubric) []Detector {
	return []Detector{
		NewStructure(r),
		NewDocSnippet(r),
		NewDiagram(r),
		NewHistory(r),
	}
}

// refsFor returns the IDs of criteria that draw evidence from kind.
func refsFor(r rubric.Rubric, kind schema.SourceKind) []string {
	var refs []string
	for _, c := range r.Criteria {
		for _, s := range c.Sources {
			if s == kind {
				refs = append(refs, c.ID)
				break
			}
		}
	}
	return refs
}

// newID mints a unique evidence ID with a kind-specific prefix.
func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
