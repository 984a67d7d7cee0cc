// Package rubric loads and validates the governance rubric an audit runs
// against. The rubric is a plain YAML file so it can be swapped without a
// rebuild; Default returns the built-in rubric used when no file is given.
package rubric

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tribunal/internal/schema"
)

// Criterion is one scored rubric dimension.
type Criterion struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Weight      float64             `yaml:"weight"`
	Sources     []schema.SourceKind `yaml:"sources"`
}

// Rubric is the full set of criteria for one audit.
type Rubric struct {
	Name     string      `yaml:"name"`
	Criteria []Criterion `yaml:"criteria"`
}

// Load reads and validates a rubric from a YAML file.
func Load(path string) (Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rubric{}, fmt.Errorf("rubric: read %s: %w", path, err)
	}
	var r Rubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rubric{}, fmt.Errorf("rubric: parse %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Rubric{}, fmt.Errorf("rubric: %s: %w", path, err)
	}
	return r, nil
}

// Validate checks structural rules: at least one criterion, unique IDs,
// positive weights, and known source kinds.
func (r Rubric) Validate() error {
	if len(r.Criteria) == 0 {
		return fmt.Errorf("no criteria defined")
	}
	seen := make(map[string]bool, len(r.Criteria))
	for _, c := range r.Criteria {
		if c.ID == "" {
			return fmt.Errorf("criterion with empty id")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate criterion id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Weight <= 0 {
			return fmt.Errorf("criterion %s: weight must be positive, got %v", c.ID, c.Weight)
		}
		if len(c.Sources) == 0 {
			return fmt.Errorf("criterion %s: no evidence sources declared", c.ID)
		}
		for _, s := range c.Sources {
			if !s.Valid() {
				return fmt.Errorf("criterion %s: unknown source kind %q", c.ID, s)
			}
		}
	}
	return nil
}

// Criterion returns the criterion with the given ID.
func (r Rubric) Criterion(id string) (Criterion, bool) {
	for _, c := range r.Criteria {
		if c.ID == id {
			return c, true
		}
	}
	return Criterion{}, false
}

// Default returns the built-in governance rubric.
func Default() Rubric {
	return Rubric{
		Name: "default-governance",
		Criteria: []Criterion{
			{
				ID:          "GOV-ARCH",
				Name:        "Architecture & Orchestration",
				Description: "The repository shows deliberate structure: clear module boundaries, explicit wiring between components, and no god objects.",
				Weight:      1.5,
				Sources:     []schema.SourceKind{schema.SourceRepoStructure, schema.SourceDiagramPattern},
			},
			{
				ID:          "GOV-STATE",
				Name:        "State & Data Integrity",
				Description: "Shared state is managed safely: typed records, explicit merge semantics, no unguarded global mutation.",
				Weight:      1.5,
				Sources:     []schema.SourceKind{schema.SourceRepoStructure, schema.SourceDocumentSnippet},
			},
			{
				ID:          "GOV-SEC",
				Name:        "Security Posture",
				Description: "No dangerous execution primitives, unsafe deserialization, or injection-prone string building.",
				Weight:      2.0,
				Sources:     []schema.SourceKind{schema.SourceRepoStructure},
			},
			{
				ID:          "GOV-DOCS",
				Name:        "Documentation Quality",
				Description: "Documentation explains design intent and matches the code it describes.",
				Weight:      1.0,
				Sources:     []schema.SourceKind{schema.SourceDocumentSnippet, schema.SourceDiagramPattern},
			},
			{
				ID:          "GOV-HIST",
				Name:        "Development Discipline",
				Description: "Version history shows iteration and review rather than a single bulk drop.",
				Weight:      1.0,
				Sources:     []schema.SourceKind{schema.SourceVersionHistory},
			},
		},
	}
}
