// Package pipeline wires the detectors, the scorer panel, synthesis, and the
// report sink into one executable graph per run. All run state lives in an
// explicit context object owned by the run; there are no package globals.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tribunal/internal/adjudicate"
	"tribunal/internal/detect"
	"tribunal/internal/graph"
	"tribunal/internal/llm"
	"tribunal/internal/persona"
	"tribunal/internal/report"
	"tribunal/internal/rubric"
	"tribunal/internal/schema"
	"tribunal/internal/state"
	"tribunal/internal/synthesis"
)

// Config holds everything a run needs. Provider and Sink are required; the
// rest has workable defaults.
type Config struct {
	Target      detect.Target
	Rubric      rubric.Rubric
	Provider    llm.Provider
	MaxTokens   int
	Workers     int
	TaskTimeout time.Duration
	Sink        report.Sink
	Log         *zap.Logger
}

// RunContext is the shared state of one run. Detector output accumulates in
// the bundle until the detect reducer freezes it; decisions and results are
// written single-threaded by reducers and leaf tasks.
type RunContext struct {
	RunID  string
	Bundle *state.EvidenceBundle

	mu        sync.Mutex
	decisions map[string]*adjudicate.Decision
	results   []schema.SynthesisResult
	notes     []string
	degraded  bool
	report    *schema.AuditReport
}

func (rc *RunContext) note(format string, args ...any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.notes = append(rc.notes, fmt.Sprintf(format, args...))
}

// Run executes a full audit: detect, adjudicate, synthesize, report.
// The returned run log carries the per-node trace even when the run fails.
func Run(ctx context.Context, cfg Config) (*schema.AuditReport, *graph.RunLog, error) {
	if cfg.Provider == nil {
		return nil, nil, fmt.Errorf("pipeline: no provider configured")
	}
	if err := cfg.Rubric.Validate(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: rubric: %w", err)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	rc := &RunContext{
		RunID:     uuid.NewString(),
		Bundle:    state.NewEvidenceBundle(),
		decisions: map[string]*adjudicate.Decision{},
	}

	spec := buildSpec(cfg, rc)
	engine := graph.New(cfg.Workers, cfg.Log)
	runLog, err := engine.Run(ctx, spec)
	if err != nil {
		return nil, runLog, err
	}
	return rc.report, runLog, nil
}

// buildSpec assembles the run topology:
//
//	detect ──► adjudicate ──► synthesize ──► report ──► End
//
// Partial detector or panel results continue on the degraded path; only a
// node with zero successes routes to Fatal.
func buildSpec(cfg Config, rc *RunContext) *graph.Spec {
	panel := adjudicate.New(cfg.Provider, cfg.MaxTokens, cfg.Log)

	return &graph.Spec{
		Entry: "detect",
		Nodes: []*graph.Node{
			detectNode(cfg, rc),
			adjudicateNode(cfg, rc, panel),
			synthesizeNode(cfg, rc),
			reportNode(cfg, rc),
		},
	}
}

// detectNode fans out one task per detector. The reducer merges all evidence
// into the bundle and freezes it; from then on the evidence is immutable.
func detectNode(cfg Config, rc *RunContext) *graph.Node {
	detectors := detect.All(cfg.Rubric)
	tasks := make([]graph.Task, 0, len(detectors))
	for _, d := range detectors {
		d := d
		tasks = append(tasks, graph.Task{
			Name:    "detect/" + d.Name(),
			Timeout: cfg.TaskTimeout,
			Run: func(ctx context.Context) graph.Result {
				items, err := d.Detect(ctx, cfg.Target)
				if err != nil {
					var f *detect.Failure
					if errors.As(err, &f) {
						// Known detector fault: the run continues on
						// whatever the other detectors produced.
						return graph.Result{Kind: graph.KindPartial, Err: err}
					}
					return graph.Result{Kind: graph.KindFailed, Err: err}
				}
				return graph.Result{Kind: graph.KindOK, Value: items}
			},
		})
	}

	return &graph.Node{
		Name:  "detect",
		Tasks: tasks,
		Reduce: func(results []graph.TaskResult) graph.Kind {
			for _, r := range results {
				if items, ok := r.Value.([]schema.EvidenceItem); ok {
					if err := rc.Bundle.Add(items...); err != nil {
						rc.note("evidence from %s dropped: %v", r.Task, err)
					}
				}
				if r.Err != nil {
					rc.note("%s: %v", r.Task, r.Err)
				}
			}
			rc.Bundle.Freeze()
			agg := graph.DefaultReduce(results)
			if agg != graph.KindOK {
				rc.mu.Lock()
				rc.degraded = true
				rc.mu.Unlock()
			}
			return agg
		},
		Edges: map[graph.Kind]string{
			graph.KindOK:         "adjudicate",
			graph.KindPartial:    "adjudicate",
			graph.KindFailed:     graph.Fatal,
			graph.KindParseError: graph.Fatal,
		},
	}
}

// adjudicateNode fans out one panel task per criterion. Each task sees only
// the frozen evidence referencing its criterion.
func adjudicateNode(cfg Config, rc *RunContext, panel *adjudicate.Panel) *graph.Node {
	tasks := make([]graph.Task, 0, len(cfg.Rubric.Criteria))
	for _, c := range cfg.Rubric.Criteria {
		c := c
		tasks = append(tasks, graph.Task{
			Name:    "adjudicate/" + c.ID,
			Timeout: cfg.TaskTimeout,
			Run: func(ctx context.Context) graph.Result {
				d, err := panel.Adjudicate(ctx, c, rc.Bundle.ForCriterion(c.ID))
				if err != nil {
					return graph.Result{Kind: graph.KindFailed, Err: err}
				}
				kind := graph.KindOK
				if d.Unscored {
					kind = graph.KindPartial
				}
				return graph.Result{Kind: kind, Value: d}
			},
		})
	}

	return &graph.Node{
		Name:  "adjudicate",
		Tasks: tasks,
		Reduce: func(results []graph.TaskResult) graph.Kind {
			for _, r := range results {
				if d, ok := r.Value.(*adjudicate.Decision); ok {
					rc.decisions[d.CriterionID] = d
				}
				if r.Err != nil {
					rc.note("%s: %v", r.Task, r.Err)
				}
			}
			return graph.DefaultReduce(results)
		},
		Edges: map[graph.Kind]string{
			graph.KindOK:         "synthesize",
			graph.KindPartial:    "synthesize",
			graph.KindFailed:     graph.Fatal,
			graph.KindParseError: graph.Fatal,
		},
	}
}

// synthesizeNode is a pure leaf: it resolves every decision through the rule
// chain in rubric order.
func synthesizeNode(cfg Config, rc *RunContext) *graph.Node {
	return &graph.Node{
		Name: "synthesize",
		Tasks: []graph.Task{{
			Name: "synthesize",
			Run: func(ctx context.Context) graph.Result {
				weights := persona.Weights()
				for _, c := range cfg.Rubric.Criteria {
					d, ok := rc.decisions[c.ID]
					if !ok {
						rc.note("criterion %s was never adjudicated", c.ID)
						continue
					}
					rc.results = append(rc.results, synthesis.Resolve(d, rc.Bundle, weights))
				}
				if len(rc.results) == 0 {
					return graph.Result{Kind: graph.KindFailed, Err: fmt.Errorf("pipeline: no criteria synthesized")}
				}
				return graph.Result{Kind: graph.KindOK}
			},
		}},
		Edges: map[graph.Kind]string{
			graph.KindOK:         "report",
			graph.KindPartial:    "report",
			graph.KindFailed:     graph.Fatal,
			graph.KindParseError: graph.Fatal,
		},
	}
}

// reportNode assembles the audit report and emits it through the sink.
func reportNode(cfg Config, rc *RunContext) *graph.Node {
	return &graph.Node{
		Name: "report",
		Tasks: []graph.Task{{
			Name: "report",
			Run: func(ctx context.Context) graph.Result {
				rc.report = report.Build(report.Inputs{
					RunID:    rc.RunID,
					Target:   cfg.Target.Root,
					Rubric:   cfg.Rubric,
					Results:  rc.results,
					Evidence: rc.Bundle.Items(),
					Opinions: rc.allOpinions(cfg.Rubric),
					Degraded: rc.degraded,
					Notes:    rc.notes,
				})
				if cfg.Sink != nil {
					if err := cfg.Sink.Emit(rc.report); err != nil {
						return graph.Result{Kind: graph.KindFailed, Err: err}
					}
				}
				return graph.Result{Kind: graph.KindOK}
			},
		}},
		Edges: map[graph.Kind]string{
			graph.KindOK:         graph.End,
			graph.KindPartial:    graph.End,
			graph.KindFailed:     graph.Fatal,
			graph.KindParseError: graph.Fatal,
		},
	}
}

// allOpinions collects accepted opinions in rubric order for the report.
func (rc *RunContext) allOpinions(r rubric.Rubric) []schema.Opinion {
	var out []schema.Opinion
	for _, c := range r.Criteria {
		if d, ok := rc.decisions[c.ID]; ok {
			out = append(out, d.Opinions.Opinions()...)
		}
	}
	return out
}
