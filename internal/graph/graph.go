// Package graph implements the task-graph execution engine: named nodes that
// are either a single leaf task or a fan-out group, a reducer that merges
// group results, and conditional edges keyed by result kind. Graph topology
// is static per run; only task outcomes vary.
package graph

import (
	"context"
	"fmt"
	"time"
)

// Kind classifies a task or node outcome. Edge maps must be total over
// AllKinds; an unmapped kind is a configuration error caught at validation
// time, never at execution time.
type Kind string

const (
	KindOK         Kind = "ok"
	KindPartial    Kind = "partial"
	KindFailed     Kind = "failed"
	KindParseError Kind = "parse-error"
)

// AllKinds lists every result kind an edge map must cover.
var AllKinds = []Kind{KindOK, KindPartial, KindFailed, KindParseError}

// Edge targets with reserved meaning.
const (
	// End terminates the run successfully.
	End = "__end__"
	// Fatal terminates the run with an error. Routing here is the only way
	// a task outcome can abort a run.
	Fatal = "__fatal__"
)

// Result is what a task function returns.
type Result struct {
	Kind  Kind
	Value any
	Err   error
}

// TaskFunc is the unit of work. Implementations must honor ctx cancellation
// and surface internal faults through Result, not panics.
type TaskFunc func(ctx context.Context) Result

// Task is one schedulable unit inside a node.
type Task struct {
	Name string
	// Timeout bounds a single attempt. Zero means no per-task timeout.
	Timeout time.Duration
	// Retries is the number of re-attempts after the first failure.
	// Default 0: most leaves are not retried, the graph routes around them.
	Retries int
	Run     TaskFunc
}

// TaskResult records the terminal outcome of one task.
type TaskResult struct {
	Task     string
	Kind     Kind
	Value    any
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Reducer merges the terminal results of a node's tasks into shared state
// and returns the node's aggregate kind. The engine calls it exactly once
// per node, single-threaded, after every task has reached a terminal state.
type Reducer func(results []TaskResult) Kind

// Node is one vertex in the graph: a leaf (one task) or a fan-out group
// (several tasks started together and merged by Reduce).
type Node struct {
	Name  string
	Tasks []Task
	// Reduce merges task results and picks the aggregate kind. Optional:
	// when nil, DefaultReduce is used.
	Reduce Reducer
	// Edges routes the aggregate kind to the next node, End, or Fatal.
	// Must map every kind in AllKinds.
	Edges map[Kind]string
}

// Spec is a validated, immutable description of a run's topology.
type Spec struct {
	Entry string
	Nodes []*Node
}

// ConfigError reports a malformed graph specification. It is the only error
// class that aborts a run before any task executes.
type ConfigError struct {
	Node   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("graph: config: %s", e.Reason)
	}
	return fmt.Sprintf("graph: config: node %q: %s", e.Node, e.Reason)
}

// DefaultReduce aggregates task kinds without touching state: ok when every
// task succeeded, failed when none did, partial otherwise.
func DefaultReduce(results []TaskResult) Kind {
	ok := 0
	for _, r := range results {
		if r.Kind == KindOK {
			ok++
		}
	}
	switch {
	case ok == len(results):
		return KindOK
	case ok == 0:
		return KindFailed
	default:
		return KindPartial
	}
}

// node returns the named node, or nil.
func (s *Spec) node(name string) *Node {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Validate checks the spec for configuration errors: missing entry,
// duplicate or empty node names, task-less nodes, non-total or dangling
// edge maps, cycles, and unreachable nodes.
func (s *Spec) Validate() error {
	if len(s.Nodes) == 0 {
		return &ConfigError{Reason: "no nodes"}
	}
	names := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Name == "" {
			return &ConfigError{Reason: "node with empty name"}
		}
		if n.Name == End || n.Name == Fatal {
			return &ConfigError{Node: n.Name, Reason: "name collides with a reserved target"}
		}
		if names[n.Name] {
			return &ConfigError{Node: n.Name, Reason: "duplicate node name"}
		}
		names[n.Name] = true
	}
	if s.Entry == "" || !names[s.Entry] {
		return &ConfigError{Reason: fmt.Sprintf("entry node %q not defined", s.Entry)}
	}

	for _, n := range s.Nodes {
		if len(n.Tasks) == 0 {
			return &ConfigError{Node: n.Name, Reason: "no tasks"}
		}
		for _, t := range n.Tasks {
			if t.Run == nil {
				return &ConfigError{Node: n.Name, Reason: fmt.Sprintf("task %q has no function", t.Name)}
			}
			if t.Retries < 0 {
				return &ConfigError{Node: n.Name, Reason: fmt.Sprintf("task %q has negative retries", t.Name)}
			}
		}
		for _, k := range AllKinds {
			target, mapped := n.Edges[k]
			if !mapped {
				return &ConfigError{Node: n.Name, Reason: fmt.Sprintf("result kind %q has no edge", k)}
			}
			if target != End && target != Fatal && !names[target] {
				return &ConfigError{Node: n.Name, Reason: fmt.Sprintf("edge for %q targets unknown node %q", k, target)}
			}
		}
		for k := range n.Edges {
			if !kindKnown(k) {
				return &ConfigError{Node: n.Name, Reason: fmt.Sprintf("edge for unknown result kind %q", k)}
			}
		}
	}

	if err := s.checkCycles(); err != nil {
		return err
	}
	return s.checkReachability()
}

func kindKnown(k Kind) bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// checkCycles rejects any cycle over the edge relation. Bounded repetition
// belongs in per-task retry counts, not in graph loops, so every edge path
// must terminate.
func (s *Spec) checkCycles() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	mark := make(map[string]int, len(s.Nodes))

	var visit func(name string) error
	visit = func(name string) error {
		if name == End || name == Fatal {
			return nil
		}
		switch mark[name] {
		case inStack:
			return &ConfigError{Node: name, Reason: "cyclic dependency"}
		case done:
			return nil
		}
		mark[name] = inStack
		for _, target := range s.node(name).Edges {
			if err := visit(target); err != nil {
				return err
			}
		}
		mark[name] = done
		return nil
	}
	return visit(s.Entry)
}

// checkReachability rejects nodes no edge path from the entry can reach.
func (s *Spec) checkReachability() error {
	reached := map[string]bool{s.Entry: true}
	queue := []string{s.Entry}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, target := range s.node(name).Edges {
			if target == End || target == Fatal || reached[target] {
				continue
			}
			reached[target] = true
			queue = append(queue, target)
		}
	}
	for _, n := range s.Nodes {
		if !reached[n.Name] {
			return &ConfigError{Node: n.Name, Reason: "unreachable from entry"}
		}
	}
	return nil
}
