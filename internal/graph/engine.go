package graph

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StepLog records one executed node: every task's terminal result, the
// aggregate kind the reducer chose, and the edge taken.
type StepLog struct {
	Node      string
	Results   []TaskResult
	Aggregate Kind
	Next      string
}

// RunLog is the execution trace of one run.
type RunLog struct {
	Started  time.Time
	Finished time.Time
	Steps    []StepLog
	// Degraded is set when any task ended in a non-ok terminal state but
	// the run continued on a non-fatal edge.
	Degraded bool
}

// Engine executes validated graph specs on a bounded worker pool.
type Engine struct {
	workers int
	log     *zap.Logger
}

// New returns an engine running at most workers tasks concurrently.
// workers < 1 is treated as 1.
func New(workers int, log *zap.Logger) *Engine {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{workers: workers, log: log.Named("graph")}
}

// Run validates spec and executes it from the entry node. All tasks within a
// node start together; the reducer runs only after every task is terminal.
// Task failures never abort the run unless an edge routes to Fatal.
func (e *Engine) Run(ctx context.Context, spec *Spec) (*RunLog, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	runLog := &RunLog{Started: time.Now()}
	defer func() { runLog.Finished = time.Now() }()

	current := spec.Entry
	for {
		if err := ctx.Err(); err != nil {
			return runLog, fmt.Errorf("graph: run canceled at node %q: %w", current, err)
		}

		node := spec.node(current)
		results := e.runNode(ctx, node)

		reduce := node.Reduce
		if reduce == nil {
			reduce = DefaultReduce
		}
		aggregate := reduce(results)
		next := node.Edges[aggregate]

		for _, r := range results {
			if r.Kind != KindOK {
				runLog.Degraded = true
			}
		}
		runLog.Steps = append(runLog.Steps, StepLog{
			Node:      node.Name,
			Results:   results,
			Aggregate: aggregate,
			Next:      next,
		})
		e.log.Debug("node complete",
			zap.String("node", node.Name),
			zap.String("aggregate", string(aggregate)),
			zap.String("next", next),
		)

		switch next {
		case End:
			return runLog, nil
		case Fatal:
			return runLog, fmt.Errorf("graph: node %q routed %q to fatal", node.Name, aggregate)
		default:
			current = next
		}
	}
}

// runNode starts every task in the node together on the worker pool and
// waits for all of them. Task errors are captured in results, never
// returned, so one member's failure cannot cancel its siblings.
func (e *Engine) runNode(ctx context.Context, node *Node) []TaskResult {
	results := make([]TaskResult, len(node.Tasks))

	g := new(errgroup.Group)
	g.SetLimit(e.workers)
	for i, task := range node.Tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = e.runTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait() // task outcomes live in results

	return results
}

// runTask executes one task with its timeout and retry budget and returns
// its terminal result.
func (e *Engine) runTask(ctx context.Context, task Task) TaskResult {
	start := time.Now()
	var last Result

	attempts := 0
	for attempts <= task.Retries {
		attempts++
		last = e.attempt(ctx, task)
		if last.Kind == KindOK || last.Kind == KindPartial {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempts <= task.Retries {
			e.log.Debug("task retry",
				zap.String("task", task.Name),
				zap.Int("attempt", attempts),
				zap.String("kind", string(last.Kind)),
				zap.Error(last.Err),
			)
		}
	}

	if last.Kind != KindOK {
		e.log.Warn("task terminal failure",
			zap.String("task", task.Name),
			zap.String("kind", string(last.Kind)),
			zap.Int("attempts", attempts),
			zap.Error(last.Err),
		)
	}
	return TaskResult{
		Task:     task.Name,
		Kind:     last.Kind,
		Value:    last.Value,
		Err:      last.Err,
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}
}

// attempt runs the task once under its timeout. On expiry the attempt is
// marked failed immediately; the engine stops waiting for that slot while
// the abandoned goroutine drains in the background when its ctx fires.
func (e *Engine) attempt(ctx context.Context, task Task) Result {
	tctx := ctx
	cancel := context.CancelFunc(func() {})
	if task.Timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, task.Timeout)
	}
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Result{Kind: KindFailed, Err: fmt.Errorf("graph: task %q panicked: %v", task.Name, p)}
			}
		}()
		done <- task.Run(tctx)
	}()

	select {
	case r := <-done:
		if !kindKnown(r.Kind) {
			return Result{Kind: KindFailed, Err: fmt.Errorf("graph: task %q returned unknown kind %q", task.Name, r.Kind)}
		}
		return r
	case <-tctx.Done():
		return Result{Kind: KindFailed, Err: fmt.Errorf("graph: task %q: %w", task.Name, tctx.Err())}
	}
}
