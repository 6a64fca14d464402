// Package runner implements the Parallel Workflow Runner: given a Workflow
// Graph and a dispatch function, it iterates execution levels,
// concurrently dispatching each level's ready nodes and merging their
// streamed events upward, per spec.md §4.6.
package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/graph"
	"github.com/orc-run/agentmesh/internal/runner/engine"
	"github.com/orc-run/agentmesh/internal/runner/interrupt"
	"github.com/orc-run/agentmesh/internal/telemetry"
)

// DispatchFunc invokes one node's remote agent and streams events back.
// Implementations typically wrap an internal/a2a/client.Client's Send or
// Stream call. It must emit exactly one event with Final set to true,
// matching the Agent Executor's own invariant on the remote side.
// resumeTaskID is empty for a node's first dispatch (the remote Agent
// Executor mints its own task on this call) and set to the task id that
// first call's events reported when re-dispatching a node that paused in
// INPUT_REQUIRED, so the remote executor resumes that task instead of
// starting a new one.
type DispatchFunc func(ctx context.Context, node *graph.Node, input *types.Message, resumeTaskID string) (<-chan *types.Event, error)

// MergedEvent annotates an Event with the node that produced it, so
// upward consumers (the Orchestrator) can attribute progress per node
// while preserving per-node order, per spec.md §4.6.
type MergedEvent struct {
	NodeID string
	Event  *types.Event
}

// Config configures a Runner.
type Config struct {
	// MinParallelNodes is the level size below which the Runner still
	// dispatches through the engine but expects no real concurrency
	// benefit; purely informational, affects nothing but an optional
	// sequential fast path an implementer may add later.
	MinParallelNodes int
}

// DefaultConfig matches spec.md §4.6's default of 2.
func DefaultConfig() Config {
	return Config{MinParallelNodes: 2}
}

// Runner drives one Graph to completion by dispatching ready nodes level
// by level.
type Runner struct {
	g        *graph.Graph
	eng      engine.Engine
	dispatch DispatchFunc
	cfg      Config
	logger   telemetry.Logger
	metrics  telemetry.Metrics
	ctrl     *interrupt.Controller
}

// New constructs a Runner bound to g.
func New(g *graph.Graph, eng engine.Engine, dispatch DispatchFunc, cfg Config, logger telemetry.Logger, metrics telemetry.Metrics) *Runner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Runner{
		g:        g,
		eng:      eng,
		dispatch: dispatch,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		ctrl:     interrupt.NewController(),
	}
}

// Controller exposes the Runner's interrupt.Controller so a caller (e.g.
// the Orchestrator handling a resume-with-input RPC) can deliver answers.
func (r *Runner) Controller() *interrupt.Controller { return r.ctrl }

// nodeInput supplies per-node input; new nodes may be added to the graph
// between levels by the Orchestrator, so this is resolved fresh for every
// dispatch rather than precomputed once.
type nodeInput func(nodeID string) (*types.Message, error)

// Run executes the graph level by level until every node is terminal, or
// ctx is canceled, or the orchestrator calls Controller().Cancel.
// Events are delivered on the returned channel, annotated per node; the
// channel is closed when the run ends.
func (r *Runner) Run(ctx context.Context, input nodeInput) <-chan MergedEvent {
	out := make(chan MergedEvent, 32)

	go func() {
		defer close(out)
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-r.ctrl.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()

		for {
			if r.allNodesTerminal() {
				return
			}

			level := r.nextActionableLevel()
			if level == nil {
				// Every remaining node is blocked on a predecessor that
				// will never complete (e.g. an upstream FAILED node with
				// no retry policy applied): nothing left to dispatch.
				return
			}
			if !r.runLevel(runCtx, level, input, out) {
				return
			}
		}
	}()

	return out
}

// nextActionableLevel recomputes the BFS execution plan (new nodes may
// have been added since the previous level, per spec.md §4.6 step 6) and
// returns the first level containing at least one dispatchable node,
// intersected against GetReadyNodes so a node whose predecessor FAILED
// (rather than COMPLETED) is never dispatched merely because the BFS
// numbering considers its predecessor "processed". Returns nil if no such
// level exists — e.g. every remaining node is blocked on a predecessor
// that will never complete (an upstream FAILED node with no retry policy
// applied): nothing left to dispatch.
func (r *Runner) nextActionableLevel() []string {
	ready := make(map[string]struct{})
	for _, n := range r.g.GetReadyNodes() {
		ready[n.ID] = struct{}{}
	}

	for _, level := range r.g.GetExecutionPlan() {
		actionable := make([]string, 0, len(level))
		for _, id := range level {
			if _, ok := ready[id]; ok {
				actionable = append(actionable, id)
			}
		}
		if len(actionable) > 0 {
			return actionable
		}
	}
	return nil
}

func (r *Runner) allNodesTerminal() bool {
	snap := r.g.Snapshot()
	terminal := snap.ByState[graph.StateCompleted] + snap.ByState[graph.StateFailed] + snap.ByState[graph.StateCancelled]
	return terminal == snap.TotalNodes
}

// runLevel dispatches every node in level concurrently via the engine,
// merges their streamed events onto out, and blocks until the level is
// fully drained (every node reached a terminal state or paused in
// INPUT_REQUIRED and was subsequently resumed or cancelled). It returns
// false if the run should stop entirely (ctx canceled).
func (r *Runner) runLevel(ctx context.Context, level []string, input nodeInput, out chan<- MergedEvent) bool {
	var wg sync.WaitGroup
	for _, nodeID := range level {
		n, ok := r.g.Node(nodeID)
		if !ok {
			continue
		}
		if n.State() != graph.StatePending && n.State() != graph.StateReady {
			continue
		}

		msg, err := input(nodeID)
		if err != nil {
			n.SetResult(nil, err)
			_ = r.g.Transition(nodeID, graph.StateReady)
			_ = r.g.Transition(nodeID, graph.StateRunning)
			_ = r.g.Transition(nodeID, graph.StateFailed)
			out <- MergedEvent{NodeID: nodeID, Event: &types.Event{
				Type: types.EventError, TaskID: nodeID, Final: true,
				ErrorKind: "internal", ErrorDetail: err.Error(),
			}}
			continue
		}

		_ = r.g.Transition(nodeID, graph.StateReady)
		_ = r.g.Transition(nodeID, graph.StateRunning)

		wg.Add(1)
		go func(node *graph.Node, msg *types.Message) {
			defer wg.Done()
			r.runNode(ctx, node, msg, out)
		}(n, msg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		<-done
		return false
	}
}

// runNode dispatches one node, forwarding its events, handling
// InputRequired pauses by waiting on the interrupt Controller for a
// resume before re-dispatching with the appended answer, and recording
// the node's terminal state.
func (r *Runner) runNode(ctx context.Context, node *graph.Node, msg *types.Message, out chan<- MergedEvent) {
	future := r.eng.ExecuteAsync(ctx, node.ID, msg, func(ctx context.Context, nodeID string, in any) (any, error) {
		m, _ := in.(*types.Message)
		events, err := r.dispatch(ctx, node, m, "")
		if err != nil {
			return nil, err
		}

		var remoteTaskID string
		for ev := range events {
			if remoteTaskID == "" && ev.TaskID != "" {
				remoteTaskID = ev.TaskID
			}
			out <- MergedEvent{NodeID: nodeID, Event: ev}

			if ev.Type == types.EventInputRequired {
				if err := r.g.Transition(nodeID, graph.StateInputRequired); err != nil {
					r.logger.Warn(ctx, "runner: input_required transition rejected", "node", nodeID, "error", err.Error())
				}
				resume, err := r.ctrl.WaitResume(ctx, nodeID)
				if err != nil {
					return nil, fmt.Errorf("node %s: waiting for resume: %w", nodeID, err)
				}
				if err := r.g.Transition(nodeID, graph.StateRunning); err != nil {
					return nil, fmt.Errorf("node %s: resume transition rejected: %w", nodeID, err)
				}
				nested, err := r.dispatch(ctx, node, resume.Answer, remoteTaskID)
				if err != nil {
					return nil, err
				}
				for nev := range nested {
					out <- MergedEvent{NodeID: nodeID, Event: nev}
					if nev.Final {
						return nev, nil
					}
				}
				continue
			}

			if ev.Final {
				return ev, nil
			}
		}
		return nil, fmt.Errorf("node %s: event stream closed without a final event", nodeID)
	})

	result, err := future.Get(ctx)
	if err != nil {
		node.SetResult(nil, err)
		_ = r.g.Transition(node.ID, graph.StateFailed)
		return
	}

	finalEvent, _ := result.(*types.Event)
	if finalEvent != nil && finalEvent.Type == types.EventError {
		node.SetResult(nil, fmt.Errorf("%s", finalEvent.ErrorDetail))
		_ = r.g.Transition(node.ID, graph.StateFailed)
		return
	}

	node.SetResult(finalEvent, nil)
	_ = r.g.Transition(node.ID, graph.StateCompleted)
}
