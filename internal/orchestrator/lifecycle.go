package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/graph"
	"github.com/orc-run/agentmesh/internal/planner"
	"github.com/orc-run/agentmesh/internal/quality"
	"github.com/orc-run/agentmesh/internal/runner"
	"github.com/orc-run/agentmesh/internal/session"

	"context"
)

// run drives the full seven-phase lifecycle for one request, emitting to
// out and closing it on return. A Session owns the request's cancellation
// scope for the duration of the call, per spec.md §4.9.
func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- Envelope) {
	defer close(out)

	sess := o.sessions.Create(ctx)
	defer o.sessions.End(sess.ID())
	sessCtx := sess.Context()
	journal := sess.Journal()

	emit := func(env Envelope) {
		env.SessionID = sess.ID()
		select {
		case out <- env:
		case <-sessCtx.Done():
		}
	}
	record := func(phase Phase, nodeID, summary string) {
		journal.Append(session.Entry{Timestamp: time.Now(), Phase: string(phase), NodeID: nodeID, Summary: summary})
	}

	domain := req.Domain
	if domain == "" {
		domain = quality.DomainGeneric
	}

	// 1. PRE_ANALYSIS
	mode := classifyMode(req.Query)
	record(PhasePreAnalysis, "", fmt.Sprintf("mode=%s domain=%s", mode, domain))
	emit(Envelope{Phase: PhasePreAnalysis, Event: statusEvent(sess.ID(), "planning", "analyzing request")})

	// 2. PLANNING
	plan, err := o.planPhase(sessCtx, req, domain, mode)
	if err != nil {
		record(PhasePlanning, "", "planner error: "+err.Error())
		emit(Envelope{Phase: PhasePlanning, Event: errorEvent(sess.ID(), "planner_error", err.Error(), false)})
		return
	}
	record(PhasePlanning, "", fmt.Sprintf("accepted plan with %d task(s), quality_score=%.2f", len(plan.Tasks), plan.QualityScore))

	// 3. QUALITY_PREDICTION
	if rejection := o.predictPlanQuality(domain, plan); rejection != "" {
		record(PhaseQualityPrediction, "", "plan rejected: "+rejection)
		emit(Envelope{Phase: PhaseQualityPrediction, Event: errorEvent(sess.ID(), "quality_rejected", rejection, false)})
		return
	}
	record(PhaseQualityPrediction, "", "plan accepted")

	// 4/5. EXECUTION + DYNAMIC_ADJUSTMENT
	g, currentNode, err := buildGraph(plan)
	if err != nil {
		record(PhaseExecution, "", "graph construction error: "+err.Error())
		emit(Envelope{Phase: PhaseExecution, Event: errorEvent(sess.ID(), "graph_error", err.Error(), false)})
		return
	}

	overrides := newEndpointOverrides()
	rn := o.newRunner(g, overrides)
	o.registerRunner(sess.ID(), rn)
	defer o.deregisterRunner(sess.ID())
	retries := make(map[string]int, len(plan.Tasks))
	lastEndpoint := make(map[string]string, len(plan.Tasks))

	// Each pass fully drains one Runner.Run call before touching the
	// graph. Runner.Run decides it is done as soon as every node it can
	// currently see is terminal; mutating the graph while that call is
	// still in flight races its own termination check (it could exit
	// right after a node fails and before a retry node lands). Draining
	// to completion first, then requeueing, then starting a fresh Run
	// pass keeps every mutation strictly between runs.
	for {
		type pendingRetry struct {
			nodeID, taskID, specialist string
		}
		var pending []pendingRetry
		shortCircuited := false

		for mev := range rn.Run(sessCtx, o.nodeInputFunc(g)) {
			nodeID := mev.NodeID
			emit(Envelope{Phase: PhaseExecution, NodeID: nodeID, Event: mev.Event})
			record(PhaseExecution, nodeID, nodeSummary(mev.Event))

			if !mev.Event.Final || mev.Event.Type != types.EventError {
				continue
			}

			n, ok := g.Node(nodeID)
			if !ok {
				continue
			}
			taskID, _ := n.Metadata["task_id"].(string)
			specialist, _ := n.Metadata["specialist"].(string)

			if !mev.Event.Recoverable {
				record(PhaseDynamicAdjustment, nodeID, "unrecoverable failure, task "+taskID)
				if o.cfg.ShortCircuitOnUnrecoverable && !shortCircuited {
					shortCircuited = true
					record(PhaseDynamicAdjustment, nodeID, "short-circuiting remaining work")
					rn.Controller().Cancel()
				}
				continue
			}
			if retries[taskID] >= o.cfg.MaxNodeRetries {
				record(PhaseDynamicAdjustment, nodeID, "retry budget exhausted for task "+taskID)
				continue
			}
			retries[taskID]++
			pending = append(pending, pendingRetry{nodeID: nodeID, taskID: taskID, specialist: specialist})
		}

		if shortCircuited || len(pending) == 0 {
			break
		}
		for _, p := range pending {
			newID := requeueFailedNode(g, p.nodeID)
			if newID == "" {
				continue
			}
			currentNode[p.taskID] = newID
			if alt, ok := o.alternateEndpoint(p.specialist, lastEndpoint[p.taskID]); ok {
				lastEndpoint[p.taskID] = alt
				overrides.set(newID, alt)
			}
			record(PhaseDynamicAdjustment, newID, fmt.Sprintf("retrying task %s (attempt %d)", p.taskID, retries[p.taskID]))
			emit(Envelope{Phase: PhaseDynamicAdjustment, NodeID: newID, Event: statusEvent(newID, "retry", "retrying after recoverable failure")})
		}
	}

	// 6. SYNTHESIS
	final := o.synthesize(sess.ID(), domain, plan, g, currentNode)
	record(PhaseSynthesis, "", "synthesized final response")
	emit(Envelope{Phase: PhaseSynthesis, Event: final})

	// 7. LEARNING
	if o.exporter != nil {
		if err := o.exporter.Export(sessCtx, sess.ID(), journal.Snapshot()); err != nil {
			o.logger.Warn(sessCtx, "orchestrator: journal export failed", "session", sess.ID(), "error", err.Error())
		}
	}
	record(PhaseLearning, "", "journal export complete")
}

// planPhase delegates to the Planner and, per spec.md §4.8 step 2, requests
// one re-plan in sophisticated mode if the first attempt scores below
// Config.MinPlanQualityScore.
func (o *Orchestrator) planPhase(ctx context.Context, req Request, domain string, mode planner.Mode) (*planner.Plan, error) {
	input := planner.Input{
		Query:                req.Query,
		Domain:               domain,
		AvailableSpecialists: o.resolver.Specialists(),
		Mode:                 mode,
	}

	plan, err := o.planner.Plan(ctx, input)
	if err != nil {
		return nil, err
	}

	if plan.QualityScore < o.cfg.MinPlanQualityScore {
		input.Mode = planner.ModeSophisticated
		retried, rerr := o.planner.Plan(ctx, input)
		if rerr == nil && retried.QualityScore >= plan.QualityScore {
			o.metrics.IncCounter("orchestrator_replan_total", 1)
			plan = retried
		}
	}
	return plan, nil
}

// predictPlanQuality scores the plan itself (not yet any agent output)
// against domain's profile. An empty return means the plan is accepted;
// a non-empty string is the rejection reason. An unconfigured domain is
// treated as a pass, since quality profiles are optional per deployment.
func (o *Orchestrator) predictPlanQuality(domain string, plan *planner.Plan) string {
	result := map[string]any{
		"quality_score": plan.QualityScore,
		"time_s":        plan.Estimates.TimeSeconds,
		"cost_units":    plan.Estimates.CostUnits,
		"task_count":    float64(len(plan.Tasks)),
		"risk_count":    float64(len(plan.Risks)),
	}
	qres, err := o.quality.Validate(domain, result, nil)
	if err != nil {
		return ""
	}
	if qres.Passed {
		return ""
	}
	return fmt.Sprintf("failing metrics %v", qres.Failing)
}

// buildGraph materializes a Workflow Graph from plan's tasks, returning the
// graph plus a map from TaskDescriptor.ID to its current graph node ID (the
// indirection DYNAMIC_ADJUSTMENT needs when a node is replaced by a retry).
func buildGraph(plan *planner.Plan) (*graph.Graph, map[string]string, error) {
	g := graph.New()
	currentNode := make(map[string]string, len(plan.Tasks))

	for _, t := range plan.Tasks {
		currentNode[t.ID] = g.AddNode(t.Description, map[string]any{
			"task_id":    t.ID,
			"specialist": t.Specialist,
		})
	}
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			predID, ok := currentNode[dep]
			if !ok {
				return nil, nil, fmt.Errorf("orchestrator: task %q depends on unknown task %q", t.ID, dep)
			}
			if err := g.AddEdge(predID, currentNode[t.ID]); err != nil {
				return nil, nil, err
			}
		}
	}
	return g, currentNode, nil
}

// endpointOverrides records a per-node endpoint chosen by DYNAMIC_ADJUSTMENT
// reassignment (spec.md §4.8 step 5b), consulted by dispatch before falling
// back to the SpecialistResolver's default endpoint for the node's
// specialist tag. Safe for concurrent use since dispatch runs on a
// per-node goroutine while the lifecycle loop may set overrides between
// levels.
type endpointOverrides struct {
	mu     sync.Mutex
	byNode map[string]string
}

func newEndpointOverrides() *endpointOverrides {
	return &endpointOverrides{byNode: make(map[string]string)}
}

func (e *endpointOverrides) set(nodeID, endpoint string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byNode[nodeID] = endpoint
}

func (e *endpointOverrides) get(nodeID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.byNode[nodeID]
	return v, ok
}

// newRunner constructs a Runner bound to g, dispatching each node to its
// override endpoint if DYNAMIC_ADJUSTMENT assigned one, else to the
// endpoint its specialist tag resolves to. A node's first dispatch carries
// no task_id metadata, so the remote Agent Executor takes its Start branch
// and mints its own task id; only a dispatch resuming a node paused in
// INPUT_REQUIRED (resumeTaskID set by the Runner to that minted id) carries
// task_id, so the remote executor takes its Resume branch instead.
func (o *Orchestrator) newRunner(g *graph.Graph, overrides *endpointOverrides) *runner.Runner {
	dispatch := func(ctx context.Context, node *graph.Node, input *types.Message, resumeTaskID string) (<-chan *types.Event, error) {
		specialist, _ := node.Metadata["specialist"].(string)
		endpoint, ok := overrides.get(node.ID)
		if !ok {
			endpoint, ok = o.resolver.Resolve(specialist)
			if !ok {
				return nil, fmt.Errorf("orchestrator: no endpoint for specialist %q", specialist)
			}
		}
		var metadata map[string]any
		if resumeTaskID != "" {
			metadata = map[string]any{"task_id": resumeTaskID}
		}
		return o.dial(endpoint).Stream(ctx, input, metadata)
	}
	return runner.New(g, o.engineFactory(), dispatch, runner.DefaultConfig(), o.logger, o.metrics)
}

// nodeInputFunc builds the initial Message for a node from its label,
// resolved fresh per dispatch since DYNAMIC_ADJUSTMENT may add nodes
// between levels.
func (o *Orchestrator) nodeInputFunc(g *graph.Graph) func(nodeID string) (*types.Message, error) {
	return func(nodeID string) (*types.Message, error) {
		n, ok := g.Node(nodeID)
		if !ok {
			return nil, fmt.Errorf("orchestrator: unknown node %q", nodeID)
		}
		return &types.Message{
			Role:      "user",
			Kind:      "message",
			MessageID: uuid.NewString(),
			Parts:     []*types.Part{{Kind: types.PartKindText, Text: n.Label}},
		}, nil
	}
}

// alternateEndpoint asks the resolver for a different endpoint serving
// specialist, per spec.md §4.8 step 5b, if it implements AlternateResolver.
func (o *Orchestrator) alternateEndpoint(specialist, previous string) (string, bool) {
	alt, ok := o.resolver.(AlternateResolver)
	if !ok {
		return "", false
	}
	return alt.Alternate(specialist, previous)
}

// requeueFailedNode replaces a terminal FAILED node with a fresh PENDING
// node carrying the same label/metadata, reconnected to the same
// predecessors and successors. Per spec.md §4.5's invariant ("removing a
// node with successors also removes the dangling edges"), RemoveNode is
// the graph's sanctioned way to retire a node's edges before reattaching a
// replacement. Returns "" if the node no longer exists.
func requeueFailedNode(g *graph.Graph, failedID string) string {
	n, ok := g.Node(failedID)
	if !ok {
		return ""
	}
	label, meta := n.Label, n.Metadata
	preds := n.Predecessors()
	succs := n.Successors()

	g.RemoveNode(failedID)
	newID := g.AddNode(label, meta)
	for _, p := range preds {
		if _, ok := g.Node(p); ok {
			_ = g.AddEdge(p, newID)
		}
	}
	for _, s := range succs {
		if _, ok := g.Node(s); ok {
			_ = g.AddEdge(newID, s)
		}
	}
	return newID
}

// synthesize aggregates every task's terminal result into the single
// final response, per spec.md §4.8 step 6, running one last quality
// validation over the synthesized output.
func (o *Orchestrator) synthesize(sessionID, domain string, plan *planner.Plan, g *graph.Graph, currentNode map[string]string) *types.Event {
	var parts []*types.Part
	var artifacts []*types.Artifact
	failed := 0

	for _, t := range plan.Tasks {
		nodeID, ok := currentNode[t.ID]
		if !ok {
			continue
		}
		n, ok := g.Node(nodeID)
		if !ok {
			continue
		}
		res, nerr := n.Result()
		if nerr != nil {
			failed++
			parts = append(parts, &types.Part{Kind: types.PartKindText, Text: fmt.Sprintf("[%s failed: %s]", t.Specialist, nerr.Error())})
			continue
		}
		ev, _ := res.(*types.Event)
		if ev == nil {
			continue
		}
		switch ev.Type {
		case types.EventStreamingResponse:
			parts = append(parts, ev.Parts...)
		case types.EventArtifactUpdate:
			if ev.Artifact != nil {
				artifacts = append(artifacts, ev.Artifact)
			}
		default:
			if ev.Message != "" {
				parts = append(parts, &types.Part{Kind: types.PartKindText, Text: ev.Message})
			}
		}
	}

	result := map[string]any{
		"part_count":     float64(len(parts)),
		"artifact_count": float64(len(artifacts)),
		"failed_count":   float64(failed),
	}
	if qres, err := o.quality.Validate(domain, result, nil); err == nil && !qres.Passed {
		return errorEvent(sessionID, "synthesis_quality_failed", fmt.Sprintf("failing metrics %v", qres.Failing), false)
	}

	return &types.Event{
		Type:   types.EventStreamingResponse,
		TaskID: sessionID,
		Final:  true,
		Parts:  parts,
	}
}

// classifyMode is PRE_ANALYSIS's complexity heuristic: a query with more
// than one clause or an unusually long single clause is routed to
// sophisticated planning; anything shorter is handled by the cheaper
// simple mode. spec.md §4.8 step 1 leaves the exact classification to the
// implementation.
func classifyMode(query string) planner.Mode {
	clauses := strings.FieldsFunc(query, func(r rune) bool {
		return r == '.' || r == ';'
	})
	nonEmpty := 0
	for _, c := range clauses {
		if strings.TrimSpace(c) != "" {
			nonEmpty++
		}
	}
	if nonEmpty > 1 || len(strings.Fields(query)) > 12 {
		return planner.ModeSophisticated
	}
	return planner.ModeSimple
}
