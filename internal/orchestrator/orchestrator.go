// Package orchestrator implements the Master Orchestrator: the seven-phase
// request lifecycle of spec.md §4.8 (PRE_ANALYSIS, PLANNING,
// QUALITY_PREDICTION, EXECUTION, DYNAMIC_ADJUSTMENT, SYNTHESIS, LEARNING).
// It owns a Session for the duration of one Stream call and drives the
// Planner, Workflow Graph, Parallel Workflow Runner, and Quality Framework
// together, merging their events into a single outgoing stream terminated
// by one synthesized response.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/planner"
	"github.com/orc-run/agentmesh/internal/quality"
	"github.com/orc-run/agentmesh/internal/runner"
	"github.com/orc-run/agentmesh/internal/runner/engine"
	"github.com/orc-run/agentmesh/internal/runner/engine/inmem"
	"github.com/orc-run/agentmesh/internal/runner/interrupt"
	"github.com/orc-run/agentmesh/internal/session"
	"github.com/orc-run/agentmesh/internal/telemetry"
)

// Phase names the seven lifecycle stages of spec.md §4.8, also used as the
// Envelope.Phase value and the Session journal's Entry.Phase.
type Phase string

const (
	PhasePreAnalysis       Phase = "PRE_ANALYSIS"
	PhasePlanning          Phase = "PLANNING"
	PhaseQualityPrediction Phase = "QUALITY_PREDICTION"
	PhaseExecution         Phase = "EXECUTION"
	PhaseDynamicAdjustment Phase = "DYNAMIC_ADJUSTMENT"
	PhaseSynthesis         Phase = "SYNTHESIS"
	PhaseLearning          Phase = "LEARNING"
)

// Dispatcher is the narrow interface the Orchestrator needs from an A2A
// client to stream a node's remote execution. *internal/a2a/client.Client
// satisfies this without either package importing the other.
type Dispatcher interface {
	Stream(ctx context.Context, msg *types.Message, metadata map[string]any) (<-chan *types.Event, error)
}

// ClientFactory returns a Dispatcher bound to endpoint. Callers typically
// cache Dispatchers per endpoint (e.g. backed by a shared a2a/pool.Pool).
type ClientFactory func(endpoint string) Dispatcher

// SpecialistResolver maps a Plan's specialist tag to a dispatchable agent
// endpoint, typically backed by internal/registry.
type SpecialistResolver interface {
	// Specialists lists the currently known specialist capability tags,
	// fed to the Planner as Input.AvailableSpecialists.
	Specialists() []string
	// Resolve returns the endpoint currently serving specialist, if any.
	Resolve(specialist string) (endpoint string, ok bool)
}

// AlternateResolver is an optional capability a SpecialistResolver may
// implement to support DYNAMIC_ADJUSTMENT's node reassignment (spec.md
// §4.8 step 5b): given a specialist tag and the endpoint that just failed
// it, return a different endpoint covering the same tag, if one exists.
type AlternateResolver interface {
	Alternate(specialist, previousEndpoint string) (endpoint string, ok bool)
}

// JournalExporter persists a Session's journal entries to an external
// collaborator, invoked once during LEARNING. internal/session/mongostore.Store
// satisfies this interface.
type JournalExporter interface {
	Export(ctx context.Context, sessionID string, entries []session.Entry) error
}

// Config tunes policy decisions the lifecycle makes that spec.md leaves as
// Orchestrator discretion.
type Config struct {
	// MinPlanQualityScore below which PLANNING requests one re-plan in
	// sophisticated mode, per spec.md §4.8 step 2.
	MinPlanQualityScore float64
	// MaxNodeRetries bounds the retries EXECUTION grants a node whose
	// final event reports Recoverable=true, per spec.md §4.8 step 4.
	MaxNodeRetries int
	// ShortCircuitOnUnrecoverable cancels the remainder of the run when a
	// node fails with Recoverable=false, per spec.md §4.8 step 5c.
	ShortCircuitOnUnrecoverable bool
}

func defaultConfig() Config {
	return Config{
		MinPlanQualityScore:         0.5,
		MaxNodeRetries:              1,
		ShortCircuitOnUnrecoverable: true,
	}
}

// Orchestrator drives the seven-phase lifecycle for incoming requests.
type Orchestrator struct {
	planner  *planner.Planner
	quality  *quality.Framework
	sessions *session.Manager
	resolver SpecialistResolver
	dial     ClientFactory

	engineFactory func() engine.Engine
	exporter      JournalExporter
	cfg           Config
	logger        telemetry.Logger
	metrics       telemetry.Metrics

	mu      sync.Mutex
	runners map[string]*runner.Runner
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMinPlanQualityScore overrides Config.MinPlanQualityScore.
func WithMinPlanQualityScore(v float64) Option {
	return func(o *Orchestrator) { o.cfg.MinPlanQualityScore = v }
}

// WithMaxNodeRetries overrides Config.MaxNodeRetries.
func WithMaxNodeRetries(n int) Option {
	return func(o *Orchestrator) { o.cfg.MaxNodeRetries = n }
}

// WithShortCircuitOnUnrecoverable overrides Config.ShortCircuitOnUnrecoverable.
func WithShortCircuitOnUnrecoverable(b bool) Option {
	return func(o *Orchestrator) { o.cfg.ShortCircuitOnUnrecoverable = b }
}

// WithEngineFactory overrides the concurrency backend used to dispatch
// nodes; defaults to internal/runner/engine/inmem.
func WithEngineFactory(f func() engine.Engine) Option {
	return func(o *Orchestrator) { o.engineFactory = f }
}

// WithJournalExporter attaches an external collaborator the LEARNING phase
// exports the session journal to. Optional; defaults to no export.
func WithJournalExporter(e JournalExporter) Option {
	return func(o *Orchestrator) { o.exporter = e }
}

// WithLogger attaches a logger for diagnostic output.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New constructs an Orchestrator. planner, qf, sessions, resolver, and dial
// are required collaborators; everything else takes a sensible default.
func New(p *planner.Planner, qf *quality.Framework, sessions *session.Manager, resolver SpecialistResolver, dial ClientFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:       p,
		quality:       qf,
		sessions:      sessions,
		resolver:      resolver,
		dial:          dial,
		cfg:           defaultConfig(),
		engineFactory: func() engine.Engine { return inmem.New() },
		logger:        telemetry.NewNoopLogger(),
		metrics:       telemetry.NewNoopMetrics(),
		runners:       make(map[string]*runner.Runner),
	}
	for _, opt := range opts {
		opt(o)
	}
	registerPlanMetricExtractors(qf)
	return o
}

// planMetricNames are the result-map keys planPhase/synthesize score plan
// and synthesized-response quality against. They live alongside the
// agent-result metrics (confidence, completeness, ...) the Quality
// Framework ships extractors for by default, so the Orchestrator registers
// its own direct-lookup extractors for them rather than relying on
// quality.DefaultExtractors' unregistered-metric fallback, which always
// reports "not found".
var planMetricNames = []string{
	"quality_score", "time_s", "cost_units", "task_count", "risk_count",
	"part_count", "artifact_count", "failed_count",
}

func registerPlanMetricExtractors(qf *quality.Framework) {
	for _, name := range planMetricNames {
		metric := name
		qf.RegisterExtractor(metric, func(result map[string]any) (float64, bool) {
			v, ok := result[metric].(float64)
			return v, ok
		})
	}
}

// Request is the input to Stream, mirroring spec.md §4.8's
// stream(query, session_id) call. SessionID is caller-supplied metadata
// only (e.g. for correlating logs); the Session record itself is created
// fresh for every Stream call, per spec.md §4.9.
type Request struct {
	Query     string
	Domain    string
	SessionID string
}

// Envelope is one item of the Orchestrator's merged output stream: either
// a phase-level status, a node event annotated with its originating node,
// or the single terminal synthesized response (Final true on its Event).
// SessionID names the in-flight Session this envelope belongs to — a
// caller that observes an INPUT_REQUIRED Event on NodeID answers it by
// calling Resume with this SessionID and NodeID, per spec.md §8 scenario 3.
type Envelope struct {
	Phase     Phase
	SessionID string
	NodeID    string
	Event     *types.Event
}

// Stream drives the seven-phase lifecycle for req and returns the merged
// event stream. The channel is closed when the run reaches a terminal
// state (synthesized response emitted, or an unrecoverable early exit).
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Envelope {
	out := make(chan Envelope, 32)
	go o.run(ctx, req, out)
	return out
}

// registerRunner tracks rn as the in-flight Runner for sessionID, for the
// duration of one Stream call's EXECUTION/DYNAMIC_ADJUSTMENT loop, so a
// later Resume call can reach its Controller.
func (o *Orchestrator) registerRunner(sessionID string, rn *runner.Runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runners[sessionID] = rn
}

// deregisterRunner stops tracking sessionID's Runner once its Stream call
// has produced a terminal result.
func (o *Orchestrator) deregisterRunner(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runners, sessionID)
}

// Resume delivers answer to the node identified by nodeID within the
// in-flight session identified by sessionID, unblocking a node paused in
// INPUT_REQUIRED (spec.md §8 scenario 3). The resumed node's events are
// delivered on the channel the original Stream call returned, not on any
// channel Resume itself produces; Resume only reports whether the answer
// was accepted for delivery.
func (o *Orchestrator) Resume(sessionID, nodeID string, answer *types.Message) error {
	o.mu.Lock()
	rn, ok := o.runners[sessionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: no in-flight session %q", sessionID)
	}
	return rn.Controller().Resume(interrupt.ResumeRequest{NodeID: nodeID, Answer: answer})
}
