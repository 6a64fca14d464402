// Package planner implements the Planner component: it accepts a query plus
// routing context, delegates to a Generator (typically an LLM-backed agent)
// to produce a candidate Plan as structured JSON, and owns the schema,
// validation, and fallback-on-malformed-output behavior described by
// spec.md §4.7. The Planner itself never invents task decomposition; that
// is the Generator's job. What belongs here is making sure a malformed or
// unparseable Generator response degrades to a safe single-task Plan
// instead of propagating garbage to the Orchestrator.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orc-run/agentmesh/internal/telemetry"
)

// Mode selects how thoroughly the Generator should decompose a query.
type Mode string

const (
	// ModeSimple requests a linear task list with sequential ordering and
	// best-match specialist assignment, no dependency analysis.
	ModeSimple Mode = "simple"

	// ModeSophisticated requests parallelizable-task detection, staging,
	// dependency closure, critical path, and a self quality score.
	ModeSophisticated Mode = "sophisticated"
)

// Coordination describes how a Plan's tasks relate to one another at
// execution time.
type Coordination string

const (
	CoordinationSequential Coordination = "sequential"
	CoordinationParallel   Coordination = "parallel"
	CoordinationHybrid     Coordination = "hybrid"
)

// Severity buckets a Risk's potential impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Input is what the Orchestrator supplies to Plan, per spec.md §4.7.
type Input struct {
	Query                string   `json:"query"`
	Domain               string   `json:"domain"`
	AvailableSpecialists []string `json:"available_specialists"`
	Mode                 Mode     `json:"mode"`
}

// TaskDescriptor is one unit of work within a Plan.
type TaskDescriptor struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	Specialist     string   `json:"specialist"`
	DependsOn      []string `json:"depends_on,omitempty"`
	Parallelizable bool     `json:"parallelizable,omitempty"`
	Stage          int      `json:"stage,omitempty"`
	// Weight is an optional relative duration used by ComputeCriticalPath.
	// Generators that don't estimate this leave it zero, in which case
	// every task is weighted equally.
	Weight float64 `json:"weight,omitempty"`
}

// Risk is one identified plan risk.
type Risk struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Mitigation  string   `json:"mitigation"`
}

// Estimates summarizes a Plan's projected cost.
type Estimates struct {
	TimeSeconds float64 `json:"time_s"`
	CostUnits   float64 `json:"cost_units"`
}

// Plan is the Planner's output, per spec.md §4.7.
type Plan struct {
	Tasks        []TaskDescriptor `json:"tasks"`
	Coordination Coordination     `json:"coordination"`
	CriticalPath []string         `json:"critical_path,omitempty"`
	Estimates    Estimates        `json:"estimates"`
	Risks        []Risk           `json:"risks,omitempty"`
	QualityScore float64          `json:"quality_score"`
}

// Generator produces a candidate Plan as raw JSON for a given Input.
// Implementations typically wrap an LLM client prompted to emit structured
// JSON (sophisticated mode) or a deterministic heuristic (SimpleGenerator,
// for simple mode).
type Generator interface {
	Generate(ctx context.Context, input Input) (json.RawMessage, error)
}

// Planner validates and, on malformed Generator output, falls back to a
// safe single-task Plan rather than propagating unparseable JSON upward.
type Planner struct {
	gen     Generator
	schema  *compiledSchema
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// New constructs a Planner bound to gen. Returns an error only if the
// embedded plan schema fails to compile, which would indicate a packaging
// bug rather than anything caller-correctable.
func New(gen Generator, logger telemetry.Logger, metrics telemetry.Metrics) (*Planner, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	schema, err := compilePlanSchema()
	if err != nil {
		return nil, fmt.Errorf("planner: compiling plan schema: %w", err)
	}
	return &Planner{gen: gen, schema: schema, logger: logger, metrics: metrics}, nil
}

// Plan produces a validated Plan for input. If the Generator's output
// fails schema validation or doesn't parse, Plan logs the failure and
// returns a fallback single-task Plan instead of an error, per spec.md
// §4.7 ("fallback = a single catch-all task assigned to a generic
// specialist"). A Generator-level error (e.g. the backing LLM call
// failed outright) is still propagated, since that is not the
// malformed-output case the fallback covers.
func (p *Planner) Plan(ctx context.Context, input Input) (*Plan, error) {
	raw, err := p.gen.Generate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("planner: generating plan: %w", err)
	}

	plan, err := p.parseAndValidate(raw)
	if err != nil {
		p.logger.Warn(ctx, "planner: malformed generator output, falling back", "error", err.Error())
		p.metrics.IncCounter("planner_fallback_total", 1, "domain", input.Domain)
		return fallbackPlan(input), nil
	}

	if err := ValidateDependencyClosure(plan.Tasks); err != nil {
		p.logger.Warn(ctx, "planner: plan failed dependency closure, falling back", "error", err.Error())
		p.metrics.IncCounter("planner_fallback_total", 1, "domain", input.Domain)
		return fallbackPlan(input), nil
	}

	return plan, nil
}

func (p *Planner) parseAndValidate(raw json.RawMessage) (*Plan, error) {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decoding generator output: %w", err)
	}
	if err := p.schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	return &plan, nil
}

// fallbackPlan builds the single-task, generic-specialist Plan spec.md
// §4.7 prescribes when the Generator's output can't be trusted.
func fallbackPlan(input Input) *Plan {
	return &Plan{
		Tasks: []TaskDescriptor{
			{
				ID:          "fallback-1",
				Description: input.Query,
				Specialist:  "generalist",
			},
		},
		Coordination: CoordinationSequential,
		Estimates:    Estimates{},
		QualityScore: 0,
	}
}
