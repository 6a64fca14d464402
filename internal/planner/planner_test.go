package planner

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedGenerator struct {
	raw json.RawMessage
	err error
}

func (g fixedGenerator) Generate(context.Context, Input) (json.RawMessage, error) {
	return g.raw, g.err
}

func TestPlanFallsBackOnMalformedJSON(t *testing.T) {
	p, err := New(fixedGenerator{raw: json.RawMessage(`{not valid json`)}, nil, nil)
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), Input{Query: "summarize the report", Mode: ModeSimple})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "generalist", plan.Tasks[0].Specialist)
	assert.Equal(t, CoordinationSequential, plan.Coordination)
}

func TestPlanFallsBackOnSchemaViolation(t *testing.T) {
	// missing required "coordination" and "quality_score" fields.
	raw := json.RawMessage(`{"tasks":[{"id":"t1","description":"do it","specialist":"x"}],"estimates":{}}`)
	p, err := New(fixedGenerator{raw: raw}, nil, nil)
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), Input{Query: "q"})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "fallback-1", plan.Tasks[0].ID)
}

func TestPlanFallsBackOnDependencyCycle(t *testing.T) {
	raw := json.RawMessage(`{
		"tasks": [
			{"id": "a", "description": "a", "specialist": "x", "depends_on": ["b"]},
			{"id": "b", "description": "b", "specialist": "x", "depends_on": ["a"]}
		],
		"coordination": "parallel",
		"estimates": {"time_s": 1, "cost_units": 1},
		"quality_score": 0.9
	}`)
	p, err := New(fixedGenerator{raw: raw}, nil, nil)
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), Input{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "fallback-1", plan.Tasks[0].ID)
}

func TestPlanPropagatesGeneratorError(t *testing.T) {
	p, err := New(fixedGenerator{err: assert.AnError}, nil, nil)
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), Input{Query: "q"})
	assert.Error(t, err)
}

func TestPlanAcceptsValidSophisticatedOutput(t *testing.T) {
	raw := json.RawMessage(`{
		"tasks": [
			{"id": "a", "description": "fetch data", "specialist": "data", "parallelizable": true},
			{"id": "b", "description": "fetch more data", "specialist": "data", "parallelizable": true},
			{"id": "c", "description": "merge", "specialist": "writer", "depends_on": ["a", "b"]}
		],
		"coordination": "hybrid",
		"critical_path": ["a", "c"],
		"estimates": {"time_s": 12, "cost_units": 3},
		"risks": [{"description": "data source flaky", "severity": "medium", "mitigation": "retry"}],
		"quality_score": 0.82
	}`)
	p, err := New(fixedGenerator{raw: raw}, nil, nil)
	require.NoError(t, err)

	plan, err := p.Plan(context.Background(), Input{Query: "q", Mode: ModeSophisticated})
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, CoordinationHybrid, plan.Coordination)
	assert.Equal(t, 0.82, plan.QualityScore)
}

func TestValidateDependencyClosureRejectsUnknownDependency(t *testing.T) {
	tasks := []TaskDescriptor{{ID: "a", DependsOn: []string{"ghost"}}}
	assert.Error(t, ValidateDependencyClosure(tasks))
}

func TestValidateDependencyClosureRejectsCycle(t *testing.T) {
	tasks := []TaskDescriptor{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	assert.Error(t, ValidateDependencyClosure(tasks))
}

func TestValidateDependencyClosureAcceptsDAG(t *testing.T) {
	tasks := []TaskDescriptor{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}
	assert.NoError(t, ValidateDependencyClosure(tasks))
}

func TestGroupStagesAssignsLevelsByDependencyDepth(t *testing.T) {
	tasks := []TaskDescriptor{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a", "b"}},
	}
	levels := GroupStages(tasks)
	require.Len(t, levels, 2)
	assert.ElementsMatch(t, []string{"a", "b"}, levels[0])
	assert.Equal(t, []string{"c"}, levels[1])
}

func TestComputeCriticalPathFollowsLongestChain(t *testing.T) {
	tasks := []TaskDescriptor{
		{ID: "a", Weight: 1},
		{ID: "b", Weight: 5, DependsOn: []string{"a"}},
		{ID: "c", Weight: 1, DependsOn: []string{"a"}},
		{ID: "d", Weight: 1, DependsOn: []string{"b", "c"}},
	}
	path := ComputeCriticalPath(tasks)
	assert.Equal(t, []string{"a", "b", "d"}, path)
}

func TestSimpleGeneratorAssignsBestMatchingSpecialistSequentially(t *testing.T) {
	g := NewSimpleGenerator()
	raw, err := g.Generate(context.Background(), Input{
		Query:                "search the web for recent news. write a summary report",
		AvailableSpecialists: []string{"web-search", "report-writer"},
		Mode:                 ModeSimple,
	})
	require.NoError(t, err)

	var plan Plan
	require.NoError(t, json.Unmarshal(raw, &plan))
	require.Len(t, plan.Tasks, 2)
	assert.Equal(t, "web-search", plan.Tasks[0].Specialist)
	assert.Equal(t, "report-writer", plan.Tasks[1].Specialist)
	assert.Equal(t, []string{plan.Tasks[0].ID}, plan.Tasks[1].DependsOn)
}
