package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	out string
	err error
}

func (s *stubCompleter) Complete(_ context.Context, _ string) (string, error) {
	return s.out, s.err
}

func TestLLMGeneratorStripsCodeFenceFromModelOutput(t *testing.T) {
	raw := "```json\n" + `{"tasks":[{"id":"t1","description":"d","specialist":"writer"}],` +
		`"coordination":"sequential","estimates":{"time_s":1,"cost_units":1},"quality_score":0.8}` + "\n```"
	gen := NewLLMGenerator(&stubCompleter{out: raw})

	out, err := gen.Generate(context.Background(), Input{Query: "do a thing", Mode: ModeSophisticated})
	require.NoError(t, err)

	var plan Plan
	require.NoError(t, json.Unmarshal(out, &plan))
	assert.Equal(t, "t1", plan.Tasks[0].ID)
	assert.Equal(t, CoordinationSequential, plan.Coordination)
}

func TestLLMGeneratorPropagatesClientError(t *testing.T) {
	gen := NewLLMGenerator(&stubCompleter{err: errors.New("model unavailable")})

	_, err := gen.Generate(context.Background(), Input{Query: "do a thing"})
	assert.ErrorContains(t, err, "model unavailable")
}

func TestSophisticatedPromptNamesEverySchemaField(t *testing.T) {
	prompt := sophisticatedPrompt(Input{Query: "ship the release", Domain: "engineering", AvailableSpecialists: []string{"writer", "reviewer"}})
	for _, field := range []string{"tasks", "depends_on", "coordination", "critical_path", "estimates", "risks", "quality_score"} {
		assert.Contains(t, prompt, field)
	}
	assert.Contains(t, prompt, "ship the release")
	assert.Contains(t, prompt, "writer, reviewer")
}

type modeTrackingGenerator struct {
	calls int
}

func (g *modeTrackingGenerator) Generate(_ context.Context, _ Input) (json.RawMessage, error) {
	g.calls++
	return json.Marshal(Plan{
		Tasks:        []TaskDescriptor{{ID: "t1", Description: "d", Specialist: "writer"}},
		Coordination: CoordinationSequential,
		QualityScore: 0.9,
	})
}

func TestDispatchGeneratorRoutesBySophisticationMode(t *testing.T) {
	sophisticated := &modeTrackingGenerator{}
	gen := NewDispatchGenerator(sophisticated)

	_, err := gen.Generate(context.Background(), Input{Query: "hi", Mode: ModeSimple})
	require.NoError(t, err)
	assert.Equal(t, 0, sophisticated.calls)

	_, err = gen.Generate(context.Background(), Input{Query: "hi", Mode: ModeSophisticated})
	require.NoError(t, err)
	assert.Equal(t, 1, sophisticated.calls)
}

func TestDispatchGeneratorFallsBackToSimpleWithoutSophisticated(t *testing.T) {
	gen := NewDispatchGenerator(nil)
	out, err := gen.Generate(context.Background(), Input{Query: "hi", Mode: ModeSophisticated, AvailableSpecialists: []string{"writer"}})
	require.NoError(t, err)

	var plan Plan
	require.NoError(t, json.Unmarshal(out, &plan))
	assert.NotEmpty(t, plan.Tasks)
}
