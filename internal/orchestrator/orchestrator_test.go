package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/planner"
	"github.com/orc-run/agentmesh/internal/quality"
	"github.com/orc-run/agentmesh/internal/session"
)

// scriptedGenerator returns a fixed Plan, marshaled fresh on every call so
// tests can assert on call count without sharing mutable state.
type scriptedGenerator struct {
	plan *planner.Plan
}

func (g *scriptedGenerator) Generate(_ context.Context, _ planner.Input) (json.RawMessage, error) {
	return json.Marshal(g.plan)
}

func onePlan(taskID, specialist string, qualityScore float64) *planner.Plan {
	return &planner.Plan{
		Tasks: []planner.TaskDescriptor{
			{ID: taskID, Description: "do the thing", Specialist: specialist},
		},
		Coordination: planner.CoordinationSequential,
		QualityScore: qualityScore,
	}
}

// fakeResolver implements SpecialistResolver over a static specialist ->
// endpoint map.
type fakeResolver struct {
	endpoints map[string]string
}

func (r *fakeResolver) Specialists() []string {
	names := make([]string, 0, len(r.endpoints))
	for k := range r.endpoints {
		names = append(names, k)
	}
	return names
}

func (r *fakeResolver) Resolve(specialist string) (string, bool) {
	e, ok := r.endpoints[specialist]
	return e, ok
}

// scriptedDispatcher replays a fixed sequence of events on each Stream
// call, advancing to the next script entry every time it's called, and
// repeating the last entry once scripts are exhausted.
type scriptedDispatcher struct {
	scripts [][]*types.Event
	calls   int32

	mu       sync.Mutex
	metadata []map[string]any
}

func (d *scriptedDispatcher) Stream(_ context.Context, _ *types.Message, metadata map[string]any) (<-chan *types.Event, error) {
	idx := int(atomic.AddInt32(&d.calls, 1)) - 1

	d.mu.Lock()
	d.metadata = append(d.metadata, metadata)
	d.mu.Unlock()

	if idx >= len(d.scripts) {
		idx = len(d.scripts) - 1
	}
	events := d.scripts[idx]
	ch := make(chan *types.Event, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newFramework(domain string, thresholds map[string]float64) *quality.Framework {
	qf := quality.New()
	qf.Load(&quality.Profile{Domain: domain, Thresholds: thresholds})
	return qf
}

func drain(t *testing.T, ch <-chan Envelope, timeout time.Duration) []Envelope {
	t.Helper()
	var envs []Envelope
	deadline := time.After(timeout)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				return envs
			}
			envs = append(envs, env)
		case <-deadline:
			t.Fatal("timed out draining orchestrator stream")
		}
	}
}

func TestStreamHappyPathEmitsFinalSynthesizedResponse(t *testing.T) {
	plan := onePlan("t1", "writer", 0.9)
	gen, err := planner.New(&scriptedGenerator{plan: plan}, nil, nil)
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{scripts: [][]*types.Event{
		{{Type: types.EventStreamingResponse, TaskID: "t1", Final: true, Parts: []*types.Part{{Kind: types.PartKindText, Text: "done"}}}},
	}}
	resolver := &fakeResolver{endpoints: map[string]string{"writer": "http://writer"}}
	qf := newFramework(quality.DomainGeneric, map[string]float64{"quality_score": 0})

	orch := New(gen, qf, session.NewManager(), resolver, func(string) Dispatcher { return dispatcher })

	envs := drain(t, orch.Stream(context.Background(), Request{Query: "write a report"}), 2*time.Second)
	require.NotEmpty(t, envs)

	last := envs[len(envs)-1]
	assert.Equal(t, PhaseSynthesis, last.Phase)
	assert.True(t, last.Event.Final)
	assert.Equal(t, types.EventStreamingResponse, last.Event.Type)
	require.Len(t, last.Event.Parts, 1)
	assert.Equal(t, "done", last.Event.Parts[0].Text)

	var sawExecution bool
	for _, e := range envs {
		if e.Phase == PhaseExecution {
			sawExecution = true
		}
	}
	assert.True(t, sawExecution)
}

func TestStreamRejectsPlanBelowQualityThreshold(t *testing.T) {
	plan := onePlan("t1", "writer", 0.1)
	gen, err := planner.New(&scriptedGenerator{plan: plan}, nil, nil)
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{scripts: [][]*types.Event{
		{{Type: types.EventStreamingResponse, TaskID: "t1", Final: true}},
	}}
	resolver := &fakeResolver{endpoints: map[string]string{"writer": "http://writer"}}
	qf := newFramework(quality.DomainGeneric, map[string]float64{"quality_score": 0.95})

	orch := New(gen, qf, session.NewManager(), resolver, func(string) Dispatcher { return dispatcher })

	envs := drain(t, orch.Stream(context.Background(), Request{Query: "write a report"}), 2*time.Second)
	require.NotEmpty(t, envs)

	last := envs[len(envs)-1]
	assert.Equal(t, PhaseQualityPrediction, last.Phase)
	assert.Equal(t, types.EventError, last.Event.Type)
	assert.True(t, last.Event.Final)
	assert.Equal(t, int32(0), dispatcher.calls)
}

func TestStreamRetriesRecoverableNodeFailureThenSucceeds(t *testing.T) {
	plan := onePlan("t1", "writer", 0.9)
	gen, err := planner.New(&scriptedGenerator{plan: plan}, nil, nil)
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{scripts: [][]*types.Event{
		{{Type: types.EventError, TaskID: "t1", Final: true, Recoverable: true, ErrorDetail: "transient"}},
		{{Type: types.EventStreamingResponse, TaskID: "t1", Final: true, Parts: []*types.Part{{Kind: types.PartKindText, Text: "recovered"}}}},
	}}
	resolver := &fakeResolver{endpoints: map[string]string{"writer": "http://writer"}}
	qf := newFramework(quality.DomainGeneric, map[string]float64{"quality_score": 0})

	orch := New(gen, qf, session.NewManager(), resolver, func(string) Dispatcher { return dispatcher }, WithMaxNodeRetries(1))

	envs := drain(t, orch.Stream(context.Background(), Request{Query: "write a report"}), 2*time.Second)
	require.NotEmpty(t, envs)

	var sawAdjustment bool
	for _, e := range envs {
		if e.Phase == PhaseDynamicAdjustment {
			sawAdjustment = true
		}
	}
	assert.True(t, sawAdjustment)

	last := envs[len(envs)-1]
	assert.Equal(t, PhaseSynthesis, last.Phase)
	require.Len(t, last.Event.Parts, 1)
	assert.Equal(t, "recovered", last.Event.Parts[0].Text)
	assert.Equal(t, int32(2), dispatcher.calls)
}

func TestStreamShortCircuitsDownstreamOnUnrecoverableFailure(t *testing.T) {
	plan := &planner.Plan{
		Tasks: []planner.TaskDescriptor{
			{ID: "t1", Description: "step one", Specialist: "writer"},
			{ID: "t2", Description: "step two", Specialist: "reviewer", DependsOn: []string{"t1"}},
		},
		Coordination: planner.CoordinationSequential,
		QualityScore: 0.9,
	}
	gen, err := planner.New(&scriptedGenerator{plan: plan}, nil, nil)
	require.NoError(t, err)

	writerDispatcher := &scriptedDispatcher{scripts: [][]*types.Event{
		{{Type: types.EventError, TaskID: "t1", Final: true, Recoverable: false, ErrorDetail: "fatal"}},
	}}
	reviewerDispatcher := &scriptedDispatcher{scripts: [][]*types.Event{
		{{Type: types.EventStreamingResponse, TaskID: "t2", Final: true}},
	}}
	resolver := &fakeResolver{endpoints: map[string]string{"writer": "http://writer", "reviewer": "http://reviewer"}}
	qf := newFramework(quality.DomainGeneric, map[string]float64{"quality_score": 0})

	dial := func(endpoint string) Dispatcher {
		if endpoint == "http://writer" {
			return writerDispatcher
		}
		return reviewerDispatcher
	}

	orch := New(gen, qf, session.NewManager(), resolver, dial)
	_ = drain(t, orch.Stream(context.Background(), Request{Query: "step one. step two"}), 2*time.Second)

	assert.Equal(t, int32(0), reviewerDispatcher.calls)
}

func TestStreamInputRequiredResumeDeliversAnswerAndOmitsTaskIDOnFreshDispatch(t *testing.T) {
	plan := onePlan("t1", "writer", 0.9)
	gen, err := planner.New(&scriptedGenerator{plan: plan}, nil, nil)
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{scripts: [][]*types.Event{
		{{Type: types.EventInputRequired, TaskID: "remote-task-1", Prompt: "need more info"}},
		{{Type: types.EventStreamingResponse, TaskID: "remote-task-1", Final: true, Parts: []*types.Part{{Kind: types.PartKindText, Text: "resumed answer"}}}},
	}}
	resolver := &fakeResolver{endpoints: map[string]string{"writer": "http://writer"}}
	qf := newFramework(quality.DomainGeneric, map[string]float64{"quality_score": 0})

	orch := New(gen, qf, session.NewManager(), resolver, func(string) Dispatcher { return dispatcher })

	ch := orch.Stream(context.Background(), Request{Query: "write a report"})

	var envs []Envelope
	resumed := false
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				break loop
			}
			envs = append(envs, env)
			if !resumed && env.Event != nil && env.Event.Type == types.EventInputRequired {
				resumed = true
				require.NotEmpty(t, env.SessionID)
				require.NotEmpty(t, env.NodeID)
				require.NoError(t, orch.Resume(env.SessionID, env.NodeID, &types.Message{Role: "user", Parts: []*types.Part{{Kind: types.PartKindText, Text: "here is the info"}}}))
			}
		case <-deadline:
			t.Fatal("timed out draining orchestrator stream")
		}
	}

	require.True(t, resumed)
	require.NotEmpty(t, envs)
	last := envs[len(envs)-1]
	assert.Equal(t, PhaseSynthesis, last.Phase)
	require.Len(t, last.Event.Parts, 1)
	assert.Equal(t, "resumed answer", last.Event.Parts[0].Text)

	require.Len(t, dispatcher.metadata, 2)
	assert.Empty(t, dispatcher.metadata[0]["task_id"], "fresh dispatch must not claim a resume")
	assert.Equal(t, "remote-task-1", dispatcher.metadata[1]["task_id"])
}
