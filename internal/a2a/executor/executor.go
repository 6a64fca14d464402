// Package executor implements the server side of an A2A agent: it adapts a
// domain AgentFunc into the A2A wire protocol, managing per-task state and
// guaranteeing exactly one final Event per task, per spec.md §3/§6.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/telemetry"
)

// AgentFunc implements one agent's domain logic. It receives the inbound
// message and emits zero or more events onto sink as work progresses,
// returning once the task reaches a terminal state (or ctx is canceled).
// To pause for caller input it calls Executor.WaitForInput, which emits the
// InputRequired event and blocks until Resume supplies the answer; if the
// function returns instead, the Executor emits a final completed event.
type AgentFunc func(ctx context.Context, taskID string, msg *types.Message, sink chan<- *types.Event) error

// taskState tracks one in-flight task's lifecycle.
type taskState struct {
	mu       sync.Mutex
	state    string
	cancel   context.CancelFunc
	resumeCh chan *types.Message
	finalled bool
}

// Executor wraps a single agent's AgentFunc and exposes it as the server
// side of the A2A protocol: Start begins a task and streams events;
// Resume supplies an answer to a paused InputRequired task.
type Executor struct {
	fn      AgentFunc
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu    sync.Mutex
	tasks map[string]*taskState
}

// New constructs an Executor around fn.
func New(fn AgentFunc, logger telemetry.Logger, metrics telemetry.Metrics) *Executor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Executor{
		fn:      fn,
		logger:  logger,
		metrics: metrics,
		tasks:   make(map[string]*taskState),
	}
}

// Start begins executing taskID against msg and returns a channel of
// events. The channel is closed after the final event is delivered, or
// after ctx is canceled, whichever comes first. Exactly one event on the
// channel has Final set to true.
func (e *Executor) Start(ctx context.Context, taskID string, msg *types.Message) <-chan *types.Event {
	out := make(chan *types.Event, 8)
	taskCtx, cancel := context.WithCancel(ctx)

	ts := &taskState{state: types.StateSubmitted, cancel: cancel}
	e.mu.Lock()
	e.tasks[taskID] = ts
	e.mu.Unlock()

	raw := make(chan *types.Event, 8)
	go e.run(taskCtx, taskID, msg, ts, raw)
	go e.guard(taskCtx, taskID, ts, raw, out)

	return out
}

// run invokes the domain AgentFunc, translating its terminal error (if
// any) into a final Error event when the function itself did not already
// emit one.
func (e *Executor) run(ctx context.Context, taskID string, msg *types.Message, ts *taskState, raw chan<- *types.Event) {
	defer close(raw)

	ts.mu.Lock()
	ts.state = types.StateWorking
	ts.mu.Unlock()
	raw <- &types.Event{Type: types.EventStatusUpdate, TaskID: taskID, State: types.StateWorking}

	err := e.fn(ctx, taskID, msg, raw)

	ts.mu.Lock()
	alreadyFinal := ts.finalled
	ts.mu.Unlock()
	if alreadyFinal {
		return
	}

	if err != nil {
		e.metrics.IncCounter("a2a_executor_task_errors_total", 1)
		raw <- &types.Event{
			Type:        types.EventError,
			TaskID:      taskID,
			Final:       true,
			ErrorKind:   "internal",
			ErrorDetail: err.Error(),
			Recoverable: false,
		}
		return
	}

	raw <- &types.Event{Type: types.EventStatusUpdate, TaskID: taskID, State: types.StateCompleted, Final: true}
}

// guard enforces the exactly-one-final-event invariant: it observes the raw
// stream from run, tracks whether a final event has already passed
// through, forwards every event exactly once, and synthesizes a final
// Error event if the raw channel closes without one (e.g. panic recovery
// upstream or ctx cancellation).
func (e *Executor) guard(ctx context.Context, taskID string, ts *taskState, raw <-chan *types.Event, out chan<- *types.Event) {
	defer close(out)
	defer e.cleanup(taskID)

	sawFinal := false
	for {
		select {
		case ev, ok := <-raw:
			if !ok {
				if !sawFinal {
					out <- &types.Event{
						Type:        types.EventError,
						TaskID:      taskID,
						Final:       true,
						ErrorKind:   "internal",
						ErrorDetail: "agent stopped without a final event",
					}
				}
				return
			}
			if ev.Type == types.EventInputRequired {
				ts.mu.Lock()
				ts.state = types.StateInputRequired
				ts.mu.Unlock()
			}
			if ev.Final {
				if sawFinal {
					// Invariant violation in the domain agent: drop the
					// duplicate rather than confuse downstream consumers.
					continue
				}
				sawFinal = true
				ts.mu.Lock()
				ts.finalled = true
				ts.mu.Unlock()
			}
			out <- ev
			if sawFinal {
				return
			}
		case <-ctx.Done():
			if !sawFinal {
				out <- &types.Event{
					Type:        types.EventError,
					TaskID:      taskID,
					Final:       true,
					ErrorKind:   "canceled",
					ErrorDetail: ctx.Err().Error(),
				}
			}
			return
		}
	}
}

// Resume supplies an answer to a task currently paused in InputRequired
// state, unblocking the domain AgentFunc if it is waiting on WaitForInput.
func (e *Executor) Resume(taskID string, answer *types.Message) error {
	e.mu.Lock()
	ts, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("a2a executor: unknown task %q", taskID)
	}
	ts.mu.Lock()
	resumeCh := ts.resumeCh
	state := ts.state
	ts.mu.Unlock()
	if state != types.StateInputRequired || resumeCh == nil {
		return fmt.Errorf("a2a executor: task %q is not awaiting input", taskID)
	}
	select {
	case resumeCh <- answer:
		return nil
	default:
		return fmt.Errorf("a2a executor: task %q already has a pending resume", taskID)
	}
}

// Cancel stops the underlying task context for taskID, if still running.
func (e *Executor) Cancel(taskID string) {
	e.mu.Lock()
	ts, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return
	}
	ts.mu.Lock()
	ts.state = types.StateCanceled
	cancel := ts.cancel
	ts.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the last observed lifecycle state for taskID.
func (e *Executor) State(taskID string) (string, bool) {
	e.mu.Lock()
	ts, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return "", false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state, true
}

func (e *Executor) cleanup(taskID string) {
	e.mu.Lock()
	delete(e.tasks, taskID)
	e.mu.Unlock()
}

// WaitForInput is called by an AgentFunc implementation to pause until a
// resume answer arrives or ctx is canceled. It registers the resume
// channel on the task's state before emitting the InputRequired event so a
// racing Resume call is never lost.
func (e *Executor) WaitForInput(ctx context.Context, taskID string, sink chan<- *types.Event, prompt string) (*types.Message, error) {
	e.mu.Lock()
	ts, ok := e.tasks[taskID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("a2a executor: unknown task %q", taskID)
	}

	ch := make(chan *types.Message, 1)
	ts.mu.Lock()
	ts.resumeCh = ch
	ts.mu.Unlock()

	select {
	case sink <- &types.Event{Type: types.EventInputRequired, TaskID: taskID, Prompt: prompt}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case answer := <-ch:
		return answer, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(24 * time.Hour):
		return nil, fmt.Errorf("a2a executor: task %q timed out awaiting input", taskID)
	}
}
