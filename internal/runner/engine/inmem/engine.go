// Package inmem provides an in-memory, goroutine-per-dispatch
// implementation of internal/runner/engine.Engine, suitable for a single
// process with no durable persistence (spec.md §1 Non-goals).
package inmem

import (
	"context"
	"sync"

	"github.com/orc-run/agentmesh/internal/runner/engine"
)

type eng struct{}

// New returns an in-memory Engine. Not replay-safe: a process crash loses
// all in-flight dispatches, matching spec.md's explicit Non-goal of
// durable cross-restart workflow persistence.
func New() engine.Engine {
	return &eng{}
}

func (e *eng) ExecuteAsync(ctx context.Context, nodeID string, input any, fn engine.DispatchFunc) engine.Future {
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		result, err := fn(ctx, nodeID, input)
		f.mu.Lock()
		f.result, f.err = result, err
		f.mu.Unlock()
	}()
	return f
}

type future struct {
	mu     sync.Mutex
	ready  chan struct{}
	result any
	err    error
}

func (f *future) Get(ctx context.Context) (any, error) {
	select {
	case <-f.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}
