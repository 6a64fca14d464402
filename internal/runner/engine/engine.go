// Package engine abstracts the dispatch of a single node's execution so
// the Parallel Workflow Runner can schedule work without hard-coding a
// concurrency backend. The teacher's corresponding abstraction (runtime/
// agent/engine) targets durable, replay-safe Temporal workflows; spec.md's
// Non-goals exclude durable cross-restart persistence, so only the
// in-memory implementation (internal/runner/engine/inmem) is wired here —
// a future durable engine can implement this same interface without the
// Runner changing.
package engine

import "context"

// DispatchFunc executes one node's work to completion (or until ctx is
// canceled), typically delegating to an A2A client Send/Stream call.
type DispatchFunc func(ctx context.Context, nodeID string, input any) (any, error)

// Future represents a pending dispatch result.
type Future interface {
	// Get blocks until the dispatch completes and returns its result.
	// Calling Get multiple times returns the same result/error.
	Get(ctx context.Context) (any, error)
	// IsReady reports whether Get will return immediately.
	IsReady() bool
}

// Engine schedules DispatchFunc executions concurrently.
type Engine interface {
	// ExecuteAsync schedules fn against (nodeID, input) and returns a
	// Future without blocking.
	ExecuteAsync(ctx context.Context, nodeID string, input any, fn DispatchFunc) Future
}
