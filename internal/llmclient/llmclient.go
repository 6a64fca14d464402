// Package llmclient provides minimal single-turn completion adapters over
// the LLM providers the example pack wires model.Client implementations
// for. The core Orchestrator never imports this package directly — per
// spec.md §1 the LLM is an external collaborator reached only through a
// Planner Generator (planner.LLMGenerator); this package exists to give
// that caller something concrete to depend on.
// Unlike the teacher's runtime/agent/model.Client, these adapters do not
// carry tool-calling, multimodal parts, or streaming — a sophisticated
// Generator only needs one prompt in, one JSON string out.
package llmclient

import "context"

// Client completes a single prompt and returns the model's raw text
// response. Implementations are expected to be prompted (by their caller)
// to emit JSON when the caller needs structured output; this package does
// not itself parse or validate the response.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
