package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// completer is the narrow subset of internal/llmclient.Client the
// sophisticated Generator needs: a single prompt-in, text-out call. Kept
// as a local interface so this package never imports internal/llmclient
// directly, mirroring how Generator itself decouples the Planner from any
// concrete model SDK.
type completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMGenerator implements Generator for sophisticated mode: it prompts an
// LLM to decompose the query into the full task graph (dependencies,
// parallelizable stages, risks, self-reported quality score) described by
// spec.md §4.7, rather than SimpleGenerator's linear-clause heuristic.
// Malformed or non-JSON model output is the Planner's problem, not this
// type's: LLMGenerator only has to hand back whatever raw bytes the model
// produced, fenced code block or not.
type LLMGenerator struct {
	client completer
}

// NewLLMGenerator constructs an LLMGenerator around client.
func NewLLMGenerator(client completer) *LLMGenerator {
	return &LLMGenerator{client: client}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, input Input) (json.RawMessage, error) {
	out, err := g.client.Complete(ctx, sophisticatedPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("llm generator: %w", err)
	}
	return json.RawMessage(stripCodeFence(out)), nil
}

// sophisticatedPrompt asks the model for exactly the shape planSchema
// validates, naming every field so a compliant model needs no examples.
func sophisticatedPrompt(input Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the planning stage of a multi-agent orchestrator. "+
		"Decompose the following request into a task graph.\n\n"+
		"Request: %s\n"+
		"Domain: %s\n"+
		"Available specialists: %s\n\n", input.Query, input.Domain, strings.Join(input.AvailableSpecialists, ", "))
	b.WriteString("Respond with a single JSON object, no prose, matching exactly:\n" +
		`{"tasks":[{"id":"string","description":"string","specialist":"string",` +
		`"depends_on":["string"],"parallelizable":bool,"stage":int,"weight":number}],` +
		`"coordination":"sequential|parallel|hybrid","critical_path":["string"],` +
		`"estimates":{"time_s":number,"cost_units":number},` +
		`"risks":[{"description":"string","severity":"low|medium|high|critical","mitigation":"string"}],` +
		`"quality_score":number}` + "\n" +
		"Assign every task a specialist from the available list. Set quality_score to your own " +
		"confidence (0-1) that this plan will satisfy the request.")
	return b.String()
}

// DispatchGenerator routes Generate to SimpleGenerator or LLMGenerator
// based on Input.Mode, so the Orchestrator can hand the Planner one
// Generator regardless of which mode PRE_ANALYSIS picked for a given
// request.
type DispatchGenerator struct {
	simple        Generator
	sophisticated Generator
}

// NewDispatchGenerator constructs a DispatchGenerator. sophisticated may be
// nil, in which case ModeSophisticated requests fall back to simple (e.g.
// no LLM endpoint configured).
func NewDispatchGenerator(sophisticated Generator) *DispatchGenerator {
	return &DispatchGenerator{simple: NewSimpleGenerator(), sophisticated: sophisticated}
}

// Generate implements Generator.
func (g *DispatchGenerator) Generate(ctx context.Context, input Input) (json.RawMessage, error) {
	if input.Mode == ModeSophisticated && g.sophisticated != nil {
		return g.sophisticated.Generate(ctx, input)
	}
	return g.simple.Generate(ctx, input)
}

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` fence
// some models wrap structured output in despite being asked not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
