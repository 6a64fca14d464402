package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// SimpleGenerator implements Generator for simple mode without delegating
// to an LLM: it splits the query into a linear task list on sentence
// boundaries and assigns each task the best-matching specialist by token
// overlap, per spec.md §4.7 ("best-matching specialist capability by
// string similarity, no dependencies beyond sequential order"). This is
// the deterministic mode the Orchestrator selects during PRE_ANALYSIS for
// low-complexity requests where a full planning agent call would be
// wasted round-trip latency.
type SimpleGenerator struct{}

// NewSimpleGenerator constructs a SimpleGenerator.
func NewSimpleGenerator() *SimpleGenerator { return &SimpleGenerator{} }

// Generate implements Generator.
func (g *SimpleGenerator) Generate(_ context.Context, input Input) (json.RawMessage, error) {
	clauses := splitClauses(input.Query)
	if len(clauses) == 0 {
		clauses = []string{input.Query}
	}

	tasks := make([]TaskDescriptor, 0, len(clauses))
	for i, clause := range clauses {
		id := fmt.Sprintf("task-%d", i+1)
		t := TaskDescriptor{
			ID:          id,
			Description: clause,
			Specialist:  bestSpecialist(clause, input.AvailableSpecialists),
		}
		if i > 0 {
			t.DependsOn = []string{tasks[i-1].ID}
		}
		tasks = append(tasks, t)
	}

	plan := Plan{
		Tasks:        tasks,
		Coordination: CoordinationSequential,
		Estimates:    Estimates{TimeSeconds: float64(len(tasks)) * 5, CostUnits: float64(len(tasks))},
		QualityScore: 1,
	}
	return json.Marshal(plan)
}

// splitClauses breaks a query into independent task descriptions on
// sentence-ending punctuation and coordinating conjunctions, discarding
// empty fragments.
func splitClauses(query string) []string {
	replaced := query
	for _, sep := range []string{". ", "; ", " and then ", " then "} {
		replaced = strings.ReplaceAll(replaced, sep, "\n")
	}
	var clauses []string
	for _, line := range strings.Split(replaced, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			clauses = append(clauses, trimmed)
		}
	}
	return clauses
}

// bestSpecialist scores each candidate by the fraction of its own tokens
// that also appear in clause, returning the highest scorer. Ties favor
// the earliest candidate. Falls back to "generalist" if candidates is
// empty.
func bestSpecialist(clause string, candidates []string) string {
	if len(candidates) == 0 {
		return "generalist"
	}
	clauseTokens := tokenSet(clause)

	best := candidates[0]
	bestScore := -1.0
	for _, c := range candidates {
		tokens := tokenSet(c)
		if len(tokens) == 0 {
			continue
		}
		var hits int
		for t := range tokens {
			if clauseTokens[t] {
				hits++
			}
		}
		score := float64(hits) / float64(len(tokens))
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}

func tokenSet(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
