package quality

import "strings"

// DefaultExtractors returns the built-in metric extractors: a direct
// metrics-map reader registered under a handful of common metric names,
// plus domain-agnostic heuristics for metrics agents commonly omit (e.g.
// "completeness" derived from output length when the agent did not
// compute it itself).
func DefaultExtractors() map[string]Extractor {
	return map[string]Extractor{
		"confidence":   metricNamed("confidence"),
		"completeness": extractCompleteness,
		"relevance":    metricNamed("relevance"),
		"accuracy":     metricNamed("accuracy"),
		"coherence":    metricNamed("coherence"),
	}
}

// extractFromMetricsMap is the fallback Extractor used by Framework.extract
// for a metric name with no registered extractor. Since a metric has no
// dedicated closure over its own name at that point, it can only report
// "not found" — callers registering a new metric name should pair it with
// metricNamed(name) or a custom Extractor via RegisterExtractor.
func extractFromMetricsMap(map[string]any) (float64, bool) {
	return 0, false
}

// metricNamed builds an Extractor that reads result["metrics"][name].
func metricNamed(name string) Extractor {
	return func(result map[string]any) (float64, bool) {
		metrics, ok := result["metrics"].(map[string]any)
		if !ok {
			return 0, false
		}
		raw, ok := metrics[name]
		if !ok {
			return 0, false
		}
		switch v := raw.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		}
		return 0, false
	}
}

// extractCompleteness falls back to a token-length-based estimate when the
// agent did not report a "completeness" metric itself: it treats anything
// at or above 64 tokens in the output text as fully complete, scaling
// linearly below that, per spec.md §4.4's "token-length-based completeness
// estimate" example.
func extractCompleteness(result map[string]any) (float64, bool) {
	if v, ok := metricNamed("completeness")(result); ok {
		return v, true
	}
	text, _ := result["output"].(string)
	if text == "" {
		return 0, true
	}
	tokens := len(strings.Fields(text))
	const fullAt = 64
	if tokens >= fullAt {
		return 1.0, true
	}
	return float64(tokens) / float64(fullAt), true
}
