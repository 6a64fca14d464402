// Package quality implements the Quality Framework: a domain-keyed
// threshold registry that scores an agent's result payload and gates
// pass/fail/retry decisions for the orchestrator, per spec.md §4.4.
package quality

import (
	"fmt"
	"sync"
)

// Domain names recognized by the framework, per spec.md §3's Quality
// Profile definition.
const (
	DomainBusiness      = "BUSINESS"
	DomainAcademic      = "ACADEMIC"
	DomainService       = "SERVICE"
	DomainGeneric       = "GENERIC"
	DomainCreative      = "CREATIVE"
	DomainAnalytical    = "ANALYTICAL"
	DomainCoding        = "CODING"
	DomainCommunication = "COMMUNICATION"
)

// Extractor computes a metric's raw value from a result payload. The
// default extractor set (see DefaultExtractors) reads result.metrics[name];
// only "completeness" falls back to a heuristic (output length) when the
// metric is absent.
type Extractor func(result map[string]any) (float64, bool)

// Profile is an immutable set of named thresholds for one domain.
type Profile struct {
	Domain     string
	Thresholds map[string]float64
}

// Result is the outcome of validating one agent result against a Profile.
type Result struct {
	Passed       bool
	ScorePerMetric map[string]float64
	Overall      float64
	Failing      []string
}

// Framework holds the loaded Quality Profiles and metric extractors. It is
// read-only after Load, matching spec.md §7's "Quality Framework is
// read-only after load" invariant — callers needing per-agent overrides
// pass them into Validate rather than mutating the Framework.
type Framework struct {
	mu         sync.RWMutex
	profiles   map[string]*Profile
	extractors map[string]Extractor
}

// New constructs an empty Framework. Use Load or LoadYAML to populate
// Profiles, and RegisterExtractor to add metric extractors beyond the
// defaults.
func New() *Framework {
	f := &Framework{
		profiles:   make(map[string]*Profile),
		extractors: make(map[string]Extractor),
	}
	for name, ext := range DefaultExtractors() {
		f.extractors[name] = ext
	}
	return f
}

// Load installs profiles, replacing any with the same domain.
func (f *Framework) Load(profiles ...*Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range profiles {
		f.profiles[p.Domain] = p
	}
}

// RegisterExtractor adds or replaces the extractor used for metric name.
func (f *Framework) RegisterExtractor(name string, ext Extractor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractors[name] = ext
}

// Profile returns the loaded profile for domain, or ok=false if unknown.
func (f *Framework) Profile(domain string) (*Profile, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.profiles[domain]
	return p, ok
}

// Validate scores result against domain's thresholds, with overrides
// merged in by metric name (per-agent values win over the domain
// profile's), and returns the per-metric scores (value/threshold), their
// unweighted mean as Overall, and the pass/fail verdict.
func (f *Framework) Validate(domain string, result map[string]any, overrides map[string]float64) (*Result, error) {
	f.mu.RLock()
	profile, ok := f.profiles[domain]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("quality: unknown domain %q", domain)
	}

	thresholds := mergeThresholds(profile.Thresholds, overrides)
	scores := make(map[string]float64, len(thresholds))
	var failing []string
	var sum float64

	for name, threshold := range thresholds {
		value := f.extract(name, result)
		ratio := 1.0
		if threshold > 0 {
			ratio = value / threshold
		}
		scores[name] = ratio
		sum += ratio
		if value < threshold {
			failing = append(failing, name)
		}
	}

	overall := 0.0
	if len(thresholds) > 0 {
		overall = sum / float64(len(thresholds))
	}

	return &Result{
		Passed:         len(failing) == 0,
		ScorePerMetric: scores,
		Overall:        overall,
		Failing:        failing,
	}, nil
}

func (f *Framework) extract(name string, result map[string]any) float64 {
	f.mu.RLock()
	ext, ok := f.extractors[name]
	f.mu.RUnlock()
	if !ok {
		ext = extractFromMetricsMap
	}
	value, found := ext(result)
	if !found {
		return 0
	}
	return value
}

func mergeThresholds(base map[string]float64, overrides map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// QualityFailure is the structured failure surfaced to the orchestrator
// when Validate reports Passed=false, per spec.md §4.4/§4.8.
type QualityFailure struct {
	Domain  string
	Metrics []string
}

// Error implements the error interface.
func (f *QualityFailure) Error() string {
	return fmt.Sprintf("quality failure in domain %s: metrics %v below threshold", f.Domain, f.Metrics)
}
