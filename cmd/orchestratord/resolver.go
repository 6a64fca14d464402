package main

import "github.com/orc-run/agentmesh/internal/registry"

// registryResolver adapts *registry.Registry to orchestrator.SpecialistResolver
// and orchestrator.AlternateResolver: the Registry indexes Agent Cards by
// agent ID, while the Orchestrator looks specialists up by capability tag
// and needs a second endpoint to retry a failed node against.
type registryResolver struct {
	reg *registry.Registry
}

func newRegistryResolver(reg *registry.Registry) *registryResolver {
	return &registryResolver{reg: reg}
}

// Specialists implements orchestrator.SpecialistResolver.
func (r *registryResolver) Specialists() []string {
	seen := make(map[string]struct{})
	var caps []string
	for _, c := range r.reg.List() {
		for _, cap := range c.Capabilities {
			if _, ok := seen[cap]; ok {
				continue
			}
			seen[cap] = struct{}{}
			caps = append(caps, cap)
		}
	}
	return caps
}

// Resolve implements orchestrator.SpecialistResolver, returning the
// highest-tier (lowest Tier value) healthy agent advertising specialist.
func (r *registryResolver) Resolve(specialist string) (string, bool) {
	matches := r.reg.FindByCapability(specialist)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0].Endpoint, true
}

// Alternate implements orchestrator.AlternateResolver: it returns the next
// healthy agent covering specialist that isn't previousEndpoint, so
// DYNAMIC_ADJUSTMENT doesn't retry a node against the same endpoint that
// just failed it.
func (r *registryResolver) Alternate(specialist, previousEndpoint string) (string, bool) {
	for _, c := range r.reg.FindByCapability(specialist) {
		if c.Endpoint != previousEndpoint {
			return c.Endpoint, true
		}
	}
	return "", false
}
