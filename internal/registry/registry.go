// Package registry provides Agent Card discovery and caching for remote
// A2A agents, per spec.md §5 (Agent Registry). Cards are loaded from a
// local YAML manifest and, optionally, kept in sync with peer orchestrator
// instances through a shared Redis cache so horizontally-scaled deployments
// see the same registry state.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orc-run/agentmesh/internal/telemetry"
)

type (
	// Registry coordinates one or more agent sources, providing unified
	// lookup, listing, and capability-based search over Agent Cards.
	Registry struct {
		mu      sync.RWMutex
		cards   map[string]*Card
		cache   Cache
		logger  telemetry.Logger
		metrics telemetry.Metrics

		syncCtx    context.Context
		syncCancel context.CancelFunc
		syncWg     sync.WaitGroup
	}

	// Card is the in-process representation of an A2A Agent Card plus the
	// registry bookkeeping needed to detect staleness.
	Card struct {
		AgentID      string
		Name         string
		Description  string
		Tier         int
		Endpoint     string
		Capabilities []string
		Dependencies []string
		QualityDomain string
		Status       string

		// ETag changes every time the card is reloaded or re-announced,
		// letting callers detect a stale cached copy without a timestamp.
		ETag string
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithCache overrides the default in-memory Cache with a shared one (for
// example the Redis-backed implementation in this package).
func WithCache(c Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithLogger attaches a logger.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{cards: make(map[string]*Card)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.cache == nil {
		r.cache = NewMemoryCache()
	}
	if r.logger == nil {
		r.logger = telemetry.NewNoopLogger()
	}
	if r.metrics == nil {
		r.metrics = telemetry.NewNoopMetrics()
	}
	return r
}

// Register adds or replaces a Card, stamping it with a fresh ETag and
// pushing it through the configured Cache so peer nodes observe the
// update.
func (r *Registry) Register(ctx context.Context, c *Card) error {
	c.ETag = uuid.NewString()

	r.mu.Lock()
	r.cards[c.AgentID] = c
	r.mu.Unlock()

	if err := r.cache.Set(ctx, c.AgentID, c, time.Hour); err != nil {
		r.logger.Warn(ctx, "registry cache set failed", "agent_id", c.AgentID, "error", err.Error())
	}
	r.metrics.IncCounter("registry_agents_registered_total", 1, "agent_id", c.AgentID)
	return nil
}

// Deregister removes an agent from the registry.
func (r *Registry) Deregister(ctx context.Context, agentID string) {
	r.mu.Lock()
	delete(r.cards, agentID)
	r.mu.Unlock()
	_ = r.cache.Delete(ctx, agentID)
}

// Get returns the card for agentID, checking the shared cache before the
// local map so a freshly-registered peer card is visible immediately.
func (r *Registry) Get(ctx context.Context, agentID string) (*Card, error) {
	if c, err := r.cache.Get(ctx, agentID); err == nil && c != nil {
		return c, nil
	}

	r.mu.RLock()
	c, ok := r.cards[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: agent %q not found", agentID)
	}
	return c, nil
}

// List returns every card in the local view: cards registered here plus
// peer cards already pulled in by the StartSync refresh loop.
func (r *Registry) List() []*Card {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Card, 0, len(r.cards))
	for _, c := range r.cards {
		out = append(out, c)
	}
	return out
}

// FindByCapability returns every registered, healthy agent advertising the
// given capability, ordered by Tier ascending (lower tier = preferred).
func (r *Registry) FindByCapability(capability string) []*Card {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]*Card, 0)
	for _, c := range r.cards {
		if c.Status == "unhealthy" {
			continue
		}
		for _, cap := range c.Capabilities {
			if cap == capability {
				matches = append(matches, c)
				break
			}
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Tier < matches[j-1].Tier; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	return matches
}

// MarkStatus updates the liveness status recorded against an agent (e.g.
// from internal/a2a/pool health-check outcomes).
func (r *Registry) MarkStatus(agentID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cards[agentID]; ok {
		c.Status = status
	}
}

// StartSync launches a background loop that refreshes the local view from
// the shared cache every interval, picking up cards registered by peer
// orchestrator instances.
func (r *Registry) StartSync(ctx context.Context, interval time.Duration) {
	r.syncCtx, r.syncCancel = context.WithCancel(ctx)
	r.syncWg.Add(1)
	go func() {
		defer r.syncWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.syncCtx.Done():
				return
			case <-ticker.C:
				r.refreshFromCache()
			}
		}
	}()
}

// StopSync halts the background refresh loop started by StartSync.
func (r *Registry) StopSync() {
	if r.syncCancel != nil {
		r.syncCancel()
	}
	r.syncWg.Wait()
}

func (r *Registry) refreshFromCache() {
	keys, err := r.cache.Keys(r.syncCtx)
	if err != nil {
		r.logger.Warn(r.syncCtx, "registry cache scan failed", "error", err.Error())
		return
	}
	for _, key := range keys {
		c, err := r.cache.Get(r.syncCtx, key)
		if err != nil || c == nil {
			continue
		}
		r.mu.Lock()
		existing, ok := r.cards[key]
		if !ok || existing.ETag != c.ETag {
			r.cards[key] = c
		}
		r.mu.Unlock()
	}
}
