// Command orchestratord runs the Master Orchestrator as a standalone A2A
// agent: it loads the static Agent Card manifest and Quality Profile
// configuration, wires the Connection Pool, Planner, Quality Framework, and
// Session Manager together, and serves the result over HTTP as both a
// JSON-RPC A2A endpoint (message/send, message/stream) and a
// Response-Formatter-backed convenience endpoint for UI clients.
//
// # Configuration
//
// orchestratord reads a single YAML file, defaulting every field spec.md
// §6 leaves to implementation discretion (see internal/config):
//
//	ORCHESTRATORD_CONFIG   - path to the YAML config file (default: unset, built-in defaults only)
//	REDIS_URL               - shared registry cache; empty disables cross-instance sync (default: unset)
//
// # Example
//
//	ORCHESTRATORD_CONFIG=./config/orchestratord.yaml ./orchestratord
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orc-run/agentmesh/internal/a2a/client"
	"github.com/orc-run/agentmesh/internal/a2a/pool"
	"github.com/orc-run/agentmesh/internal/a2a/retry"
	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/a2aserver"
	"github.com/orc-run/agentmesh/internal/config"
	"github.com/orc-run/agentmesh/internal/llmclient"
	"github.com/orc-run/agentmesh/internal/orchestrator"
	"github.com/orc-run/agentmesh/internal/planner"
	"github.com/orc-run/agentmesh/internal/quality"
	"github.com/orc-run/agentmesh/internal/registry"
	"github.com/orc-run/agentmesh/internal/session"
	"github.com/orc-run/agentmesh/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if path := os.Getenv("ORCHESTRATORD_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := telemetry.NewOtelLogger(slog.Default())
	metrics := telemetry.NewOtelMetrics()

	reg, err := buildRegistry(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer reg.StopSync()

	p := pool.New(cfg.Pool, logger, metrics)

	qf := quality.New()
	if cfg.QualityProfiles != "" {
		profiles, err := quality.LoadYAML(cfg.QualityProfiles)
		if err != nil {
			return err
		}
		for _, prof := range profiles {
			qf.Load(prof)
		}
	}

	gen, err := buildGenerator(cfg)
	if err != nil {
		return err
	}
	pl, err := planner.New(gen, logger, metrics)
	if err != nil {
		return err
	}

	sessions := session.NewManager(
		session.WithTTL(cfg.Session.TTL),
		session.WithJanitorInterval(cfg.Session.JanitorInterval),
		session.WithJournalCapacity(cfg.Session.JournalCapacity),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	)
	sessions.StartJanitor(ctx)
	defer sessions.StopJanitor()

	resolver := newRegistryResolver(reg)
	clients := newClientCache(p, cfg.Retry, logger)

	orch := orchestrator.New(pl, qf, sessions, resolver, clients.dial,
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
	)

	card := &types.AgentCard{
		AgentID:      "orchestrator",
		Name:         "agentmesh-orchestrator",
		Description:  "Master Orchestrator: decomposes requests and coordinates specialist agents.",
		Tier:         1,
		Capabilities: resolver.Specialists(),
		Status:       "healthy",
	}
	srv := a2aserver.New(orch, card, logger)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.StreamTimeout,
		WriteTimeout: cfg.Server.StreamTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("orchestratord listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRegistry loads the static Agent Card manifest and, if REDIS_URL is
// set, layers a shared cache on top so peer orchestrator instances observe
// the same registry state (spec.md §5 "Agent Registry").
func buildRegistry(ctx context.Context, cfg *config.Config, logger telemetry.Logger, metrics telemetry.Metrics) (*registry.Registry, error) {
	opts := []registry.Option{registry.WithLogger(logger), registry.WithMetrics(metrics)}
	if url := os.Getenv("REDIS_URL"); url != "" {
		rdb := redis.NewClient(&redis.Options{Addr: url})
		opts = append(opts, registry.WithCache(registry.NewRedisCache(rdb, "agentmesh:registry")))
	}
	reg := registry.New(opts...)

	if cfg.RegistryManifest != "" {
		if err := registry.LoadAndRegister(ctx, reg, cfg.RegistryManifest); err != nil {
			return nil, err
		}
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		reg.StartSync(ctx, 30*time.Second)
	}
	return reg, nil
}

// buildGenerator wires a planner.DispatchGenerator whose sophisticated path
// calls the configured LLM provider, falling back to the simple heuristic
// generator for sophisticated-mode requests when no provider is set.
func buildGenerator(cfg *config.Config) (planner.Generator, error) {
	if cfg.LLM.Provider == "" {
		return planner.NewDispatchGenerator(nil), nil
	}

	var (
		llm llmclient.Client
		err error
	)
	switch cfg.LLM.Provider {
	case "anthropic":
		llm, err = llmclient.NewAnthropicFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), cfg.LLM.Model)
	case "openai":
		llm, err = llmclient.NewOpenAIFromAPIKey(os.Getenv("OPENAI_API_KEY"), cfg.LLM.Model)
	default:
		return planner.NewDispatchGenerator(nil), nil
	}
	if err != nil {
		return nil, err
	}
	limiter := llmclient.NewAdaptiveRateLimiter(cfg.LLM.InitialTokensPerMinute, cfg.LLM.MaxTokensPerMinute)
	return planner.NewDispatchGenerator(planner.NewLLMGenerator(limiter.Wrap(llm))), nil
}

// clientCache memoizes one *client.Client per specialist endpoint so
// repeated dispatches to the same agent reuse its retry/header
// configuration rather than constructing a fresh Client per node, per
// spec.md §4.1's shared Connection Pool design.
type clientCache struct {
	pool     *pool.Pool
	retryCfg retry.Config
	logger   telemetry.Logger

	mu    sync.Mutex
	cache map[string]*client.Client
}

func newClientCache(p *pool.Pool, retryCfg retry.Config, logger telemetry.Logger) *clientCache {
	return &clientCache{pool: p, retryCfg: retryCfg, logger: logger, cache: make(map[string]*client.Client)}
}

// dial is called concurrently across sessions (one HTTP request per
// session) and within a session's parallel node dispatch, so the cache
// needs its own lock independent of the shared Pool's.
func (c *clientCache) dial(endpoint string) orchestrator.Dispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.cache[endpoint]; ok {
		return existing
	}
	cl := client.New(endpoint, c.pool, client.WithLogger(c.logger), client.WithRetryConfig(c.retryCfg))
	c.cache[endpoint] = cl
	return cl
}
