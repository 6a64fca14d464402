// Package config loads the static configuration spec.md §6 says the core
// consumes: LLM client endpoint, default timeouts, connection pool sizes,
// health-check interval, session expiration, quality-profile file path.
// Configuration is YAML, mirroring how the teacher's agent cards and
// registry manifests are data-driven (internal/registry.LoadManifest,
// internal/quality.LoadYAML).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orc-run/agentmesh/internal/a2a/pool"
	"github.com/orc-run/agentmesh/internal/a2a/retry"
	"github.com/orc-run/agentmesh/internal/session"
)

// Config is the root configuration document. Every field has a
// spec-mandated or teacher-idiom default, applied by Default and by
// Load for any key the file omits.
type Config struct {
	// Server is the HTTP listen address for cmd/orchestratord.
	Server ServerConfig `yaml:"server"`
	// Pool tunes the shared Connection Pool (spec.md §4.3).
	Pool pool.Config `yaml:"pool"`
	// Retry tunes the A2A Client's per-call retry policy (spec.md §4.2).
	Retry retry.Config `yaml:"retry"`
	// Session tunes expiration and journal capacity (spec.md §4.9).
	Session SessionConfig `yaml:"session"`
	// RegistryManifest is the path to a YAML Agent Card manifest loaded
	// at startup via internal/registry.LoadManifest.
	RegistryManifest string `yaml:"registry_manifest"`
	// QualityProfiles is the path to a YAML Quality Profile file loaded
	// via internal/quality.LoadYAML.
	QualityProfiles string `yaml:"quality_profiles"`
	// LLM configures the external LLM client used by reference domain
	// agents (spec.md §6: "endpoint of the LLM client used by agents").
	LLM LLMConfig `yaml:"llm"`
}

// ServerConfig configures the orchestratord HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// StreamTimeout bounds one message/stream call end to end, the
	// outermost of spec.md §5's three timeout layers (per-session).
	StreamTimeout time.Duration `yaml:"stream_timeout"`
}

// SessionConfig configures internal/session.Manager.
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	JournalCapacity int           `yaml:"journal_capacity"`
}

// LLMConfig names the endpoint and default model an llmclient adapter
// dials; which concrete provider adapter to construct from it is a
// cmd/orchestratord wiring decision, not something this struct encodes.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`

	// InitialTokensPerMinute and MaxTokensPerMinute bound the adaptive
	// rate limiter cmd/orchestratord wraps around the sophisticated
	// Generator's LLM client; zero means the limiter's own defaults.
	InitialTokensPerMinute float64 `yaml:"initial_tokens_per_minute"`
	MaxTokensPerMinute     float64 `yaml:"max_tokens_per_minute"`
}

// Default returns a Config populated entirely with spec-mandated defaults,
// suitable for tests and for filling gaps left by a partial YAML file.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8080",
			StreamTimeout: 5 * time.Minute,
		},
		Pool:  pool.DefaultConfig(),
		Retry: retry.DefaultConfig(),
		Session: SessionConfig{
			TTL:             session.DefaultTTL,
			JanitorInterval: session.DefaultTTL / 10,
			JournalCapacity: 256,
		},
		RegistryManifest: "config/agents.yaml",
		QualityProfiles:  "config/quality.yaml",
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-3-5-sonnet-latest",
		},
	}
}

// Load reads path, merging its contents over Default() so a file only
// needs to specify the keys it wants to override.
func Load(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
