package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is the on-disk YAML shape for a static set of Agent Cards,
// typically one file per deployment environment.
type Manifest struct {
	Agents []ManifestAgent `yaml:"agents"`
}

// ManifestAgent is one entry in a Manifest.
type ManifestAgent struct {
	AgentID       string   `yaml:"agent_id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Tier          int      `yaml:"tier"`
	Endpoint      string   `yaml:"endpoint"`
	Capabilities  []string `yaml:"capabilities"`
	Dependencies  []string `yaml:"dependencies"`
	QualityDomain string   `yaml:"quality_domain"`
}

// LoadManifest parses a YAML manifest file into a slice of Cards.
func LoadManifest(path string) ([]*Card, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parsing registry manifest %s: %w", path, err)
	}
	cards := make([]*Card, 0, len(m.Agents))
	for _, a := range m.Agents {
		cards = append(cards, &Card{
			AgentID:       a.AgentID,
			Name:          a.Name,
			Description:   a.Description,
			Tier:          a.Tier,
			Endpoint:      a.Endpoint,
			Capabilities:  a.Capabilities,
			Dependencies:  a.Dependencies,
			QualityDomain: a.QualityDomain,
			Status:        "unknown",
		})
	}
	return cards, nil
}

// LoadAndRegister loads a manifest file and registers every agent it
// describes with r.
func LoadAndRegister(ctx context.Context, r *Registry, path string) error {
	cards, err := LoadManifest(path)
	if err != nil {
		return err
	}
	for _, c := range cards {
		if err := r.Register(ctx, c); err != nil {
			return fmt.Errorf("registering agent %q: %w", c.AgentID, err)
		}
	}
	return nil
}
