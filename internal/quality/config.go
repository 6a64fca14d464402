package quality

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// profileFileSchema validates the shape of a quality profile YAML file
// before it is parsed into Profiles, catching malformed threshold maps
// (e.g. a non-numeric threshold) at load time instead of at first Validate
// call.
const profileFileSchema = `{
  "type": "object",
  "required": ["domains"],
  "properties": {
    "domains": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": { "type": "number" }
      }
    }
  }
}`

// ProfileFile is the on-disk YAML shape for a set of Quality Profiles,
// one threshold map per domain, per spec.md §3's Quality Profile
// definition.
type ProfileFile struct {
	Domains map[string]map[string]float64 `yaml:"domains"`
}

// LoadYAML reads path, validates it against profileFileSchema, and returns
// one Profile per domain key.
func LoadYAML(path string) ([]*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quality profile file %s: %w", path, err)
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("parsing quality profile file %s: %w", path, err)
	}
	if err := validateAgainstSchema(generic); err != nil {
		return nil, fmt.Errorf("validating quality profile file %s: %w", path, err)
	}

	var pf ProfileFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("decoding quality profile file %s: %w", path, err)
	}

	profiles := make([]*Profile, 0, len(pf.Domains))
	for domain, thresholds := range pf.Domains {
		profiles = append(profiles, &Profile{Domain: domain, Thresholds: thresholds})
	}
	return profiles, nil
}

func validateAgainstSchema(doc any) error {
	var schemaDoc any
	if err := json.Unmarshal([]byte(profileFileSchema), &schemaDoc); err != nil {
		return fmt.Errorf("parsing embedded quality profile schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("quality-profile.json", schemaDoc); err != nil {
		return fmt.Errorf("loading embedded quality profile schema: %w", err)
	}
	sch, err := compiler.Compile("quality-profile.json")
	if err != nil {
		return fmt.Errorf("compiling embedded quality profile schema: %w", err)
	}
	return sch.Validate(normalizeForSchema(doc))
}

// normalizeForSchema converts yaml.v3's map[string]any (and nested
// map[string]any from its generic decode) into the plain JSON-compatible
// shape jsonschema/v6 expects; yaml.v3 already decodes into
// map[string]interface{} for generic `any` targets, so this is mostly a
// pass-through guarding against non-string map keys yaml can produce.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeForSchema(vv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeForSchema(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeForSchema(vv)
		}
		return out
	default:
		return val
	}
}
