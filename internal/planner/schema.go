package planner

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// planSchema validates the shape of a Generator's raw JSON output before
// it is unmarshaled into a Plan, catching malformed task lists or missing
// required fields at the boundary instead of surfacing a zero-value Plan
// silently.
const planSchema = `{
  "type": "object",
  "required": ["tasks", "coordination", "estimates", "quality_score"],
  "properties": {
    "tasks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "description", "specialist"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "description": { "type": "string" },
          "specialist": { "type": "string" },
          "depends_on": { "type": "array", "items": { "type": "string" } },
          "parallelizable": { "type": "boolean" },
          "stage": { "type": "integer" },
          "weight": { "type": "number" }
        }
      }
    },
    "coordination": { "enum": ["sequential", "parallel", "hybrid"] },
    "critical_path": { "type": "array", "items": { "type": "string" } },
    "estimates": {
      "type": "object",
      "properties": {
        "time_s": { "type": "number" },
        "cost_units": { "type": "number" }
      }
    },
    "risks": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description", "severity"],
        "properties": {
          "description": { "type": "string" },
          "severity": { "enum": ["low", "medium", "high", "critical"] },
          "mitigation": { "type": "string" }
        }
      }
    },
    "quality_score": { "type": "number" }
  }
}`

// compiledSchema wraps a compiled jsonschema.Schema so callers outside this
// file don't need the jsonschema import.
type compiledSchema struct {
	sch *jsonschema.Schema
}

func compilePlanSchema() (*compiledSchema, error) {
	var schemaDoc any
	if err := json.Unmarshal([]byte(planSchema), &schemaDoc); err != nil {
		return nil, fmt.Errorf("parsing embedded plan schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("plan.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("loading embedded plan schema: %w", err)
	}
	sch, err := compiler.Compile("plan.json")
	if err != nil {
		return nil, fmt.Errorf("compiling embedded plan schema: %w", err)
	}
	return &compiledSchema{sch: sch}, nil
}

func (c *compiledSchema) Validate(doc any) error {
	return c.sch.Validate(normalizeForSchema(doc))
}

// normalizeForSchema mirrors internal/quality's normalizer: encoding/json
// already decodes generic `any` targets into map[string]any, so this is
// mostly a pass-through, kept for parity should a caller ever feed in a
// yaml-decoded document instead.
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
