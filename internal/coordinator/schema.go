package coordinator

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"nautgate/internal/fault"
)

// initConfigSchema constrains the initialize payload. The config is mostly
// passed through to the engine; the schema rejects shapes that would fail
// deep inside it with an opaque error.
const initConfigSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "trader_id": {"type": "string", "minLength": 1},
    "environment": {"type": "string", "enum": ["live", "sandbox", "sim"]},
    "venues": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "venue_id": {"type": "string", "minLength": 1},
          "credentials_ref": {"type": "string"}
        },
        "required": ["venue_id"]
      }
    },
    "heartbeat_timeout_sec": {"type": "number", "exclusiveMinimum": 0},
    "default_timeout_sec": {"type": "number", "exclusiveMinimum": 0}
  },
  "additionalProperties": true
}`

var initSchema = jsonschema.MustCompileString("init-config.json", initConfigSchema)

func validateInitConfig(config map[string]any) error {
	if config == nil {
		return nil
	}
	if err := initSchema.Validate(normalizeForSchema(config)); err != nil {
		msg := err.Error()
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			msg = ve.Message
			for _, cause := range ve.Causes {
				msg = cause.Message
				break
			}
		}
		return fault.Newf(fault.Validation, "initialize config rejected: %s", strings.TrimSpace(msg))
	}
	return nil
}

// normalizeForSchema converts nested map[any]any values (as produced by some
// YAML decoders) into the map[string]any form the schema validator expects.
func normalizeForSchema(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeForSchema(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if ks, ok := k.(string); ok {
				out[ks] = normalizeForSchema(item)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeForSchema(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}
