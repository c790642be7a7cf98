package snapshotio

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/duplex"
)

const snapshotSchema = `{
  "type": "object",
  "required": ["metadata", "data"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["timestamp", "version"],
      "properties": {
        "timestamp": {"type": "string"},
        "version": {"type": "string"},
        "totalEntities": {"type": "number", "minimum": 0},
        "totalRecords": {"type": "number", "minimum": 0}
      }
    },
    "data": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["id"],
          "properties": {"id": {"type": "string", "minLength": 1}}
        }
      }
    }
  }
}`

var (
	resolvedOnce sync.Once
	resolved     *jsonschema.Resolved
	resolveErr   error
)

func snapshotValidator() (*jsonschema.Resolved, error) {
	resolvedOnce.Do(func() {
		var schema jsonschema.Schema
		if err := json.Unmarshal([]byte(snapshotSchema), &schema); err != nil {
			resolveErr = fmt.Errorf("failed to unmarshal snapshot schema: %w", err)
			return
		}
		resolved, resolveErr = schema.Resolve(&jsonschema.ResolveOptions{})
	})
	return resolved, resolveErr
}

// ValidateJSON checks a JSON snapshot document before it is decoded.
func ValidateJSON(data []byte) error {
	v, err := snapshotValidator()
	if err != nil {
		return duplex.NewInternalError("snapshot schema unavailable", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "snapshot is not valid JSON").WithCause(err)
	}
	if err := v.Validate(doc); err != nil {
		return duplex.NewError(duplex.ErrorTypeValidation, duplex.ErrCodeInvalidSnapshot, "snapshot does not match the expected layout").WithCause(err)
	}
	return nil
}
