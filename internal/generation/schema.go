package generation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/phrazzld/scry-tasks/internal/domain"
)

var (
	schemaMu    sync.Mutex
	schemaCache = map[domain.ResultKind]json.RawMessage{}
)

// Schema returns the JSON schema describing the expected response for kind.
// It returns nil for plain text. Schemas are reflected once and cached.
func Schema(kind domain.ResultKind) (json.RawMessage, error) {
	shape, err := outputShape(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, kind)
	}
	if shape == nil {
		return nil, nil
	}

	schemaMu.Lock()
	defer schemaMu.Unlock()

	if cached, ok := schemaCache[kind]; ok {
		return cached, nil
	}

	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(shape)
	s.Version = ""

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for %s: %w", kind, err)
	}
	schemaCache[kind] = raw
	return raw, nil
}

// SchemaName returns a stable identifier for the schema of kind, used where
// providers require a named response format.
func SchemaName(kind domain.ResultKind) string {
	return string(kind) + "_response"
}
