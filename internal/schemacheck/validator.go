// Package schemacheck provides the structural validation capability:
// validating a data document against a JSON Schema document and returning a
// deterministic, ordered list of issues. The error order is stable across
// runs (sorted by instance path, then schema path) so API responses never
// reorder between identical calls.
package schemacheck

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	oerrors "github.com/agentlegible/orchestrator/internal/errors"
	"github.com/agentlegible/orchestrator/pkg/types"
)

// Validator compiles and evaluates JSON Schema documents (draft 2020-12).
type Validator struct{}

// NewValidator creates a schema validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks data against the given schema document and returns the
// ordered issue list. An empty list means the data is valid. A schema that
// does not compile is a malformed input, not a validation failure.
func (v *Validator) Validate(schemaDoc, data map[string]interface{}) ([]types.ValidationIssue, error) {
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return nil, oerrors.NewInternal("schemacheck: failed to encode schema", err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, oerrors.NewMalformed(fmt.Sprintf("schema does not parse: %v", err))
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, oerrors.NewMalformed(fmt.Sprintf("schema does not compile: %v", err))
	}

	// Validate wants plain decoded JSON values; map[string]interface{}
	// already is one.
	err = schema.Validate(toJSONValue(data))
	if err == nil {
		return []types.ValidationIssue{}, nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, oerrors.NewInternal("schemacheck: unexpected validation failure", err)
	}

	issues := flatten(ve)
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		if issues[i].SchemaPath != issues[j].SchemaPath {
			return issues[i].SchemaPath < issues[j].SchemaPath
		}
		return issues[i].Message < issues[j].Message
	})
	return issues, nil
}

// flatten collects the leaf causes of a validation error tree. The root and
// intermediate nodes only restate which subschema failed; the leaves carry
// the actionable messages.
func flatten(ve *jsonschema.ValidationError) []types.ValidationIssue {
	if len(ve.Causes) == 0 {
		return []types.ValidationIssue{{
			Message:    ve.Message,
			Path:       ve.InstanceLocation,
			SchemaPath: ve.KeywordLocation,
		}}
	}
	var issues []types.ValidationIssue
	for _, cause := range ve.Causes {
		issues = append(issues, flatten(cause)...)
	}
	return issues
}

// toJSONValue normalizes a decoded document for the validator. A nil map
// validates as an empty object rather than JSON null.
func toJSONValue(data map[string]interface{}) interface{} {
	if data == nil {
		return map[string]interface{}{}
	}
	return data
}
