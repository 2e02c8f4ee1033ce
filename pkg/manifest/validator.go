package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var agentSchemaJSON string

const agentSchemaURL = "https://schemas.openstandardagents.org/ossa/v1/agent.schema.json"

// SpecResult is the outcome of basic specification validation.
type SpecResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// SchemaValidator checks manifests against the embedded OSSA agent
// schema. It is safe for concurrent use after construction.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded agent schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(agentSchemaURL, strings.NewReader(agentSchemaJSON)); err != nil {
		return nil, fmt.Errorf("load agent schema: %w", err)
	}
	compiled, err := c.Compile(agentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile agent schema: %w", err)
	}
	return &SchemaValidator{schema: compiled}, nil
}

// Validate checks a parsed agent against the schema.
func (v *SchemaValidator) Validate(a *Agent) SpecResult {
	if a == nil {
		return SpecResult{Valid: false, Errors: []string{"manifest is nil"}}
	}
	data, err := json.Marshal(a)
	if err != nil {
		return SpecResult{Valid: false, Errors: []string{fmt.Sprintf("marshal manifest: %v", err)}}
	}
	return v.validateJSON(data)
}

// ValidateBytes checks raw YAML or JSON manifest bytes against the
// schema without requiring a successful parse into the typed model.
func (v *SchemaValidator) ValidateBytes(raw []byte) SpecResult {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return SpecResult{Valid: false, Errors: []string{fmt.Sprintf("decode manifest: %v", err)}}
	}
	// Round-trip through encoding/json so the instance uses the value
	// types the schema library expects.
	data, err := json.Marshal(doc)
	if err != nil {
		return SpecResult{Valid: false, Errors: []string{fmt.Sprintf("canonicalize manifest: %v", err)}}
	}
	return v.validateJSON(data)
}

func (v *SchemaValidator) validateJSON(data []byte) SpecResult {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return SpecResult{Valid: false, Errors: []string{fmt.Sprintf("decode manifest: %v", err)}}
	}
	if err := v.schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return SpecResult{Valid: false, Errors: flattenSchemaError(ve)}
		}
		return SpecResult{Valid: false, Errors: []string{err.Error()}}
	}
	return SpecResult{Valid: true}
}

// flattenSchemaError collects leaf causes as "location: message" lines,
// deduplicated and sorted for stable output.
func flattenSchemaError(ve *jsonschema.ValidationError) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			line := loc + ": " + e.Message
			if !seen[line] {
				seen[line] = true
				out = append(out, line)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
