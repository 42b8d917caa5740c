package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// manifestSchemaDoc is the JSON Schema a candidate's extension.manifest.json
// must satisfy (spec §6): a non-empty name, and, when present, capabilities
// shaped as arrays of non-empty event/action type strings. The Trust
// Evaluator glob-matches against capabilities.events downstream, so
// catching a malformed shape here keeps it from ever seeing a non-string
// entry.
const manifestSchemaDoc = `{
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"capabilities": {
			"type": "object",
			"properties": {
				"events": {"type": "array", "items": {"type": "string", "minLength": 1}},
				"actions": {"type": "array", "items": {"type": "string", "minLength": 1}}
			}
		}
	}
}`

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *jsonschema.Schema
)

func compiledManifestSchema() *jsonschema.Schema {
	manifestSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(manifestSchemaDoc), &doc); err != nil {
			panic(fmt.Sprintf("events: invalid built-in manifest schema: %v", err))
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.json", doc); err != nil {
			panic(fmt.Sprintf("events: add manifest schema resource: %v", err))
		}
		s, err := c.Compile("manifest.json")
		if err != nil {
			panic(fmt.Sprintf("events: compile manifest schema: %v", err))
		}
		manifestSchema = s
	})
	return manifestSchema
}
