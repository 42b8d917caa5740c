package action

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchemaDocs gives each known action type a JSON Schema for its
// payload shape, validated at Step 1 of ExecuteAction (spec §4.3) the same
// way the Job Definitions Registry validates a queued job's payload.
// Required lists are deliberately narrow: only the fields the scope
// enforcement step (spec §4.3 step 4) keys off of are required here, so a
// payload missing an optional field still reaches the step that's actually
// meant to reject it (capability gate, scope check) rather than being
// rejected early as merely malformed. property types are still checked
// wherever a field is present.
var envelopeSchemaDocs = map[string]json.RawMessage{
	TypeTranscriptUpsert: json.RawMessage(`{
		"type": "object",
		"required": ["sessionId", "entry"],
		"properties": {
			"sessionId": {"type": "string"},
			"entry": {
				"type": "object",
				"properties": {
					"turnId": {"type": "string"},
					"role": {"type": "string"},
					"content": {"type": "string"}
				}
			}
		}
	}`),
	TypeApprovalDecide: json.RawMessage(`{
		"type": "object",
		"required": ["threadId", "turnId"],
		"properties": {
			"threadId": {"type": "string"},
			"turnId": {"type": "string"},
			"approvalId": {"type": "string"},
			"decision": {"type": "string"}
		}
	}`),
	TypeTurnSteerCreate: json.RawMessage(`{
		"type": "object",
		"required": ["sessionId", "turnId"],
		"properties": {
			"sessionId": {"type": "string"},
			"turnId": {"type": "string"},
			"message": {"type": "string"}
		}
	}`),
	TypeQueueEnqueue: json.RawMessage(`{
		"type": "object",
		"required": ["projectId"],
		"properties": {
			"type": {"type": "string"},
			"projectId": {"type": "string"}
		}
	}`),
}

var (
	envelopeSchemasOnce   sync.Once
	envelopeSchemasByType map[string]*jsonschema.Schema
)

func compiledEnvelopeSchemas() map[string]*jsonschema.Schema {
	envelopeSchemasOnce.Do(func() {
		envelopeSchemasByType = make(map[string]*jsonschema.Schema, len(envelopeSchemaDocs))
		for actionType, raw := range envelopeSchemaDocs {
			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				panic(fmt.Sprintf("action: invalid built-in schema for %s: %v", actionType, err))
			}
			resource := actionType + ".json"
			c := jsonschema.NewCompiler()
			if err := c.AddResource(resource, doc); err != nil {
				panic(fmt.Sprintf("action: add schema resource for %s: %v", actionType, err))
			}
			schema, err := c.Compile(resource)
			if err != nil {
				panic(fmt.Sprintf("action: compile schema for %s: %v", actionType, err))
			}
			envelopeSchemasByType[actionType] = schema
		}
	})
	return envelopeSchemasByType
}

// validateEnvelopePayload validates payload against actionType's registered
// envelope schema. A nil return means the payload is shaped correctly, or
// actionType carries no schema.
func validateEnvelopePayload(actionType string, payload map[string]any) []string {
	schema, ok := compiledEnvelopeSchemas()[actionType]
	if !ok {
		return nil
	}
	if err := schema.Validate(payload); err != nil {
		return []string{err.Error()}
	}
	return nil
}
