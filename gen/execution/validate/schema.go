// Package validate rejects malformed POST /start bodies before they reach
// the execution service, per the control API's "malformed identifiers,
// missing required fields, or unparseable bodies are rejected with 400
// before touching the service" requirement.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const startSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["masterplan_id", "plan", "atoms_by_id"],
	"properties": {
		"masterplan_id": { "type": "string", "minLength": 1 },
		"plan": {
			"type": "object",
			"required": ["waves"],
			"properties": {
				"masterplan_id": { "type": "string" },
				"waves": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["index", "atoms"],
						"properties": {
							"index": { "type": "integer", "minimum": 0 },
							"atoms": { "type": "array", "items": { "type": "string" } }
						}
					}
				}
			}
		},
		"atoms_by_id": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"required": ["id", "spec", "language"],
				"properties": {
					"id": { "type": "string", "minLength": 1 },
					"spec": { "type": "string" },
					"language": { "type": "string", "minLength": 1 },
					"depends_on": { "type": "array", "items": { "type": "string" } },
					"code": { "type": "string" }
				}
			}
		}
	}
}`

const startSchemaResource = "start_payload.json"

// StartSchema validates the shape of a POST /start request body, compiled
// once at package init so request-time validation only walks the instance.
var StartSchema *jsonschema.Schema

func init() {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(startSchemaResource, strings.NewReader(startSchemaJSON)); err != nil {
		panic(fmt.Sprintf("validate: compiling start schema: %v", err))
	}
	sch, err := c.Compile(startSchemaResource)
	if err != nil {
		panic(fmt.Sprintf("validate: compiling start schema: %v", err))
	}
	StartSchema = sch
}

// StartPayload decodes and schema-validates a raw POST /start body. It
// returns the decoded instance as a plain any tree.
func StartPayload(body []byte) (any, error) {
	var instance any
	if err := json.Unmarshal(body, &instance); err != nil {
		return nil, fmt.Errorf("unparseable body: %w", err)
	}
	if err := StartSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("payload validation failed: %w", err)
	}
	return instance, nil
}
