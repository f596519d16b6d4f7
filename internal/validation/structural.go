package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/loomhq/loom/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for workflow write-time validation.
// Embedded as a constant to avoid filesystem dependencies. Variant-specific
// step requirements are expressed as conditional subschemas on "type".
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://loom.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "authorId"],
  "properties": {
    "workflowId": { "type": "string" },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "authorId": { "type": "string", "minLength": 1 },
    "context": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    },
    "status": { "type": "string", "enum": ["draft", "active"] },
    "createdAt": {},
    "updatedAt": {}
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["stepId", "order", "type"],
      "properties": {
        "stepId": { "type": "string", "minLength": 1 },
        "order": { "type": "integer", "minimum": 1 },
        "type": { "type": "string", "enum": ["AGENT", "LLM", "LOGIC"] },
        "agentId": { "type": "string" },
        "agentVersion": { "type": "string" },
        "inputMapping": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "missingFieldsResolution": {
          "type": "object",
          "additionalProperties": { "$ref": "#/$defs/missingField" }
        },
        "prompt": { "type": "string" },
        "outputSchema": { "$ref": "#/$defs/outputSchema" },
        "logicType": { "type": "string", "enum": ["condition", "transform", "user_input"] },
        "condition": { "$ref": "#/$defs/condition" },
        "question": { "type": "string" },
        "outputField": { "type": "string" }
      },
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "AGENT" } } },
          "then": { "required": ["agentId"] }
        },
        {
          "if": { "properties": { "type": { "const": "LLM" } } },
          "then": { "required": ["prompt"] }
        },
        {
          "if": { "properties": { "type": { "const": "LOGIC" } } },
          "then": { "required": ["logicType"] }
        },
        {
          "if": {
            "properties": {
              "type": { "const": "LOGIC" },
              "logicType": { "const": "condition" }
            },
            "required": ["logicType"]
          },
          "then": { "required": ["condition"] }
        }
      ]
    },
    "missingField": {
      "type": "object",
      "required": ["source"],
      "properties": {
        "source": { "type": "string", "enum": ["context", "step", "fixed"] },
        "value": { "type": "string" }
      }
    },
    "outputSchema": {
      "type": "object",
      "required": ["fieldName"],
      "properties": {
        "fieldName": { "type": "string", "minLength": 1 },
        "type": { "type": "string" }
      }
    },
    "condition": {
      "type": "object",
      "required": ["if", "then"],
      "properties": {
        "if": { "type": "string", "minLength": 1 },
        "then": { "type": "string" },
        "else": { "type": "string" }
      }
    }
  }
}`

// StructuralValidator checks workflow documents against the embedded JSON
// Schema plus the structural constraints the schema cannot express. It is
// safe for concurrent use.
type StructuralValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewStructuralValidator pre-compiles the workflow schema.
func NewStructuralValidator() (*StructuralValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://loom.dev/schemas/workflow.json", doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile("https://loom.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &StructuralValidator{workflowSchema: compiled}, nil
}

// ValidateWorkflow checks a full workflow document at write time.
func (v *StructuralValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	doc, err := toJSONValue(wf)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toLoomError(err)
	}

	return validateStepList(wf.Steps)
}

// ValidateStep checks a single step document before it is added to or
// replaces a step in a workflow.
func (v *StructuralValidator) ValidateStep(step schema.Step) error {
	// Validate through a minimal wrapper so the step subschema applies.
	wrapper := &schema.Workflow{
		Name:     "step-check",
		AuthorID: "step-check",
		Steps:    []schema.Step{step},
	}
	doc, err := toJSONValue(wrapper)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize step").WithCause(err)
	}
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toLoomError(err)
	}
	return nil
}

// validateStepList enforces uniqueness constraints JSON Schema cannot
// express: step ids and step orders must both be unique.
func validateStepList(steps []schema.Step) error {
	seenIDs := make(map[string]struct{}, len(steps))
	seenOrders := make(map[int]struct{}, len(steps))
	for _, step := range steps {
		if _, exists := seenIDs[step.StepID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate step id %q", step.StepID)
		}
		seenIDs[step.StepID] = struct{}{}

		if _, exists := seenOrders[step.Order]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate step order %d", step.Order)
		}
		seenOrders[step.Order] = struct{}{}
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toLoomError converts a jsonschema.ValidationError into a LoomError with
// one message per leaf violation.
func toLoomError(err error) *schema.LoomError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
