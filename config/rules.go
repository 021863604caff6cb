package config

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/priority"
)

// rulesSchemaJSON is the JSON Schema (draft-07) every rules document
// must satisfy before it is unmarshaled. Unknown top-level or rule
// fields are rejected so typos fail loudly instead of silently falling
// back to defaults.
const rulesSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Priority Rules Document",
  "type": "object",
  "properties": {
    "version": {
      "type": "string",
      "pattern": "^v?[0-9]+\\.[0-9]+\\.[0-9]+$"
    },
    "rules": {
      "type": "object",
      "properties": {
        "critical_fields": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "high_fields": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "low_patterns": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "background_patterns": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "long_array_threshold": {"type": "integer", "minimum": 0},
        "long_string_threshold": {"type": "integer", "minimum": 0},
        "array_length_threshold": {"type": "integer", "minimum": 0},
        "background_array_fields": {"type": "array", "items": {"type": "string", "minLength": 1}},
        "medium_array_fields": {"type": "array", "items": {"type": "string", "minLength": 1}}
      },
      "additionalProperties": false
    }
  },
  "required": ["rules"],
  "additionalProperties": false
}`

// RulesDocument is the on-disk shape of a YAML priority rules file.
// Absent rule fields keep their DefaultRules values, so a document only
// needs to list what it changes.
type RulesDocument struct {
	Version string         `json:"version,omitempty" yaml:"version,omitempty"`
	Rules   priority.Rules `json:"rules" yaml:"rules"`
}

// LoadRulesFile loads a YAML priority rules file, validates it against
// the rules schema and returns the resulting rule set. Fields the
// document omits retain their DefaultRules values.
func LoadRulesFile(path string) (priority.Rules, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return priority.Rules{}, errors.WrapInvalid(err,
			"config", "LoadRulesFile", "read rules file")
	}
	return ParseRules(data)
}

// ParseRules validates and unmarshals a YAML rules document.
func ParseRules(data []byte) (priority.Rules, error) {
	// YAML has no schema validator of its own, so round-trip to JSON
	// and validate there
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return priority.Rules{}, errors.WrapInvalid(
			fmt.Errorf("invalid YAML: %w", err),
			"config", "ParseRules", "parse rules document")
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return priority.Rules{}, errors.WrapInvalid(
			fmt.Errorf("rules document is not JSON-representable: %w", err),
			"config", "ParseRules", "convert rules document")
	}

	if err := validateRulesSchema(jsonData); err != nil {
		return priority.Rules{}, err
	}

	// Start from defaults so the document only overrides what it names
	doc := RulesDocument{Rules: priority.DefaultRules()}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return priority.Rules{}, errors.WrapInvalid(
			fmt.Errorf("invalid rules document: %w", err),
			"config", "ParseRules", "unmarshal rules document")
	}

	if err := doc.Rules.Validate(); err != nil {
		return priority.Rules{}, err
	}

	return doc.Rules, nil
}

// validateRulesSchema validates a JSON rules document against the
// embedded schema
func validateRulesSchema(jsonData []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(rulesSchemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("schema validation error: %w", err),
			"config", "ParseRules", "validate rules schema")
	}

	if !result.Valid() {
		msg := "rules document failed schema validation:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf(" %s: %s;", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
			"config", "ParseRules", "validate rules schema")
	}

	return nil
}
