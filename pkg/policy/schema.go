package policy

const schemaURL = "https://keel.schemas.local/policy.schema.json"

// documentSchemaJSON is the structural contract for policy documents.
// It rejects unknown top-level sections and wrong shapes before the
// typed decode runs, so operator typos surface as one schema error
// instead of a silently ignored field.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "classification", "providers", "channels"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "classification": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "confidential_patterns": {"type": "array", "items": {"type": "string"}},
        "public_patterns": {"type": "array", "items": {"type": "string"}},
        "public_operations": {"type": "array", "items": {"type": "string"}},
        "restricted_operations": {"type": "array", "items": {"type": "string"}}
      }
    },
    "providers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "kind", "endpoint"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "kind": {"type": "string", "enum": ["local", "remote"]},
          "endpoint": {"type": "string", "minLength": 1},
          "probe_timeout": {"type": "string"}
        }
      }
    },
    "channels": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "restricted": {"type": "array", "items": {"type": "string"}},
        "public": {"type": "array", "items": {"type": "string"}}
      }
    },
    "retention": {"type": "string"},
    "enforcement": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "confidential_local_only": {"type": "boolean"},
        "deny_unknown_channels": {"type": "boolean"}
      }
    }
  }
}`
