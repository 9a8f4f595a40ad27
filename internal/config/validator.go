package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ConfigSchema is the JSON Schema the raw config document is validated
// against before unmarshal, so malformed configs fail with field paths
// instead of zero values.
const ConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "workspace": {
      "type": "string",
      "minLength": 1
    },
    "agent_id": {
      "type": "string",
      "pattern": "^[a-zA-Z0-9_-]+$"
    },
    "remote": {
      "type": "object",
      "properties": {
        "base_url": {"type": "string", "minLength": 1},
        "base_uri": {"type": "string"},
        "token": {"type": "string"},
        "timeout_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "scan": {
      "type": "object",
      "properties": {
        "root_files": {"type": "array", "items": {"type": "string"}},
        "memory_dir": {"type": "string"},
        "skills_dir": {"type": "string"},
        "skill_file": {"type": "string"},
        "extra_paths": {"type": "array", "items": {"type": "string"}}
      }
    },
    "sync": {
      "type": "object",
      "properties": {
        "index_config_path": {"type": "string"},
        "wait_for_processing": {"type": "boolean"},
        "processing_timeout_seconds": {"type": "integer", "minimum": 0},
        "adopt_remote_content": {"type": "boolean"},
        "watch_files": {"type": "boolean"},
        "auto_sync_cron": {"type": "string"}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "max_size": {"type": "integer", "minimum": 1},
        "max_age": {"type": "integer", "minimum": 1},
        "compress": {"type": "boolean"}
      }
    }
  }
}`

// ValidateDocument validates a raw JSON config document against the schema.
func ValidateDocument(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(ConfigSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Validate checks the resolved configuration's invariants that the schema
// can't express.
func (c *Config) Validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	return nil
}
