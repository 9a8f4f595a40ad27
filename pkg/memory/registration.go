package memory

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolParameter describes one parameter of a registered tool.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     interface{}
}

// ToolDefinition is the schema plus handler a tool is registered with.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
	Handler     func(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// ToolExecutor is implemented by the host runtime's tool registry.
type ToolExecutor interface {
	RegisterTool(def ToolDefinition) error
}

// RegisterMemoryTools registers the memory tools with the host executor.
func RegisterMemoryTools(executor ToolExecutor, manager *Manager) error {
	tools := []ToolDefinition{
		{
			Name:        "memory_search",
			Description: "Search synced memory files by query, returning ranked snippets with source path hints",
			Parameters: []ToolParameter{
				{
					Name:        "query",
					Type:        "string",
					Description: "Search query",
					Required:    true,
				},
				{
					Name:        "limit",
					Type:        "integer",
					Description: "Maximum number of results to return",
					Required:    false,
					Default:     20,
				},
				{
					Name:        "min_score",
					Type:        "number",
					Description: "Minimum relevance score threshold",
					Required:    false,
					Default:     0.0,
				},
				{
					Name:        "session_key",
					Type:        "string",
					Description: "Search session key for result continuity",
					Required:    false,
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var searchParams MemorySearchParams
				if err := decodeParams(params, &searchParams); err != nil {
					return nil, err
				}
				return MemorySearch(ctx, manager, searchParams)
			},
		},
		{
			Name:        "memory_read",
			Description: "Read a memory file from the workspace",
			Parameters: []ToolParameter{
				{
					Name:        "path",
					Type:        "string",
					Description: "Workspace-relative path to the memory file",
					Required:    true,
				},
				{
					Name:        "offset",
					Type:        "integer",
					Description: "First line to return (0-based)",
					Required:    false,
				},
				{
					Name:        "count",
					Type:        "integer",
					Description: "Number of lines to return (0 = rest of file)",
					Required:    false,
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var readParams MemoryReadParams
				if err := decodeParams(params, &readParams); err != nil {
					return nil, err
				}
				return MemoryRead(ctx, manager, readParams)
			},
		},
		{
			Name:        "memory_sync",
			Description: "Reconcile workspace memory files with the remote context database",
			Parameters: []ToolParameter{
				{
					Name:        "reason",
					Type:        "string",
					Description: "Why the sync was triggered",
					Required:    false,
				},
				{
					Name:        "force",
					Type:        "boolean",
					Description: "Re-upload every file regardless of fingerprints",
					Required:    false,
				},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var syncParams MemorySyncParams
				if err := decodeParams(params, &syncParams); err != nil {
					return nil, err
				}
				return MemorySync(ctx, manager, syncParams)
			},
		},
		{
			Name:        "memory_status",
			Description: "Report memory sync configuration and last-sync state",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return MemoryStatus(ctx, manager)
			},
		},
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}

	return nil
}

func decodeParams(params map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(jsonData, out); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}
