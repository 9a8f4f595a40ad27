package memory

import (
	"context"
	"fmt"
)

// MemorySearchParams defines parameters for the memory_search tool.
type MemorySearchParams struct {
	Query      string  `json:"query"`
	Limit      int     `json:"limit,omitempty"`
	MinScore   float64 `json:"min_score,omitempty"`
	SessionKey string  `json:"session_key,omitempty"`
}

// MemorySearchResult represents the result of a memory search.
type MemorySearchResult struct {
	Results []SearchResult `json:"results"`
	Query   string         `json:"query"`
	Count   int            `json:"count"`
}

// MemorySearch searches the remote memory index.
func MemorySearch(ctx context.Context, manager *Manager, params MemorySearchParams) (*MemorySearchResult, error) {
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := manager.Search(ctx, params.Query, SearchOptions{
		Limit:      params.Limit,
		MinScore:   params.MinScore,
		SessionKey: params.SessionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return &MemorySearchResult{
		Results: results,
		Query:   params.Query,
		Count:   len(results),
	}, nil
}

// MemoryReadParams defines parameters for the memory_read tool.
type MemoryReadParams struct {
	Path   string `json:"path"`
	Offset int    `json:"offset,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// MemoryReadResult represents the result of a memory read.
type MemoryReadResult struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// MemoryRead returns the text of a workspace memory file.
func MemoryRead(ctx context.Context, manager *Manager, params MemoryReadParams) (*MemoryReadResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	content, err := manager.Read(params.Path, params.Offset, params.Count)
	if err != nil {
		return nil, err
	}

	return &MemoryReadResult{
		Path:    params.Path,
		Content: content,
	}, nil
}

// MemorySyncParams defines parameters for the memory_sync tool.
type MemorySyncParams struct {
	Reason string `json:"reason,omitempty"`
	Force  bool   `json:"force,omitempty"`
}

// MemorySyncResult represents the result of a sync trigger.
type MemorySyncResult struct {
	Status Status `json:"status"`
}

// MemorySync reconciles the workspace with the remote database.
func MemorySync(ctx context.Context, manager *Manager, params MemorySyncParams) (*MemorySyncResult, error) {
	reason := params.Reason
	if reason == "" {
		reason = "tool"
	}

	if err := manager.Sync(ctx, reason, params.Force, nil); err != nil {
		return nil, fmt.Errorf("sync failed: %w", err)
	}

	return &MemorySyncResult{Status: manager.Status()}, nil
}

// MemoryStatus returns the manager's configuration echo and last-sync state.
func MemoryStatus(ctx context.Context, manager *Manager) (*Status, error) {
	status := manager.Status()
	return &status, nil
}
