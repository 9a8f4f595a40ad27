package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/recall/pkg/contextdb"
	"github.com/harun/recall/pkg/syncer"
	"github.com/harun/recall/pkg/uri"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// RemoteService is everything the manager needs from the context database:
// the engine's mutation surface plus search, overview reads, and probes.
// Satisfied by *contextdb.Client.
type RemoteService interface {
	syncer.RemoteClient
	Search(ctx context.Context, query string, opts contextdb.SearchOptions) ([]contextdb.SearchResult, error)
	ReadOverview(ctx context.Context, uri string) (string, error)
	Health(ctx context.Context) error
	SystemStatus(ctx context.Context) (*contextdb.SystemStatus, error)
}

// SearchResult is one ranked snippet with a local path hint when the remote
// URI maps back into the workspace.
type SearchResult struct {
	URI      string  `json:"uri"`
	PathHint string  `json:"path_hint,omitempty"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
}

// SearchOptions configures a search call.
type SearchOptions struct {
	Limit      int     `json:"limit"`
	MinScore   float64 `json:"min_score"`
	SessionKey string  `json:"session_key,omitempty"`
}

// Status echoes the manager's configuration and last-sync state.
type Status struct {
	Workspace    string     `json:"workspace"`
	AgentID      string     `json:"agent_id"`
	RemotePrefix string     `json:"remote_prefix"`
	Syncing      bool       `json:"syncing"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

// Config holds manager configuration, fully resolved before construction.
type Config struct {
	Workspace string
	AgentID   string
	BaseURI   string

	Scan syncer.ScanConfig

	IndexConfigPath    string
	WaitForProcessing  bool
	ProcessingTimeout  time.Duration
	AdoptRemoteContent bool

	// WatchFiles enables the fsnotify watcher that schedules a debounced
	// background sync after workspace changes.
	WatchFiles bool
	// AutoSyncCron, when set, schedules periodic background syncs.
	AutoSyncCron string

	Logger zerolog.Logger
	Remote RemoteService
}

// Manager bridges a workspace's markdown memory files to the remote context
// database. It owns the reconciliation engine and guarantees at most one
// sync run in flight; concurrent callers join the running sync.
type Manager struct {
	cfg    Config
	mapper *uri.Mapper
	engine *syncer.Engine
	remote RemoteService
	logger zerolog.Logger

	mu       sync.Mutex
	inflight *inflightSync
	lastSync *time.Time
	closed   bool

	watcher  *FileWatcher
	schedule *autoSync
}

type inflightSync struct {
	done chan struct{}
	err  error
}

// NewManager creates a manager for one (workspace, agent) pair.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Workspace == "" {
		return nil, errors.New("workspace path is required")
	}
	if cfg.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	if cfg.Remote == nil {
		return nil, errors.New("remote service is required")
	}

	mapper := uri.NewMapper(cfg.BaseURI, cfg.AgentID)
	engine := syncer.NewEngine(syncer.Config{
		Workspace:          cfg.Workspace,
		AgentID:            cfg.AgentID,
		Scan:               cfg.Scan,
		IndexConfigPath:    cfg.IndexConfigPath,
		WaitForProcessing:  cfg.WaitForProcessing,
		ProcessingTimeout:  cfg.ProcessingTimeout,
		AdoptRemoteContent: cfg.AdoptRemoteContent,
		Logger:             cfg.Logger,
	}, cfg.Remote, mapper)

	m := &Manager{
		cfg:    cfg,
		mapper: mapper,
		engine: engine,
		remote: cfg.Remote,
		logger: cfg.Logger,
	}

	if cfg.WatchFiles {
		watcher, err := NewFileWatcher(cfg.Logger, func() {
			m.backgroundSync("file-change")
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.Watch(cfg.Workspace); err != nil {
			watcher.Stop()
			return nil, fmt.Errorf("failed to watch workspace: %w", err)
		}
		m.watcher = watcher
	}

	if cfg.AutoSyncCron != "" {
		schedule, err := newAutoSync(cfg.AutoSyncCron, func() {
			m.backgroundSync("scheduled")
		})
		if err != nil {
			if m.watcher != nil {
				m.watcher.Stop()
			}
			return nil, fmt.Errorf("invalid auto sync schedule: %w", err)
		}
		m.schedule = schedule
	}

	m.logger.Info().
		Str("workspace", cfg.Workspace).
		Str("agent", cfg.AgentID).
		Msg("Memory manager initialized")

	return m, nil
}

// Sync reconciles the workspace with the remote database. Partial per-file
// failures are logged and recorded in the snapshot, not returned; an error
// means the run itself could not proceed. A call arriving while a sync is
// running joins it and receives the same result.
func (m *Manager) Sync(ctx context.Context, reason string, force bool, progress func(syncer.ProgressEvent)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager is closed")
	}
	if call := m.inflight; call != nil {
		m.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &inflightSync{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight = nil
		m.mu.Unlock()
		close(call.done)
	}()

	var sink *syncer.ProgressSink
	var drained chan struct{}
	if progress != nil {
		sink = syncer.NewProgressSink(64)
		drained = make(chan struct{})
		go func() {
			defer close(drained)
			for ev := range sink.Events() {
				progress(ev)
			}
		}()
	}

	report, err := m.engine.Run(ctx, syncer.Options{
		Reason:   reason,
		Force:    force,
		Progress: sink,
	})
	if drained != nil {
		<-drained
	}
	if err != nil {
		call.err = err
		return err
	}

	m.mu.Lock()
	now := time.Now()
	m.lastSync = &now
	m.mu.Unlock()

	if report.Failed > 0 {
		m.logger.Warn().
			Int("failed", report.Failed).
			Str("run_id", report.RunID).
			Msg("Sync completed with per-file failures")
	}

	return nil
}

// backgroundSync runs a sync off the caller's goroutine. Failures are logged,
// never raised; background triggers must not crash the host.
func (m *Manager) backgroundSync(reason string) {
	go func() {
		if err := m.Sync(context.Background(), reason, false, nil); err != nil {
			m.logger.Error().Err(err).Str("reason", reason).Msg("Background sync failed")
		}
	}()
}

// Search queries the remote index and annotates results with local path
// hints. An empty query fails fast before any remote call.
func (m *Manager) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if query == "" {
		return nil, errors.New("query cannot be empty")
	}

	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.SessionKey == "" {
		key, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
		opts.SessionKey = key
	}

	remote, err := m.remote.Search(ctx, query, contextdb.SearchOptions{
		Limit:      opts.Limit,
		MinScore:   opts.MinScore,
		SessionKey: opts.SessionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(remote))
	for _, r := range remote {
		hint, _ := m.mapper.FromRootURI(r.URI)
		results = append(results, SearchResult{
			URI:      r.URI,
			PathHint: hint,
			Snippet:  r.Snippet,
			Score:    r.Score,
		})
	}

	m.logger.Debug().Str("query", query).Int("results", len(results)).Msg("Search completed")
	return results, nil
}

// ReadOverview returns the remote summary tier for a workspace file.
func (m *Manager) ReadOverview(ctx context.Context, relPath string) (string, error) {
	rootURI, err := m.mapper.ToRootURI(relPath)
	if err != nil {
		return "", err
	}
	return m.remote.ReadOverview(ctx, rootURI)
}

// Status returns the configuration echo and last-sync state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Workspace:    m.cfg.Workspace,
		AgentID:      m.cfg.AgentID,
		RemotePrefix: m.mapper.Prefix(),
		Syncing:      m.inflight != nil,
		LastSyncTime: m.lastSync,
	}
}

// Health probes the remote service.
func (m *Manager) Health(ctx context.Context) error {
	return m.remote.Health(ctx)
}

// SystemStatus returns the remote service's self-reported state.
func (m *Manager) SystemStatus(ctx context.Context) (*contextdb.SystemStatus, error) {
	return m.remote.SystemStatus(ctx)
}

// Close releases the watcher and scheduler. A sync already in flight runs to
// completion; new syncs are refused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info().Msg("Closing memory manager")

	if m.watcher != nil {
		m.watcher.Stop()
	}
	if m.schedule != nil {
		m.schedule.stop()
	}
	return nil
}
