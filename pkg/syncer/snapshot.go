package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotVersion is the persisted schema version. Unknown versions are
// rejected rather than partially trusted.
const SnapshotVersion = 1

// stateDirName is the plugin-scoped subdirectory the snapshot lives under.
const stateDirName = ".recall/state"

// RunStatus is the persisted outcome of a sync run. "running" is the only
// non-terminal value; finding it at load time means the previous process
// died mid-run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// SnapshotEntry records one file known to have been synced: its fingerprint
// at the time of the last successful sync and the remote root URI it was
// published to.
type SnapshotEntry struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	URI         string `json:"uri"`
}

// Snapshot is the durable record of last known synced state for one
// (workspace, agent) pair.
type Snapshot struct {
	Version                int             `json:"version"`
	AgentID                string          `json:"agent_id"`
	Entries                []SnapshotEntry `json:"entries"`
	IndexConfigPath        string          `json:"index_config_path,omitempty"`
	IndexConfigFingerprint string          `json:"index_config_fingerprint,omitempty"`
	LastRunStatus          RunStatus       `json:"last_run_status,omitempty"`
	LastRunReason          string          `json:"last_run_reason,omitempty"`
	LastRunStartedAt       time.Time       `json:"last_run_started_at,omitempty"`
	LastRunCompletedAt     time.Time       `json:"last_run_completed_at,omitempty"`
}

// NewSnapshot creates an empty snapshot for an agent.
func NewSnapshot(agentID string) *Snapshot {
	return &Snapshot{
		Version: SnapshotVersion,
		AgentID: agentID,
	}
}

// EntryMap returns the entries keyed by path.
func (s *Snapshot) EntryMap() map[string]SnapshotEntry {
	m := make(map[string]SnapshotEntry, len(s.Entries))
	for _, e := range s.Entries {
		m[e.Path] = e
	}
	return m
}

// SetEntries replaces the entry list from a map, sorted by path so the
// persisted file diffs deterministically.
func (s *Snapshot) SetEntries(m map[string]SnapshotEntry) {
	entries := make([]SnapshotEntry, 0, len(m))
	for _, e := range m {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	s.Entries = entries
}

// SnapshotStore loads and persists the snapshot file for one
// (workspace, agent) pair.
type SnapshotStore struct {
	path   string
	logger zerolog.Logger
}

// NewSnapshotStore derives the snapshot path from the workspace root and a
// sanitized agent identifier, so agents sharing a workspace don't collide.
func NewSnapshotStore(workspace, agentID string, logger zerolog.Logger) *SnapshotStore {
	name := "sync-" + sanitizeAgentID(agentID) + ".json"
	return &SnapshotStore{
		path:   filepath.Join(workspace, filepath.FromSlash(stateDirName), name),
		logger: logger,
	}
}

// Path returns the snapshot file location.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Load reads the persisted snapshot. A missing, unparseable, or
// unsupported-version file all return nil without error; losing the snapshot
// is safe, it just costs a full resync.
func (s *SnapshotStore) Load() *Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Failed to read sync snapshot, treating as absent")
		}
		return nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Sync snapshot is corrupt, treating as absent")
		return nil
	}

	if snap.Version != SnapshotVersion {
		s.logger.Warn().
			Int("version", snap.Version).
			Int("supported", SnapshotVersion).
			Msg("Sync snapshot has unsupported version, treating as absent")
		return nil
	}

	return &snap
}

// Persist writes the snapshot atomically: a temp file in the same directory
// is renamed over the final path, so the file on disk is always a complete
// document. A torn write here would poison the next run's crash-recovery
// decision.
func (s *SnapshotStore) Persist(snap *Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Suffix includes pid and timestamp so concurrent processes touching the
	// same workspace can't collide on the temp name.
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%d.%d.tmp",
		filepath.Base(s.path), os.Getpid(), time.Now().UnixNano()))

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}

// sanitizeAgentID replaces every non-alphanumeric character so the agent
// identity is safe to embed in a filename.
func sanitizeAgentID(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}
