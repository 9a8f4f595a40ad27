package syncer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/recall/pkg/contextdb"
	"github.com/harun/recall/pkg/uri"
)

type remoteCall struct {
	Op  string
	URI string
	To  string
}

// mockRemote is an in-memory context database recording every mutation.
type mockRemote struct {
	mu        sync.Mutex
	files     map[string]string
	dirs      map[string]bool
	calls     []remoteCall
	importErr map[string]error
	landed    map[string]string
	waitErr   error
	onImport  func()
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		files:     make(map[string]string),
		dirs:      make(map[string]bool),
		importErr: make(map[string]error),
		landed:    make(map[string]string),
	}
}

func (m *mockRemote) record(op, u, to string) {
	m.calls = append(m.calls, remoteCall{Op: op, URI: u, To: to})
}

func (m *mockRemote) callsFor(op string) []remoteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remoteCall
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockRemote) Exists(ctx context.Context, u string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("exists", u, "")
	_, isFile := m.files[u]
	return isFile || m.dirs[u], nil
}

func (m *mockRemote) Mkdir(ctx context.Context, u string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("mkdir", u, "")
	if m.dirs[u] {
		return &contextdb.APIError{Status: 409, Code: "already_exists", Message: "node already exists"}
	}
	m.dirs[u] = true
	return nil
}

func (m *mockRemote) Remove(ctx context.Context, u string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("remove", u, "")
	if _, ok := m.files[u]; !ok && !m.dirs[u] {
		return &contextdb.APIError{Status: 404, Code: "not_found", Message: "resource not found"}
	}
	delete(m.files, u)
	delete(m.dirs, u)
	return nil
}

func (m *mockRemote) Import(ctx context.Context, localPath, targetParentURI string) (string, error) {
	m.mu.Lock()
	hook := m.onImport
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("import", targetParentURI, "")

	base := filepath.Base(localPath)
	if err, ok := m.importErr[base]; ok {
		return "", err
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}

	leaf := strings.TrimSuffix(base, ".md")
	if override, ok := m.landed[base]; ok {
		leaf = override
	}
	landedURI := targetParentURI + "/" + leaf
	m.files[landedURI] = string(content)
	return landedURI, nil
}

func (m *mockRemote) Move(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("move", from, to)
	content, ok := m.files[from]
	if !ok {
		return &contextdb.APIError{Status: 404, Code: "not_found", Message: "resource not found"}
	}
	delete(m.files, from)
	m.files[to] = content
	return nil
}

func (m *mockRemote) ReadContent(ctx context.Context, u string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("read", u, "")
	content, ok := m.files[u]
	if !ok {
		return "", &contextdb.APIError{Status: 404, Code: "not_found", Message: "resource not found"}
	}
	return content, nil
}

func (m *mockRemote) WaitForProcessing(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("wait", "", "")
	return m.waitErr
}

func newTestEngine(t *testing.T, ws string, remote RemoteClient, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Workspace: ws,
		AgentID:   "agent-1",
		Scan:      defaultScanConfig(),
		Logger:    zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	mapper := uri.NewMapper("ctx://workspaces", cfg.AgentID)
	return NewEngine(cfg, remote, mapper)
}

func TestEngineFirstRunSingleFile(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)

	report, err := engine.Run(context.Background(), Options{Reason: "test"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, report.Status)
	assert.Equal(t, 1, report.Uploaded)
	assert.Zero(t, report.Failed)

	// Empty remote: exactly one mkdir for the agent prefix, one import, and
	// no destructive calls at all.
	assert.Len(t, remote.callsFor("mkdir"), 1)
	assert.Equal(t, "ctx://workspaces/agent-1", remote.callsFor("mkdir")[0].URI)
	assert.Len(t, remote.callsFor("import"), 1)
	assert.Empty(t, remote.callsFor("remove"))
	assert.Empty(t, remote.callsFor("move"))

	assert.Equal(t, "# memory", remote.files["ctx://workspaces/agent-1/MEMORY"])

	snap := NewSnapshotStore(ws, "agent-1", zerolog.Nop()).Load()
	require.NotNil(t, snap)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "MEMORY.md", snap.Entries[0].Path)
	assert.Equal(t, "ctx://workspaces/agent-1/MEMORY", snap.Entries[0].URI)
	assert.Equal(t, RunStatusSuccess, snap.LastRunStatus)
}

func TestEngineSecondRunIsIdempotent(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")
	writeFile(t, ws, "memory/notes.md", "notes")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)

	_, err := engine.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)
	require.Len(t, remote.callsFor("import"), 2)

	report, err := engine.Run(context.Background(), Options{Reason: "second"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, report.Status)
	assert.Zero(t, report.Uploaded)
	assert.Equal(t, 2, report.Skipped)
	assert.Len(t, remote.callsFor("import"), 2, "no new imports on an unchanged workspace")
}

func TestEngineFingerprintsSurviveRestart(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	first := newTestEngine(t, ws, remote, nil)
	_, err := first.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)

	// A fresh engine instance must trust the persisted snapshot.
	second := newTestEngine(t, ws, remote, nil)
	report, err := second.Run(context.Background(), Options{Reason: "restart"})
	require.NoError(t, err)
	assert.Zero(t, report.Uploaded)
	assert.Equal(t, 1, report.Skipped)
	assert.Len(t, remote.callsFor("import"), 1)
}

func TestEngineChangedFileReuploaded(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "v1")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)
	_, err := engine.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)

	writeFile(t, ws, "MEMORY.md", "v2 with different size")

	report, err := engine.Run(context.Background(), Options{Reason: "second"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, "v2 with different size", remote.files["ctx://workspaces/agent-1/MEMORY"])
}

func TestEngineStaleResourceClearedBeforeImport(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "fresh")

	remote := newMockRemote()
	remote.dirs["ctx://workspaces/agent-1"] = true
	remote.files["ctx://workspaces/agent-1/MEMORY"] = "stale leftover"

	engine := newTestEngine(t, ws, remote, nil)
	report, err := engine.Run(context.Background(), Options{Reason: "test"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)

	removes := remote.callsFor("remove")
	require.Len(t, removes, 1)
	assert.Equal(t, "ctx://workspaces/agent-1/MEMORY", removes[0].URI)
	assert.Empty(t, remote.callsFor("mkdir"), "parent already existed")
	assert.Equal(t, "fresh", remote.files["ctx://workspaces/agent-1/MEMORY"])
}

func TestEngineMovesWhenImportLandsElsewhere(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	remote.landed["MEMORY.md"] = "MEMORY-1"

	engine := newTestEngine(t, ws, remote, nil)
	report, err := engine.Run(context.Background(), Options{Reason: "test"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)

	moves := remote.callsFor("move")
	require.Len(t, moves, 1)
	assert.Equal(t, "ctx://workspaces/agent-1/MEMORY-1", moves[0].URI)
	assert.Equal(t, "ctx://workspaces/agent-1/MEMORY", moves[0].To)
	assert.Equal(t, "# memory", remote.files["ctx://workspaces/agent-1/MEMORY"])
	_, landedLeft := remote.files["ctx://workspaces/agent-1/MEMORY-1"]
	assert.False(t, landedLeft)
}

func TestEngineDeletionPropagates(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "memory/notes.md", "notes")
	writeFile(t, ws, "memory/tasks.md", "tasks")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)
	_, err := engine.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(ws, "memory", "notes.md")))

	report, err := engine.Run(context.Background(), Options{Reason: "second"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Zero(t, report.Uploaded)

	_, present := remote.files["ctx://workspaces/agent-1/memory/notes"]
	assert.False(t, present)

	snap := NewSnapshotStore(ws, "agent-1", zerolog.Nop()).Load()
	require.NotNil(t, snap)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "memory/tasks.md", snap.Entries[0].Path)
}

func TestEngineRemovalOfAlreadyMissingRemoteIsNoop(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "memory/notes.md", "notes")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)
	_, err := engine.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)

	// The remote resource disappeared out from under us; the stale removal
	// must still succeed.
	delete(remote.files, "ctx://workspaces/agent-1/memory/notes")
	require.NoError(t, os.Remove(filepath.Join(ws, "memory", "notes.md")))

	report, err := engine.Run(context.Background(), Options{Reason: "second"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, report.Status)
	assert.Equal(t, 1, report.Removed)
}

func TestEngineCrashRecoveryForcesFullResync(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	fp, err := FileFingerprint(filepath.Join(ws, "MEMORY.md"))
	require.NoError(t, err)

	// Simulate a process killed mid-run: marker still "running", entry
	// fingerprint already current.
	store := NewSnapshotStore(ws, "agent-1", zerolog.Nop())
	snap := NewSnapshot("agent-1")
	snap.LastRunStatus = RunStatusRunning
	snap.SetEntries(map[string]SnapshotEntry{
		"MEMORY.md": {Path: "MEMORY.md", Fingerprint: fp, URI: "ctx://workspaces/agent-1/MEMORY"},
	})
	require.NoError(t, store.Persist(snap))

	remote := newMockRemote()
	remote.dirs["ctx://workspaces/agent-1"] = true
	remote.files["ctx://workspaces/agent-1/MEMORY"] = "possibly torn"

	engine := newTestEngine(t, ws, remote, nil)
	report, err := engine.Run(context.Background(), Options{Reason: "recovery"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded, "matching fingerprint must not be trusted after a crash")
	assert.Equal(t, "# memory", remote.files["ctx://workspaces/agent-1/MEMORY"])

	reloaded := store.Load()
	require.NotNil(t, reloaded)
	assert.Equal(t, RunStatusSuccess, reloaded.LastRunStatus)
}

func TestEnginePerFileFailureIsolated(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "memory/bad.md", "will fail")
	writeFile(t, ws, "memory/good.md", "will succeed")

	remote := newMockRemote()
	remote.importErr["bad.md"] = &contextdb.APIError{Status: 500, Message: "internal invariant broken"}

	engine := newTestEngine(t, ws, remote, nil)
	report, err := engine.Run(context.Background(), Options{Reason: "test"})
	require.NoError(t, err, "per-file failures must not surface as a run error")
	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0].Error(), "memory/bad.md")

	// Only the file that made it is recorded.
	snap := NewSnapshotStore(ws, "agent-1", zerolog.Nop()).Load()
	require.NotNil(t, snap)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "memory/good.md", snap.Entries[0].Path)
	assert.Equal(t, RunStatusFailed, snap.LastRunStatus)
}

func TestEngineFailedRunRetriedOnRestart(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "memory/bad.md", "flaky")

	remote := newMockRemote()
	remote.importErr["bad.md"] = &contextdb.APIError{Status: 503, Code: "unavailable"}

	first := newTestEngine(t, ws, remote, nil)
	report, err := first.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, report.Status)

	delete(remote.importErr, "bad.md")

	second := newTestEngine(t, ws, remote, nil)
	report, err = second.Run(context.Background(), Options{Reason: "retry"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, report.Status)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, "flaky", remote.files["ctx://workspaces/agent-1/memory/bad"])
}

func TestEngineForceReuploadsEverything(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)
	_, err := engine.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)

	report, err := engine.Run(context.Background(), Options{Reason: "forced", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Len(t, remote.callsFor("import"), 2)
}

func TestEngineIndexConfigChangeForcesFull(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)
	_, err := engine.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)

	writeFile(t, ws, ".contextdb/index.json", `{"chunk_size": 512}`)

	report, err := engine.Run(context.Background(), Options{Reason: "config"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded, "index config appearing must invalidate fingerprints")

	// Unchanged config on the next run goes back to incremental.
	report, err = engine.Run(context.Background(), Options{Reason: "steady"})
	require.NoError(t, err)
	assert.Zero(t, report.Uploaded)
	assert.Equal(t, 1, report.Skipped)
}

func TestEngineDriftAdoption(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# identical")

	remote := newMockRemote()
	remote.dirs["ctx://workspaces/agent-1"] = true
	remote.files["ctx://workspaces/agent-1/MEMORY"] = "# identical"

	engine := newTestEngine(t, ws, remote, func(cfg *Config) {
		cfg.AdoptRemoteContent = true
	})
	report, err := engine.Run(context.Background(), Options{Reason: "adopt"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Adopted)
	assert.Zero(t, report.Uploaded)
	assert.Empty(t, remote.callsFor("import"))

	snap := NewSnapshotStore(ws, "agent-1", zerolog.Nop()).Load()
	require.NotNil(t, snap)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "ctx://workspaces/agent-1/MEMORY", snap.Entries[0].URI)
}

func TestEngineDriftAdoptionRejectsMismatch(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "local truth")

	remote := newMockRemote()
	remote.dirs["ctx://workspaces/agent-1"] = true
	remote.files["ctx://workspaces/agent-1/MEMORY"] = "remote drift"

	engine := newTestEngine(t, ws, remote, func(cfg *Config) {
		cfg.AdoptRemoteContent = true
	})
	report, err := engine.Run(context.Background(), Options{Reason: "adopt"})
	require.NoError(t, err)
	assert.Zero(t, report.Adopted)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, "local truth", remote.files["ctx://workspaces/agent-1/MEMORY"])
}

func TestEngineAdoptionScopedToSnapshotLoss(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, func(cfg *Config) {
		cfg.AdoptRemoteContent = true
	})
	_, err := engine.Run(context.Background(), Options{Reason: "first"})
	require.NoError(t, err)

	// A new file appearing with a usable snapshot on disk goes through the
	// normal import path even if the remote happens to hold the same bytes.
	writeFile(t, ws, "memory/notes.md", "same bytes")
	remote.files["ctx://workspaces/agent-1/memory/notes"] = "same bytes"
	remote.dirs["ctx://workspaces/agent-1/memory"] = true

	second := newTestEngine(t, ws, remote, func(cfg *Config) {
		cfg.AdoptRemoteContent = true
	})
	report, err := second.Run(context.Background(), Options{Reason: "second"})
	require.NoError(t, err)
	assert.Zero(t, report.Adopted)
	assert.Equal(t, 1, report.Uploaded)
}

func TestEngineCleansPreviousURIOnMappingChange(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	fp, err := FileFingerprint(filepath.Join(ws, "MEMORY.md"))
	require.NoError(t, err)

	// Snapshot recorded under a URI that no longer matches the mapper.
	store := NewSnapshotStore(ws, "agent-1", zerolog.Nop())
	snap := NewSnapshot("agent-1")
	snap.LastRunStatus = RunStatusSuccess
	snap.SetEntries(map[string]SnapshotEntry{
		"MEMORY.md": {Path: "MEMORY.md", Fingerprint: fp, URI: "ctx://workspaces/agent-1/legacy/MEMORY"},
	})
	require.NoError(t, store.Persist(snap))

	remote := newMockRemote()
	remote.dirs["ctx://workspaces/agent-1"] = true
	remote.files["ctx://workspaces/agent-1/legacy/MEMORY"] = "# memory"

	engine := newTestEngine(t, ws, remote, nil)
	report, err := engine.Run(context.Background(), Options{Reason: "remap"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)

	_, oldLeft := remote.files["ctx://workspaces/agent-1/legacy/MEMORY"]
	assert.False(t, oldLeft, "previous remote location is cleaned up")
	assert.Equal(t, "# memory", remote.files["ctx://workspaces/agent-1/MEMORY"])
}

func TestEngineWaitForProcessing(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, func(cfg *Config) {
		cfg.WaitForProcessing = true
		cfg.ProcessingTimeout = 90 * time.Second
	})

	report, err := engine.Run(context.Background(), Options{Reason: "wait"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, report.Status)
	assert.Len(t, remote.callsFor("wait"), 1)
}

func TestEngineWaitFailureMarksRunFailed(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	remote.waitErr = &contextdb.APIError{Status: 504, Message: "queue did not drain"}

	engine := newTestEngine(t, ws, remote, func(cfg *Config) {
		cfg.WaitForProcessing = true
	})

	report, err := engine.Run(context.Background(), Options{Reason: "wait"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Equal(t, 1, report.Uploaded, "uploads are already committed when the wait fails")
}

func TestEngineRunningMarkerVisibleMidRun(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)

	var statusDuringImport RunStatus
	remote.onImport = func() {
		if snap := NewSnapshotStore(ws, "agent-1", zerolog.Nop()).Load(); snap != nil {
			statusDuringImport = snap.LastRunStatus
		}
	}

	_, err := engine.Run(context.Background(), Options{Reason: "marker"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, statusDuringImport)
}

func TestEngineNestedExtraDirectory(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "notes/a.md", "a")
	writeFile(t, ws, "notes/nested/b.md", "b")
	writeFile(t, ws, "notes/nested/ignore.txt", "not markdown")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, func(cfg *Config) {
		cfg.Scan.ExtraPaths = []string{"notes"}
	})

	report, err := engine.Run(context.Background(), Options{Reason: "extra"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Uploaded)

	assert.Equal(t, "a", remote.files["ctx://workspaces/agent-1/notes/a"])
	assert.Equal(t, "b", remote.files["ctx://workspaces/agent-1/notes/nested/b"])

	mkdirs := remote.callsFor("mkdir")
	var parents []string
	for _, c := range mkdirs {
		parents = append(parents, c.URI)
	}
	assert.Contains(t, parents, "ctx://workspaces/agent-1/notes")
	assert.Contains(t, parents, "ctx://workspaces/agent-1/notes/nested")
}

func TestEngineProgressEvents(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)

	sink := NewProgressSink(64)
	done := make(chan []ProgressEvent, 1)
	go func() {
		var events []ProgressEvent
		for ev := range sink.Events() {
			events = append(events, ev)
		}
		done <- events
	}()

	_, err := engine.Run(context.Background(), Options{Reason: "progress", Progress: sink})
	require.NoError(t, err)

	events := <-done
	require.NotEmpty(t, events)

	phases := make(map[ProgressPhase]bool)
	for _, ev := range events {
		phases[ev.Phase] = true
		assert.NotEmpty(t, ev.RunID)
	}
	assert.True(t, phases[PhaseScan])
	assert.True(t, phases[PhaseUpsert])
	assert.True(t, phases[PhaseDone])

	last := events[len(events)-1]
	assert.Equal(t, PhaseDone, last.Phase)
	assert.Equal(t, string(RunStatusSuccess), last.Message)
}

func TestEngineMarkerPersistFailureClosesProgress(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, ws, "MEMORY.md", "# memory")
	// A regular file where the state directory belongs makes every snapshot
	// persist fail, including the write-ahead marker.
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".recall"), []byte("in the way"), 0o644))

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)

	sink := NewProgressSink(64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range sink.Events() {
		}
	}()

	report, err := engine.Run(context.Background(), Options{Reason: "marker-fail", Progress: sink})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running marker")
	require.NotNil(t, report)
	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Empty(t, remote.callsFor("import"), "no remote work without a persisted marker")

	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("progress sink was not closed after marker persist failure")
	}
}

func TestEngineEmptyWorkspace(t *testing.T) {
	ws := t.TempDir()

	remote := newMockRemote()
	engine := newTestEngine(t, ws, remote, nil)

	report, err := engine.Run(context.Background(), Options{Reason: "empty"})
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, report.Status)
	assert.Zero(t, report.Uploaded)
	assert.Empty(t, remote.callsFor("import"))
}
