// Package syncer keeps a local workspace's markdown memory files consistent
// with remote context-database resources: incrementally, crash-safely, and
// idempotently, with no push channel from the remote side. Change detection
// is purely local (size+mtime fingerprints against a persisted snapshot).
package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/harun/recall/pkg/contextdb"
	"github.com/harun/recall/pkg/uri"
	"github.com/rs/zerolog"
)

// RemoteClient is the narrow remote surface the engine depends on. Satisfied
// by *contextdb.Client; tests substitute mocks. Errors returned by any call
// must classify through contextdb.Classify.
type RemoteClient interface {
	Exists(ctx context.Context, uri string) (bool, error)
	Mkdir(ctx context.Context, uri string) error
	Remove(ctx context.Context, uri string, recursive bool) error
	Import(ctx context.Context, localPath, targetParentURI string) (string, error)
	Move(ctx context.Context, from, to string) error
	ReadContent(ctx context.Context, uri string) (string, error)
	WaitForProcessing(ctx context.Context, timeout time.Duration) error
}

// Config holds engine configuration, fully resolved before construction.
type Config struct {
	Workspace string
	AgentID   string
	Scan      ScanConfig

	// IndexConfigPath is the external config file whose content fingerprint
	// forces a full resync when it changes. Empty means probe the default
	// locations under the workspace.
	IndexConfigPath string

	// WaitForProcessing makes each run block until the remote queue drains.
	WaitForProcessing bool
	ProcessingTimeout time.Duration

	// AdoptRemoteContent enables the drift-adoption shortcut after snapshot
	// loss: a candidate with no snapshot entry whose remote content already
	// matches local bytes is adopted without an import.
	AdoptRemoteContent bool

	Logger zerolog.Logger
}

// Candidate is one local file eligible for sync, produced fresh each run and
// never persisted.
type Candidate struct {
	RelPath         string
	FullPath        string
	Fingerprint     string
	DesiredRootURI  string
	TargetParentURI string
}

// Options are per-run parameters.
type Options struct {
	Reason   string
	Force    bool
	Progress *ProgressSink
}

// Report summarizes one sync run. Per-file failures are collected here and
// reflected in the run status; they do not abort the run.
type Report struct {
	RunID    string
	Status   RunStatus
	Uploaded int
	Skipped  int
	Removed  int
	Adopted  int
	Failed   int
	Errors   []error
	Duration time.Duration
}

// Engine is the sync reconciliation core. It owns the snapshot for the
// duration of a run; callers must serialize runs (the memory manager's
// single-flight guard does this).
type Engine struct {
	cfg     Config
	client  RemoteClient
	mapper  *uri.Mapper
	scanner *Scanner
	store   *SnapshotStore
	logger  zerolog.Logger

	// Snapshot is loaded once, lazily, and cached for the engine's lifetime.
	snapshot *Snapshot
	loaded   bool

	// recovery is set when the previous run is known to have crashed or
	// failed; it forces the next run to treat every candidate as dirty.
	recovery bool

	// freshSnapshot is set when no usable prior snapshot was found at load
	// time. Drift adoption is scoped to exactly this case.
	freshSnapshot bool
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg Config, client RemoteClient, mapper *uri.Mapper) *Engine {
	return &Engine{
		cfg:     cfg,
		client:  client,
		mapper:  mapper,
		scanner: NewScanner(cfg.Workspace, cfg.Scan, cfg.Logger),
		store:   NewSnapshotStore(cfg.Workspace, cfg.AgentID, cfg.Logger),
		logger:  cfg.Logger,
	}
}

// SnapshotPath returns where the engine persists its state.
func (e *Engine) SnapshotPath() string {
	return e.store.Path()
}

// Run executes one sync: load snapshot, write the running marker, plan,
// execute remote mutations sequentially, and finalize the snapshot
// unconditionally. One file's failure never aborts the run; it marks the
// final status failed.
func (e *Engine) Run(ctx context.Context, opts Options) (report *Report, err error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := e.logger.With().Str("run_id", runID).Str("reason", opts.Reason).Logger()

	e.ensureLoaded()
	snap := e.snapshot

	report = &Report{RunID: runID}
	finalized := false
	finalize := func(entries map[string]SnapshotEntry, indexPath, indexFp string) {
		if finalized {
			return
		}
		finalized = true

		if entries != nil {
			snap.SetEntries(entries)
		}
		snap.IndexConfigPath = indexPath
		snap.IndexConfigFingerprint = indexFp
		snap.LastRunCompletedAt = time.Now().UTC()
		if report.Failed > 0 || err != nil {
			snap.LastRunStatus = RunStatusFailed
		} else {
			snap.LastRunStatus = RunStatusSuccess
		}
		report.Status = snap.LastRunStatus
		e.recovery = snap.LastRunStatus != RunStatusSuccess

		if perr := e.store.Persist(snap); perr != nil {
			logger.Error().Err(perr).Msg("Failed to persist sync snapshot")
			if err == nil {
				err = perr
			}
		}

		report.Duration = time.Since(start)
		if opts.Progress != nil {
			opts.Progress.publish(ProgressEvent{RunID: runID, Phase: PhaseDone, Message: string(snap.LastRunStatus)})
			opts.Progress.Close()
		}
	}
	// Finalize runs on every exit, even before any remote work, so the
	// progress sink always closes and the running marker never survives a
	// completed call.
	defer func() {
		finalize(nil, snap.IndexConfigPath, snap.IndexConfigFingerprint)
	}()

	// Write-ahead marker: persisted before any remote work so a kill from
	// here on is detectable by the next run.
	snap.LastRunStatus = RunStatusRunning
	snap.LastRunReason = opts.Reason
	snap.LastRunStartedAt = time.Now().UTC()
	if perr := e.store.Persist(snap); perr != nil {
		err = fmt.Errorf("failed to persist running marker: %w", perr)
		return report, err
	}

	// Planning.
	indexPath, indexFp := e.indexConfigFingerprint()
	configChanged := indexPath != snap.IndexConfigPath || indexFp != snap.IndexConfigFingerprint
	forceFull := opts.Force || configChanged || e.recovery

	paths := e.scanner.Scan()
	opts.Progress.publish(ProgressEvent{RunID: runID, Phase: PhaseScan, Total: len(paths)})

	candidates, cerr := e.buildCandidates(paths)
	if cerr != nil {
		// The file existed moments ago; a stat failure here is a real race
		// or permissions problem worth surfacing.
		err = cerr
		return report, err
	}

	entries := snap.EntryMap()

	var toUpsert []Candidate
	for _, cand := range candidates {
		entry, ok := entries[cand.RelPath]
		if forceFull || !ok || entry.Fingerprint != cand.Fingerprint || entry.URI != cand.DesiredRootURI {
			toUpsert = append(toUpsert, cand)
		}
	}
	report.Skipped = len(candidates) - len(toUpsert)

	candidateSet := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		candidateSet[cand.RelPath] = true
	}
	var stale []SnapshotEntry
	for p, entry := range entries {
		if !candidateSet[p] {
			stale = append(stale, entry)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].Path < stale[j].Path })

	logger.Info().
		Int("candidates", len(candidates)).
		Int("to_upsert", len(toUpsert)).
		Int("stale", len(stale)).
		Bool("full", forceFull).
		Bool("config_changed", configChanged).
		Msg("Sync plan ready")

	// Executing: strictly sequential. The remote's create/delete/import
	// sequence for a single path is not safe under concurrency.
	for i, cand := range toUpsert {
		opts.Progress.publish(ProgressEvent{
			RunID: runID, Phase: PhaseUpsert, Path: cand.RelPath, Done: i, Total: len(toUpsert),
		})

		entry, had := entries[cand.RelPath]
		oldURI := ""
		if had && entry.URI != cand.DesiredRootURI {
			oldURI = entry.URI
		}

		if !had && e.freshSnapshot && e.cfg.AdoptRemoteContent {
			if e.tryAdopt(ctx, cand) {
				entries[cand.RelPath] = SnapshotEntry{
					Path:        cand.RelPath,
					Fingerprint: cand.Fingerprint,
					URI:         cand.DesiredRootURI,
				}
				report.Adopted++
				continue
			}
		}

		if ferr := e.syncFile(ctx, cand); ferr != nil {
			logger.Error().Err(ferr).Str("file", cand.RelPath).Str("uri", cand.DesiredRootURI).Msg("File sync failed")
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("%s: %w", cand.RelPath, ferr))
			continue
		}

		if oldURI != "" {
			// Best effort: the new location is authoritative, a leftover at
			// the old mapping target is only garbage.
			if rerr := e.removeTolerant(ctx, oldURI); rerr != nil {
				logger.Warn().Err(rerr).Str("uri", oldURI).Msg("Failed to remove previous remote location")
			}
		}

		entries[cand.RelPath] = SnapshotEntry{
			Path:        cand.RelPath,
			Fingerprint: cand.Fingerprint,
			URI:         cand.DesiredRootURI,
		}
		report.Uploaded++
	}

	for i, entry := range stale {
		opts.Progress.publish(ProgressEvent{
			RunID: runID, Phase: PhaseRemove, Path: entry.Path, Done: i, Total: len(stale),
		})

		if rerr := e.removeTolerant(ctx, entry.URI); rerr != nil {
			logger.Error().Err(rerr).Str("file", entry.Path).Str("uri", entry.URI).Msg("Stale remote removal failed")
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("remove %s: %w", entry.Path, rerr))
			continue
		}
		delete(entries, entry.Path)
		report.Removed++
	}

	if e.cfg.WaitForProcessing {
		opts.Progress.publish(ProgressEvent{RunID: runID, Phase: PhaseWait})
		if werr := e.client.WaitForProcessing(ctx, e.cfg.ProcessingTimeout); werr != nil {
			logger.Error().Err(werr).Msg("Remote processing queue did not drain")
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("wait for processing: %w", werr))
		}
	}

	e.freshSnapshot = false
	finalize(entries, indexPath, indexFp)

	logger.Info().
		Int("uploaded", report.Uploaded).
		Int("skipped", report.Skipped).
		Int("removed", report.Removed).
		Int("adopted", report.Adopted).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Str("status", string(report.Status)).
		Msg("Sync completed")

	return report, err
}

// ensureLoaded loads the snapshot once per engine lifetime. Recovery is
// flagged when the previous run died ("running") or ended failed.
func (e *Engine) ensureLoaded() {
	if e.loaded {
		return
	}
	e.loaded = true

	snap := e.store.Load()
	if snap == nil {
		e.snapshot = NewSnapshot(e.cfg.AgentID)
		e.freshSnapshot = true
		return
	}

	e.snapshot = snap
	if snap.LastRunStatus == RunStatusRunning || snap.LastRunStatus == RunStatusFailed {
		e.logger.Warn().
			Str("status", string(snap.LastRunStatus)).
			Str("reason", snap.LastRunReason).
			Msg("Previous sync run did not complete cleanly, forcing full resync")
		e.recovery = true
	}
}

// buildCandidates annotates scanned paths with fingerprints and remote URIs.
func (e *Engine) buildCandidates(paths []string) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(paths))
	for _, relPath := range paths {
		fullPath := filepath.Join(e.cfg.Workspace, filepath.FromSlash(relPath))

		fp, err := FileFingerprint(fullPath)
		if err != nil {
			return nil, err
		}

		rootURI, err := e.mapper.ToRootURI(relPath)
		if err != nil {
			return nil, err
		}
		parentURI, err := e.mapper.ToTargetParentURI(relPath)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, Candidate{
			RelPath:         relPath,
			FullPath:        fullPath,
			Fingerprint:     fp,
			DesiredRootURI:  rootURI,
			TargetParentURI: parentURI,
		})
	}
	return candidates, nil
}

// syncFile runs the per-file upsert protocol: ensure parent, clear the
// desired location, import, and move if the import landed elsewhere.
func (e *Engine) syncFile(ctx context.Context, cand Candidate) error {
	exists, err := e.client.Exists(ctx, cand.TargetParentURI)
	if err != nil {
		return fmt.Errorf("failed to check target parent: %w", err)
	}
	if !exists {
		if err := e.client.Mkdir(ctx, cand.TargetParentURI); err != nil && !contextdb.IsAlreadyExists(err) {
			return fmt.Errorf("failed to create target parent: %w", err)
		}
	}

	// Clear before import: the remote import does not reliably overwrite in
	// place, so any existing resource at the desired URI goes first.
	present, err := e.client.Exists(ctx, cand.DesiredRootURI)
	if err != nil {
		return fmt.Errorf("failed to check desired uri: %w", err)
	}
	if present {
		if err := e.removeTolerant(ctx, cand.DesiredRootURI); err != nil {
			return fmt.Errorf("failed to clear desired uri: %w", err)
		}
	}

	landed, err := e.client.Import(ctx, cand.FullPath, cand.TargetParentURI)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if landed != cand.DesiredRootURI {
		// The remote derived its own leaf name. Clear the desired location
		// again (a concurrent creator may have raced us) and move into place.
		if err := e.removeTolerant(ctx, cand.DesiredRootURI); err != nil {
			return fmt.Errorf("failed to clear desired uri before move: %w", err)
		}
		if err := e.client.Move(ctx, landed, cand.DesiredRootURI); err != nil {
			return fmt.Errorf("failed to move %s to desired uri: %w", landed, err)
		}
	}

	return nil
}

// removeTolerant removes a remote resource, treating a missing path as a
// successful no-op.
func (e *Engine) removeTolerant(ctx context.Context, remoteURI string) error {
	err := e.client.Remove(ctx, remoteURI, true)
	if err != nil && !contextdb.IsMissingPath(err) {
		return err
	}
	return nil
}

// tryAdopt checks whether the remote already holds this exact content at the
// desired URI, adopting it without an import. Any failure falls back to the
// normal upload path.
func (e *Engine) tryAdopt(ctx context.Context, cand Candidate) bool {
	exists, err := e.client.Exists(ctx, cand.DesiredRootURI)
	if err != nil || !exists {
		return false
	}

	remote, err := e.client.ReadContent(ctx, cand.DesiredRootURI)
	if err != nil {
		return false
	}

	local, err := os.ReadFile(cand.FullPath)
	if err != nil {
		return false
	}

	if remote != string(local) {
		return false
	}

	e.logger.Debug().Str("file", cand.RelPath).Str("uri", cand.DesiredRootURI).Msg("Adopted matching remote content")
	return true
}

// indexConfigFingerprint hashes the external index-parameters file. The
// configured path wins; otherwise the default workspace locations are
// probed. An absent file yields an empty fingerprint, so absent->present
// transitions register as a change.
func (e *Engine) indexConfigFingerprint() (string, string) {
	var candidates []string
	if e.cfg.IndexConfigPath != "" {
		candidates = []string{e.cfg.IndexConfigPath}
	} else {
		candidates = []string{
			filepath.Join(e.cfg.Workspace, ".contextdb", "index.json"),
			filepath.Join(e.cfg.Workspace, "contextdb.json"),
		}
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				e.logger.Warn().Err(err).Str("path", p).Msg("Failed to read index config file")
			}
			continue
		}
		sum := sha256.Sum256(data)
		return p, hex.EncodeToString(sum[:])
	}

	if e.cfg.IndexConfigPath != "" {
		return e.cfg.IndexConfigPath, ""
	}
	return "", ""
}
