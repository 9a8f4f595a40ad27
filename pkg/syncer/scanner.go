package syncer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const markdownExt = ".md"

// ScanConfig describes which workspace files are eligible for sync.
type ScanConfig struct {
	// RootFiles are fixed filenames probed at the workspace root.
	RootFiles []string
	// MemoryDir is scanned one level deep for markdown files.
	MemoryDir string
	// SkillsDir is scanned for direct child directories; SkillFile inside
	// each is included when present.
	SkillsDir string
	SkillFile string
	// ExtraPaths are workspace-relative files or directories. Directories
	// are scanned recursively, unlike MemoryDir.
	ExtraPaths []string
}

// Scanner produces the candidate set of local files eligible for sync.
// Missing or inaccessible optional inputs are treated as not present; a scan
// never fails because a configured path doesn't exist.
type Scanner struct {
	workspace string
	cfg       ScanConfig
	logger    zerolog.Logger
}

// NewScanner creates a scanner rooted at the workspace directory.
func NewScanner(workspace string, cfg ScanConfig, logger zerolog.Logger) *Scanner {
	return &Scanner{
		workspace: workspace,
		cfg:       cfg,
		logger:    logger,
	}
}

// Scan returns the deduplicated, sorted list of workspace-relative markdown
// paths that exist right now.
func (s *Scanner) Scan() []string {
	seen := make(map[string]bool)

	for _, name := range s.cfg.RootFiles {
		if s.isRegularFile(filepath.Join(s.workspace, name)) {
			seen[filepath.ToSlash(name)] = true
		}
	}

	s.scanMemoryDir(seen)
	s.scanSkillsDir(seen)

	for _, extra := range s.cfg.ExtraPaths {
		s.scanExtraPath(extra, seen)
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return paths
}

// scanMemoryDir includes every direct child markdown file, non-recursively.
func (s *Scanner) scanMemoryDir(seen map[string]bool) {
	if s.cfg.MemoryDir == "" {
		return
	}

	entries, err := os.ReadDir(filepath.Join(s.workspace, s.cfg.MemoryDir))
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isMarkdown(entry.Name()) {
			continue
		}
		seen[joinRel(s.cfg.MemoryDir, entry.Name())] = true
	}
}

// scanSkillsDir includes the skill file from each direct child directory.
func (s *Scanner) scanSkillsDir(seen map[string]bool) {
	if s.cfg.SkillsDir == "" || s.cfg.SkillFile == "" {
		return
	}

	entries, err := os.ReadDir(filepath.Join(s.workspace, s.cfg.SkillsDir))
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rel := joinRel(s.cfg.SkillsDir, entry.Name(), s.cfg.SkillFile)
		if s.isRegularFile(filepath.Join(s.workspace, filepath.FromSlash(rel))) {
			seen[rel] = true
		}
	}
}

// scanExtraPath resolves one configured extra path. Entries escaping the
// workspace and symlinks are skipped with a warning, never an error.
func (s *Scanner) scanExtraPath(extra string, seen map[string]bool) {
	full := filepath.Join(s.workspace, filepath.FromSlash(extra))

	inside, err := s.withinWorkspace(full)
	if err != nil || !inside {
		s.logger.Warn().Str("path", extra).Msg("Extra path escapes workspace, skipping")
		return
	}

	info, err := os.Lstat(full)
	if err != nil {
		return
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		s.logger.Warn().Str("path", extra).Msg("Extra path is a symlink, skipping")
		return
	}

	if !info.IsDir() {
		if !isMarkdown(info.Name()) {
			s.logger.Warn().Str("path", extra).Msg("Extra path is not a markdown file, skipping")
			return
		}
		if rel, ok := s.relativize(full); ok {
			seen[rel] = true
		}
		return
	}

	// Directories are walked recursively. Symlinks are never followed so a
	// link can't escape the workspace or create a cycle.
	_ = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			s.logger.Warn().Str("path", p).Msg("Symlink encountered during scan, skipping")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isMarkdown(d.Name()) {
			return nil
		}
		if rel, ok := s.relativize(p); ok {
			seen[rel] = true
		}
		return nil
	})
}

func (s *Scanner) isRegularFile(fullPath string) bool {
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

func (s *Scanner) withinWorkspace(fullPath string) (bool, error) {
	absWorkspace, err := filepath.Abs(s.workspace)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absWorkspace, absPath)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

func (s *Scanner) relativize(fullPath string) (string, bool) {
	rel, err := filepath.Rel(s.workspace, fullPath)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// FileFingerprint returns the cheap change fingerprint for a file:
// "{size}:{mtime in ms}". Two different byte contents with identical size
// and mtime are indistinguishable; that is a documented limitation of the
// fingerprint, not content addressing.
func FileFingerprint(fullPath string) (string, error) {
	info, err := os.Stat(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", fullPath, err)
	}
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixMilli()), nil
}

func isMarkdown(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), markdownExt)
}

func joinRel(parts ...string) string {
	return strings.Join(parts, "/")
}
