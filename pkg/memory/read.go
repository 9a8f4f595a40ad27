package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/recall/pkg/uri"
)

// Read returns the text of a workspace memory file. offset is the first line
// to return (0-based); count limits how many lines follow, with 0 meaning
// the rest of the file. The path is validated before any filesystem access.
func (m *Manager) Read(relPath string, offset, count int) (string, error) {
	fullPath, err := m.resolveWorkspacePath(relPath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read memory file: %w", err)
	}

	if offset <= 0 && count <= 0 {
		return string(data), nil
	}

	lines := strings.Split(string(data), "\n")
	if offset < 0 {
		offset = 0
	}
	if offset >= len(lines) {
		return "", nil
	}

	end := len(lines)
	if count > 0 && offset+count < end {
		end = offset + count
	}

	return strings.Join(lines[offset:end], "\n"), nil
}

// resolveWorkspacePath turns a relative path into an absolute one, rejecting
// anything that escapes the workspace.
func (m *Manager) resolveWorkspacePath(relPath string) (string, error) {
	normalized, err := uri.Normalize(relPath)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(m.cfg.Workspace, filepath.FromSlash(normalized))

	absBase, err := filepath.Abs(m.cfg.Workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	absFull, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve file path: %w", err)
	}
	rel, err := filepath.Rel(absBase, absFull)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes workspace: %s", uri.ErrInvalidPath, relPath)
	}

	return fullPath, nil
}
