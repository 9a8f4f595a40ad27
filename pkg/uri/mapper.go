// Package uri maps workspace-relative markdown paths to hierarchical
// context-database URIs and back.
package uri

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Scheme is the URI scheme used by the context database.
const Scheme = "ctx://"

// ErrInvalidPath is returned when a relative path is empty, absolute, or
// escapes the workspace root after normalization.
var ErrInvalidPath = errors.New("invalid path")

// Mapper converts workspace-relative paths into remote URIs. The mapping is
// deterministic for a fixed base URI and agent ID.
type Mapper struct {
	prefix string
}

// NewMapper creates a mapper rooted at baseURI/agentID.
func NewMapper(baseURI, agentID string) *Mapper {
	base := strings.TrimRight(baseURI, "/")
	if base == "" {
		base = Scheme + "workspaces"
	}
	return &Mapper{
		prefix: base + "/" + agentID,
	}
}

// Prefix returns the remote root prefix all mapped URIs live under.
func (m *Mapper) Prefix() string {
	return m.prefix
}

// Normalize cleans a workspace-relative path: forward slashes, no leading
// slash, no traversal above the workspace root.
func Normalize(relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	p := strings.ReplaceAll(relPath, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: path must be relative: %s", ErrInvalidPath, relPath)
	}

	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: path escapes workspace: %s", ErrInvalidPath, relPath)
	}
	if p == "." {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	return p, nil
}

// ToRootURI returns the canonical remote node a local file is synced to.
// The markdown extension is dropped because the remote side addresses
// documents, not files.
func (m *Mapper) ToRootURI(relPath string) (string, error) {
	p, err := Normalize(relPath)
	if err != nil {
		return "", err
	}
	return m.prefix + "/" + trimMarkdownExt(p), nil
}

// ToContentURI returns the leaf content address under the root node, used
// for direct content reads.
func (m *Mapper) ToContentURI(relPath string) (string, error) {
	root, err := m.ToRootURI(relPath)
	if err != nil {
		return "", err
	}
	return root + ".md", nil
}

// ToTargetParentURI returns the remote directory an import operation must
// land under. The remote derives its own leaf name during import, so this is
// the parent of the root URI, not the root URI itself.
func (m *Mapper) ToTargetParentURI(relPath string) (string, error) {
	p, err := Normalize(relPath)
	if err != nil {
		return "", err
	}
	dir := path.Dir(p)
	if dir == "." {
		return m.prefix, nil
	}
	return m.prefix + "/" + dir, nil
}

// FromRootURI is the best-effort inverse of ToRootURI, used only to present
// search results with a local path hint. Reconciliation never derives local
// identity from remote URIs.
func (m *Mapper) FromRootURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, m.prefix+"/")
	if !ok || rest == "" {
		return "", false
	}
	if strings.HasSuffix(rest, ".md") {
		return rest, true
	}
	return rest + ".md", true
}

func trimMarkdownExt(p string) string {
	if strings.HasSuffix(strings.ToLower(p), ".md") {
		return p[:len(p)-3]
	}
	return p
}
