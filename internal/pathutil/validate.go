// Package pathutil confines file access requested over MCP to known
// directories.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed is returned when a path resolves outside every allowed
// directory.
var ErrOutsideAllowed = errors.New("path is outside allowed directories")

// RedactPath reduces a full path to .../<parent>/<basename> for safe error messages.
// For example, "/home/user/.dcesim/config.yaml" becomes ".../.dcesim/config.yaml".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// Within resolves path (relative paths against base) and checks that it
// lies inside one of allowed after symlinks are followed. It returns the
// resolved absolute path.
func Within(path, base string, allowed []string) (string, error) {
	switch {
	case path == "":
		return "", errors.New("path is empty")
	case strings.ContainsRune(path, 0):
		return "", errors.New("path contains null byte")
	case len(allowed) == 0:
		return "", errors.New("no allowed directories configured")
	}

	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", RedactPath(path), err)
	}
	resolved, err := resolve(abs)
	if err != nil {
		return "", err
	}

	for _, dir := range allowed {
		dirAbs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		dirResolved, err := resolve(dirAbs)
		if err != nil {
			continue
		}
		if isSubpath(resolved, dirResolved) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrOutsideAllowed, RedactPath(abs))
}

// resolve follows symlinks on the deepest existing ancestor of path and
// re-appends the part that does not exist yet.
func resolve(path string) (string, error) {
	if r, err := filepath.EvalSymlinks(path); err == nil {
		return r, nil
	}
	parent := filepath.Dir(path)
	if parent == path {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(path))
	}
	r, err := resolve(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(r, filepath.Base(path)), nil
}

// isSubpath checks whether path is equal to or a subdirectory of base.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	// "/tmp/foo" must not match "/tmp/foobar"
	return strings.HasPrefix(path, base+string(os.PathSeparator))
}

// DataDirs returns where MCP clients may read survey panels from: the
// project root and ~/.dcesim/data.
func DataDirs(projectRoot string) ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return []string{projectRoot, filepath.Join(homeDir, ".dcesim", "data")}, nil
}
