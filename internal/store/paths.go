// Package store provides the run registry: a SQLite database recording every
// simulated or loaded panel and every model fit made against it.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Names of the on-disk layout under a project root.
const (
	DirName     = ".dcesim"
	DBFile      = "dcesim.db"
	ArchivesDir = "archives"
)

// GlobalPath returns the path to the global .dcesim directory.
// On Unix: ~/.dcesim
// On Windows: %USERPROFILE%\.dcesim
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DirName), nil
}

// LocalPath returns the path to the .dcesim directory for the given root.
func LocalPath(root string) string {
	return filepath.Join(root, DirName)
}

// ArchivePath returns the directory holding record archives for root.
func ArchivePath(root string) string {
	return filepath.Join(LocalPath(root), ArchivesDir)
}
