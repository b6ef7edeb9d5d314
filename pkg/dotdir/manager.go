// Package dotdir manages the .semlog/ and ~/.semlog directories.
//
// The directory holds config.toml and, unless configured otherwise, the
// default file sink tree and SQLite database.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the semlog directory.
	dirName = ".semlog"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .semlog/ directory.
// Order of precedence is as follows:
//  1. Provided override
//  2. Local ./.semlog/ dir
//  3. Home ~/.semlog/ dir
//  4. If none found, attempt to create ~/.semlog/ dir
func (m *Manager) Target(overrideDir string) (string, error) {
	var dir string

	switch {
	case overrideDir != "":
		dir = overrideDir

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = filepath.Join(cwd, dirName)

	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, dirName)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating semlog directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// Resolve returns path unchanged when it is absolute, and otherwise joins it
// onto the target directory.
func (m *Manager) Resolve(overrideDir, path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return path, nil
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, path), nil
}

// Init creates a local ./.semlog/ directory in dir and returns its path.
func (m *Manager) Init(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		dir = cwd
	}

	target := filepath.Join(dir, dirName)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("creating semlog directory %s: %w", target, err)
	}
	return filepath.Abs(target)
}

// localDirExists checks whether a .semlog/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
