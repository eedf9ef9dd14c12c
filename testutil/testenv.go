// Package testutil provides shared helpers for the end-to-end tests: module
// discovery, binary builds, and an in-memory Google Drive server. It depends
// only on the standard library so it can be used from any test package.
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// BuildBinary compiles the gdrive-go command into dir and returns its path.
func BuildBinary(moduleRoot, dir string) (string, error) {
	binaryPath := filepath.Join(dir, "gdrive-go")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("building binary: %w", err)
	}

	return binaryPath, nil
}
