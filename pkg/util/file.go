// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package util holds small filesystem helpers shared by loaders.
package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// MaxReadSize caps files read through ReadFileSafely.
const MaxReadSize = 1 << 20

// ReadFileSafely reads a regular file after cleaning the path. Directories
// and files larger than MaxReadSize are rejected.
func ReadFileSafely(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path for %s: %w", path, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", absPath)
	}
	if info.Size() > MaxReadSize {
		return nil, fmt.Errorf("%s is %d bytes, larger than the %d byte limit", absPath, info.Size(), MaxReadSize)
	}

	return os.ReadFile(absPath) // #nosec G304
}
