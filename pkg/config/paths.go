// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// GetWarpDataDir returns the warp data directory.
//
// Priority:
// 1. WARP_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.warp (default)
//
// The returned path is always absolute. Tilde (~) is expanded to the
// user's home directory; relative paths are made absolute. Reads the
// environment directly, not viper: this runs during bootstrap to
// locate the config file itself.
func GetWarpDataDir() string {
	if dataDir := os.Getenv("WARP_DATA_DIR"); dataDir != "" {
		return expandPath(dataDir)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".warp"
	}
	return filepath.Join(homeDir, ".warp")
}

// GetWarpSubDir returns a subdirectory within the warp data directory,
// creating it if needed.
func GetWarpSubDir(name string) (string, error) {
	dir := filepath.Join(GetWarpDataDir(), name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultDBPath returns the default event-store location.
func DefaultDBPath() string {
	return filepath.Join(GetWarpDataDir(), "warp.db")
}

// expandPath makes a path absolute, expanding a leading tilde.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
