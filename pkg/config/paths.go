// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDirEnv names the environment variable that overrides the data directory.
const DataDirEnv = "SQGATE_DATA_DIR"

// GetDataDir returns the sqgate data directory.
//
// Priority:
// 1. SQGATE_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.sqgate (default)
//
// The returned path is always absolute. Tilde (~) in SQGATE_DATA_DIR is expanded to the
// user's home directory and relative paths are resolved against the working directory.
//
// Examples:
//
//	SQGATE_DATA_DIR=/srv/sqgate   -> /srv/sqgate
//	SQGATE_DATA_DIR=~/gateway     -> /home/user/gateway
//	SQGATE_DATA_DIR not set       -> /home/user/.sqgate
//
// This reads os.Getenv directly rather than viper because it is needed to locate the
// config file itself.
func GetDataDir() string {
	if dataDir := os.Getenv(DataDirEnv); dataDir != "" {
		return expandPath(dataDir)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".sqgate"
	}
	return filepath.Join(homeDir, ".sqgate")
}

// GetDataSubPath returns a path within the data directory.
// Example: GetDataSubPath("history.db") returns ~/.sqgate/history.db
func GetDataSubPath(name string) string {
	return filepath.Join(GetDataDir(), name)
}

// expandPath expands ~ and resolves to absolute path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}
