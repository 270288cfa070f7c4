// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// FileExists reports whether the named file or directory exists.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// CleanAndExpandPath expands environment variables and a leading ~ in the
// path and cleans the result.  A bare ~ expands to the home directory of the
// current user and ~name to the home directory of that user.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		var homeDir string
		name, rest, _ := strings.Cut(path[1:], string(os.PathSeparator))
		if name == "" {
			homeDir, _ = os.UserHomeDir()
		} else if u, err := user.Lookup(name); err == nil {
			homeDir = u.HomeDir
		}
		if homeDir != "" {
			path = filepath.Join(homeDir, rest)
		}
	}

	// NOTE: os.ExpandEnv does not expand Windows style %VARIABLE%, but
	// $VARIABLE works on every platform.
	return filepath.Clean(os.ExpandEnv(path))
}
