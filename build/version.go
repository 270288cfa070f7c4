// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package build

import (
	"fmt"
	"strings"
)

// semanticAlphabet is the set of characters permitted in the pre-release and
// build metadata portions of a semantic version.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (http://semver.org/).
const (
	AppMajor uint = 0
	AppMinor uint = 1
	AppPatch uint = 0

	// AppPreRelease MUST only contain characters from semanticAlphabet
	// per the semantic versioning spec.
	AppPreRelease = "beta"
)

// Commit is the build metadata appended to the version.  It is set at link
// time with -ldflags "-X github.com/btcsuite/utxowatch/build.Commit=...".
var Commit = ""

// Version returns the application version as a properly formed string per the
// semantic versioning 2.0.0 spec (http://semver.org/).
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", AppMajor, AppMinor, AppPatch)

	if pre := normalizeVerString(AppPreRelease); pre != "" {
		version = fmt.Sprintf("%s-%s", version, pre)
	}

	if meta := normalizeVerString(Commit); meta != "" {
		version = fmt.Sprintf("%s+%s", version, meta)
	}

	return version
}

// normalizeVerString drops every character not in semanticAlphabet.
func normalizeVerString(str string) string {
	var result strings.Builder
	for _, r := range str {
		if strings.ContainsRune(semanticAlphabet, r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
