// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden via -ldflags -X at build time. A binary
// built without the flags reports the dev defaults.
var (
	// Version is the semantic version, set manually for releases.
	Version = "0.1.0-dev"

	// GitCommit is the short SHA the binary was built from.
	GitCommit = "unknown"

	// GitDirty is "true" when the working tree had uncommitted
	// changes at build time.
	GitDirty = "false"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Info renders the one-line form used by --version output:
// version, commit (with a -dirty marker), and build time.
func Info() string {
	commit := GitCommit
	if GitDirty == "true" {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, BuildTime)
}

// Full extends Info with the Go toolchain and target platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns the bare semantic version.
func Short() string {
	return Version
}

// Commit returns the short git SHA.
func Commit() string {
	return GitCommit
}

// UserAgent derives the default User-Agent header for outbound
// retrieval requests, e.g. "retrieval/0.1.0-dev".
func UserAgent() string {
	return "retrieval/" + Version
}
