// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the retrieval
// daemon.
//
// Configuration is loaded from a single file specified by either the
// RETRIEVAL_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search.
//
// A small set of operational knobs can be overridden by environment
// variables after the file is loaded: RETRIEVAL_LISTEN_ADDRESS,
// RETRIEVAL_ACCESS_TOKEN, RETRIEVAL_USER_AGENT, RETRIEVAL_LOG_LEVEL,
// and RETRIEVAL_SPOOL_DIRECTORY. These exist so deployments can inject
// the listen port and token without rewriting the file; everything
// else comes from the file alone.
//
// Variable expansion is performed on the access token and the spool
// directory after loading: ${HOME} and ${VAR:-default} patterns are
// expanded, so a token can be referenced from the environment instead
// of written into the file.
//
// Key exports:
//
//   - [Config] -- the daemon configuration with Limits and Spool
//   - [Default] -- returns a Config with loopback defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other packages in this module.
package config
