// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the loadmeter configuration file.
//
// Configuration is loaded from a single file specified by either the
// LOADMETER_CONFIG environment variable (via [Load]) or the --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. A missing file means the
// built-in defaults from [Default] apply in full; the binary simply
// does not call the loader.
//
// The file is YAML. A path ending in .json or .jsonc is treated as
// JSON with comments and trailing commas, stripped before decoding.
// Unknown keys are errors.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded in state_file and
// in the program name of command providers. No environment variable
// overrides a config value.
//
// Key exports:
//
//   - [Config] -- master struct with Stabilizer, Providers, Metrics, Log
//   - [Default] -- returns a Config with every field filled
//   - [Load], [LoadFile], and [Parse] -- the entry points for loading
//   - [Config.Validate] -- reports every problem at once
//
// This package depends only on lib/stabilize, for its defaults.
package config
