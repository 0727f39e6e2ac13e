// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/loadmeter/lib/codec"
)

// State is the persisted meter state.
type State struct {
	// Provider is the name of the provider that produced the last
	// valid sample. Empty if none ever did.
	Provider string `cbor:"provider"`

	// Stable is the last stabilized output, which may be the
	// unsupported sentinel.
	Stable int `cbor:"stable"`

	// Written is when the state was saved. Check uses it to discard
	// stale files.
	Written time.Time `cbor:"written"`
}

// Write atomically writes a state file. The file is written to a
// temporary location in the same directory, fsynced, and renamed into
// place. Readers never see a partial write.
//
// The file is created with mode 0600. The parent directory must
// already exist.
func Write(path string, state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary state file: %w", err)
	}

	// Write, sync, close, in that order. On any failure remove the
	// temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary state file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming state file into place: %w", err)
	}

	// Make the rename itself durable.
	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}

	return nil
}

// Read reads and decodes a state file. When the file does not exist,
// the returned error wraps os.ErrNotExist.
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}

	var state State
	if err := codec.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return state, nil
}

// Check reads a state file and reports whether it is recent enough to
// act on. Returns the state and true when the file exists and Written
// is within maxAge of now; a maxAge of zero disables the age check.
// Returns a zero State and false when the file does not exist or is
// stale.
//
// Any other error (permission denied, corrupt CBOR) is returned so the
// caller can distinguish "no state" from "state exists but
// unreadable".
func Check(path string, maxAge time.Duration, now time.Time) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}

	if maxAge > 0 && now.Sub(state.Written) > maxAge {
		return State{}, false, nil
	}

	return state, true, nil
}

// Clear removes a state file. Returns nil when the file does not
// exist.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing state file: %w", err)
	}
	return nil
}
