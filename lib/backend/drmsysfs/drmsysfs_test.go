// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package drmsysfs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

func writeSyntheticFile(t *testing.T, root, path, content string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(fullPath), err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", fullPath, err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setBusy(t *testing.T, root, card, value string) {
	t.Helper()
	writeSyntheticFile(t, root, filepath.Join("class/drm", card, "device", busyAttribute), value)
}

func TestDevicesNameVendors(t *testing.T) {
	root := t.TempDir()
	setBusy(t, root, "card0", "5\n")
	writeSyntheticFile(t, root, "class/drm/card0/device/uevent", "DRIVER=amdgpu\nPCI_ID=1002:744A\n")
	setBusy(t, root, "card1", "5\n")

	instance, err := New(discardLogger(), root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer instance.Close()

	got := instance.Devices()
	if len(got) != 2 || got[0] != "card0 (AMD)" || got[1] != "card1" {
		t.Errorf("Devices() = %q, want [card0 (AMD) card1]", got)
	}
}

func TestReadsBusiestCard(t *testing.T) {
	root := t.TempDir()
	setBusy(t, root, "card0", "23\n")
	setBusy(t, root, "card1", "64\n")
	writeSyntheticFile(t, root, "class/drm/card2/device/uevent", "PCI_ID=8086:56A0\n")

	instance, err := New(discardLogger(), root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer instance.Close()

	if len(instance.cards) != 2 {
		t.Errorf("tracking %v, want card0 and card1 only", instance.cards)
	}
	if got := instance.Read(context.Background()); got != provider.Percent(64) {
		t.Errorf("Read() = %v, want 64%%", got)
	}

	setBusy(t, root, "card1", "0\n")
	if got := instance.Read(context.Background()); got != provider.Percent(23) {
		t.Errorf("Read() after update = %v, want 23%%", got)
	}
}

func TestNoCardsExposeBusy(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "class/drm/card0/device/uevent", "PCI_ID=10DE:2684\n")

	_, err := New(discardLogger(), root)
	if !errors.Is(err, provider.ErrBackendUnavailable) {
		t.Fatalf("New() error = %v, want ErrBackendUnavailable", err)
	}
}

func TestUnreadableValue(t *testing.T) {
	root := t.TempDir()
	setBusy(t, root, "card0", "garbage\n")

	instance, err := New(discardLogger(), root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := instance.Read(context.Background()); got.Valid() {
		t.Errorf("Read() = %v, want unavailable", got)
	}
}

func TestCardRemoved(t *testing.T) {
	root := t.TempDir()
	setBusy(t, root, "card0", "50\n")

	instance, err := New(discardLogger(), root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !instance.Available() {
		t.Fatal("Available() = false with the attribute present")
	}

	if err := os.Remove(filepath.Join(root, "class/drm/card0/device", busyAttribute)); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if instance.Available() {
		t.Error("Available() = true after the attribute disappeared")
	}
	if got := instance.Read(context.Background()); got.Valid() {
		t.Errorf("Read() = %v, want unavailable", got)
	}
}

func TestClose(t *testing.T) {
	root := t.TempDir()
	setBusy(t, root, "card0", "50\n")

	instance, err := New(discardLogger(), root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	instance.Close()
	instance.Close()
	if instance.Available() {
		t.Error("Available() = true after Close")
	}
	if got := instance.Read(context.Background()); got.Valid() {
		t.Errorf("Read() after Close = %v", got)
	}
}
