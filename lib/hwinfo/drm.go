// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultSysRoot is the sysfs mount point on a live system.
const DefaultSysRoot = "/sys"

// Card describes one DRM card device found in sysfs.
type Card struct {
	// Name is the DRM device name (card0, card1, ...).
	Name string

	// DevicePath is the PCI device directory the card links to,
	// e.g. /sys/class/drm/card0/device.
	DevicePath string

	// Driver is the kernel driver bound to the device ("amdgpu",
	// "i915", "nvidia"), or "" if unknown.
	Driver string

	// Vendor is the human-readable PCI vendor ("AMD", "NVIDIA",
	// "Intel"), or "" if uevent is missing.
	Vendor string
}

// Label names the card with its vendor when known: "card0 (AMD)".
func (c Card) Label() string {
	if c.Vendor == "" {
		return c.Name
	}
	return c.Name + " (" + c.Vendor + ")"
}

// Cards lists the DRM card devices under sysRoot/class/drm, sorted by
// name. Connectors (card0-DP-1) and render nodes are excluded. Returns
// an error only if the drm class directory cannot be read.
func Cards(sysRoot string) ([]Card, error) {
	drmPath := filepath.Join(sysRoot, "class/drm")
	entries, err := os.ReadDir(drmPath)
	if err != nil {
		return nil, fmt.Errorf("listing DRM devices: %w", err)
	}

	var cards []Card
	for _, entry := range entries {
		if !IsCardDevice(entry.Name()) {
			continue
		}
		devicePath := filepath.Join(drmPath, entry.Name(), "device")
		cards = append(cards, Card{
			Name:       entry.Name(),
			DevicePath: devicePath,
			Driver:     ReadDriverName(devicePath),
			Vendor:     PCIVendorName(readPCIVendorID(devicePath)),
		})
	}
	sort.Slice(cards, func(i, j int) bool {
		return cardIndex(cards[i].Name) < cardIndex(cards[j].Name)
	})
	return cards, nil
}

// IsCardDevice returns true for DRM card device names (card0, card1, ...)
// but not connectors (card0-DP-1) or render nodes (renderD128).
func IsCardDevice(name string) bool {
	suffix, found := strings.CutPrefix(name, "card")
	if !found || suffix == "" {
		return false
	}
	for _, character := range suffix {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}

func cardIndex(name string) int {
	index, _ := strconv.Atoi(strings.TrimPrefix(name, "card"))
	return index
}

// ReadDriverName returns the kernel driver name for a PCI device by
// reading the basename of the "driver" symlink in the device directory.
func ReadDriverName(devicePath string) string {
	link, err := os.Readlink(filepath.Join(devicePath, "driver"))
	if err != nil {
		return ""
	}
	return filepath.Base(link)
}

// readPCIVendorID extracts the lowercase vendor half of PCI_ID from the
// device's uevent file:
//
//	PCI_ID=1002:744A
func readPCIVendorID(devicePath string) string {
	data, err := os.ReadFile(filepath.Join(devicePath, "uevent"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		value, found := strings.CutPrefix(line, "PCI_ID=")
		if !found {
			continue
		}
		vendor, _, _ := strings.Cut(value, ":")
		return strings.ToLower(vendor)
	}
	return ""
}

// PCIVendorName maps a PCI vendor ID to a human-readable name.
func PCIVendorName(vendorID string) string {
	switch vendorID {
	case "1002":
		return "AMD"
	case "10de":
		return "NVIDIA"
	case "8086":
		return "Intel"
	default:
		if vendorID != "" {
			return fmt.Sprintf("0x%s", vendorID)
		}
		return ""
	}
}

// ReadSysfsString reads a single-line sysfs file and returns its
// trimmed content.
func ReadSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadSysfsInt reads an integer from a sysfs file.
func ReadSysfsInt(path string) (int, error) {
	value, err := ReadSysfsString(path)
	if err != nil {
		return 0, err
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return result, nil
}
