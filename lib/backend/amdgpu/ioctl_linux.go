// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package amdgpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/loadmeter/lib/provider"
)

// DRM ioctl constants from the kernel UAPI header
// include/uapi/drm/amdgpu_drm.h. UAPI ioctls are stable ABI.
const (
	// ioctlAMDGPUInfo is DRM_IOCTL_AMDGPU_INFO, _IOW('d', 0x45, 64)
	// where 64 is sizeof(struct drm_amdgpu_info).
	//
	// Bit layout: direction(1=write) << 30 | size(64) << 16 | type('d') << 8 | nr(0x45)
	ioctlAMDGPUInfo = 0x40406445

	// amdgpuInfoSensor is the AMDGPU_INFO_SENSOR query type.
	amdgpuInfoSensor = 0x1D
)

// drmAMDGPUInfoRequest mirrors struct drm_amdgpu_info: 8 (return_pointer)
// + 4 (return_size) + 4 (query) + 48 (union). Sensor queries use only
// the first 4 bytes of the union.
type drmAMDGPUInfoRequest struct {
	returnPointer uint64
	returnSize    uint32
	query         uint32
	unionData     [48]byte
}

// querySensor issues one AMDGPU_INFO_SENSOR ioctl on an open render
// node. Interrupted or busy calls are classified transient.
func querySensor(fd uintptr, sensorType uint32) (uint32, error) {
	var result uint32

	var request drmAMDGPUInfoRequest
	request.returnPointer = uint64(uintptr(unsafe.Pointer(&result)))
	request.returnSize = 4
	request.query = amdgpuInfoSensor
	binary.LittleEndian.PutUint32(request.unionData[:4], sensorType)

	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		fd,
		uintptr(ioctlAMDGPUInfo),
		uintptr(unsafe.Pointer(&request)),
	)
	if errno != 0 {
		return 0, classifyErrno(sensorType, errno)
	}
	return result, nil
}

func classifyErrno(sensorType uint32, errno unix.Errno) error {
	switch {
	case errors.Is(errno, unix.EINTR), errors.Is(errno, unix.EAGAIN), errors.Is(errno, unix.EBUSY):
		return fmt.Errorf("amdgpu sensor query 0x%x: %w: %w", sensorType, provider.ErrTransient, errno)
	case errors.Is(errno, unix.EOPNOTSUPP), errors.Is(errno, unix.EINVAL):
		return fmt.Errorf("amdgpu sensor query 0x%x: %w: %w", sensorType, provider.ErrBackendUnavailable, errno)
	default:
		return fmt.Errorf("amdgpu sensor query 0x%x: %w", sensorType, errno)
	}
}
