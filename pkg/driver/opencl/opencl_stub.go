//go:build !opencl || !(linux || windows || darwin)
// +build !opencl !linux,!windows,!darwin

// Package opencl registers the OpenCL backend factory with pkg/driver. This
// build (no opencl tag, or an unsupported platform) always fails to open a
// device — the real clBuildProgram/clEnqueueNDRangeKernel bridge lives in
// opencl_bridge.go behind the opencl build tag, mirroring driver/cuda's
// stub/bridge split.
package opencl

import (
	"errors"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
)

// ErrNotAvailable is returned by every entry point in this build.
var ErrNotAvailable = errors.New("opencl: OpenCL is not available (built without opencl tag, or unsupported platform)")

func init() {
	driver.Register(driver.OpenCL, func(ordinal int) (driver.Context, error) {
		return nil, ErrNotAvailable
	})
}

// IsAvailable reports whether the real OpenCL bridge is compiled in.
func IsAvailable() bool { return false }

// DeviceCount returns 0 in this build.
func DeviceCount() int { return 0 }
