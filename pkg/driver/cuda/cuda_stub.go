//go:build !cuda || !(linux || windows)
// +build !cuda !linux,!windows

// Package cuda registers the CUDA backend factory with pkg/driver. This
// build (no cuda tag, or an unsupported platform) always fails to open a
// device — the real nvrtc/cuLaunchKernel bridge lives in cuda_bridge.go
// behind the cuda build tag.
package cuda

import (
	"errors"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
)

// ErrNotAvailable is returned by every entry point in this build.
var ErrNotAvailable = errors.New("cuda: CUDA is not available (built without cuda tag, or unsupported platform)")

func init() {
	driver.Register(driver.CUDA, func(ordinal int) (driver.Context, error) {
		return nil, ErrNotAvailable
	})
}

// IsAvailable reports whether the real CUDA bridge is compiled in.
func IsAvailable() bool { return false }

// DeviceCount returns 0 in this build.
func DeviceCount() int { return 0 }
