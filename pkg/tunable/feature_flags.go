// Package tunable holds process-wide, environment-gated switches for
// experimental or debugging behavior in the launch planner. Each flag is
// independently toggleable and defaults off.
package tunable

import (
	"os"
	"sync/atomic"
)

const (
	// EnvDisableSplitK forces depth=1 regardless of the requested parameter
	// point, useful for isolating split-K bugs from the main accumulation
	// path.
	EnvDisableSplitK = "GEMMFORGE_DISABLE_SPLIT_K"

	// EnvForceFallback forces the strided fallback specialization even for
	// unit-stride inputs, exercising the fallback path on demand.
	EnvForceFallback = "GEMMFORGE_FORCE_FALLBACK"
)

var (
	disableSplitK atomic.Bool
	forceFallback atomic.Bool
)

func init() {
	if envTrue(EnvDisableSplitK) {
		disableSplitK.Store(true)
	}
	if envTrue(EnvForceFallback) {
		forceFallback.Store(true)
	}
}

func envTrue(name string) bool {
	v := os.Getenv(name)
	return v == "true" || v == "1"
}

// SplitKDisabled reports whether GEMMFORGE_DISABLE_SPLIT_K (or an explicit
// SetSplitKDisabled call) is in effect.
func SplitKDisabled() bool { return disableSplitK.Load() }

// SetSplitKDisabled overrides the split-K disable flag programmatically.
func SetSplitKDisabled(v bool) { disableSplitK.Store(v) }

// WithSplitKDisabled temporarily forces depth=1 and returns a cleanup
// function restoring the previous state; for use in tests.
func WithSplitKDisabled() func() {
	prev := disableSplitK.Load()
	disableSplitK.Store(true)
	return func() { disableSplitK.Store(prev) }
}

// ForceFallbackEnabled reports whether GEMMFORGE_FORCE_FALLBACK (or an
// explicit SetForceFallback call) is in effect.
func ForceFallbackEnabled() bool { return forceFallback.Load() }

// SetForceFallback overrides the force-fallback flag programmatically.
func SetForceFallback(v bool) { forceFallback.Store(v) }

// WithForceFallback temporarily forces every launch onto the fallback
// specialization and returns a cleanup function; for use in tests.
func WithForceFallback() func() {
	prev := forceFallback.Load()
	forceFallback.Store(true)
	return func() { forceFallback.Store(prev) }
}

// Status reports the current state of both flags.
type Status struct {
	SplitKDisabled bool
	ForceFallback  bool
}

// GetStatus returns the complete flag status.
func GetStatus() Status {
	return Status{
		SplitKDisabled: disableSplitK.Load(),
		ForceFallback:  forceFallback.Load(),
	}
}
