// Package gemm is the auto-tunable kernel template engine for matrix
// multiplication: parameter model, validity oracle, kernel source emitter,
// argument binder, launch planner and backend keyword map.
package gemm

import "github.com/kestrel-hpc/gemmforge/pkg/driver"

// FetchingPolicy selects how a tile is staged from global to shared memory.
// Only LOCAL is implemented end to end; the others are named so the
// validity oracle can reject them by name rather than by a bare boolean.
type FetchingPolicy int

const (
	FetchLocal FetchingPolicy = iota
	FetchGlobalStrided
	FetchGlobalContiguous
)

func (p FetchingPolicy) String() string {
	switch p {
	case FetchLocal:
		return "LOCAL"
	case FetchGlobalStrided:
		return "GLOBAL_STRIDED"
	case FetchGlobalContiguous:
		return "GLOBAL_CONTIGUOUS"
	default:
		return "UNKNOWN"
	}
}

// Parameters is the tunable parameter record. It is a plain value type:
// copyable, comparable with ==, and usable as a cache key. No invariants
// are enforced at construction; validity is entirely Validate's job.
type Parameters struct {
	SimdWidth   int
	LocalSize0  int
	LocalSize1  int
	KL          int
	Depth       int
	MS          int
	KS          int
	NS          int
	AFetch      FetchingPolicy
	BFetch      FetchingPolicy
	LocalFetch0 int
	LocalFetch1 int
}

// Derived holds the two cached quantities computed from Parameters: mL and
// nL, the work-group tile extents.
type Derived struct {
	ML int
	NL int
}

// NewDerived computes mL = mS*local_size_0, nL = nS*local_size_1.
func NewDerived(p Parameters) Derived {
	return Derived{
		ML: p.MS * p.LocalSize0,
		NL: p.NS * p.LocalSize1,
	}
}

// Trans is a transpose flag, 'N' (no-op) or 'T' (transposed). The
// single-char tags flow straight into kernel-name suffixes (gemm_nn_...,
// gemm_tn_...).
type Trans byte

const (
	NoTrans   Trans = 'N'
	Transpose Trans = 'T'
)

func (t Trans) lower() byte {
	if t == Transpose {
		return 't'
	}
	return 'n'
}

// Backend tags which device dialect a specialization targets. It is the
// driver's closed sum, aliased so the engine's API reads in its own terms
// without a second enum to convert at the boundary.
type Backend = driver.Backend

const (
	CUDA   = driver.CUDA
	OpenCL = driver.OpenCL
	Host   = driver.Host
)

// SpecializationKey is the full tuple that uniquely identifies one emitted
// kernel. The emitter (Generate) is a pure function of this key.
type SpecializationKey struct {
	Params      Parameters
	ATrans      Trans
	BTrans      Trans
	CheckBounds bool
	Backend     Backend
	Dtype       Dtype
}

// npA/npB: the number of global-pointer entries the declarations phase
// allocates for cooperative fetch striding.
func npA(p Parameters, d Derived, aTrans Trans) int {
	if aTrans == NoTrans {
		return ceilDiv(d.ML, p.LocalFetch0*p.SimdWidth)
	}
	return ceilDiv(d.ML, p.LocalFetch1)
}

func npB(p Parameters, d Derived, bTrans Trans) int {
	if bTrans == Transpose {
		return ceilDiv(d.NL, p.LocalFetch0*p.SimdWidth)
	}
	return ceilDiv(d.NL, p.LocalFetch1)
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
