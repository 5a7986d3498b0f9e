package gemm

import "github.com/kestrel-hpc/gemmforge/pkg/expr"

// Dtype is the scalar element type a specialization is compiled for. The
// type itself belongs to the expression library, which owns numeric typing;
// the alias keeps the engine's API self-contained without a second enum to
// convert between.
type Dtype = expr.Dtype

const (
	Float32 = expr.Float32
	Float64 = expr.Float64
)
