// Package predictor names the parameter-point predictor collaborator. A
// tuned model (e.g. a random forest over problem-shape features) would live
// behind the Model interface; this package ships only StaticModel, a
// known-safe fixed point for callers that have no tuned model to consult.
package predictor

import "github.com/kestrel-hpc/gemmforge/pkg/gemm"

// Model predicts a parameter point from a feature vector describing the
// problem shape (e.g. log2(M), log2(N), log2(K), dtype size). The feature
// vector's exact composition is left to the caller; this interface only
// fixes the shape a launch planner can depend on.
type Model interface {
	Predict(features []float64) gemm.Parameters
}

// StaticModel always returns the same fixed point, regardless of input.
// Useful as a default when no tuned model is available, and as the launch
// planner's fallback parameter point for the strided-input specialization.
type StaticModel struct {
	Point gemm.Parameters
}

// Predict ignores features and returns Point.
func (m StaticModel) Predict(features []float64) gemm.Parameters {
	return m.Point
}

// DefaultFallback is a conservative, small-tile parameter point valid on
// essentially any device: simd_width=1 avoids vector-load alignment
// concerns entirely, and the block/tile sizes are well within typical
// shared-memory and work-group limits.
var DefaultFallback = gemm.Parameters{
	SimdWidth:   1,
	LocalSize0:  8,
	LocalSize1:  8,
	KL:          8,
	Depth:       1,
	MS:          1,
	KS:          4,
	NS:          1,
	AFetch:      gemm.FetchLocal,
	BFetch:      gemm.FetchLocal,
	LocalFetch0: 8,
	LocalFetch1: 8,
}
