package gemm

import "errors"

// InvalidCode is the validity oracle's result type: zero on success, or a
// negative code naming the first failed rule. It is deliberately not an
// error — the tuner filters candidate parameter points by comparing codes,
// not by error handling, so the full -1..-18 table is part of the
// observable interface.
type InvalidCode int

const (
	Valid InvalidCode = 0

	LocalMemoryOverflow                        InvalidCode = -1
	WorkGroupSizeOverflow                      InvalidCode = -2
	LocalSize0Overflow                         InvalidCode = -3
	LocalSize1Overflow                         InvalidCode = -4
	LocalSize2Overflow                         InvalidCode = -5
	LocalSizeNotWarpMultiple                   InvalidCode = -6
	InvalidSimdWidth                           InvalidCode = -7
	BlockSizeTooLarge                          InvalidCode = -8
	InvalidFetchingPolicy                      InvalidCode = -9
	GlobalMemoryRequiresZeroLocalFetch         InvalidCode = -10
	MsNsMustBeSimdWidthMultiple                InvalidCode = -11
	KsMustBeSmallerThanKl                      InvalidCode = -12
	SimdWidthMustBeOne                         InvalidCode = -13
	LocalFetchProductMustMatchLocalSizeProduct InvalidCode = -14
	LocalFetch0MustBeKlMultiple                InvalidCode = -15
	LocalFetch0MustBeNlMultiple                InvalidCode = -16
	LocalFetch1MustBeKlMultiple                InvalidCode = -17
	LocalFetch1MustBeMlMultiple                InvalidCode = -18
)

var invalidCodeNames = map[InvalidCode]string{
	Valid:                                      "VALID",
	LocalMemoryOverflow:                        "LOCAL_MEMORY_OVERFLOW",
	WorkGroupSizeOverflow:                      "WORK_GROUP_SIZE_OVERFLOW",
	LocalSize0Overflow:                         "LOCAL_SIZE_0_OVERFLOW",
	LocalSize1Overflow:                         "LOCAL_SIZE_1_OVERFLOW",
	LocalSize2Overflow:                         "LOCAL_SIZE_2_OVERFLOW",
	LocalSizeNotWarpMultiple:                   "LOCAL_SIZE_NOT_WARP_MULTIPLE",
	InvalidSimdWidth:                           "INVALID_SIMD_WIDTH",
	BlockSizeTooLarge:                          "BLOCK_SIZE_TOO_LARGE",
	InvalidFetchingPolicy:                      "INVALID_FETCHING_POLICY_TYPE",
	GlobalMemoryRequiresZeroLocalFetch:         "GLOBAL_MEMORY_REQUIRES_ZERO_LOCAL_FETCH",
	MsNsMustBeSimdWidthMultiple:                "MS_NS_MUST_BE_SIMD_WIDTH_MULTIPLE",
	KsMustBeSmallerThanKl:                      "KS_MUST_BE_SMALLER_THAN_KL",
	SimdWidthMustBeOne:                         "SIMD_WIDTH_MUST_BE_ONE",
	LocalFetchProductMustMatchLocalSizeProduct: "LOCAL_FETCH_PRODUCT_MUST_MATCH_LOCAL_SIZE_PRODUCT",
	LocalFetch0MustBeKlMultiple:                "LOCAL_FETCH_0_MUST_BE_KL_MULTIPLE",
	LocalFetch0MustBeNlMultiple:                "LOCAL_FETCH_0_MUST_BE_NL_MULTIPLE",
	LocalFetch1MustBeKlMultiple:                "LOCAL_FETCH_1_MUST_BE_KL_MULTIPLE",
	LocalFetch1MustBeMlMultiple:                "LOCAL_FETCH_1_MUST_BE_ML_MULTIPLE",
}

func (c InvalidCode) String() string {
	if name, ok := invalidCodeNames[c]; ok {
		return name
	}
	return "UNKNOWN_INVALID_CODE"
}

// Sentinel errors for the non-validation failure kinds: shape mismatches
// in the expression tree and backends with no emitter dialect. Both
// indicate a programming error and are never retried.
var (
	ErrShapeMismatch      = errors.New("gemm: operation_not_supported: expression shape mismatch")
	ErrUnsupportedBackend = errors.New("gemm: backend unsupported")
)
