package gemm

import "github.com/kestrel-hpc/gemmforge/pkg/driver"

// Validate maps (parameters, device, key) to Valid or the first failed
// rule; the first failure wins. It never touches the device — device is
// read-only capability data. Tuners filter candidate parameter points by
// the returned code; launches do not re-check.
func Validate(p Parameters, device driver.Device, key SpecializationKey) InvalidCode {
	d := NewDerived(p)

	// Rule 1: only the local-memory staging path is supported.
	if p.AFetch != FetchLocal || p.BFetch != FetchLocal {
		return InvalidFetchingPolicy
	}

	// Rule 2: simd_width must be a supported vector width dividing the
	// register tile on both axes — one combined predicate, one code.
	switch p.SimdWidth {
	case 1, 2, 4, 8:
		if p.MS%p.SimdWidth != 0 || p.NS%p.SimdWidth != 0 {
			return MsNsMustBeSimdWidthMultiple
		}
	default:
		return MsNsMustBeSimdWidthMultiple
	}

	// Rule 3: work-group tile extents bounded.
	if d.ML > 256 || d.NL > 256 {
		return BlockSizeTooLarge
	}

	// Rule 4: kS < kL strictly, so the inner loop always fits the staged
	// K tile.
	if p.KS >= p.KL {
		return KsMustBeSmallerThanKl
	}

	// Rule 5: local fetch geometry must tile the work-group exactly.
	if p.LocalFetch0*p.LocalFetch1 != p.LocalSize0*p.LocalSize1 {
		return LocalFetchProductMustMatchLocalSizeProduct
	}

	// Rule 6, A operand: bound0/bound1 chosen by transpose.
	aBound0, aBound1 := d.ML, p.KL
	if key.ATrans == Transpose {
		aBound0, aBound1 = p.KL, d.ML
	}
	if p.LocalFetch1 > 0 && aBound1%p.LocalFetch1 != 0 {
		if key.ATrans == NoTrans {
			return LocalFetch1MustBeKlMultiple
		}
		return LocalFetch1MustBeMlMultiple
	}
	if p.LocalFetch0 > 0 && aBound0%(p.LocalFetch0*p.SimdWidth) != 0 {
		if key.ATrans == NoTrans {
			return LocalFetch0MustBeNlMultiple
		}
		return LocalFetch0MustBeKlMultiple
	}

	// Rule 6, B operand: same structure as A, with the bounds swapped by
	// B's transpose convention, and bound0 failures reporting the
	// LOCAL_FETCH_0 codes symmetric to A's.
	bBound0, bBound1 := p.KL, d.NL
	if key.BTrans == Transpose {
		bBound0, bBound1 = d.NL, p.KL
	}
	if p.LocalFetch1 > 0 && bBound1%p.LocalFetch1 != 0 {
		if key.BTrans == Transpose {
			return LocalFetch1MustBeKlMultiple
		}
		return LocalFetch1MustBeMlMultiple
	}
	if p.LocalFetch0 > 0 && bBound0%(p.LocalFetch0*p.SimdWidth) != 0 {
		if key.BTrans == Transpose {
			return LocalFetch0MustBeNlMultiple
		}
		return LocalFetch0MustBeKlMultiple
	}

	// Rule 7: backend-specific device limits.
	sharedBytes := uint64(p.KL*d.ML+p.KL*d.NL) * key.Dtype.Size()
	if sharedBytes > device.LocalMemSize {
		return LocalMemoryOverflow
	}
	threads := uint64(p.LocalSize0 * p.LocalSize1)
	if threads > device.MaxWorkGroupSize {
		return WorkGroupSizeOverflow
	}
	if device.WarpWavefrontSize > 0 && threads%device.WarpWavefrontSize != 0 {
		return LocalSizeNotWarpMultiple
	}

	return Valid
}
