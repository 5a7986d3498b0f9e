package main

import (
	"github.com/spf13/cobra"

	"github.com/kestrel-hpc/gemmforge/pkg/gemm"
)

var rootCmd = &cobra.Command{
	Use:   "gemmforge",
	Short: "Auto-tunable GEMM kernel template engine",
	Long: `gemmforge emits, validates and runs specialized GEMM device kernels
from a parameter point, a pair of transpose flags and a target backend.`,
}

// paramFlags holds the tunable-parameter record's flags, shared by every
// subcommand that needs a Parameters value (emit, validate, run).
type paramFlags struct {
	simdWidth   int
	localSize0  int
	localSize1  int
	kL          int
	depth       int
	mS          int
	kS          int
	nS          int
	localFetch0 int
	localFetch1 int
}

func addParamFlags(cmd *cobra.Command, f *paramFlags) {
	cmd.Flags().IntVar(&f.simdWidth, "simd", 4, "simd_width (1, 2, 4 or 8)")
	cmd.Flags().IntVar(&f.localSize0, "ls0", 8, "local_size_0 (work-group extent, axis 0)")
	cmd.Flags().IntVar(&f.localSize1, "ls1", 8, "local_size_1 (work-group extent, axis 1)")
	cmd.Flags().IntVar(&f.kL, "kl", 8, "kL, the K-tile depth")
	cmd.Flags().IntVar(&f.depth, "depth", 1, "split-K factor (1 disables split-K)")
	cmd.Flags().IntVar(&f.mS, "ms", 4, "mS, per-work-item register tile extent in M")
	cmd.Flags().IntVar(&f.kS, "ks", 4, "kS, per-work-item register tile extent in K")
	cmd.Flags().IntVar(&f.nS, "ns", 4, "nS, per-work-item register tile extent in N")
	cmd.Flags().IntVar(&f.localFetch0, "local-fetch0", 8, "local_fetch_0")
	cmd.Flags().IntVar(&f.localFetch1, "local-fetch1", 8, "local_fetch_1")
}

func (f paramFlags) toParams() gemm.Parameters {
	return gemm.Parameters{
		SimdWidth:   f.simdWidth,
		LocalSize0:  f.localSize0,
		LocalSize1:  f.localSize1,
		KL:          f.kL,
		Depth:       f.depth,
		MS:          f.mS,
		KS:          f.kS,
		NS:          f.nS,
		AFetch:      gemm.FetchLocal,
		BFetch:      gemm.FetchLocal,
		LocalFetch0: f.localFetch0,
		LocalFetch1: f.localFetch1,
	}
}

func parseTrans(s string) gemm.Trans {
	if s == "T" || s == "t" {
		return gemm.Transpose
	}
	return gemm.NoTrans
}

func parseBackend(s string) gemm.Backend {
	switch s {
	case "cuda":
		return gemm.CUDA
	case "opencl":
		return gemm.OpenCL
	default:
		return gemm.Host
	}
}

func parseDtype(s string) gemm.Dtype {
	if s == "fp64" || s == "double" {
		return gemm.Float64
	}
	return gemm.Float32
}
