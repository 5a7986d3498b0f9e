package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
	_ "github.com/kestrel-hpc/gemmforge/pkg/driver/host"
	"github.com/kestrel-hpc/gemmforge/pkg/expr"
	"github.com/kestrel-hpc/gemmforge/pkg/gemm"
)

func init() {
	f := &paramFlags{}
	var m, n, k int
	var aTrans, bTrans string
	var alpha, beta float64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a GEMM on the Host backend and report max relative error against a naive reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := driver.Open(driver.Host, 0)
			if err != nil {
				return err
			}
			defer ctx.Release()
			stream, err := ctx.NewStream()
			if err != nil {
				return err
			}

			at := parseTrans(aTrans)
			bt := parseTrans(bTrans)
			aRows, aCols := m, k
			if at == gemm.Transpose {
				aRows, aCols = k, m
			}
			bRows, bCols := k, n
			if bt == gemm.Transpose {
				bRows, bCols = n, k
			}

			aData := fillSequential(aRows * aCols)
			bData := fillSequential(bRows * bCols)
			cData := make([]float32, m*n)

			aBuf, err := ctx.NewBuffer(aData)
			if err != nil {
				return err
			}
			bBuf, err := ctx.NewBuffer(bData)
			if err != nil {
				return err
			}
			cBuf, err := ctx.NewBuffer(cData)
			if err != nil {
				return err
			}

			aTensor := expr.NewTensor(aBuf, aRows, aCols, aRows, 1, 0)
			bTensor := expr.NewTensor(bBuf, bRows, bCols, bRows, 1, 0)
			cTensor := expr.NewTensor(cBuf, m, n, m, 1, 0)

			var aNode, bNode expr.Node = aTensor, bTensor
			if at == gemm.Transpose {
				aNode = expr.WrapTrans(aTensor)
			}
			if bt == gemm.Transpose {
				bNode = expr.WrapTrans(bTensor)
			}

			e := expr.NewGEMMExpr(aNode, bNode, cTensor,
				expr.NewScalar(alpha, gemm.Float32), expr.NewScalar(beta, gemm.Float32))

			planner, err := gemm.NewPlanner(ctx, stream, f.toParams())
			if err != nil {
				return err
			}
			if err := planner.Launch(e, f.toParams(), at, bt, gemm.Host, gemm.Float32); err != nil {
				return err
			}
			if err := stream.Synchronize(); err != nil {
				return err
			}

			got, err := stream.Read(cBuf, m*n)
			if err != nil {
				return err
			}
			want := naiveGemm(m, n, k, aData, bData, cData, at == gemm.Transpose, bt == gemm.Transpose, float32(alpha), float32(beta))
			fmt.Printf("max relative error: %g\n", maxRelError(got, want))
			return nil
		},
	}
	addParamFlags(cmd, f)
	cmd.Flags().IntVar(&m, "m", 64, "M")
	cmd.Flags().IntVar(&n, "n", 64, "N")
	cmd.Flags().IntVar(&k, "k", 64, "K")
	cmd.Flags().StringVar(&aTrans, "atrans", "N", "A transpose flag: N or T")
	cmd.Flags().StringVar(&bTrans, "btrans", "N", "B transpose flag: N or T")
	cmd.Flags().Float64Var(&alpha, "alpha", 1, "alpha scaling coefficient")
	cmd.Flags().Float64Var(&beta, "beta", 0, "beta scaling coefficient")

	rootCmd.AddCommand(cmd)
}

func fillSequential(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%13) * 0.5
	}
	return out
}

// naiveGemm is the column-major reference: op(A) is M-by-K, op(B) is
// K-by-N, element (i, j) of a dense matrix lives at i + j*rows.
func naiveGemm(m, n, k int, a, b, c []float32, aTrans, bTrans bool, alpha, beta float32) []float32 {
	aAt := func(i, kk int) float32 {
		if aTrans {
			return a[kk+i*k] // leaf is K-by-M
		}
		return a[i+kk*m]
	}
	bAt := func(kk, j int) float32 {
		if bTrans {
			return b[j+kk*n] // leaf is N-by-K
		}
		return b[kk+j*k]
	}
	out := make([]float32, m*n)
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			var sum float32
			for kk := 0; kk < k; kk++ {
				sum += aAt(i, kk) * bAt(kk, j)
			}
			out[i+j*m] = alpha*sum + beta*c[i+j*m]
		}
	}
	return out
}

func maxRelError(got, want []float32) float64 {
	var worst float64
	for i := range want {
		denom := math.Abs(float64(want[i]))
		if denom < 1e-6 {
			denom = 1
		}
		rel := math.Abs(float64(got[i]-want[i])) / denom
		if rel > worst {
			worst = rel
		}
	}
	return worst
}
