package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-hpc/gemmforge/pkg/gemm"
)

func init() {
	f := &paramFlags{}
	var aTrans, bTrans, backend, dtype string
	var checkBounds bool

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Print the device source text emitted for a specialization key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := gemm.SpecializationKey{
				Params:      f.toParams(),
				ATrans:      parseTrans(aTrans),
				BTrans:      parseTrans(bTrans),
				CheckBounds: checkBounds,
				Backend:     parseBackend(backend),
				Dtype:       parseDtype(dtype),
			}
			source, err := gemm.Generate(key)
			if err != nil {
				return err
			}
			fmt.Print(source)
			return nil
		},
	}
	addParamFlags(cmd, f)
	cmd.Flags().StringVar(&aTrans, "atrans", "N", "A transpose flag: N or T")
	cmd.Flags().StringVar(&bTrans, "btrans", "N", "B transpose flag: N or T")
	cmd.Flags().StringVar(&backend, "backend", "host", "target backend: cuda, opencl or host")
	cmd.Flags().StringVar(&dtype, "dtype", "fp32", "scalar dtype: fp32 or fp64")
	cmd.Flags().BoolVar(&checkBounds, "check-bounds", false, "emit the bounds-checked fallback flavor")

	rootCmd.AddCommand(cmd)
}
