package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
	"github.com/kestrel-hpc/gemmforge/pkg/gemm"
)

// deviceProfile is the YAML shape a device capability file is read as,
// carrying the driver.Device fields the validity oracle reads (name, local
// memory size, work-group size limit, warp/wavefront size) so a profile can
// be authored by hand or dumped from a real device query.
type deviceProfile struct {
	Name              string `yaml:"name"`
	LocalMemSize      uint64 `yaml:"local_mem_size"`
	MaxWorkGroupSize  uint64 `yaml:"max_work_group_size"`
	WarpWavefrontSize uint64 `yaml:"warp_wavefront_size"`
}

func loadDeviceProfile(path string) (driver.Device, error) {
	if path == "" {
		// A generous default profile when no device file is given, roughly a
		// mid-range discrete GPU.
		return driver.Device{
			Name:              "default",
			LocalMemSize:      48 * 1024,
			MaxWorkGroupSize:  1024,
			WarpWavefrontSize: 32,
		}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return driver.Device{}, fmt.Errorf("reading device profile: %w", err)
	}
	var p deviceProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return driver.Device{}, fmt.Errorf("parsing device profile: %w", err)
	}
	return driver.Device{
		Name:              p.Name,
		LocalMemSize:      p.LocalMemSize,
		MaxWorkGroupSize:  p.MaxWorkGroupSize,
		WarpWavefrontSize: p.WarpWavefrontSize,
	}, nil
}

func init() {
	f := &paramFlags{}
	var aTrans, bTrans, backend, dtype, devicePath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the validity oracle against a parameter point and device profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			device, err := loadDeviceProfile(devicePath)
			if err != nil {
				return err
			}
			key := gemm.SpecializationKey{
				Params:  f.toParams(),
				ATrans:  parseTrans(aTrans),
				BTrans:  parseTrans(bTrans),
				Backend: parseBackend(backend),
				Dtype:   parseDtype(dtype),
			}
			code := gemm.Validate(key.Params, device, key)
			fmt.Println(code)
			if code != gemm.Valid {
				os.Exit(2)
			}
			return nil
		},
	}
	addParamFlags(cmd, f)
	cmd.Flags().StringVar(&aTrans, "atrans", "N", "A transpose flag: N or T")
	cmd.Flags().StringVar(&bTrans, "btrans", "N", "B transpose flag: N or T")
	cmd.Flags().StringVar(&backend, "backend", "host", "target backend: cuda, opencl or host")
	cmd.Flags().StringVar(&dtype, "dtype", "fp32", "scalar dtype: fp32 or fp64")
	cmd.Flags().StringVar(&devicePath, "device-file", "", "YAML device capability profile (defaults to a generous built-in profile)")

	rootCmd.AddCommand(cmd)
}
