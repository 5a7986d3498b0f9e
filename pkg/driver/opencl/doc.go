// Package opencl is the OpenCL backend: it compiles emitted kernel source
// with clBuildProgram and launches it through clEnqueueNDRangeKernel,
// registering itself with pkg/driver exactly like driver/cuda registers the
// CUDA backend.
//
// Build tags:
//   - go build -tags opencl (linux, windows or darwin) links the real
//     bridge in opencl_bridge.go against the platform OpenCL ICD loader
//     (ROCm/Intel/NVIDIA on Linux, the system OpenCL.framework on darwin).
//   - any other build uses opencl_stub.go, whose factory always returns
//     ErrNotAvailable from driver.Open(driver.OpenCL, ...).
//
// Requirements for the real build: an OpenCL 1.2+ ICD (libOpenCL.so,
// OpenCL.framework, or OpenCL.dll) on the linker path.
package opencl
