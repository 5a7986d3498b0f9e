// Build tags:
//   - go build -tags cuda (linux or windows only) links the real nvrtc/CUDA
//     driver bridge in cuda_bridge.go.
//   - any other build uses cuda_stub.go, whose factory always returns
//     ErrNotAvailable from driver.Open(driver.CUDA, ...).
//
// Requirements for the real build: CUDA Toolkit with nvrtc and the CUDA
// driver library (libcuda / libnvrtc, or their Windows equivalents) on the
// linker path.
package cuda
