//go:build cuda && (linux || windows)
// +build cuda
// +build linux windows

// Package cuda is the real CUDA backend: it compiles emitted kernel source
// with nvrtc and launches it with the CUDA driver API, registering itself
// with pkg/driver exactly like cuda_stub.go does in the fallback build.
package cuda

/*
#cgo linux CFLAGS: -I/usr/local/cuda/include
#cgo linux LDFLAGS: -L/usr/local/cuda/lib64 -lcuda -lnvrtc
#cgo windows CFLAGS: -I"C:/Program Files/NVIDIA GPU Computing Toolkit/CUDA/v13.0/include"
#cgo windows LDFLAGS: -L${SRCDIR}/../../../lib/cuda -lcuda -lnvrtc

#include <cuda.h>
#include <nvrtc.h>
#include <stdlib.h>
#include <string.h>

static char cuda_last_error[256] = {0};

static void cuda_set_error(const char* msg) {
    strncpy(cuda_last_error, msg, sizeof(cuda_last_error) - 1);
}

static const char* cuda_get_last_error() {
    return cuda_last_error;
}

static int cuda_init_once() {
    static int initialized = 0;
    if (!initialized) {
        CUresult r = cuInit(0);
        if (r != CUDA_SUCCESS) {
            cuda_set_error("cuInit failed");
            return -1;
        }
        initialized = 1;
    }
    return 0;
}

static int cuda_device_count() {
    int count = 0;
    if (cuda_init_once() != 0) return -1;
    if (cuDeviceGetCount(&count) != CUDA_SUCCESS) return -1;
    return count;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
)

func init() {
	driver.Register(driver.CUDA, func(ordinal int) (driver.Context, error) {
		return newContext(ordinal)
	})
}

// IsAvailable reports whether at least one CUDA device is visible.
func IsAvailable() bool { return DeviceCount() > 0 }

// DeviceCount returns the number of visible CUDA devices, or 0 on failure.
func DeviceCount() int {
	n := int(C.cuda_device_count())
	if n < 0 {
		return 0
	}
	return n
}

var errCuda = errors.New("cuda: driver call failed")

type cudaContext struct {
	ordinal int
	cuCtx   C.CUcontext
	cuDev   C.CUdevice
	device  driver.Device
}

func newContext(ordinal int) (*cudaContext, error) {
	if C.cuda_init_once() != 0 {
		return nil, fmt.Errorf("cuda: %w: %s", errCuda, C.GoString(C.cuda_get_last_error()))
	}
	var dev C.CUdevice
	if C.cuDeviceGet(&dev, C.int(ordinal)) != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("cuda: %w: cuDeviceGet", errCuda)
	}
	var ctx C.CUcontext
	if C.cuCtxCreate(&ctx, 0, dev) != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("cuda: %w: cuCtxCreate", errCuda)
	}

	var sharedMem, maxThreads, warpSize C.int
	C.cuDeviceGetAttribute(&sharedMem, C.CU_DEVICE_ATTRIBUTE_MAX_SHARED_MEMORY_PER_BLOCK, dev)
	C.cuDeviceGetAttribute(&maxThreads, C.CU_DEVICE_ATTRIBUTE_MAX_THREADS_PER_BLOCK, dev)
	C.cuDeviceGetAttribute(&warpSize, C.CU_DEVICE_ATTRIBUTE_WARP_SIZE, dev)

	return &cudaContext{
		ordinal: ordinal,
		cuCtx:   ctx,
		cuDev:   dev,
		device: driver.Device{
			Backend:           driver.CUDA,
			Vendor:            driver.VendorNVIDIA,
			Name:              fmt.Sprintf("cuda-device-%d", ordinal),
			LocalMemSize:      uint64(sharedMem),
			MaxWorkGroupSize:  uint64(maxThreads),
			WarpWavefrontSize: uint64(warpSize),
		},
	}, nil
}

func (c *cudaContext) Device() driver.Device { return c.device }

func (c *cudaContext) NewStream() (driver.Stream, error) {
	var stream C.CUstream
	if C.cuStreamCreate(&stream, 0) != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("cuda: %w: cuStreamCreate", errCuda)
	}
	return &cudaStream{ctx: c, stream: stream}, nil
}

func (c *cudaContext) NewBuffer(data []float32) (driver.Buffer, error) {
	buf, err := c.NewEmptyBuffer(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	cb := buf.(*cudaBuffer)
	if len(data) > 0 {
		if C.cuMemcpyHtoD(cb.ptr, unsafe.Pointer(&data[0]), C.size_t(len(data)*4)) != C.CUDA_SUCCESS {
			return nil, fmt.Errorf("cuda: %w: cuMemcpyHtoD", errCuda)
		}
	}
	return cb, nil
}

func (c *cudaContext) NewEmptyBuffer(floats uint64) (driver.Buffer, error) {
	var ptr C.CUdeviceptr
	size := floats * 4
	if size > 0 {
		if C.cuMemAlloc(&ptr, C.size_t(size)) != C.CUDA_SUCCESS {
			return nil, fmt.Errorf("cuda: %w: cuMemAlloc", errCuda)
		}
	}
	return &cudaBuffer{ptr: ptr, floats: floats}, nil
}

func (c *cudaContext) Release() {
	C.cuCtxDestroy(c.cuCtx)
}

type cudaBuffer struct {
	ptr    C.CUdeviceptr
	floats uint64
}

func (b *cudaBuffer) Size() uint64 { return b.floats * 4 }

func (b *cudaBuffer) ReadFloat32(n int) []float32 {
	out := make([]float32, n)
	if n > 0 {
		C.cuMemcpyDtoH(unsafe.Pointer(&out[0]), b.ptr, C.size_t(n*4))
	}
	return out
}

func (b *cudaBuffer) ReadFloat64(n int) []float64 {
	f32 := b.ReadFloat32(n)
	out := make([]float64, n)
	for i, v := range f32 {
		out[i] = float64(v)
	}
	return out
}

func (b *cudaBuffer) Release() {
	if b.ptr != 0 {
		C.cuMemFree(b.ptr)
		b.ptr = 0
	}
}

type cudaProgram struct {
	module  C.CUmodule
	kernels map[string]*cudaKernel
}

func (p *cudaProgram) Kernel(name string) (driver.Kernel, error) {
	if k, ok := p.kernels[name]; ok {
		return k, nil
	}
	var fn C.CUfunction
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	if C.cuModuleGetFunction(&fn, p.module, cname) != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("cuda: %w: no such kernel %q", errCuda, name)
	}
	k := &cudaKernel{name: name, fn: fn}
	p.kernels[name] = k
	return k, nil
}

func (p *cudaProgram) Release() {
	C.cuModuleUnload(p.module)
}

type cudaKernel struct {
	name string
	fn   C.CUfunction
}

func (k *cudaKernel) Name() string { return k.name }

type cudaStream struct {
	ctx    *cudaContext
	stream C.CUstream
}

func (s *cudaStream) Context() driver.Context { return s.ctx }

// withActive holds the process-wide context guard and binds the CUcontext
// to the calling thread for the duration of a stream call; every driver
// entry point that needs an active context goes through here.
func (s *cudaStream) withActive(fn func() error) error {
	return driver.WithActive(context.Background(), driver.Guard(), s.ctx, func() error {
		if C.cuCtxSetCurrent(s.ctx.cuCtx) != C.CUDA_SUCCESS {
			return fmt.Errorf("cuda: %w: cuCtxSetCurrent", errCuda)
		}
		return fn()
	})
}

// CompileProgram uses nvrtc to compile source into PTX, then loads it as a
// CUmodule: compile once, launch many times.
func (s *cudaStream) CompileProgram(source string, kernelNames []string) (driver.Program, error) {
	var compiled *cudaProgram
	err := s.withActive(func() error {
		csrc := C.CString(source)
		defer C.free(unsafe.Pointer(csrc))

		var prog C.nvrtcProgram
		if C.nvrtcCreateProgram(&prog, csrc, C.CString("kernel.cu"), 0, nil, nil) != C.NVRTC_SUCCESS {
			return fmt.Errorf("cuda: %w: nvrtcCreateProgram", driver.ErrCompileFailed)
		}
		defer C.nvrtcDestroyProgram(&prog)

		if C.nvrtcCompileProgram(prog, 0, nil) != C.NVRTC_SUCCESS {
			var logSize C.size_t
			C.nvrtcGetProgramLogSize(prog, &logSize)
			log := make([]byte, int(logSize))
			if logSize > 0 {
				C.nvrtcGetProgramLog(prog, (*C.char)(unsafe.Pointer(&log[0])))
			}
			return fmt.Errorf("cuda: %w: %s", driver.ErrCompileFailed, string(log))
		}

		var ptxSize C.size_t
		C.nvrtcGetPTXSize(prog, &ptxSize)
		ptx := make([]byte, int(ptxSize))
		C.nvrtcGetPTX(prog, (*C.char)(unsafe.Pointer(&ptx[0])))

		var module C.CUmodule
		if C.cuModuleLoadData(&module, unsafe.Pointer(&ptx[0])) != C.CUDA_SUCCESS {
			return fmt.Errorf("cuda: %w: cuModuleLoadData", driver.ErrCompileFailed)
		}

		compiled = &cudaProgram{module: module, kernels: make(map[string]*cudaKernel, len(kernelNames))}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return compiled, nil
}

// EnqueueKernel marshals args into a packed argv following the CUDA
// driver's cuLaunchKernel convention: an array of pointers to each
// argument's bytes, in the exact order the binder produced them.
func (s *cudaStream) EnqueueKernel(k driver.Kernel, grid, block driver.NDRange, args []driver.Arg) error {
	ck, ok := k.(*cudaKernel)
	if !ok {
		return fmt.Errorf("cuda: %w: kernel not produced by this backend", errCuda)
	}
	return s.withActive(func() error {
		return s.launch(ck, grid, block, args)
	})
}

func (s *cudaStream) launch(ck *cudaKernel, grid, block driver.NDRange, args []driver.Arg) error {
	argv := make([]unsafe.Pointer, len(args))
	backing := make([]unsafe.Pointer, len(args))
	for i, a := range args {
		switch a.Kind {
		case driver.ArgBuffer:
			buf := a.Buf.(*cudaBuffer)
			backing[i] = unsafe.Pointer(&buf.ptr)
		case driver.ArgSize:
			v := C.uint(a.Int) // size-type is 32-bit unsigned on CUDA
			backing[i] = unsafe.Pointer(&v)
		case driver.ArgScalar:
			if a.Width == 4 {
				v := C.float(a.Float)
				backing[i] = unsafe.Pointer(&v)
			} else {
				v := C.double(a.Float)
				backing[i] = unsafe.Pointer(&v)
			}
		}
		argv[i] = backing[i]
	}

	var argvPtr *unsafe.Pointer
	if len(argv) > 0 {
		argvPtr = &argv[0]
	}

	res := C.cuLaunchKernel(
		ck.fn,
		C.uint(grid[0]), C.uint(grid[1]), C.uint(grid[2]),
		C.uint(block[0]), C.uint(block[1]), C.uint(block[2]),
		0, s.stream,
		(*unsafe.Pointer)(argvPtr), nil,
	)
	if res != C.CUDA_SUCCESS {
		return fmt.Errorf("cuda: %w", driver.ErrLaunchFailed)
	}
	return nil
}

func (s *cudaStream) Write(buf driver.Buffer, data []float32) error {
	cb := buf.(*cudaBuffer)
	if len(data) == 0 {
		return nil
	}
	return s.withActive(func() error {
		if C.cuMemcpyHtoD(cb.ptr, unsafe.Pointer(&data[0]), C.size_t(len(data)*4)) != C.CUDA_SUCCESS {
			return fmt.Errorf("cuda: %w: cuMemcpyHtoD", errCuda)
		}
		return nil
	})
}

func (s *cudaStream) Read(buf driver.Buffer, n int) ([]float32, error) {
	return buf.ReadFloat32(n), nil
}

func (s *cudaStream) Synchronize() error {
	return s.withActive(func() error {
		if C.cuStreamSynchronize(s.stream) != C.CUDA_SUCCESS {
			return fmt.Errorf("cuda: %w: cuStreamSynchronize", errCuda)
		}
		return nil
	})
}
