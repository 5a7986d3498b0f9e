//go:build opencl && (linux || windows || darwin)
// +build opencl
// +build linux windows darwin

package opencl

/*
#cgo linux CFLAGS: -I/opt/rocm/include -I/usr/include
#cgo linux LDFLAGS: -L/opt/rocm/lib -L/usr/lib/x86_64-linux-gnu -lOpenCL
#cgo darwin CFLAGS: -framework OpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -lOpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>
#include <string.h>

// opencl_device_count returns the number of devices of any type visible across all
// platforms, mirroring how cuda_device_count enumerates CUDA ordinals.
int opencl_device_count() {
    cl_uint num_platforms;
    if (clGetPlatformIDs(0, NULL, &num_platforms) != CL_SUCCESS || num_platforms == 0) {
        return 0;
    }
    cl_platform_id* platforms = (cl_platform_id*)malloc(num_platforms * sizeof(cl_platform_id));
    clGetPlatformIDs(num_platforms, platforms, NULL);

    int total = 0;
    for (cl_uint i = 0; i < num_platforms; i++) {
        cl_uint n;
        if (clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_ALL, 0, NULL, &n) == CL_SUCCESS) {
            total += n;
        }
    }
    free(platforms);
    return total;
}

// opencl_nth_device resolves the index'th device across all platforms,
// the same ordinal scheme cuda_device_count's caller uses for CUDA.
int opencl_nth_device(int index, cl_platform_id* out_platform, cl_device_id* out_device) {
    cl_uint num_platforms;
    if (clGetPlatformIDs(0, NULL, &num_platforms) != CL_SUCCESS || num_platforms == 0) {
        return -1;
    }
    cl_platform_id* platforms = (cl_platform_id*)malloc(num_platforms * sizeof(cl_platform_id));
    clGetPlatformIDs(num_platforms, platforms, NULL);

    int seen = 0;
    int found = -1;
    for (cl_uint i = 0; i < num_platforms && found != 0; i++) {
        cl_uint n;
        if (clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_ALL, 0, NULL, &n) != CL_SUCCESS) continue;
        if (index < seen + (int)n) {
            cl_device_id* devices = (cl_device_id*)malloc(n * sizeof(cl_device_id));
            clGetDeviceIDs(platforms[i], CL_DEVICE_TYPE_ALL, n, devices, NULL);
            *out_platform = platforms[i];
            *out_device = devices[index - seen];
            free(devices);
            found = 0;
        }
        seen += n;
    }
    free(platforms);
    return found;
}

static cl_ulong opencl_local_mem_size(cl_device_id dev) {
    cl_ulong v = 0;
    clGetDeviceInfo(dev, CL_DEVICE_LOCAL_MEM_SIZE, sizeof(v), &v, NULL);
    return v;
}

static size_t opencl_max_work_group_size(cl_device_id dev) {
    size_t v = 256;
    clGetDeviceInfo(dev, CL_DEVICE_MAX_WORK_GROUP_SIZE, sizeof(v), &v, NULL);
    return v;
}

// OpenCL has no single "warp size" query portable across vendors; NVIDIA and
// AMD both expose it as an extension property (CL_DEVICE_WARP_SIZE_NV /
// CL_DEVICE_WAVEFRONT_WIDTH_AMD) which this bridge does not special-case, so
// callers fall back to 1 (no-op multiple-of check in the validity oracle).
static cl_uint opencl_compute_units(cl_device_id dev) {
    cl_uint v = 1;
    clGetDeviceInfo(dev, CL_DEVICE_MAX_COMPUTE_UNITS, sizeof(v), &v, NULL);
    return v;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
)

func init() {
	driver.Register(driver.OpenCL, func(ordinal int) (driver.Context, error) {
		return newContext(ordinal)
	})
}

var errOpenCL = errors.New("opencl: driver call failed")

// IsAvailable reports whether at least one OpenCL device is visible.
func IsAvailable() bool { return DeviceCount() > 0 }

// DeviceCount returns the number of visible OpenCL devices across all
// platforms, or 0 on failure.
func DeviceCount() int {
	n := int(C.opencl_device_count())
	if n < 0 {
		return 0
	}
	return n
}

type openclContext struct {
	platform C.cl_platform_id
	device   C.cl_device_id
	ctx      C.cl_context
	dev      driver.Device
}

func newContext(ordinal int) (*openclContext, error) {
	var platform C.cl_platform_id
	var device C.cl_device_id
	if C.opencl_nth_device(C.int(ordinal), &platform, &device) != 0 {
		return nil, fmt.Errorf("opencl: %w: no device at ordinal %d", errOpenCL, ordinal)
	}

	var err C.cl_int
	ctx := C.clCreateContext(nil, 1, &device, nil, nil, &err)
	if err != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: %w: clCreateContext (%d)", errOpenCL, int(err))
	}

	var name [256]C.char
	C.clGetDeviceInfo(device, C.CL_DEVICE_NAME, C.size_t(len(name)), unsafe.Pointer(&name[0]), nil)

	return &openclContext{
		platform: platform,
		device:   device,
		ctx:      ctx,
		dev: driver.Device{
			Backend:           driver.OpenCL,
			Vendor:            driver.VendorUnknown,
			Name:              C.GoString(&name[0]),
			LocalMemSize:      uint64(C.opencl_local_mem_size(device)),
			MaxWorkGroupSize:  uint64(C.opencl_max_work_group_size(device)),
			WarpWavefrontSize: 1, // no portable query; see opencl_compute_units's comment
			MaxComputeUnits:   uint32(C.opencl_compute_units(device)),
		},
	}, nil
}

func (c *openclContext) Device() driver.Device { return c.dev }

func (c *openclContext) NewStream() (driver.Stream, error) {
	var err C.cl_int
	queue := C.clCreateCommandQueue(c.ctx, c.device, 0, &err)
	if err != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: %w: clCreateCommandQueue (%d)", errOpenCL, int(err))
	}
	return &openclStream{ctx: c, queue: queue}, nil
}

func (c *openclContext) NewBuffer(data []float32) (driver.Buffer, error) {
	buf, err := c.NewEmptyBuffer(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	ob := buf.(*openclBuffer)
	if len(data) > 0 {
		var werr C.cl_int
		flags := C.cl_mem_flags(C.CL_MEM_READ_WRITE | C.CL_MEM_COPY_HOST_PTR)
		ob.mem = C.clCreateBuffer(c.ctx, flags, C.size_t(len(data)*4), unsafe.Pointer(&data[0]), &werr)
		if werr != C.CL_SUCCESS {
			return nil, fmt.Errorf("opencl: %w: clCreateBuffer (%d)", errOpenCL, int(werr))
		}
	}
	return ob, nil
}

func (c *openclContext) NewEmptyBuffer(floats uint64) (driver.Buffer, error) {
	var err C.cl_int
	size := C.size_t(floats * 4)
	var mem C.cl_mem
	if size > 0 {
		mem = C.clCreateBuffer(c.ctx, C.CL_MEM_READ_WRITE, size, nil, &err)
		if err != C.CL_SUCCESS {
			return nil, fmt.Errorf("opencl: %w: clCreateBuffer (%d)", errOpenCL, int(err))
		}
	}
	return &openclBuffer{mem: mem, floats: floats, ctx: c}, nil
}

func (c *openclContext) Release() {
	C.clReleaseContext(c.ctx)
}

type openclBuffer struct {
	mem    C.cl_mem
	floats uint64
	ctx    *openclContext
}

func (b *openclBuffer) Size() uint64 { return b.floats * 4 }

// ReadFloat32 opens a short-lived command queue for the blocking read.
// Callers on the hot launch path use Stream.Read instead, which reuses the
// stream's own queue; this path exists so driver.Buffer is usable standalone
// (e.g. from a test that never opened a Stream).
func (b *openclBuffer) ReadFloat32(n int) []float32 {
	out := make([]float32, n)
	if n == 0 || b.mem == nil {
		return out
	}
	var err C.cl_int
	queue := C.clCreateCommandQueue(b.ctx.ctx, b.ctx.device, 0, &err)
	if err != C.CL_SUCCESS {
		return out
	}
	defer C.clReleaseCommandQueue(queue)
	C.clEnqueueReadBuffer(queue, b.mem, C.CL_TRUE, 0, C.size_t(n*4), unsafe.Pointer(&out[0]), 0, nil, nil)
	return out
}

func (b *openclBuffer) ReadFloat64(n int) []float64 {
	f32 := b.ReadFloat32(n)
	out := make([]float64, n)
	for i, v := range f32 {
		out[i] = float64(v)
	}
	return out
}

func (b *openclBuffer) Release() {
	if b.mem != nil {
		C.clReleaseMemObject(b.mem)
		b.mem = nil
	}
}

type openclProgram struct {
	prog    C.cl_program
	kernels map[string]*openclKernel
	mu      sync.Mutex
}

func (p *openclProgram) Kernel(name string) (driver.Kernel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if k, ok := p.kernels[name]; ok {
		return k, nil
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var err C.cl_int
	kern := C.clCreateKernel(p.prog, cname, &err)
	if err != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: %w: no such kernel %q (%d)", errOpenCL, name, int(err))
	}
	k := &openclKernel{name: name, kernel: kern}
	p.kernels[name] = k
	return k, nil
}

func (p *openclProgram) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.kernels {
		C.clReleaseKernel(k.kernel)
	}
	C.clReleaseProgram(p.prog)
}

type openclKernel struct {
	name   string
	kernel C.cl_kernel
}

func (k *openclKernel) Name() string { return k.name }

type openclStream struct {
	ctx   *openclContext
	queue C.cl_command_queue
}

func (s *openclStream) Context() driver.Context { return s.ctx }

// withActive holds the process-wide context guard for the duration of a
// stream call. OpenCL handles carry their context implicitly, so there is
// no thread-binding step here, but the guard discipline matches the other
// backends.
func (s *openclStream) withActive(fn func() error) error {
	return driver.WithActive(context.Background(), driver.Guard(), s.ctx, fn)
}

// CompileProgram builds emitted source with clBuildProgram, the OpenCL
// analogue of nvrtc in driver/cuda's CompileProgram: compile once, look up
// and launch each named entry point many times.
func (s *openclStream) CompileProgram(source string, kernelNames []string) (driver.Program, error) {
	var compiled *openclProgram
	err := s.withActive(func() error {
		csrc := C.CString(source)
		defer C.free(unsafe.Pointer(csrc))
		srcLen := C.size_t(len(source))

		var rc C.cl_int
		prog := C.clCreateProgramWithSource(s.ctx.ctx, 1, &csrc, &srcLen, &rc)
		if rc != C.CL_SUCCESS {
			return fmt.Errorf("opencl: %w: clCreateProgramWithSource (%d)", driver.ErrCompileFailed, int(rc))
		}

		buildErr := C.clBuildProgram(prog, 1, &s.ctx.device, nil, nil, nil)
		if buildErr != C.CL_SUCCESS {
			var logSize C.size_t
			C.clGetProgramBuildInfo(prog, s.ctx.device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize)
			log := make([]byte, int(logSize)+1)
			if logSize > 0 {
				C.clGetProgramBuildInfo(prog, s.ctx.device, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&log[0]), nil)
			}
			C.clReleaseProgram(prog)
			return fmt.Errorf("opencl: %w: %s", driver.ErrCompileFailed, string(log))
		}

		compiled = &openclProgram{prog: prog, kernels: make(map[string]*openclKernel, len(kernelNames))}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return compiled, nil
}

// EnqueueKernel sets each argument with clSetKernelArg in the order the
// binder produced them and enqueues an NDRange whose
// global size is grid*block per dimension, local size block — the OpenCL
// convention, versus CUDA's separate grid/block launch parameters.
func (s *openclStream) EnqueueKernel(k driver.Kernel, grid, block driver.NDRange, args []driver.Arg) error {
	ok2, ok := k.(*openclKernel)
	if !ok {
		return fmt.Errorf("opencl: %w: kernel not produced by this backend", errOpenCL)
	}
	return s.withActive(func() error {
		return s.launch(ok2, grid, block, args)
	})
}

func (s *openclStream) launch(ok2 *openclKernel, grid, block driver.NDRange, args []driver.Arg) error {
	for i, a := range args {
		idx := C.cl_uint(i)
		var rc C.cl_int
		switch a.Kind {
		case driver.ArgBuffer:
			buf := a.Buf.(*openclBuffer)
			rc = C.clSetKernelArg(ok2.kernel, idx, C.size_t(unsafe.Sizeof(buf.mem)), unsafe.Pointer(&buf.mem))
		case driver.ArgSize:
			v := C.cl_ulong(a.Int) // size-type is 64-bit unsigned on OpenCL
			rc = C.clSetKernelArg(ok2.kernel, idx, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
		case driver.ArgScalar:
			if a.Width == 4 {
				v := C.cl_float(a.Float)
				rc = C.clSetKernelArg(ok2.kernel, idx, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
			} else {
				v := C.cl_double(a.Float)
				rc = C.clSetKernelArg(ok2.kernel, idx, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
			}
		}
		if rc != C.CL_SUCCESS {
			return fmt.Errorf("opencl: %w: clSetKernelArg(%d) (%d)", errOpenCL, i, int(rc))
		}
	}

	global := [3]C.size_t{
		C.size_t(grid[0] * block[0]),
		C.size_t(grid[1] * block[1]),
		C.size_t(grid[2] * block[2]),
	}
	local := [3]C.size_t{C.size_t(block[0]), C.size_t(block[1]), C.size_t(block[2])}

	rc := C.clEnqueueNDRangeKernel(s.queue, ok2.kernel, 3, nil, &global[0], &local[0], 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return fmt.Errorf("opencl: %w (%d)", driver.ErrLaunchFailed, int(rc))
	}
	return nil
}

func (s *openclStream) Write(buf driver.Buffer, data []float32) error {
	ob := buf.(*openclBuffer)
	if len(data) == 0 {
		return nil
	}
	rc := C.clEnqueueWriteBuffer(s.queue, ob.mem, C.CL_TRUE, 0, C.size_t(len(data)*4), unsafe.Pointer(&data[0]), 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return fmt.Errorf("opencl: %w: clEnqueueWriteBuffer (%d)", errOpenCL, int(rc))
	}
	return nil
}

func (s *openclStream) Read(buf driver.Buffer, n int) ([]float32, error) {
	ob := buf.(*openclBuffer)
	out := make([]float32, n)
	if n == 0 {
		return out, nil
	}
	rc := C.clEnqueueReadBuffer(s.queue, ob.mem, C.CL_TRUE, 0, C.size_t(n*4), unsafe.Pointer(&out[0]), 0, nil, nil)
	if rc != C.CL_SUCCESS {
		return nil, fmt.Errorf("opencl: %w: clEnqueueReadBuffer (%d)", errOpenCL, int(rc))
	}
	return out, nil
}

func (s *openclStream) Synchronize() error {
	if C.clFinish(s.queue) != C.CL_SUCCESS {
		return fmt.Errorf("opencl: %w: clFinish", errOpenCL)
	}
	return nil
}
