package gemm

import (
	"context"
	"fmt"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
	"github.com/kestrel-hpc/gemmforge/pkg/expr"
	"github.com/kestrel-hpc/gemmforge/pkg/tunable"
)

// ProgramCache is the shape pkg/progcache.Cache satisfies. Defined here
// rather than imported so gemm has no dependency on progcache (which itself
// depends on gemm for SpecializationKey) — Go interfaces are satisfied
// structurally, so no import is needed in either direction beyond this one.
type ProgramCache interface {
	Get(key SpecializationKey) (driver.Program, bool)
	Put(key SpecializationKey, prog driver.Program)
}

// CompileQueue is the shape pkg/workpool.Pool satisfies: it serializes
// concurrent "compile this source for this device" requests.
type CompileQueue interface {
	Submit(fn func() (driver.Program, error)) (driver.Program, error)
}

// Planner turns an expression plus a parameter point into kernel launches:
// it computes grid/block dimensions, allocates the split-K scratch tensor
// when needed, and issues the main kernel plus the optional reduction
// kernel.
type Planner struct {
	Ctx    driver.Context
	Stream driver.Stream

	// Cache and Queue are both optional; a nil Cache always recompiles, a
	// nil Queue compiles inline on the calling goroutine.
	Cache ProgramCache
	Queue CompileQueue

	// FallbackParams is the fixed, known-safe parameter point used for the
	// strided fallback specialization. The caller supplies it since only it
	// can guarantee a point that is valid on every device.
	FallbackParams Parameters
}

// NewPlanner wires a planner to a context and stream, refusing backends
// with no emitter dialect at construction time rather than at launch.
func NewPlanner(ctx driver.Context, stream driver.Stream, fallback Parameters) (*Planner, error) {
	switch ctx.Device().Backend {
	case driver.CUDA, driver.OpenCL, driver.Host:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, ctx.Device().Backend)
	}
	return &Planner{Ctx: ctx, Stream: stream, FallbackParams: fallback}, nil
}

// Launch runs e with the given parameters/transpose/backend/dtype on p's
// stream: extract the extent, route strided inputs to the fallback, then
// compile and enqueue.
func (p *Planner) Launch(e *expr.GEMMExpr, params Parameters, aTrans, bTrans Trans, backend Backend, dtype Dtype) error {
	// Step 1: extract (M, N, K); zero extent is a no-op.
	M, N, K := gemmExtent(e, aTrans)
	if err := checkShapes(e, aTrans, bTrans); err != nil {
		return err
	}
	if M == 0 || N == 0 || K == 0 {
		return nil
	}

	// Step 2: strided inputs route to the fallback specialization.
	if tunable.ForceFallbackEnabled() || e.A.Leaf().Stride1 != 1 || e.B.Leaf().Stride1 != 1 || e.C.Stride1 != 1 {
		return p.launchFallback(e, aTrans, bTrans, backend, dtype)
	}

	return p.launchSpecialization(e, params, aTrans, bTrans, false, backend, dtype)
}

// launchFallback recursively enqueues the same expression under
// p.FallbackParams with check_bounds forced true.
func (p *Planner) launchFallback(e *expr.GEMMExpr, aTrans, bTrans Trans, backend Backend, dtype Dtype) error {
	key := SpecializationKey{
		Params:      p.FallbackParams,
		ATrans:      aTrans,
		BTrans:      bTrans,
		CheckBounds: true,
		Backend:     backend,
		Dtype:       dtype,
	}
	return p.launchKey(e, key)
}

func (p *Planner) launchSpecialization(e *expr.GEMMExpr, params Parameters, aTrans, bTrans Trans, checkBounds bool, backend Backend, dtype Dtype) error {
	key := SpecializationKey{
		Params:      params,
		ATrans:      aTrans,
		BTrans:      bTrans,
		CheckBounds: checkBounds,
		Backend:     backend,
		Dtype:       dtype,
	}
	return p.launchKey(e, key)
}

// launchKey compiles and enqueues an already-chosen specialization, holding
// the process-wide context guard across every driver call it issues. It
// does not re-run the validity oracle: validation filters candidate points
// for the tuner, while a launch trusts the point it was handed.
func (p *Planner) launchKey(e *expr.GEMMExpr, key SpecializationKey) error {
	return driver.WithActive(context.Background(), driver.Guard(), p.Ctx, func() error {
		return p.launchActive(e, key)
	})
}

func (p *Planner) launchActive(e *expr.GEMMExpr, key SpecializationKey) error {
	depth := key.Params.Depth
	if tunable.SplitKDisabled() {
		depth = 1
		key.Params.Depth = 1
	}

	prog, err := p.compile(key)
	if err != nil {
		return err
	}

	M, N, _ := gemmExtent(e, key.ATrans)

	// Step 3: grid/block sizing.
	grid := driver.NDRange{
		uint64(ceilDiv(ceilDiv(M, key.Params.MS), key.Params.LocalSize0)),
		uint64(ceilDiv(ceilDiv(N, key.Params.NS), key.Params.LocalSize1)),
		uint64(depth),
	}
	block := driver.NDRange{uint64(key.Params.LocalSize0), uint64(key.Params.LocalSize1), 1}

	resolve := func(h expr.TensorHandle) (driver.Buffer, error) {
		buf, ok := h.(driver.Buffer)
		if !ok {
			return nil, ErrShapeMismatch
		}
		return buf, nil
	}

	var scratch driver.Buffer
	var out *Output
	if depth > 1 {
		// Step 4: allocate the (M, N, depth) scratch tensor and rebind the
		// planner's output to it for the main launch; the real C is only
		// touched by the reduction kernel below. The scratch is dense
		// column-major, so its leading dimension is M.
		var err error
		scratch, err = p.Ctx.NewEmptyBuffer(uint64(M * N * depth))
		if err != nil {
			return fmt.Errorf("gemm: split-k scratch allocation: %w", err)
		}
		out = &Output{Buf: scratch, Ld: M, Offset: 0, Stride1: 1}
	}

	kernelNames := KernelNames(key)
	mainKernel, err := prog.Kernel(kernelNames[0])
	if err != nil {
		return err
	}

	args, err := Bind(e, resolve, out)
	if err != nil {
		return err
	}

	// Step 5: submit the main kernel.
	if err := p.Stream.EnqueueKernel(mainKernel, grid, block, args); err != nil {
		return fmt.Errorf("gemm: %w: %v", driver.ErrLaunchFailed, err)
	}

	if depth <= 1 {
		return nil
	}

	// Step 6: submit the reduction kernel; the scratch tensor is released on
	// scope exit here since nothing outlives Launch.
	defer scratch.Release()

	reduceKernel, err := prog.Kernel(kernelNames[1])
	if err != nil {
		return err
	}
	cBuf, err := resolve(e.C.Handle)
	if err != nil {
		return err
	}
	reduceGrid := driver.NDRange{
		uint64(ceilDiv(M, key.Params.LocalSize0)),
		uint64(ceilDiv(N, key.Params.LocalSize1)),
		1,
	}
	reduceArgs := BindReduction(e, cBuf, scratch, depth)
	if err := p.Stream.EnqueueKernel(reduceKernel, reduceGrid, block, reduceArgs); err != nil {
		return fmt.Errorf("gemm: reduction: %w: %v", driver.ErrLaunchFailed, err)
	}
	return nil
}

// checkShapes verifies the expression's leaves agree on (M, N, K); a
// mismatch is a programming error that is never retried.
func checkShapes(e *expr.GEMMExpr, aTrans, bTrans Trans) error {
	aLeaf := e.A.Leaf()
	bLeaf := e.B.Leaf()
	M, N, K := gemmExtent(e, aTrans)

	aM := aLeaf.Rows
	if aTrans == Transpose {
		aM = aLeaf.Cols
	}
	bK, bN := bLeaf.Rows, bLeaf.Cols
	if bTrans == Transpose {
		bK, bN = bLeaf.Cols, bLeaf.Rows
	}
	if aM != M || bK != K || bN != N {
		return ErrShapeMismatch
	}
	return nil
}

func (p *Planner) compile(key SpecializationKey) (driver.Program, error) {
	if p.Cache != nil {
		if prog, ok := p.Cache.Get(key); ok {
			return prog, nil
		}
	}

	compileFn := func() (driver.Program, error) {
		source, err := Generate(key)
		if err != nil {
			return nil, err
		}
		prog, err := p.Stream.CompileProgram(source, KernelNames(key))
		if err != nil {
			return nil, fmt.Errorf("gemm: %w: %v", driver.ErrCompileFailed, err)
		}
		return prog, nil
	}

	var prog driver.Program
	var err error
	if p.Queue != nil {
		prog, err = p.Queue.Submit(compileFn)
	} else {
		prog, err = compileFn()
	}
	if err != nil {
		return nil, err
	}
	if p.Cache != nil {
		p.Cache.Put(key, prog)
	}
	return prog, nil
}

// gemmExtent extracts (M, N, K): M, N come from C's shape, K from A's
// contracting axis depending on transpose.
func gemmExtent(e *expr.GEMMExpr, aTrans Trans) (M, N, K int) {
	aLeaf := e.A.Leaf()
	M = e.C.Rows
	N = e.C.Cols
	if aTrans == Transpose {
		K = aLeaf.Rows
	} else {
		K = aLeaf.Cols
	}
	return M, N, K
}
