package gemm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
	_ "github.com/kestrel-hpc/gemmforge/pkg/driver/host"
	"github.com/kestrel-hpc/gemmforge/pkg/expr"
	"github.com/kestrel-hpc/gemmforge/pkg/tunable"
)

// recordingStream wraps the host stream to observe which kernels a launch
// actually enqueued, e.g. to prove the fallback specialization was taken,
// and whether the context guard was held at enqueue time.
type recordingStream struct {
	driver.Stream
	names       []string
	sawInactive bool
}

func (r *recordingStream) EnqueueKernel(k driver.Kernel, grid, block driver.NDRange, args []driver.Arg) error {
	r.names = append(r.names, k.Name())
	if driver.Guard().Current() == nil {
		r.sawInactive = true
	}
	return r.Stream.EnqueueKernel(k, grid, block, args)
}

func hostSetup(t *testing.T) (driver.Context, *recordingStream) {
	t.Helper()
	ctx, err := driver.Open(driver.Host, 0)
	require.NoError(t, err)
	t.Cleanup(ctx.Release)
	stream, err := ctx.NewStream()
	require.NoError(t, err)
	return ctx, &recordingStream{Stream: stream}
}

// fill produces deterministic small values so float64 sums stay exact.
func fill(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((i*7)%13) - 3
	}
	return out
}

// newMatrix allocates a dense column-major rows-by-cols tensor.
func newMatrix(t *testing.T, ctx driver.Context, rows, cols int, data []float32) (driver.Buffer, *expr.Tensor) {
	t.Helper()
	buf, err := ctx.NewBuffer(data)
	require.NoError(t, err)
	return buf, expr.NewTensor(buf.(expr.TensorHandle), rows, cols, rows, 1, 0)
}

func buildExpr(t *testing.T, ctx driver.Context, M, N, K int, aT, bT bool, alpha, beta float64, cInit []float32) (*expr.GEMMExpr, driver.Buffer, []float64, []float64, []float64) {
	t.Helper()
	aRows, aCols := M, K
	if aT {
		aRows, aCols = K, M
	}
	bRows, bCols := K, N
	if bT {
		bRows, bCols = N, K
	}

	aData := fill(aRows * aCols)
	bData := fill(bRows * bCols)
	if cInit == nil {
		cInit = make([]float32, M*N)
	}

	aBuf, aTensor := newMatrix(t, ctx, aRows, aCols, aData)
	bBuf, bTensor := newMatrix(t, ctx, bRows, bCols, bData)
	cBuf, cTensor := newMatrix(t, ctx, M, N, cInit)

	var aNode, bNode expr.Node = aTensor, bTensor
	if aT {
		aNode = expr.WrapTrans(aTensor)
	}
	if bT {
		bNode = expr.WrapTrans(bTensor)
	}
	e := expr.NewGEMMExpr(aNode, bNode, cTensor,
		expr.NewScalar(alpha, Float32), expr.NewScalar(beta, Float32))

	return e, cBuf,
		aBuf.ReadFloat64(aRows * aCols),
		bBuf.ReadFloat64(bRows * bCols),
		cBuf.ReadFloat64(M * N)
}

// naiveRef is the column-major reference implementation:
// C = alpha*op(A)*op(B) + beta*C.
func naiveRef(M, N, K int, a, b, c []float64, aT, bT bool, alpha, beta float64) []float64 {
	aAt := func(i, k int) float64 {
		if aT {
			return a[k+i*K] // leaf is K-by-M
		}
		return a[i+k*M]
	}
	bAt := func(k, j int) float64 {
		if bT {
			return b[j+k*N] // leaf is N-by-K
		}
		return b[k+j*K]
	}
	out := make([]float64, M*N)
	for j := 0; j < N; j++ {
		for i := 0; i < M; i++ {
			var sum float64
			for k := 0; k < K; k++ {
				sum += aAt(i, k) * bAt(k, j)
			}
			out[i+j*M] = alpha*sum + beta*c[i+j*M]
		}
	}
	return out
}

func assertMatch(t *testing.T, got, want []float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "element %d", i)
	}
}

func scenarioParams(simd, ls0, ls1, mS, kS, nS, kL, depth, lf0, lf1 int) Parameters {
	return Parameters{
		SimdWidth:   simd,
		LocalSize0:  ls0,
		LocalSize1:  ls1,
		KL:          kL,
		Depth:       depth,
		MS:          mS,
		KS:          kS,
		NS:          nS,
		AFetch:      FetchLocal,
		BFetch:      FetchLocal,
		LocalFetch0: lf0,
		LocalFetch1: lf1,
	}
}

func runScenario(t *testing.T, M, N, K int, aT, bT bool, p Parameters, alpha, beta float64, cInit []float32) {
	t.Helper()
	ctx, stream := hostSetup(t)
	e, cBuf, aData, bData, cData := buildExpr(t, ctx, M, N, K, aT, bT, alpha, beta, cInit)

	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: baseParams()}
	at, bt := NoTrans, NoTrans
	if aT {
		at = Transpose
	}
	if bT {
		bt = Transpose
	}
	require.NoError(t, planner.Launch(e, p, at, bt, Host, Float32))
	require.NoError(t, stream.Synchronize())
	assert.False(t, stream.sawInactive, "every enqueue must run under an active context guard")

	want := naiveRef(M, N, K, aData, bData, cData, aT, bT, alpha, beta)
	assertMatch(t, cBuf.ReadFloat64(M*N), want)
}

func TestLaunchSquare(t *testing.T) {
	runScenario(t, 64, 64, 64, false, false,
		scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8), 1, 0, nil)
}

func TestLaunchTailPath(t *testing.T) {
	// 70 is not a multiple of mL, nL or kL, so the boundary-predicated tail
	// executes on every axis.
	runScenario(t, 70, 70, 70, false, false,
		scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8), 1, 0, nil)
}

func TestLaunchTransposedA(t *testing.T) {
	runScenario(t, 128, 128, 256, true, false,
		scenarioParams(4, 16, 16, 4, 4, 4, 16, 1, 16, 16), 1, 0, nil)
}

func TestLaunchAlphaBeta(t *testing.T) {
	M, N := 64, 64
	ones := make([]float32, M*N)
	for i := range ones {
		ones[i] = 1
	}
	runScenario(t, M, N, 64, false, false,
		scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8), 2, 0.5, ones)
}

func TestLaunchTransposeCombinations(t *testing.T) {
	p := scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8)
	for _, tc := range []struct {
		name   string
		aT, bT bool
	}{
		{"NN", false, false},
		{"TN", true, false},
		{"NT", false, true},
		{"TT", true, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			runScenario(t, 48, 40, 56, tc.aT, tc.bT, p, 1, 0, nil)
		})
	}
}

func TestLaunchBoundaryShapes(t *testing.T) {
	p := scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8)
	for _, tc := range []struct {
		name    string
		M, N, K int
	}{
		{"M1", 1, 64, 64},
		{"K1", 64, 64, 1},
		{"prime", 17, 23, 31},
	} {
		t.Run(tc.name, func(t *testing.T) {
			runScenario(t, tc.M, tc.N, tc.K, false, false, p, 1, 0, nil)
		})
	}
}

func TestLaunchSplitK(t *testing.T) {
	M, N, K := 256, 256, 1024
	ctx, stream := hostSetup(t)

	split := scenarioParams(4, 16, 16, 4, 4, 4, 16, 4, 16, 16)
	e, cBuf, aData, bData, cData := buildExpr(t, ctx, M, N, K, false, false, 1, 0, nil)
	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: baseParams()}
	require.NoError(t, planner.Launch(e, split, NoTrans, NoTrans, Host, Float32))

	// the split launch enqueues the main kernel and then the reduction
	require.Len(t, stream.names, 2)
	assert.Contains(t, stream.names[0], "gemm_nn_")
	assert.Contains(t, stream.names[1], "reduce_nn_")

	want := naiveRef(M, N, K, aData, bData, cData, false, false, 1, 0)
	got := cBuf.ReadFloat64(M * N)
	assertMatch(t, got, want)

	// the depth=4 result matches the single-pass result
	single := split
	single.Depth = 1
	e2, cBuf2, _, _, _ := buildExpr(t, ctx, M, N, K, false, false, 1, 0, nil)
	require.NoError(t, planner.Launch(e2, single, NoTrans, NoTrans, Host, Float32))
	assertMatch(t, got, cBuf2.ReadFloat64(M*N))
}

func TestLaunchStridedFallback(t *testing.T) {
	M, N, K := 64, 64, 64
	ctx, stream := hostSetup(t)

	aData := fill(M * K)
	bData := fill(K * N)
	cData := make([]float32, 2*M*N) // room for stride-2 rows

	aBuf, aTensor := newMatrix(t, ctx, M, K, aData)
	bBuf, bTensor := newMatrix(t, ctx, K, N, bData)
	cBuf, err := ctx.NewBuffer(cData)
	require.NoError(t, err)
	// C views every other element of its column: stride1 = 2, ld = 2*M
	cTensor := expr.NewTensor(cBuf.(expr.TensorHandle), M, N, 2*M, 2, 0)

	e := expr.NewGEMMExpr(aTensor, bTensor, cTensor,
		expr.NewScalar(1, Float32), expr.NewScalar(0, Float32))

	fallback := baseParams()
	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: fallback}
	require.NoError(t, planner.Launch(e, scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8), NoTrans, NoTrans, Host, Float32))

	// the fallback specialization (check_bounds=true, fallback params) ran
	fbKey := SpecializationKey{Params: fallback, ATrans: NoTrans, BTrans: NoTrans, CheckBounds: true, Backend: Host, Dtype: Float32}
	require.Len(t, stream.names, 1)
	assert.Equal(t, KernelNames(fbKey)[0], stream.names[0])

	want := naiveRef(M, N, K,
		aBuf.ReadFloat64(M*K), bBuf.ReadFloat64(K*N), make([]float64, M*N), false, false, 1, 0)
	got := cBuf.ReadFloat64(2 * M * N)
	for j := 0; j < N; j++ {
		for i := 0; i < M; i++ {
			assert.InDelta(t, want[i+j*M], got[2*i+j*2*M], 1e-9, "element (%d,%d)", i, j)
		}
	}
}

func TestLaunchForceFallbackFlag(t *testing.T) {
	restore := tunable.WithForceFallback()
	defer restore()

	M, N, K := 32, 32, 32
	ctx, stream := hostSetup(t)
	e, cBuf, aData, bData, cData := buildExpr(t, ctx, M, N, K, false, false, 1, 0, nil)

	fallback := baseParams()
	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: fallback}
	require.NoError(t, planner.Launch(e, scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8), NoTrans, NoTrans, Host, Float32))

	fbKey := SpecializationKey{Params: fallback, ATrans: NoTrans, BTrans: NoTrans, CheckBounds: true, Backend: Host, Dtype: Float32}
	require.Len(t, stream.names, 1)
	assert.Equal(t, KernelNames(fbKey)[0], stream.names[0])

	assertMatch(t, cBuf.ReadFloat64(M*N),
		naiveRef(M, N, K, aData, bData, cData, false, false, 1, 0))
}

func TestLaunchSplitKDisabledFlag(t *testing.T) {
	restore := tunable.WithSplitKDisabled()
	defer restore()

	M, N, K := 64, 64, 128
	ctx, stream := hostSetup(t)
	e, cBuf, aData, bData, cData := buildExpr(t, ctx, M, N, K, false, false, 1, 0, nil)

	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: baseParams()}
	p := scenarioParams(4, 8, 8, 4, 4, 4, 8, 4, 8, 8) // depth 4 requested
	require.NoError(t, planner.Launch(e, p, NoTrans, NoTrans, Host, Float32))

	// split-K suppressed: single kernel, no reduction pass
	require.Len(t, stream.names, 1)
	assert.Contains(t, stream.names[0], "gemm_nn_")

	assertMatch(t, cBuf.ReadFloat64(M*N),
		naiveRef(M, N, K, aData, bData, cData, false, false, 1, 0))
}

// Round-trip idempotence: with alpha=1, beta=0 and A = I, relaunching
// leaves C fixed at B.
func TestLaunchIdentityIdempotent(t *testing.T) {
	const n = 32
	ctx, stream := hostSetup(t)

	eye := make([]float32, n*n)
	for i := 0; i < n; i++ {
		eye[i+i*n] = 1
	}
	bData := fill(n * n)

	_, aTensor := newMatrix(t, ctx, n, n, eye)
	bBuf, bTensor := newMatrix(t, ctx, n, n, bData)
	cBuf, cTensor := newMatrix(t, ctx, n, n, make([]float32, n*n))

	e := expr.NewGEMMExpr(aTensor, bTensor, cTensor,
		expr.NewScalar(1, Float32), expr.NewScalar(0, Float32))
	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: baseParams()}
	p := scenarioParams(4, 8, 8, 4, 4, 4, 8, 1, 8, 8)

	require.NoError(t, planner.Launch(e, p, NoTrans, NoTrans, Host, Float32))
	first := cBuf.ReadFloat64(n * n)
	assertMatch(t, first, bBuf.ReadFloat64(n*n))

	require.NoError(t, planner.Launch(e, p, NoTrans, NoTrans, Host, Float32))
	assertMatch(t, cBuf.ReadFloat64(n*n), first)
}

func TestLaunchZeroExtentIsNoOp(t *testing.T) {
	ctx, stream := hostSetup(t)
	e, _, _, _, _ := buildExpr(t, ctx, 16, 0, 16, false, false, 1, 0, nil)

	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: baseParams()}
	require.NoError(t, planner.Launch(e, baseParams(), NoTrans, NoTrans, Host, Float32))
	assert.Empty(t, stream.names, "nothing should be enqueued for an empty extent")
}

type oddBackendContext struct {
	driver.Context
}

func (oddBackendContext) Device() driver.Device {
	return driver.Device{Backend: driver.Backend(42)}
}

func TestNewPlannerRefusesUnknownBackend(t *testing.T) {
	ctx, stream := hostSetup(t)

	p, err := NewPlanner(ctx, stream, baseParams())
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = NewPlanner(oddBackendContext{ctx}, stream, baseParams())
	assert.True(t, errors.Is(err, ErrUnsupportedBackend), "got %v", err)
}

func TestLaunchShapeMismatch(t *testing.T) {
	ctx, stream := hostSetup(t)

	_, aTensor := newMatrix(t, ctx, 8, 8, fill(64))
	_, bTensor := newMatrix(t, ctx, 4, 8, fill(32)) // K mismatch: 4 != 8
	_, cTensor := newMatrix(t, ctx, 8, 8, make([]float32, 64))

	e := expr.NewGEMMExpr(aTensor, bTensor, cTensor,
		expr.NewScalar(1, Float32), expr.NewScalar(0, Float32))
	planner := &Planner{Ctx: ctx, Stream: stream, FallbackParams: baseParams()}
	err := planner.Launch(e, baseParams(), NoTrans, NoTrans, Host, Float32)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
}
