package gemm

import (
	"encoding/binary"
	"math"

	"github.com/kestrel-hpc/gemmforge/pkg/driver"
	"github.com/kestrel-hpc/gemmforge/pkg/expr"
)

// BindPolicy selects how repeated occurrences of the same tensor/scalar are
// assigned argument slots. GEMM always uses BindIndependent;
// BindToHandle shares one slot among repeat occurrences of the same node id.
// Slots are keyed by node id only: two distinct nodes backed by the same
// handle get separate slots.
type BindPolicy int

const (
	BindIndependent BindPolicy = iota
	BindToHandle
)

// BufferResolver looks up the driver.Buffer backing an expr.Tensor's handle.
// The binder itself never allocates; it only assembles the argument list in
// the exact order the emitted signature expects.
type BufferResolver func(h expr.TensorHandle) (driver.Buffer, error)

// Binder assigns argument slots to expression nodes as they are registered
// in left-to-right post-order. Node identity is the explicit node id, never
// pointer identity, so shared subterms in a DAG resolve consistently.
type Binder struct {
	policy BindPolicy
	slots  map[int]int
	bufs   map[int]driver.Buffer
	next   int
}

// NewBinder returns a Binder applying the given policy.
func NewBinder(policy BindPolicy) *Binder {
	return &Binder{
		policy: policy,
		slots:  make(map[int]int),
		bufs:   make(map[int]driver.Buffer),
	}
}

// Register returns the argument slot for node n, allocating one according
// to the policy: a fresh slot per occurrence under BindIndependent, a
// shared slot per node id under BindToHandle.
func (b *Binder) Register(n expr.Identified) int {
	if b.policy == BindToHandle {
		if s, ok := b.slots[n.NodeID()]; ok {
			return s
		}
	}
	s := b.next
	b.next++
	if b.policy == BindToHandle {
		b.slots[n.NodeID()] = s
	}
	return s
}

// Resolve looks up the buffer behind t's handle through the slot policy:
// BindToHandle hands back the buffer already bound to t's slot when the
// node was seen before, BindIndependent resolves every occurrence fresh.
func (b *Binder) Resolve(t *expr.Tensor, resolve BufferResolver) (driver.Buffer, error) {
	slot := b.Register(t)
	if buf, ok := b.bufs[slot]; ok {
		return buf, nil
	}
	buf, err := resolve(t.Handle)
	if err != nil {
		return nil, err
	}
	b.bufs[slot] = buf
	return buf, nil
}

// Output overrides where the main kernel's writeback lands. The launch
// planner substitutes the split-K scratch tensor here; nil binds the
// expression's own C.
type Output struct {
	Buf     driver.Buffer
	Ld      int
	Offset  int
	Stride1 int
}

// Bind walks e and produces the main kernel's argument list in exactly the
// order the emitted signature declares:
//
//	M, N, K, C, ldc, offc, Cstride1, alpha, A, lda, offa, Astride1,
//	B, ldb, offb, Bstride1, beta
//
// out rebinds the output (the split-K scratch case); nil binds the
// expression's own C.
func Bind(e *expr.GEMMExpr, resolve BufferResolver, out *Output) ([]driver.Arg, error) {
	binder := NewBinder(BindIndependent)
	aLeaf := e.A.Leaf()
	bLeaf := e.B.Leaf()

	aBuf, err := binder.Resolve(aLeaf, resolve)
	if err != nil {
		return nil, err
	}
	bBuf, err := binder.Resolve(bLeaf, resolve)
	if err != nil {
		return nil, err
	}

	if out == nil {
		cBuf, err := binder.Resolve(e.C, resolve)
		if err != nil {
			return nil, err
		}
		out = &Output{Buf: cBuf, Ld: e.C.Ld, Offset: e.C.Offset, Stride1: e.C.Stride1}
	}

	M := e.C.Rows
	N := e.C.Cols
	K := aLeaf.Cols
	if e.A.Transposed() {
		K = aLeaf.Rows
	}

	return []driver.Arg{
		{Kind: driver.ArgSize, Int: int64(M)},
		{Kind: driver.ArgSize, Int: int64(N)},
		{Kind: driver.ArgSize, Int: int64(K)},
		{Kind: driver.ArgBuffer, Buf: out.Buf},
		{Kind: driver.ArgSize, Int: int64(out.Ld)},
		{Kind: driver.ArgSize, Int: int64(out.Offset)},
		{Kind: driver.ArgSize, Int: int64(out.Stride1)},
		{Kind: driver.ArgScalar, Float: e.Alpha.Value, Width: int(e.Alpha.Dtype.Size())},
		{Kind: driver.ArgBuffer, Buf: aBuf},
		{Kind: driver.ArgSize, Int: int64(aLeaf.Ld)},
		{Kind: driver.ArgSize, Int: int64(aLeaf.Offset)},
		{Kind: driver.ArgSize, Int: int64(aLeaf.Stride1)},
		{Kind: driver.ArgBuffer, Buf: bBuf},
		{Kind: driver.ArgSize, Int: int64(bLeaf.Ld)},
		{Kind: driver.ArgSize, Int: int64(bLeaf.Offset)},
		{Kind: driver.ArgSize, Int: int64(bLeaf.Stride1)},
		{Kind: driver.ArgScalar, Float: e.Beta.Value, Width: int(e.Beta.Dtype.Size())},
	}, nil
}

// BindReduction produces the split-K reduction kernel's argument list, in
// the order its emitted signature declares:
//
//	M, N, D, Z, Zld, C, ldc, offc, Cstride1, beta
func BindReduction(e *expr.GEMMExpr, cBuf, scratch driver.Buffer, depth int) []driver.Arg {
	return []driver.Arg{
		{Kind: driver.ArgSize, Int: int64(e.C.Rows)},
		{Kind: driver.ArgSize, Int: int64(e.C.Cols)},
		{Kind: driver.ArgSize, Int: int64(depth)},
		{Kind: driver.ArgBuffer, Buf: scratch},
		{Kind: driver.ArgSize, Int: int64(e.C.Rows)},
		{Kind: driver.ArgBuffer, Buf: cBuf},
		{Kind: driver.ArgSize, Int: int64(e.C.Ld)},
		{Kind: driver.ArgSize, Int: int64(e.C.Offset)},
		{Kind: driver.ArgSize, Int: int64(e.C.Stride1)},
		{Kind: driver.ArgScalar, Float: e.Beta.Value, Width: int(e.Beta.Dtype.Size())},
	}
}

// PackedArgs is the launch-ABI rendering of a bound argument list: one
// contiguous buffer laid out exactly as the emitted signature orders its
// parameters, plus the byte offsets of the pointer slots, which PackArgs
// leaves zeroed for device addresses. The cgo bridges marshal the
// driver.Arg list directly and do not consume this buffer.
type PackedArgs struct {
	Data []byte
	// PointerSlots maps argument index -> byte offset of its machine-word
	// slot, for every ArgBuffer in the list.
	PointerSlots map[int]int
}

// PackArgs writes args into a packed buffer following the launch ABI:
// pointers are machine words, size-type scalars are 32-bit on CUDA and
// 64-bit on OpenCL, and alpha/beta are dtype-sized (each ArgScalar carries
// its own width). Every field is naturally aligned, with the cursor padded
// forward as needed.
func PackArgs(args []driver.Arg, backend Backend) PackedArgs {
	const wordSize = 8
	sizeWidth := 4
	if backend == OpenCL {
		sizeWidth = 8
	}

	packed := PackedArgs{PointerSlots: make(map[int]int)}
	cursor := 0

	align := func(width int) {
		if rem := cursor % width; rem != 0 {
			pad := width - rem
			packed.Data = append(packed.Data, make([]byte, pad)...)
			cursor += pad
		}
	}

	for i, a := range args {
		switch a.Kind {
		case driver.ArgBuffer:
			align(wordSize)
			packed.PointerSlots[i] = cursor
			packed.Data = append(packed.Data, make([]byte, wordSize)...)
			cursor += wordSize
		case driver.ArgSize:
			align(sizeWidth)
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(a.Int))
			packed.Data = append(packed.Data, tmp[:sizeWidth]...)
			cursor += sizeWidth
		case driver.ArgScalar:
			width := a.Width
			if width != 4 {
				width = 8
			}
			align(width)
			var tmp [8]byte
			if width == 4 {
				binary.LittleEndian.PutUint32(tmp[:4], math.Float32bits(float32(a.Float)))
			} else {
				binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(a.Float))
			}
			packed.Data = append(packed.Data, tmp[:width]...)
			cursor += width
		}
	}
	return packed
}
