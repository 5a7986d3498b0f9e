// Package expr is the minimal expression-tree collaborator the GEMM engine
// consumes: the engine reads only the three matrix leaves and two scalars
// and never mutates the tree. It is deliberately small; it exists so the
// binder (gemm.Bind) has something concrete to walk.
package expr

// Tensor is a leaf referring to a dense matrix: a pointer handle plus the
// stride/offset/shape descriptors the binder needs. Storage is
// column-major, the BLAS convention: element (i, j) lives at
// Offset + i*Stride1 + j*Ld.
type Tensor struct {
	id int

	Handle  TensorHandle
	Rows    int
	Cols    int
	Ld      int // leading dimension: elements between consecutive columns
	Stride1 int // contiguous-axis stride; != 1 forces the fallback specialization
	Offset  int
}

// TensorHandle is the device-side storage a Tensor leaf refers to. Its
// method set is deliberately identical to driver.Buffer's read accessor
// (rather than importing driver directly) so any concrete driver.Buffer
// already satisfies TensorHandle with no adapter — the binder's resolver
// type-asserts a TensorHandle back to driver.Buffer (gemm.Bind's
// BufferResolver) to recover the rest of the Buffer interface.
type TensorHandle interface {
	ReadFloat32(n int) []float32
}

// Scalar is a leaf carrying a dtype-tagged value (alpha or beta).
type Scalar struct {
	id int

	Value float64
	Dtype Dtype
}

// Trans wraps a Tensor leaf to mark it transposed. It carries no data of
// its own; a trans node directly above a leaf is how transpose is detected.
type Trans struct {
	id int

	Operand *Tensor
}

// GEMMExpr is the root node the launch planner's "preset" matcher looks for:
// C := Alpha * op(A) * op(B) + Beta * C. A and B may each be wrapped in a
// Trans node; C is never transposed.
type GEMMExpr struct {
	id int

	A, B  Node // *Tensor or *Trans
	C     *Tensor
	Alpha Scalar
	Beta  Scalar
}

// Identified is satisfied by every node type (Tensor, Trans, Scalar,
// GEMMExpr) so Visitor can memoize by explicit id across all of them.
type Identified interface {
	NodeID() int
}

// Node is implemented by *Tensor and *Trans, the two shapes A/B may take.
type Node interface {
	Identified
	Leaf() *Tensor
	Transposed() bool
}

func (t *Tensor) NodeID() int      { return t.id }
func (t *Tensor) Leaf() *Tensor    { return t }
func (t *Tensor) Transposed() bool { return false }

func (t *Trans) NodeID() int      { return t.id }
func (t *Trans) Leaf() *Tensor    { return t.Operand }
func (t *Trans) Transposed() bool { return true }

func (s Scalar) NodeID() int    { return s.id }
func (e *GEMMExpr) NodeID() int { return e.id }

// idCounter assigns explicit node ids at construction time. The tree is
// really a DAG with shared subterms (the same scalar can appear as both
// alpha and beta), so identity must be the id, never the reference.
var idCounter int

func nextID() int {
	idCounter++
	return idCounter
}

// NewTensor constructs a Tensor leaf with a fresh node id.
func NewTensor(h TensorHandle, rows, cols, ld, stride1, offset int) *Tensor {
	return &Tensor{id: nextID(), Handle: h, Rows: rows, Cols: cols, Ld: ld, Stride1: stride1, Offset: offset}
}

// NewScalar constructs a Scalar leaf with a fresh node id.
func NewScalar(v float64, dt Dtype) Scalar {
	return Scalar{id: nextID(), Value: v, Dtype: dt}
}

// WrapTrans marks t as transposed.
func WrapTrans(t *Tensor) *Trans {
	return &Trans{id: nextID(), Operand: t}
}

// NewGEMMExpr builds the root node for C := alpha*op(A)*op(B) + beta*C.
func NewGEMMExpr(a, b Node, c *Tensor, alpha, beta Scalar) *GEMMExpr {
	return &GEMMExpr{id: nextID(), A: a, B: b, C: c, Alpha: alpha, Beta: beta}
}

// Visitor memoizes a computation per node id so shared subterms (e.g. the
// same Scalar reused as both Alpha and Beta) are only visited once.
type Visitor struct {
	seen map[int]bool
}

// NewVisitor returns an empty, ready-to-use Visitor.
func NewVisitor() *Visitor {
	return &Visitor{seen: make(map[int]bool)}
}

// VisitOnce reports whether node n (identified by its explicit id, not
// pointer identity) has already been visited, marking it visited as a side
// effect. Callers use this to guard binder work that must run once per
// distinct node even when the same node appears twice in an expression.
func (v *Visitor) VisitOnce(n Identified) bool {
	id := n.NodeID()
	if v.seen[id] {
		return false
	}
	v.seen[id] = true
	return true
}
