package gemm

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Generate is the pure function of a SpecializationKey to device source
// text. It emits the main gemm_<suffix> kernel always, and a reduce_<suffix>
// kernel too when Params.Depth > 1 — both into one translation unit, so a
// single compile produces both entry points. Emission runs in six phases:
// preamble, declarations, index computation, outer loop, tail, writeback,
// then the optional reduction kernel.
func Generate(key SpecializationKey) (string, error) {
	g, err := newGenerator(key)
	if err != nil {
		return "", err
	}

	g.mainKernel()
	if key.Params.Depth > 1 {
		g.reductionKernel()
	}
	return g.st.String(), nil
}

// KernelNames lists the entry points Generate produced, in the order the
// launch planner must resolve and enqueue them: the main kernel, then the
// reduction kernel when depth > 1.
func KernelNames(key SpecializationKey) []string {
	suffix := specializationSuffix(key)
	names := []string{"gemm_" + suffix}
	if key.Params.Depth > 1 {
		names = append(names, "reduce_"+suffix)
	}
	return names
}

// specializationSuffix names a kernel gemm_<at><bt>_<hash>: the transpose
// tag keeps the naming convention decodable without parsing source, and the
// hash disambiguates distinct parameter points sharing the same
// transpose/backend/dtype combination.
func specializationSuffix(key SpecializationKey) string {
	h := fnv.New32a()
	fmt.Fprintf(h, "%+v", key)
	return fmt.Sprintf("%c%c_%08x", key.ATrans.lower(), key.BTrans.lower(), h.Sum32())
}

// sourceStream is the indentation-aware text sink the emitter writes
// through.
type sourceStream struct {
	b   strings.Builder
	tab int
}

func (s *sourceStream) inc() { s.tab++ }
func (s *sourceStream) dec() { s.tab-- }

func (s *sourceStream) line(format string, args ...any) {
	for i := 0; i < s.tab; i++ {
		s.b.WriteString("  ")
	}
	if len(args) == 0 {
		s.b.WriteString(format)
	} else {
		fmt.Fprintf(&s.b, format, args...)
	}
	s.b.WriteByte('\n')
}

func (s *sourceStream) blank() { s.b.WriteByte('\n') }

func (s *sourceStream) String() string { return s.b.String() }

// generator carries everything constant across one Generate call.
type generator struct {
	key SpecializationKey
	p   Parameters
	d   Derived
	kw  keywords

	sdtype string // scalar type name
	vdtype string // simd_width-wide vector type name
	sizeT  string

	llda, lldb int // shared-memory leading dimensions for lA, lB
	npA, npB   int // global-pointer array extents

	suffix string
	st     *sourceStream
}

func newGenerator(key SpecializationKey) (*generator, error) {
	p := key.Params
	switch p.SimdWidth {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("gemm: cannot emit simd_width %d", p.SimdWidth)
	}
	if p.MS%p.SimdWidth != 0 || p.NS%p.SimdWidth != 0 {
		return nil, fmt.Errorf("gemm: mS/nS (%d, %d) not multiples of simd_width %d", p.MS, p.NS, p.SimdWidth)
	}
	if p.LocalFetch0 <= 0 || p.LocalFetch1 <= 0 || p.KL <= 0 || p.KS <= 0 {
		return nil, fmt.Errorf("gemm: non-positive tile geometry")
	}

	d := NewDerived(p)
	g := &generator{
		key:    key,
		p:      p,
		d:      d,
		kw:     keywordsFor(key.Backend),
		sdtype: key.Dtype.String(),
		sizeT:  keywordsFor(key.Backend).sizeType,
		suffix: specializationSuffix(key),
		st:     &sourceStream{},
	}
	g.vdtype = appendWidth(g.sdtype, p.SimdWidth)

	// Shared-memory layout: the leading dimension is the axis the
	// cooperative copy writes contiguously.
	g.llda = d.ML
	if key.ATrans == Transpose {
		g.llda = p.KL
	}
	g.lldb = p.KL
	if key.BTrans == Transpose {
		g.lldb = d.NL
	}

	g.npA = npA(p, d, key.ATrans)
	g.npB = npB(p, d, key.BTrans)
	if g.npA <= 0 || g.npB <= 0 {
		return nil, fmt.Errorf("gemm: degenerate pointer-array extents (npA=%d, npB=%d)", g.npA, g.npB)
	}
	return g, nil
}

// astride/bstride/cstride expand to the contiguous-axis stride multiplier
// in the fallback flavor and to nothing on the fast path, which assumes
// Astride1 = Bstride1 = Cstride1 = 1 and elides the multiplications.
func (g *generator) astride() string {
	if g.key.CheckBounds {
		return "*Astride1"
	}
	return ""
}

func (g *generator) bstride() string {
	if g.key.CheckBounds {
		return "*Bstride1"
	}
	return ""
}

func (g *generator) cstride() string {
	if g.key.CheckBounds {
		return "*Cstride1"
	}
	return ""
}

func (g *generator) vload(off, ptr string) string {
	return g.kw.vload(g.key.Backend, g.p.SimdWidth, g.sdtype, off, ptr)
}

func (g *generator) vstore(value, off, ptr string) string {
	return g.kw.vstore(g.key.Backend, g.p.SimdWidth, g.sdtype, value, off, ptr)
}

func (g *generator) mainKernel() {
	st, kw, p := g.st, g.kw, g.p

	switch g.key.Backend {
	case OpenCL:
		st.line("__attribute__((reqd_work_group_size(%d,%d,1)))", p.LocalSize0, p.LocalSize1)
	default:
		st.line(`#include "helper_math.h"`)
	}

	st.line("%s void gemm_%s(%s M, %s N, %s K, %s C, %s ldc, %s offc, %s Cstride1, %s alpha, %s A, %s lda, %s offa, %s Astride1, %s B, %s ldb, %s offb, %s Bstride1, %s beta)",
		kw.kernelPrefix, g.suffix,
		g.sizeT, g.sizeT, g.sizeT,
		qualify(kw.global, g.sdtype+"*"), g.sizeT, g.sizeT, g.sizeT,
		g.sdtype,
		qualify(kw.global, g.sdtype+"*"), g.sizeT, g.sizeT, g.sizeT,
		qualify(kw.global, g.sdtype+"*"), g.sizeT, g.sizeT, g.sizeT,
		g.sdtype)
	st.line("{")
	st.inc()

	g.declarations()
	g.indexComputation()

	st.line("//Outer loop")
	st.line("while(K >= %d)", p.KL)
	st.line("{")
	st.inc()
	g.fetchToLds(false)
	st.dec()
	st.line("}")

	g.tailPredicates()
	g.fetchToLds(true)
	g.writeback()

	st.dec()
	st.line("}")
}

func (g *generator) declarations() {
	st, kw, p := g.st, g.kw, g.p

	st.line("//blocks")
	st.line("%s rC[%d][%d] = {{0}};", g.sdtype, p.MS, p.NS)
	st.line("%s rA[%d][%d];", g.vdtype, p.KS, p.MS/p.SimdWidth)
	st.line("%s rB[%d][%d];", g.vdtype, p.KS, p.NS/p.SimdWidth)
	st.blank()

	st.line("//pointers")
	st.line("%s lA[%d];", qualify(kw.local, g.sdtype), p.KL*g.d.ML)
	st.line("%s lB[%d];", qualify(kw.local, g.sdtype), p.KL*g.d.NL)
	st.line("%s Ai[%d];", qualify(kw.global, g.sdtype+"*"), g.npA)
	st.line("%s Bi[%d];", qualify(kw.global, g.sdtype+"*"), g.npB)
	st.blank()

	st.line("//identifiers")
	st.line("int2 idT;")
	st.line("int idt;")
	if p.Depth > 1 {
		st.line("int gidz, div, offz;")
	}
	st.line("uint4 ids;")
	st.line("ids.x = %s;", kw.groupIdx0)
	st.line("ids.y = %s;", kw.groupIdx1)
	st.line("ids.z = %s;", kw.localIdx0)
	st.line("ids.w = %s;", kw.localIdx1)
	st.blank()
}

func (g *generator) indexComputation() {
	st, p := g.st, g.p
	aT := g.key.ATrans == Transpose
	bT := g.key.BTrans == Transpose
	hasDepth := p.Depth > 1

	st.line("//offsets")
	st.line("A += offa;")
	st.line("B += offb;")
	st.line("C += offc;")
	if hasDepth {
		st.line("gidz = %s;", g.kw.groupIdx2)
		st.line("div = (K+%d)/%d;", p.Depth-1, p.Depth)
		st.line("offz = div*gidz;")
		st.line("K = min(K - div*gidz, (%s)div);", g.sizeT)
	}
	st.line("idt = %d*ids.w + ids.z;", p.LocalSize0)
	st.line("idT.y = idt/%d;", p.LocalFetch0)
	st.line("idT.x = idt - %d*idT.y;", p.LocalFetch0)
	st.blank()

	st.line("//Adjust pointers and bounds per work-item")
	st.line("ids.x *= %d;", g.d.ML)
	st.line("ids.y *= %d;", g.d.NL)
	st.line("idT.x *= %d;", p.SimdWidth)

	st.line("M -= ids.x;")
	if aT {
		st.line("M -= idT.y;")
	} else {
		st.line("M -= idT.x;")
	}

	st.line("N -= ids.y;")
	if bT {
		st.line("N -= idT.x;")
	} else {
		st.line("N -= idT.y;")
	}

	if !aT {
		st.line("A += ids.x%s;", g.astride())
		st.line("A += idT.y*lda;")
		if hasDepth {
			st.line("A += offz*lda;")
		}
	} else {
		st.line("A += ids.x*lda;")
		st.line("A += idT.x%s;", g.astride())
		if hasDepth {
			st.line("A += offz;")
		}
	}

	if bT {
		st.line("B += ids.y%s;", g.bstride())
		st.line("B += idT.y*ldb;")
		if hasDepth {
			st.line("B += offz*ldb;")
		}
	} else {
		st.line("B += ids.y*ldb;")
		st.line("B += idT.x%s;", g.bstride())
		if hasDepth {
			st.line("B += offz;")
		}
	}

	st.line("#pragma unroll")
	st.line("for(int i = 0 ; i < %d ; ++i){", g.npA)
	st.inc()
	st.line("Ai[i] = A;")
	st.dec()
	st.line("}")
	st.blank()

	st.line("#pragma unroll")
	st.line("for(int i = 0 ; i < %d ; ++i){", g.npB)
	st.inc()
	st.line("Bi[i] = B;")
	st.dec()
	st.line("}")
	st.blank()

	// Each pointer in the array covers one stripe of the cooperative fetch;
	// stripes past the matrix edge collapse onto the base pointer so their
	// (predicated-off) accesses stay in bounds.
	for i := 0; i < g.npA; i++ {
		if !aT {
			off := i * p.LocalFetch0 * p.SimdWidth
			st.line("Ai[%d] += %s;", i, g.kw.sel(g.key.Backend,
				fmt.Sprintf("%d < M", off),
				fmt.Sprintf("(int)((idT.x + %d)%s)", off, g.astride()),
				"0"))
		} else {
			off := i * p.LocalFetch1
			st.line("Ai[%d] += %s;", i, g.kw.sel(g.key.Backend,
				fmt.Sprintf("%d < M", off),
				fmt.Sprintf("(int)((idT.y + %d)*lda)", off),
				"0"))
		}
	}
	for i := 0; i < g.npB; i++ {
		if bT {
			off := i * p.LocalFetch0 * p.SimdWidth
			st.line("Bi[%d] += %s;", i, g.kw.sel(g.key.Backend,
				fmt.Sprintf("%d < N", off),
				fmt.Sprintf("(int)((idT.x + %d)%s)", off, g.bstride()),
				"0"))
		} else {
			off := i * p.LocalFetch1
			st.line("Bi[%d] += %s;", i, g.kw.sel(g.key.Backend,
				fmt.Sprintf("%d < N", off),
				fmt.Sprintf("(int)((idT.y + %d)*ldb)", off),
				"0"))
		}
	}
	st.blank()
}

// fetchToLds is the body of one outer iteration: barrier, cooperative copy
// into lA/lB, per-work-item rebase, barrier, the fully unrolled inner
// product, then the K decrement and global-pointer advance. The tail
// (lastIteration) re-runs it with per-lane zero-padding predicates instead
// of packed vector loads.
func (g *generator) fetchToLds(lastIteration bool) {
	st, kw, p := g.st, g.kw, g.p
	aT := g.key.ATrans == Transpose
	bT := g.key.BTrans == Transpose

	st.line("%s;", kw.barrier)
	st.line("%s ldsA = lA + idT.y*%d + idT.x;", qualify(kw.localPtr, g.sdtype+"*"), g.llda)
	st.line("%s ldsB = lB + idT.y*%d + idT.x;", qualify(kw.localPtr, g.sdtype+"*"), g.lldb)

	st.line("//Fetch A to local memory")
	if !aT {
		for k := 0; k < p.KL; k += p.LocalFetch1 {
			for m := 0; m < g.d.ML; m += p.LocalFetch0 * p.SimdWidth {
				mm := m / (p.SimdWidth * p.LocalFetch0)
				if lastIteration {
					for s := 0; s < p.SimdWidth; s++ {
						st.line("ldsA[%d] = (condy%d && %d < M)? Ai[%d][%d*lda + %d] : 0;",
							k*g.llda+m+s, k, s, mm, k, s)
					}
				} else {
					st.line("%s;", g.vstore(
						g.vload("0", fmt.Sprintf("&Ai[%d][%d*lda]", mm, k)),
						"0", fmt.Sprintf("ldsA + %d", k*g.llda+m)))
				}
			}
		}
	} else {
		for k := 0; k < p.KL; k += p.LocalFetch0 * p.SimdWidth {
			for m := 0; m < g.d.ML; m += p.LocalFetch1 {
				mm := m / p.LocalFetch1
				if lastIteration {
					for s := 0; s < p.SimdWidth; s++ {
						st.line("ldsA[%d] = condx%d? Ai[%d][%d%s] : 0;",
							m*g.llda+k+s, k+s, mm, k+s, g.astride())
					}
				} else {
					st.line("%s;", g.vstore(
						g.vload("0", fmt.Sprintf("&Ai[%d][%d%s]", mm, k, g.astride())),
						"0", fmt.Sprintf("ldsA + %d", m*g.llda+k)))
				}
			}
		}
	}

	st.line("//Fetch B to local memory")
	if bT {
		for k := 0; k < p.KL; k += p.LocalFetch1 {
			for n := 0; n < g.d.NL; n += p.LocalFetch0 * p.SimdWidth {
				nn := n / (p.SimdWidth * p.LocalFetch0)
				if lastIteration {
					for s := 0; s < p.SimdWidth; s++ {
						st.line("ldsB[%d] = (condy%d && %d < N)? Bi[%d][%d*ldb + %d] : 0;",
							k*g.lldb+n+s, k, s, nn, k, s)
					}
				} else {
					st.line("%s;", g.vstore(
						g.vload("0", fmt.Sprintf("&Bi[%d][%d*ldb]", nn, k)),
						"0", fmt.Sprintf("ldsB + %d", k*g.lldb+n)))
				}
			}
		}
	} else {
		for k := 0; k < p.KL; k += p.LocalFetch0 * p.SimdWidth {
			for n := 0; n < g.d.NL; n += p.LocalFetch1 {
				nn := n / p.LocalFetch1
				if lastIteration {
					for s := 0; s < p.SimdWidth; s++ {
						st.line("ldsB[%d] = condx%d? Bi[%d][%d%s] : 0;",
							n*g.lldb+k+s, k+s, nn, k+s, g.bstride())
					}
				} else {
					st.line("%s;", g.vstore(
						g.vload("0", fmt.Sprintf("&Bi[%d][%d%s]", nn, k, g.bstride())),
						"0", fmt.Sprintf("ldsB + %d", n*g.lldb+k)))
				}
			}
		}
	}

	// Rebase to the per-work-item read positions before the compute barrier.
	if !aT {
		st.line("ldsA = lA + ids.z*%d;", p.SimdWidth)
	} else {
		st.line("ldsA = lA + ids.z*%d;", g.llda*p.SimdWidth)
	}
	if bT {
		st.line("ldsB = lB + ids.w*%d;", p.SimdWidth)
	} else {
		st.line("ldsB = lB + ids.w*%d;", g.lldb*p.SimdWidth)
	}
	st.line("%s;", kw.barrier)

	g.innerLoop()

	st.line("K -= %d;", p.KL)

	// Advance the pointer arrays by kL along the contracting axis.
	for i := 0; i < g.npA; i++ {
		if !aT {
			st.line("Ai[%d] += %d*lda;", i, p.KL)
		} else {
			st.line("Ai[%d] += %d%s;", i, p.KL, g.astride())
		}
	}
	for i := 0; i < g.npB; i++ {
		if bT {
			st.line("Bi[%d] += %d*ldb;", i, p.KL)
		} else {
			st.line("Bi[%d] += %d%s;", i, p.KL, g.bstride())
		}
	}
}

func (g *generator) innerLoop() {
	st, p := g.st, g.p
	aT := g.key.ATrans == Transpose
	bT := g.key.BTrans == Transpose

	st.line("//Inner loop")
	st.line("for(unsigned int k = 0; k < %d; k+=%d){", p.KL, p.KS)
	st.inc()

	st.line("//Fetch A to registers")
	st.line("#pragma unroll")
	st.line("for(unsigned int kk = 0; kk < %d; kk++)", p.KS)
	st.line("#pragma unroll %d", p.MS/p.SimdWidth)
	st.line("for(unsigned int mm = 0; mm < %d; mm++)", p.MS/p.SimdWidth)
	st.line("{")
	st.inc()
	if !aT {
		st.line("rA[kk][mm] = %s;", g.vload("0",
			fmt.Sprintf("ldsA + k*%d + mm*%d + kk*%d", g.llda, p.LocalSize0*p.SimdWidth, g.llda)))
	} else {
		if p.SimdWidth == 1 {
			st.line("rA[kk][mm] = ldsA[k + mm*%d + kk];", p.LocalSize0*g.llda)
		} else {
			for s := 0; s < p.SimdWidth; s++ {
				st.line("%s = ldsA[k + (mm*%d + %d)*%d + kk];",
					accessVector("rA[kk][mm]", s, p.SimdWidth), p.SimdWidth*p.LocalSize0, s, g.llda)
			}
		}
	}
	st.dec()
	st.line("}")

	st.line("//Fetch B to registers")
	st.line("#pragma unroll %d", p.KS)
	st.line("for(unsigned int kk = 0; kk < %d; kk++)", p.KS)
	st.line("#pragma unroll %d", p.NS/p.SimdWidth)
	st.line("for(unsigned int nn = 0; nn < %d; nn++)", p.NS/p.SimdWidth)
	st.line("{")
	st.inc()
	if bT {
		st.line("rB[kk][nn] = %s;", g.vload("0",
			fmt.Sprintf("ldsB + k*%d + nn*%d + kk*%d", g.lldb, p.LocalSize1*p.SimdWidth, g.lldb)))
	} else {
		if p.SimdWidth == 1 {
			st.line("rB[kk][nn] = ldsB[k + nn*%d + kk];", p.LocalSize1*g.lldb)
		} else {
			for s := 0; s < p.SimdWidth; s++ {
				st.line("%s = ldsB[k + (nn*%d + %d)*%d + kk];",
					accessVector("rB[kk][nn]", s, p.SimdWidth), p.SimdWidth*p.LocalSize1, s, g.lldb)
			}
		}
	}
	st.dec()
	st.line("}")

	st.line("//FMA computations")
	for kk := 0; kk < p.KS; kk++ {
		for nn := 0; nn < p.NS; nn++ {
			for mm := 0; mm < p.MS; mm++ {
				res := fmt.Sprintf("rC[%d][%d]", mm, nn)
				var lhs, rhs string
				if p.SimdWidth == 1 {
					lhs = fmt.Sprintf("rA[%d][%d]", kk, mm)
					rhs = fmt.Sprintf("rB[%d][%d]", kk, nn)
				} else {
					lhs = accessVector(fmt.Sprintf("rA[%d][%d]", kk, mm/p.SimdWidth), mm%p.SimdWidth, p.SimdWidth)
					rhs = accessVector(fmt.Sprintf("rB[%d][%d]", kk, nn/p.SimdWidth), nn%p.SimdWidth, p.SimdWidth)
				}
				st.line("%s = fma(%s, %s, %s);", res, lhs, rhs, res)
			}
		}
	}

	st.dec()
	st.line("}")
}

// tailPredicates declares the per-lane boundary predicates the predicated
// final iteration reads: condy* along the cooperative copy's K rows, condx*
// along its columns, depending on which transposes place K on which axis.
func (g *generator) tailPredicates() {
	st, p := g.st, g.p
	aT := g.key.ATrans == Transpose
	bT := g.key.BTrans == Transpose

	if !aT || bT {
		st.line("int Ky = K - idT.y;")
		for k := 0; k < p.KL; k += p.LocalFetch1 {
			st.line("int condy%d = %d < Ky;", k, k)
		}
	}
	if aT || !bT {
		st.line("int Kx = K - idT.x;")
		for k := 0; k < p.KL; k += p.LocalFetch0 * p.SimdWidth {
			for s := 0; s < p.SimdWidth; s++ {
				st.line("int condx%d = %d < Kx;", k+s, k+s)
			}
		}
	}
}

func (g *generator) writeback() {
	st, p := g.st, g.p
	aT := g.key.ATrans == Transpose
	bT := g.key.BTrans == Transpose
	hasDepth := p.Depth > 1

	st.line("//Write back C")
	st.line("M += ids.x;")
	if aT {
		st.line("M += idT.y;")
	} else {
		st.line("M += idT.x;")
	}

	if bT {
		st.line("N += idT.x;")
	} else {
		st.line("N += idT.y;")
	}
	st.line("N += ids.y;")

	st.line("C += ids.x%s;", g.cstride())
	st.line("C += ids.z*%d%s;", p.SimdWidth, g.cstride())
	st.line("C += ids.y*ldc;")
	st.line("C += ids.w*%d*ldc;", p.SimdWidth)
	if hasDepth {
		st.line("C += gidz*ldc*N;")
	}

	st.line("M -= ids.x;")
	st.line("M -= ids.z*%d;", p.SimdWidth)
	st.line("N -= ids.y;")
	st.line("N -= ids.w*%d;", p.SimdWidth)

	for n := 0; n < p.NS; n++ {
		Cj := (n/p.SimdWidth)*(p.LocalSize1*p.SimdWidth) + n%p.SimdWidth
		st.line("if(%d >= N) return;", Cj)
		for m := 0; m < p.MS; m++ {
			st.line("rC[%d][%d] *= alpha;", m, n)
		}
		for m := 0; m < p.MS; m++ {
			Ci := (m/p.SimdWidth)*(p.LocalSize0*p.SimdWidth) + m%p.SimdWidth
			if hasDepth {
				// Split-K partials carry no beta; the reduction kernel
				// applies it exactly once against the real C.
				st.line("if(%d < M) C[%d%s] = rC[%d][%d];", Ci, Ci, g.cstride(), m, n)
			} else {
				st.line("if(%d < M) C[%d%s] = rC[%d][%d] + beta*C[%d%s];", Ci, Ci, g.cstride(), m, n, Ci, g.cstride())
			}
		}
		if (n+1)%p.SimdWidth == 0 {
			st.line("C += ldc*%d;", p.LocalSize1*p.SimdWidth-p.SimdWidth+1)
		} else {
			st.line("C += ldc;")
		}
	}
}

// reductionKernel is the split-K combine pass: a grid-strided 2-D sweep
// over the output that sums the depth partial tiles
// from the scratch tensor Z and writes acc + beta*C back through the user's
// own strides, not the scratch's.
func (g *generator) reductionKernel() {
	st, kw := g.st, g.kw

	st.blank()
	st.line("%s void reduce_%s(%s M, %s N, %s D, %s Z, %s Zld, %s C, %s ldc, %s offc, %s Cstride1, %s beta)",
		kw.kernelPrefix, g.suffix,
		g.sizeT, g.sizeT, g.sizeT,
		qualify(kw.global, g.sdtype+"*"), g.sizeT,
		qualify(kw.global, g.sdtype+"*"), g.sizeT, g.sizeT, g.sizeT,
		g.sdtype)
	st.line("{")
	st.inc()

	st.line("C += offc;")
	st.line("for(unsigned int i = %s ;  i < M ;  i += %s)", kw.globalIdx0, kw.globalSize0)
	st.line("{")
	st.inc()
	st.line("for(unsigned int j = %s ;  j < N ;  j += %s)", kw.globalIdx1, kw.globalSize1)
	st.line("{")
	st.inc()
	st.line("%s acc = 0;", g.sdtype)
	st.line("for(unsigned int k = 0 ;  k < D ;  k++)")
	st.inc()
	st.line("acc += Z[i + j*Zld + k*Zld*N];")
	st.dec()
	st.line("C[i*Cstride1 + j*ldc] = acc + beta*C[i*Cstride1 + j*ldc];")
	st.dec()
	st.line("}")
	st.dec()
	st.line("}")

	st.dec()
	st.line("}")
}
