// Package toolbox implements a small fully-connected neural network
// trainer: shaped float32 arrays with batched linear-algebra kernels,
// sigmoid activations, batched backpropagation, and mini-batch
// stochastic gradient descent.
package toolbox

import (
	"fmt"
	"slices"
)

// Verify bounds check elimination with
//
//   go build -gcflags="-d=ssa/check_bce" ./toolbox/

// AF32 is a dense row-major float32 array of up to three axes.  By
// convention a three-axis array is a stack of matrices: axis 0 is the
// batch axis, axes 1 and 2 are the matrix axes.
type AF32 struct {
	V     []float32
	Shape []int
}

func MakeAF32(shape ...int) *AF32 {
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("invalid shape: %v", shape))
		}
	}
	size := 1
	for _, s := range shape {
		size *= s
	}

	return &AF32{
		V:     make([]float32, size),
		Shape: shape,
	}
}

// AF32Like allocates a zeroed array with the same shape as in.
func AF32Like(in *AF32) *AF32 {
	shapeCopy := make([]int, len(in.Shape))
	copy(shapeCopy, in.Shape)
	return &AF32{
		V:     make([]float32, len(in.V)),
		Shape: shapeCopy,
	}
}

// AF32Clone allocates a copy of in, values included.
func AF32Clone(in *AF32) *AF32 {
	out := AF32Like(in)
	copy(out.V, in.V)
	return out
}

// AF32Reshape reshapes the input array.  The overall number of elements
// must be the same.  The returned array shares storage with the input
// array (no data is copied).
func AF32Reshape(a *AF32, shape ...int) *AF32 {
	newSize := 1
	for _, s := range shape {
		if s <= 0 {
			panic(fmt.Sprintf("invalid shape: %v", shape))
		}
		newSize *= s
	}

	if newSize != len(a.V) {
		panic("invalid reshape")
	}

	return &AF32{
		V:     a.V,
		Shape: shape,
	}
}

func (a *AF32) At1(idx int) float32 {
	if len(a.Shape) != 1 {
		panic("At1() invalid for len(shape) != 1")
	}
	return a.V[idx]
}

func (a *AF32) At2(idx0, idx1 int) float32 {
	if len(a.Shape) != 2 {
		panic("At2() invalid for len(shape) != 2")
	}
	return a.V[idx0*a.Shape[1]+idx1]
}

func (a *AF32) At3(idx0, idx1, idx2 int) float32 {
	if len(a.Shape) != 3 {
		panic("At3() invalid for len(shape) != 3")
	}
	return a.V[idx0*a.Shape[1]*a.Shape[2]+idx1*a.Shape[2]+idx2]
}

func (a *AF32) Set1(idx int, v float32) {
	if len(a.Shape) != 1 {
		panic("Set1() invalid for len(shape) != 1")
	}
	a.V[idx] = v
}

func (a *AF32) Set2(idx0, idx1 int, v float32) {
	if len(a.Shape) != 2 {
		panic("Set2() invalid for len(shape) != 2")
	}
	a.V[idx0*a.Shape[1]+idx1] = v
}

func (a *AF32) Set3(idx0, idx1, idx2 int, v float32) {
	if len(a.Shape) != 3 {
		panic("Set3() invalid for len(shape) != 3")
	}
	a.V[idx0*a.Shape[1]*a.Shape[2]+idx1*a.Shape[2]+idx2] = v
}

func denseDot(x, y []float32) float32 {
	if len(x) != len(y) {
		panic("mismatched length")
	}
	var sum float32
	for i := 0; i < len(x); i++ {
		sum += x[i] * y[i]
	}
	return sum
}

// matrixStride returns the batch count and the element stride of one
// matrix slice of a, treating a 2-axis array as a broadcast stack
// (batch count 0 means "broadcast the single slice").
func matrixStride(a *AF32) (batch, stride int) {
	switch len(a.Shape) {
	case 2:
		return 0, a.Shape[0] * a.Shape[1]
	case 3:
		return a.Shape[0], a.Shape[1] * a.Shape[2]
	default:
		panic("operand must have 2 or 3 axes")
	}
}

func matrixDims(a *AF32) (rows, cols int) {
	if len(a.Shape) == 2 {
		return a.Shape[0], a.Shape[1]
	}
	return a.Shape[1], a.Shape[2]
}

// MatMulBatched computes out[k] = a[k] · b[k] for every slice k along
// the leading batch axis.  Either operand may instead be a single
// 2-axis matrix, in which case it is broadcast across the batch (this
// is how a shared weight matrix multiplies a whole mini-batch in one
// call).
//
// a is (batch, m, n) or (m, n).  b is (batch, n, p) or (n, p).
// out (output) must be (batch, m, p).
//
// The inner contraction runs over a transposed copy of each b slice so
// that both dot operands are contiguous.
func MatMulBatched(a, b, out *AF32) {
	aBatch, aStride := matrixStride(a)
	bBatch, bStride := matrixStride(b)

	m, n := matrixDims(a)
	bRows, p := matrixDims(b)

	if bRows != n {
		panic("dimension mismatch")
	}
	if aBatch == 0 && bBatch == 0 {
		panic("at least one operand must carry a batch axis")
	}
	if aBatch != 0 && bBatch != 0 && aBatch != bBatch {
		panic("dimension mismatch")
	}

	batch := aBatch
	if batch == 0 {
		batch = bBatch
	}

	if !slices.Equal(out.Shape, []int{batch, m, p}) {
		panic("dimension mismatch")
	}

	// bT holds the transpose of the current b slice, so the j-th
	// column of b is a contiguous row of bT.
	bT := make([]float32, bStride)

	for k := 0; k < batch; k++ {
		ak, bk := k, k
		if aBatch == 0 {
			ak = 0
		}
		if bBatch == 0 {
			bk = 0
		}
		aSlice := a.V[ak*aStride:][:aStride]
		bSlice := b.V[bk*bStride:][:bStride]

		if bBatch != 0 || k == 0 {
			for i := 0; i < n; i++ {
				for j := 0; j < p; j++ {
					bT[j*n+i] = bSlice[i*p+j]
				}
			}
		}

		outSlice := out.V[k*m*p:][:m*p]
		for i := 0; i < m; i++ {
			row := aSlice[i*n : i*n+n]
			for j := 0; j < p; j++ {
				outSlice[i*p+j] = denseDot(row, bT[j*n:j*n+n])
			}
		}
	}
}

// TransposeBatched transposes the trailing two axes of a (batch, m, n)
// stack, leaving the batch axis untouched.  A 2-axis input is treated
// as an ordinary matrix transpose.
//
// out (output) must hold the same number of elements as in; its shape
// is overwritten.
func TransposeBatched(in, out *AF32) {
	if len(in.V) != len(out.V) {
		panic("output storage is not correctly sized to store the transpose of the input")
	}

	switch len(in.Shape) {
	case 2:
		m, n := in.Shape[0], in.Shape[1]
		out.Shape = []int{n, m}
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				out.V[j*m+i] = in.V[i*n+j]
			}
		}
	case 3:
		batch, m, n := in.Shape[0], in.Shape[1], in.Shape[2]
		out.Shape = []int{batch, n, m}
		for k := 0; k < batch; k++ {
			inSlice := in.V[k*m*n:][:m*n]
			outSlice := out.V[k*m*n:][:m*n]
			for i := 0; i < m; i++ {
				for j := 0; j < n; j++ {
					outSlice[j*m+i] = inSlice[i*n+j]
				}
			}
		}
	default:
		panic("cannot transpose if len(shape) != 2 and != 3")
	}
}

// Hadamard computes the elementwise product out = a ⊙ b.  All three
// arrays must have identical shapes.  out may alias a or b.
func Hadamard(a, b, out *AF32) {
	if !slices.Equal(a.Shape, b.Shape) {
		panic("dimension mismatch")
	}
	if !slices.Equal(a.Shape, out.Shape) {
		panic("dimension mismatch")
	}

	for i := range a.V {
		out.V[i] = a.V[i] * b.V[i]
	}
}

// SumBatch reduces the leading batch axis of a (batch, m, n) stack:
// out(i, j) = Σ_k in(k, i, j).  out must be (m, n).
func SumBatch(in, out *AF32) {
	if len(in.Shape) != 3 {
		panic("SumBatch() invalid for len(shape) != 3")
	}
	batch := in.Shape[0]
	stride := in.Shape[1] * in.Shape[2]

	if !slices.Equal(out.Shape, []int{in.Shape[1], in.Shape[2]}) {
		panic("dimension mismatch")
	}

	for i := range out.V {
		out.V[i] = 0
	}
	for k := 0; k < batch; k++ {
		inSlice := in.V[k*stride:][:stride]
		for i := 0; i < stride; i++ {
			out.V[i] += inSlice[i]
		}
	}
}
