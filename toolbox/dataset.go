package toolbox

import (
	"fmt"
	"slices"
)

// Sample is one training example: an input column vector of shape
// (inputSize, 1) and a one-hot target column vector of shape
// (outputSize, 1).
type Sample struct {
	X *AF32
	Y *AF32
}

// TestSample is one evaluation example: an input column vector of shape
// (inputSize, 1) and the true class index.
type TestSample struct {
	X     *AF32
	Label int
}

// OneHot builds an (n, 1) column vector that is zero everywhere except
// a 1 at index label.
func OneHot(n, label int) *AF32 {
	if label < 0 || label >= n {
		panic(fmt.Sprintf("label %d out of range [0, %d)", label, n))
	}
	y := MakeAF32(n, 1)
	y.Set2(label, 0, 1)
	return y
}

// StackSamples stacks a mini-batch of samples along a new leading batch
// axis: x is (batch, inputSize, 1) and y is (batch, outputSize, 1).
// Every sample must have the same input and target shapes.
func StackSamples(batch []Sample) (x, y *AF32) {
	if len(batch) == 0 {
		panic("cannot stack an empty mini-batch")
	}

	xShape := batch[0].X.Shape
	yShape := batch[0].Y.Shape
	if len(xShape) != 2 || xShape[1] != 1 {
		panic("sample input must be a column vector")
	}
	if len(yShape) != 2 || yShape[1] != 1 {
		panic("sample target must be a column vector")
	}

	x = MakeAF32(len(batch), xShape[0], 1)
	y = MakeAF32(len(batch), yShape[0], 1)

	for k, s := range batch {
		if !slices.Equal(s.X.Shape, xShape) || !slices.Equal(s.Y.Shape, yShape) {
			panic("dimension mismatch")
		}
		copy(x.V[k*xShape[0]:(k+1)*xShape[0]], s.X.V)
		copy(y.V[k*yShape[0]:(k+1)*yShape[0]], s.Y.V)
	}

	return x, y
}

// stackInputs stacks only the inputs of a test set into a
// (batch, inputSize, 1) array.
func stackInputs(test []TestSample) *AF32 {
	if len(test) == 0 {
		panic("cannot stack an empty test set")
	}

	xShape := test[0].X.Shape
	if len(xShape) != 2 || xShape[1] != 1 {
		panic("sample input must be a column vector")
	}

	x := MakeAF32(len(test), xShape[0], 1)
	for k, s := range test {
		if !slices.Equal(s.X.Shape, xShape) {
			panic("dimension mismatch")
		}
		copy(x.V[k*xShape[0]:(k+1)*xShape[0]], s.X.V)
	}
	return x
}
