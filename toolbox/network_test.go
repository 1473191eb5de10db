package toolbox

import (
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
)

func TestFeedforwardOutputShape(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 5, 4, 3)

	single := randomAF32(r, 5, 1)
	out := net.Feedforward(single)
	if diff := cmp.Diff(out.Shape, []int{3, 1}); diff != "" {
		t.Errorf("wrong single output shape; diff (-got +want)\n%s", diff)
	}

	batched := randomAF32(r, 7, 5, 1)
	out = net.Feedforward(batched)
	if diff := cmp.Diff(out.Shape, []int{7, 3, 1}); diff != "" {
		t.Errorf("wrong batched output shape; diff (-got +want)\n%s", diff)
	}
}

func TestFeedforwardInputSizeMismatch(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 5, 3)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on wrong input size")
		}
	}()
	net.Feedforward(MakeAF32(4, 1))
}

// refBackpropSingle is a deliberately unbatched, loop-based
// backpropagation over a single sample, used to cross-check the stacked
// implementation.
func refBackpropSingle(net *Network, x, y *AF32) (nablaW, nablaB []*AF32) {
	numT := len(net.Weights)

	// Forward pass with plain loops.
	zs := make([]*AF32, numT)
	as := make([]*AF32, numT+1)
	as[0] = x
	for l := 0; l < numT; l++ {
		z := MakeAF32(net.Sizes[l+1], 1)
		for i := 0; i < net.Sizes[l+1]; i++ {
			sum := net.Biases[l].At2(i, 0)
			for j := 0; j < net.Sizes[l]; j++ {
				sum += net.Weights[l].At2(i, j) * as[l].At2(j, 0)
			}
			z.Set2(i, 0, sum)
		}
		zs[l] = z

		a := AF32Like(z)
		Sigmoid(z, a)
		as[l+1] = a
	}

	nablaW = make([]*AF32, numT)
	nablaB = make([]*AF32, numT)

	delta := MakeAF32(net.Sizes[numT], 1)
	for i := 0; i < net.Sizes[numT]; i++ {
		sp := zs[numT-1].At2(i, 0)
		sp = 1 / (1 + math32.Exp(-sp))
		sp = sp * (1 - sp)
		delta.Set2(i, 0, (as[numT].At2(i, 0)-y.At2(i, 0))*sp)
	}

	for l := numT - 1; l >= 0; l-- {
		if l < numT-1 {
			next := MakeAF32(net.Sizes[l+1], 1)
			for i := 0; i < net.Sizes[l+1]; i++ {
				var sum float32
				for q := 0; q < net.Sizes[l+2]; q++ {
					sum += net.Weights[l+1].At2(q, i) * delta.At2(q, 0)
				}
				sp := zs[l].At2(i, 0)
				sp = 1 / (1 + math32.Exp(-sp))
				sp = sp * (1 - sp)
				next.Set2(i, 0, sum*sp)
			}
			delta = next
		}

		nablaB[l] = AF32Clone(delta)
		nablaW[l] = MakeAF32(net.Sizes[l+1], net.Sizes[l])
		for i := 0; i < net.Sizes[l+1]; i++ {
			for j := 0; j < net.Sizes[l]; j++ {
				nablaW[l].Set2(i, j, delta.At2(i, 0)*as[l].At2(j, 0))
			}
		}
	}

	return nablaW, nablaB
}

func maxAbsDiff(a, b *AF32) float32 {
	var worst float32
	for i := range a.V {
		d := math32.Abs(a.V[i] - b.V[i])
		if d > worst {
			worst = d
		}
	}
	return worst
}

func TestBackpropAgreesWithUnbatchedReference(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 4, 5, 3)

	batch := []Sample{
		{X: randomAF32(r, 4, 1), Y: OneHot(3, 0)},
		{X: randomAF32(r, 4, 1), Y: OneHot(3, 2)},
		{X: randomAF32(r, 4, 1), Y: OneHot(3, 1)},
	}

	x, y := StackSamples(batch)
	nablaW, nablaB := net.Backprop(x, y)

	// The batched gradient must equal the sum of per-sample gradients
	// from the loop-based reference.
	wantW := make([]*AF32, len(net.Weights))
	wantB := make([]*AF32, len(net.Biases))
	for l := range net.Weights {
		wantW[l] = AF32Like(net.Weights[l])
		wantB[l] = AF32Like(net.Biases[l])
	}
	for _, s := range batch {
		sw, sb := refBackpropSingle(net, s.X, s.Y)
		for l := range sw {
			for i := range sw[l].V {
				wantW[l].V[i] += sw[l].V[i]
			}
			for i := range sb[l].V {
				wantB[l].V[i] += sb[l].V[i]
			}
		}
	}

	const tol = 1e-5
	for l := range nablaW {
		if d := maxAbsDiff(nablaW[l], wantW[l]); d > tol {
			t.Errorf("weight gradient %d disagrees with reference; max abs diff %v", l, d)
		}
		if d := maxAbsDiff(nablaB[l], wantB[l]); d > tol {
			t.Errorf("bias gradient %d disagrees with reference; max abs diff %v", l, d)
		}
	}
}

func TestBackpropSingleSampleBatch(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 3, 4, 2)

	s := Sample{X: randomAF32(r, 3, 1), Y: OneHot(2, 1)}
	x, y := StackSamples([]Sample{s})

	nablaW, nablaB := net.Backprop(x, y)
	wantW, wantB := refBackpropSingle(net, s.X, s.Y)

	const tol = 1e-6
	for l := range nablaW {
		if d := maxAbsDiff(nablaW[l], wantW[l]); d > tol {
			t.Errorf("weight gradient %d disagrees with reference; max abs diff %v", l, d)
		}
		if d := maxAbsDiff(nablaB[l], wantB[l]); d > tol {
			t.Errorf("bias gradient %d disagrees with reference; max abs diff %v", l, d)
		}
	}
}

func TestBackpropGradientShapes(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 6, 5, 4, 3)

	batch := []Sample{
		{X: randomAF32(r, 6, 1), Y: OneHot(3, 0)},
		{X: randomAF32(r, 6, 1), Y: OneHot(3, 1)},
	}
	x, y := StackSamples(batch)
	nablaW, nablaB := net.Backprop(x, y)

	for l := range net.Weights {
		if diff := cmp.Diff(nablaW[l].Shape, net.Weights[l].Shape); diff != "" {
			t.Errorf("weight gradient %d shape; diff (-got +want)\n%s", l, diff)
		}
		if diff := cmp.Diff(nablaB[l].Shape, net.Biases[l].Shape); diff != "" {
			t.Errorf("bias gradient %d shape; diff (-got +want)\n%s", l, diff)
		}
	}
}

// batchLoss is the same quantity Backprop differentiates: the
// squared-error loss summed over the batch.
func batchLoss(net *Network, x, y *AF32) float32 {
	return MeanSquaredErrorLoss(y, net.Feedforward(x), 1)
}

func TestGradientCheckFiniteDifferences(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 3, 4, 2)

	batch := []Sample{
		{X: randomAF32(r, 3, 1), Y: OneHot(2, 0)},
		{X: randomAF32(r, 3, 1), Y: OneHot(2, 1)},
	}
	x, y := StackSamples(batch)

	nablaW, nablaB := net.Backprop(x, y)

	// Central differences in float32: eps small enough for the
	// truncation error, large enough for the rounding error.
	const eps = 1e-2
	const tol = 1e-3

	for trial := 0; trial < 20; trial++ {
		l := r.Intn(len(net.Weights))
		i := r.Intn(net.Sizes[l+1])
		j := r.Intn(net.Sizes[l])

		orig := net.Weights[l].At2(i, j)

		net.Weights[l].Set2(i, j, orig+eps)
		lossPlus := batchLoss(net, x, y)
		net.Weights[l].Set2(i, j, orig-eps)
		lossMinus := batchLoss(net, x, y)
		net.Weights[l].Set2(i, j, orig)

		fd := (lossPlus - lossMinus) / (2 * eps)
		if d := math32.Abs(fd - nablaW[l].At2(i, j)); d > tol {
			t.Errorf("dLoss/dW[%d][%d,%d]: finite difference %v, backprop %v", l, i, j, fd, nablaW[l].At2(i, j))
		}
	}

	for trial := 0; trial < 10; trial++ {
		l := r.Intn(len(net.Biases))
		i := r.Intn(net.Sizes[l+1])

		orig := net.Biases[l].At2(i, 0)

		net.Biases[l].Set2(i, 0, orig+eps)
		lossPlus := batchLoss(net, x, y)
		net.Biases[l].Set2(i, 0, orig-eps)
		lossMinus := batchLoss(net, x, y)
		net.Biases[l].Set2(i, 0, orig)

		fd := (lossPlus - lossMinus) / (2 * eps)
		if d := math32.Abs(fd - nablaB[l].At2(i, 0)); d > tol {
			t.Errorf("dLoss/dB[%d][%d]: finite difference %v, backprop %v", l, i, fd, nablaB[l].At2(i, 0))
		}
	}
}

// forcedNet classifies a 2-dimensional one-hot input as its own index:
// large opposing weights make the output argmax follow the input.
func forcedNet() *Network {
	w := &AF32{V: []float32{10, -10, -10, 10}, Shape: []int{2, 2}}
	b := MakeAF32(2, 1)
	return &Network{
		Sizes:   []int{2, 2},
		Weights: []*AF32{w},
		Biases:  []*AF32{b},
	}
}

func TestEvaluateAllCorrectAllWrong(t *testing.T) {
	net := forcedNet()

	x0 := OneHot(2, 0)
	x1 := OneHot(2, 1)

	allCorrect := []TestSample{
		{X: x0, Label: 0},
		{X: x1, Label: 1},
		{X: x0, Label: 0},
	}
	if got := net.Evaluate(allCorrect); got != len(allCorrect) {
		t.Errorf("Evaluate(all correct) = %d, want %d", got, len(allCorrect))
	}

	allWrong := []TestSample{
		{X: x0, Label: 1},
		{X: x1, Label: 0},
	}
	if got := net.Evaluate(allWrong); got != 0 {
		t.Errorf("Evaluate(all wrong) = %d, want 0", got)
	}
}

func TestEvaluateArgmaxTieBreaksLow(t *testing.T) {
	// Zero weights and biases make every output exactly 0.5, so the
	// argmax must fall back to the lowest index.
	net := &Network{
		Sizes:   []int{2, 3},
		Weights: []*AF32{MakeAF32(3, 2)},
		Biases:  []*AF32{MakeAF32(3, 1)},
	}

	test := []TestSample{{X: OneHot(2, 0), Label: 0}}
	if got := net.Evaluate(test); got != 1 {
		t.Errorf("tied outputs must classify as index 0; Evaluate = %d, want 1", got)
	}
}

func TestSGDEpochDecreasesToyLoss(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 2, 2)

	training := []Sample{
		{X: OneHot(2, 0), Y: OneHot(2, 0)},
		{X: OneHot(2, 1), Y: OneHot(2, 1)},
	}

	x, y := StackSamples(training)
	before := MeanSquaredErrorLoss(y, net.Feedforward(x), len(training))

	net.SGD(r, training, 1, 1, 3.0, nil)

	after := MeanSquaredErrorLoss(y, net.Feedforward(x), len(training))
	if !(after < before) {
		t.Errorf("one epoch must strictly decrease the loss; before=%v after=%v", before, after)
	}
}

func makeSyntheticDigits(r *rand.Rand, n int) []Sample {
	samples := make([]Sample, n)
	for k := range samples {
		x := MakeAF32(784, 1)
		for i := range x.V {
			x.V[i] = r.Float32()
		}
		samples[k] = Sample{X: x, Y: OneHot(10, r.Intn(10))}
	}
	return samples
}

func TestSGDReproducibleWithFixedSeed(t *testing.T) {
	run := func() *Network {
		initR := rand.New(rand.NewSource(12345))
		net := MakeNetwork(initR, 784, 30, 10)

		dataR := rand.New(rand.NewSource(999))
		training := makeSyntheticDigits(dataR, 100)

		shuffleR := rand.New(rand.NewSource(54321))
		net.SGD(shuffleR, training, 1, 10, 3.0, nil)
		return net
	}

	net1 := run()
	net2 := run()

	if diff := cmp.Diff(net1.Weights, net2.Weights); diff != "" {
		t.Errorf("weights not bit-reproducible; diff (-run1 +run2)\n%s", diff)
	}
	if diff := cmp.Diff(net1.Biases, net2.Biases); diff != "" {
		t.Errorf("biases not bit-reproducible; diff (-run1 +run2)\n%s", diff)
	}
}

func TestSGDDegeneratesToSingleBatch(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 2, 2)

	training := []Sample{
		{X: OneHot(2, 0), Y: OneHot(2, 0)},
		{X: OneHot(2, 1), Y: OneHot(2, 1)},
	}

	// A mini-batch size larger than the training set must behave as one
	// batch per epoch rather than failing.
	net.SGD(r, training, 1, 100, 3.0, nil)
}

func TestSGDRejectsZeroMiniBatchSize(t *testing.T) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 2, 2)

	training := []Sample{{X: OneHot(2, 0), Y: OneHot(2, 0)}}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on zero mini-batch size")
		}
	}()
	net.SGD(r, training, 1, 0, 3.0, nil)
}

func BenchmarkBackprop(b *testing.B) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 784, 30, 10)

	batch := makeSyntheticDigits(r, 10)
	x, y := StackSamples(batch)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		net.Backprop(x, y)
	}
}

func BenchmarkFeedforward(b *testing.B) {
	r := rand.New(rand.NewSource(12345))
	net := MakeNetwork(r, 784, 30, 10)

	batch := makeSyntheticDigits(r, 100)
	x, _ := StackSamples(batch)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		net.Feedforward(x)
	}
}
