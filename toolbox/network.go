package toolbox

import (
	"fmt"
	"log"
	"math/rand"
	"slices"

	"github.com/chewxy/math32"
)

// Network is a fully-connected feedforward network with sigmoid
// activations on every layer.
//
// Sizes lists the layer widths, input first.  For each of the
// len(Sizes)-1 transitions l, Weights[l] has shape
// (Sizes[l+1], Sizes[l]) — row i, column j is the connection weight
// from input neuron j to output neuron i — and Biases[l] has shape
// (Sizes[l+1], 1).
type Network struct {
	Sizes   []int
	Weights []*AF32
	Biases  []*AF32
}

// MakeNetwork builds a network with the given layer sizes, input layer
// first.  Weights and biases are initialized with independent samples
// from a standard normal distribution drawn from r, so runs with the
// same seed construct identical networks.
func MakeNetwork(r *rand.Rand, sizes ...int) *Network {
	if len(sizes) < 2 {
		panic(fmt.Sprintf("network needs at least input and output layers, got sizes %v", sizes))
	}
	for _, s := range sizes {
		if s <= 0 {
			panic(fmt.Sprintf("invalid layer sizes: %v", sizes))
		}
	}

	net := &Network{
		Sizes:   slices.Clone(sizes),
		Weights: make([]*AF32, len(sizes)-1),
		Biases:  make([]*AF32, len(sizes)-1),
	}

	for l := 0; l < len(sizes)-1; l++ {
		w := MakeAF32(sizes[l+1], sizes[l])
		for i := range w.V {
			w.V[i] = float32(r.NormFloat64())
		}
		b := MakeAF32(sizes[l+1], 1)
		for i := range b.V {
			b.V[i] = float32(r.NormFloat64())
		}
		net.Weights[l] = w
		net.Biases[l] = b
	}

	return net
}

// Feedforward computes the network output for x.
//
// x is either a single input column vector of shape (Sizes[0], 1) or a
// mini-batch stack of shape (batch, Sizes[0], 1).  The result has shape
// (Sizes[last], 1) or (batch, Sizes[last], 1) respectively.  The
// network is not modified.
func (net *Network) Feedforward(x *AF32) *AF32 {
	single := len(x.Shape) == 2
	if single {
		x = AF32Reshape(x, 1, x.Shape[0], 1)
	}

	if len(x.Shape) != 3 || x.Shape[1] != net.Sizes[0] || x.Shape[2] != 1 {
		panic("dimension mismatch")
	}

	a := x
	for l := 0; l < len(net.Weights); l++ {
		z := MakeAF32(x.Shape[0], net.Sizes[l+1], 1)
		MatMulBatched(net.Weights[l], a, z)
		addBiasBatched(z, net.Biases[l])
		Sigmoid(z, z)
		a = z
	}

	if single {
		return AF32Reshape(a, a.Shape[1], 1)
	}
	return a
}

// addBiasBatched adds the (m, 1) bias column b to every batch slice of
// the (batch, m, 1) stack z, in place.
func addBiasBatched(z, b *AF32) {
	if len(z.Shape) != 3 || len(b.Shape) != 2 {
		panic("dimension mismatch")
	}
	if z.Shape[1] != b.Shape[0] || z.Shape[2] != 1 || b.Shape[1] != 1 {
		panic("dimension mismatch")
	}

	m := z.Shape[1]
	for k := 0; k < z.Shape[0]; k++ {
		zSlice := z.V[k*m : k*m+m]
		for i := 0; i < m; i++ {
			zSlice[i] += b.V[i]
		}
	}
}

// Backprop computes the gradient of the batch-summed squared-error loss
// with respect to every weight and bias.
//
// x is the stacked mini-batch input, shape (batch, Sizes[0], 1).  y is
// the stacked one-hot targets, shape (batch, Sizes[last], 1).  The
// returned nablaW[l] and nablaB[l] have exactly the shapes of
// Weights[l] and Biases[l]; each is the gradient summed over the whole
// batch (callers divide by the batch size when applying an update).
//
// The whole batch moves through each layer as one stacked matrix
// product; there is deliberately no per-sample loop.
func (net *Network) Backprop(x, y *AF32) (nablaW, nablaB []*AF32) {
	numT := len(net.Weights)

	if len(x.Shape) != 3 || x.Shape[1] != net.Sizes[0] || x.Shape[2] != 1 {
		panic("dimension mismatch")
	}
	if len(y.Shape) != 3 || y.Shape[1] != net.Sizes[numT] || y.Shape[2] != 1 {
		panic("dimension mismatch")
	}
	if x.Shape[0] != y.Shape[0] {
		panic("dimension mismatch")
	}

	batch := x.Shape[0]

	// Forward pass, retaining every pre-activation z and activation a.
	// as[0] is the input; as[l+1] = sigmoid(zs[l]).
	zs := make([]*AF32, numT)
	as := make([]*AF32, numT+1)
	as[0] = x
	for l := 0; l < numT; l++ {
		z := MakeAF32(batch, net.Sizes[l+1], 1)
		MatMulBatched(net.Weights[l], as[l], z)
		addBiasBatched(z, net.Biases[l])
		zs[l] = z

		a := AF32Like(z)
		Sigmoid(z, a)
		as[l+1] = a
	}

	nablaW = make([]*AF32, numT)
	nablaB = make([]*AF32, numT)

	// Output layer error: delta = (a - y) ⊙ sigmoid'(z).  The
	// squared-error loss gradient is just the activation minus the
	// target.
	delta := AF32Like(y)
	for i := range delta.V {
		delta.V[i] = as[numT].V[i] - y.V[i]
	}
	sp := AF32Like(zs[numT-1])
	SigmoidPrime(zs[numT-1], sp)
	Hadamard(delta, sp, delta)

	nablaW[numT-1], nablaB[numT-1] = net.gradientsAt(numT-1, delta, as[numT-1])

	// Walk backward through the remaining transitions:
	// delta = (W_{l+1}ᵀ · delta) ⊙ sigmoid'(z_l).
	for l := numT - 2; l >= 0; l-- {
		wT := AF32Like(net.Weights[l+1])
		TransposeBatched(net.Weights[l+1], wT)

		back := MakeAF32(batch, net.Sizes[l+1], 1)
		MatMulBatched(wT, delta, back)

		sp := AF32Like(zs[l])
		SigmoidPrime(zs[l], sp)
		Hadamard(back, sp, back)
		delta = back

		nablaW[l], nablaB[l] = net.gradientsAt(l, delta, as[l])
	}

	return nablaW, nablaB
}

// gradientsAt reduces the per-sample error terms of transition l into
// parameter-shaped gradients: the bias gradient is delta summed over
// the batch axis, and the weight gradient is the batch-sum of the
// stacked outer products delta · aPrevᵀ.
func (net *Network) gradientsAt(l int, delta, aPrev *AF32) (nablaW, nablaB *AF32) {
	batch := delta.Shape[0]

	nablaB = MakeAF32(net.Sizes[l+1], 1)
	SumBatch(delta, nablaB)

	aPrevT := AF32Like(aPrev)
	TransposeBatched(aPrev, aPrevT)

	outer := MakeAF32(batch, net.Sizes[l+1], net.Sizes[l])
	MatMulBatched(delta, aPrevT, outer)

	nablaW = MakeAF32(net.Sizes[l+1], net.Sizes[l])
	SumBatch(outer, nablaW)

	return nablaW, nablaB
}

// UpdateMiniBatch applies one SGD step: it computes the batch-summed
// gradient over the given mini-batch and updates every weight and bias
// in place by the batch-averaged, eta-scaled gradient.  No
// partially-updated state is observable outside the call.
func (net *Network) UpdateMiniBatch(batch []Sample, eta float32) {
	if len(batch) == 0 {
		panic("mini-batch must not be empty")
	}

	x, y := StackSamples(batch)
	nablaW, nablaB := net.Backprop(x, y)

	scale := eta / float32(len(batch))
	for l := 0; l < len(net.Weights); l++ {
		for i := range net.Weights[l].V {
			net.Weights[l].V[i] -= scale * nablaW[l].V[i]
		}
		for i := range net.Biases[l].V {
			net.Biases[l].V[i] -= scale * nablaB[l].V[i]
		}
	}
}

// SGD trains the network with mini-batch stochastic gradient descent.
//
// Each epoch draws a uniformly random permutation of the training set
// from r, partitions it into contiguous mini-batches of the requested
// size (the final batch may be smaller), and applies one update per
// batch in order.  The shuffle is the only per-epoch randomness, so a
// fixed seed reproduces a run exactly.
//
// If a test set is supplied, the per-epoch classification accuracy
// against it is logged; otherwise only epoch completion is logged.
func (net *Network) SGD(r *rand.Rand, training []Sample, epochs, miniBatchSize int, eta float32, test []TestSample) {
	if len(training) == 0 {
		panic("training set must not be empty")
	}
	if epochs <= 0 {
		panic(fmt.Sprintf("epoch count must be positive, got %d", epochs))
	}
	if miniBatchSize <= 0 {
		panic(fmt.Sprintf("mini-batch size must be positive, got %d", miniBatchSize))
	}
	if eta <= 0 {
		panic(fmt.Sprintf("learning rate must be positive, got %v", eta))
	}

	shuffled := make([]Sample, len(training))

	for epoch := 0; epoch < epochs; epoch++ {
		perm := r.Perm(len(training))
		for i, j := range perm {
			shuffled[i] = training[j]
		}

		for start := 0; start < len(shuffled); start += miniBatchSize {
			end := start + miniBatchSize
			if end > len(shuffled) {
				end = len(shuffled)
			}
			net.UpdateMiniBatch(shuffled[start:end], eta)
		}

		if len(test) > 0 {
			correct := net.Evaluate(test)
			log.Printf("epoch %d test-correct=%d test-total=%d test-pct=%.1f",
				epoch, correct, len(test), float32(correct)/float32(len(test))*100)
		} else {
			log.Printf("epoch %d complete", epoch)
		}
	}
}

// Evaluate counts how many test samples the network classifies
// correctly.  The predicted class is the index of the maximum output
// activation; ties break toward the lowest index.
func (net *Network) Evaluate(test []TestSample) int {
	if len(test) == 0 {
		return 0
	}

	pred := net.Feedforward(stackInputs(test))
	outputSize := net.Sizes[len(net.Sizes)-1]

	correct := 0
	for k := range test {
		digit := 0
		score := math32.Inf(-1)
		for i := 0; i < outputSize; i++ {
			if pred.At3(k, i, 0) > score {
				digit = i
				score = pred.At3(k, i, 0)
			}
		}
		if digit == test[k].Label {
			correct++
		}
	}

	return correct
}

// MeanSquaredErrorLoss computes the squared-error loss between the
// stacked targets y and the stacked activations a, both of shape
// (batch, outputSize, 1): Σ (a-y)²/2 divided by denom.  denom is the
// total number of samples the loss is taken over, which lets callers
// accumulate the loss across several batches.
func MeanSquaredErrorLoss(y, a *AF32, denom int) float32 {
	if len(y.Shape) != 3 {
		panic("len(y.Shape) != 3")
	}
	if !slices.Equal(y.Shape, a.Shape) {
		panic("y and a must have same shape")
	}

	loss := float32(0)
	for i := range y.V {
		diff := a.V[i] - y.V[i]
		loss += diff * diff / 2 / float32(denom)
	}

	return loss
}
