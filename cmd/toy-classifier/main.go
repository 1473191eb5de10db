// Command toy-classifier trains a small sigmoid network on a synthetic
// linearly-separable two-class dataset and cross-checks it against a
// hand-coded logistic model fit by plain gradient descent.
package main

import (
	"log"
	"math/rand"

	"github.com/ahmedtd/digits/toolbox"
	"github.com/chewxy/math32"
)

func main() {
	datasetSize := 1000
	epochs := 30
	miniBatchSize := 10
	eta := float32(3.0)

	r := rand.New(rand.NewSource(12345))
	training, test := generateDataset(r, datasetSize)

	num0s := 0
	for _, s := range test {
		if s.Label == 0 {
			num0s++
		}
	}
	log.Printf("dataset has %d 0s and %d 1s", num0s, len(test)-num0s)

	net := toolbox.MakeNetwork(r, 2, 8, 2)
	net.SGD(r, training, epochs, miniBatchSize, eta, test)

	correct := net.Evaluate(test)
	log.Printf("network mispredicted %d of %d (%.1f%%)",
		len(test)-correct, len(test), float32(len(test)-correct)/float32(len(test))*100)

	m := &Model{}
	m.Learn(test, 0.5, 10000)
	log.Printf("hand model learned W1=%v W2=%v B=%v", m.W1, m.W2, m.B)
	log.Printf("hand model decision boundary x2=%v*x1+%v", -m.W1/m.W2, -m.B/m.W2)

	handWrong := 0
	for _, s := range test {
		if m.predict(s.X) != s.Label {
			handWrong++
		}
	}
	log.Printf("hand model mispredicted %d of %d (%.1f%%)",
		handWrong, len(test), float32(handWrong)/float32(len(test))*100)
}

// generateDataset labels points in the unit square by which side of the
// line x2 = x1 they fall on.  The same points are returned in both the
// one-hot training encoding and the integer-label test encoding.
func generateDataset(r *rand.Rand, n int) ([]toolbox.Sample, []toolbox.TestSample) {
	training := make([]toolbox.Sample, n)
	test := make([]toolbox.TestSample, n)

	for i := 0; i < n; i++ {
		x1 := r.Float32()
		x2 := r.Float32()
		label := 0
		if x2 > x1 {
			label = 1
		}

		x := toolbox.MakeAF32(2, 1)
		x.Set2(0, 0, x1)
		x.Set2(1, 0, x2)

		training[i] = toolbox.Sample{X: x, Y: toolbox.OneHot(2, label)}
		test[i] = toolbox.TestSample{X: x, Label: label}
	}

	return training, test
}

// Model is a hand-coded two-input logistic regression, kept as an
// independent sanity check on the network.
type Model struct {
	W1, W2 float32
	B      float32
}

func sigmoid(z float32) float32 {
	return 1 / (1 + math32.Exp(-z))
}

func (m *Model) predict(x *toolbox.AF32) int {
	if sigmoid(m.W1*x.At2(0, 0)+m.W2*x.At2(1, 0)+m.B) > 0.5 {
		return 1
	}
	return 0
}

func (m *Model) gradient(samples []toolbox.TestSample) (dW1, dW2, dB float32) {
	for _, s := range samples {
		pred := sigmoid(m.W1*s.X.At2(0, 0) + m.W2*s.X.At2(1, 0) + m.B)
		diff := pred - float32(s.Label)
		dW1 += diff * s.X.At2(0, 0)
		dW2 += diff * s.X.At2(1, 0)
		dB += diff
	}

	dW1 /= float32(len(samples))
	dW2 /= float32(len(samples))
	dB /= float32(len(samples))

	return dW1, dW2, dB
}

func (m *Model) Learn(samples []toolbox.TestSample, learningRate float32, steps int) {
	for i := 0; i < steps; i++ {
		dW1, dW2, dB := m.gradient(samples)
		m.W1 -= learningRate * dW1
		m.W2 -= learningRate * dW2
		m.B -= learningRate * dB

		if i%1000 == 0 {
			log.Printf("step=%v W1=%v W2=%v B=%v djdw1=%v djdw2=%v djdb=%v", i, m.W1, m.W2, m.B, dW1, dW2, dB)
		}
	}
}
