package toolbox

import (
	"github.com/chewxy/math32"
)

// Sigmoid computes a = 1/(1+exp(-z)) elementwise.  a must have the same
// shape as z; it may alias z.
//
// No explicit clamping is needed: float32 exp saturates to +Inf for
// large -z, and 1/(1+Inf) evaluates to 0, so the output stays in [0, 1]
// for all finite inputs.
func Sigmoid(z, a *AF32) {
	if len(z.V) != len(a.V) {
		panic("dimension mismatch")
	}
	sigmoidKernel(z.V, a.V)
}

// SigmoidPrime computes d = sigmoid(z)·(1-sigmoid(z)) elementwise.  d
// must have the same shape as z; it may alias z.
func SigmoidPrime(z, d *AF32) {
	if len(z.V) != len(d.V) {
		panic("dimension mismatch")
	}
	sigmoidPrimeKernel(z.V, d.V)
}

func sigmoidKernel(z, a []float32) {
	for i := 0; i < len(z); i++ {
		a[i] = 1 / (1 + math32.Exp(-z[i]))
	}
}

func sigmoidPrimeKernel(z, d []float32) {
	for i := 0; i < len(z); i++ {
		s := 1 / (1 + math32.Exp(-z[i]))
		d[i] = s * (1 - s)
	}
}
