package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

func matMul(a, b mat.Matrix) *mat.Dense {
	r, _ := a.Dims()
	_, c := b.Dims()
	out := mat.NewDense(r, c, nil)
	out.Product(a, b)
	return out
}

// addRow adds a 1×c bias row to every row of m in place.
func addRow(m, bias *mat.Dense) {
	r, c := m.Dims()
	br := bias.RawRowView(0)
	for i := range r {
		row := m.RawRowView(i)
		for j := range c {
			row[j] += br[j]
		}
	}
}

// accumColSums adds the column sums of m into the 1×c accumulator.
func accumColSums(acc, m *mat.Dense) {
	r, c := m.Dims()
	out := acc.RawRowView(0)
	for i := range r {
		row := m.RawRowView(i)
		for j := range c {
			out[j] += row[j]
		}
	}
}

const leakySlope = 0.01

func leakyReLU(_, _ int, v float64) float64 {
	if v > 0 {
		return v
	}
	return leakySlope * v
}

// leakyReLUBackward multiplies upstream gradients by the activation slope at
// the cached pre-activations.
func leakyReLUBackward(dOut, pre *mat.Dense) *mat.Dense {
	r, c := dOut.Dims()
	out := mat.NewDense(r, c, nil)
	for i := range r {
		src := dOut.RawRowView(i)
		z := pre.RawRowView(i)
		dst := out.RawRowView(i)
		for j := range c {
			if z[j] > 0 {
				dst[j] = src[j]
			} else {
				dst[j] = leakySlope * src[j]
			}
		}
	}
	return out
}

// gelu is the tanh approximation used by GPT-style feed-forward layers.
func gelu(_, _ int, x float64) float64 {
	const k = 0.7978845608028654 // sqrt(2/pi)
	t := k * (x + 0.044715*x*x*x)
	return 0.5 * x * (1.0 + math.Tanh(t))
}

// geluBackward multiplies upstream gradients by gelu'(pre).
func geluBackward(dOut, pre *mat.Dense) *mat.Dense {
	const k = 0.7978845608028654
	r, c := dOut.Dims()
	out := mat.NewDense(r, c, nil)
	for i := range r {
		src := dOut.RawRowView(i)
		z := pre.RawRowView(i)
		dst := out.RawRowView(i)
		for j := range c {
			x := z[j]
			t := k * (x + 0.044715*x*x*x)
			th := math.Tanh(t)
			cosh := math.Cosh(t)
			sech2 := 1.0 / (cosh * cosh)
			dt := k * (1.0 + 3.0*0.044715*x*x)
			dst[j] = src[j] * (0.5*(1.0+th) + 0.5*x*sech2*dt)
		}
	}
	return out
}

// rowSoftmax applies a max-subtracted softmax to every row.
func rowSoftmax(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := range r {
		src := m.RawRowView(i)
		dst := out.RawRowView(i)
		max := src[0]
		for _, v := range src {
			if v > max {
				max = v
			}
		}
		var sum float64
		for j := range c {
			dst[j] = math.Exp(src[j] - max)
			sum += dst[j]
		}
		inv := 1.0 / sum
		for j := range c {
			dst[j] *= inv
		}
	}
	return out
}

// rowSoftmaxBackward: for each row, dS[j] = A[j] * (dA[j] - sum_k dA[k]*A[k]).
func rowSoftmaxBackward(dA, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := range r {
		a := A.RawRowView(i)
		da := dA.RawRowView(i)
		dst := dS.RawRowView(i)
		var s float64
		for k := range c {
			s += da[k] * a[k]
		}
		for j := range c {
			dst[j] = a[j] * (da[j] - s)
		}
	}
	return dS
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
