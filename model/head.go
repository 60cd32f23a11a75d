package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Head hidden layer widths, shared by both tasks.
const (
	headHidden1 = 128
	headHidden2 = 32
)

// Head maps shared encoder states to per-tag emission scores through
// Linear(in→128) → LeakyReLU → Linear(128→32) → LeakyReLU → Linear(32→tags).
type Head struct {
	w1, b1 *Param
	w2, b2 *Param
	w3, b3 *Param

	// forward cache
	x      *mat.Dense
	z1, a1 *mat.Dense
	z2, a2 *mat.Dense
}

// NewHead builds a head for numTags output scores. All weights are uniform
// fan-in initialized, biases start at zero, and every parameter carries the
// given role tag.
func NewHead(name string, role Role, inDim, numTags int, rng *rand.Rand) *Head {
	return &Head{
		w1: newParam(name+".w1", uniformInit(inDim, headHidden1, inDim, rng), role, false),
		b1: newParam(name+".b1", mat.NewDense(1, headHidden1, nil), role, true),
		w2: newParam(name+".w2", uniformInit(headHidden1, headHidden2, headHidden1, rng), role, false),
		b2: newParam(name+".b2", mat.NewDense(1, headHidden2, nil), role, true),
		w3: newParam(name+".w3", uniformInit(headHidden2, numTags, headHidden2, rng), role, false),
		b3: newParam(name+".b3", mat.NewDense(1, numTags, nil), role, true),
	}
}

// Params lists the head parameters.
func (h *Head) Params() []*Param {
	return []*Param{h.w1, h.b1, h.w2, h.b2, h.w3, h.b3}
}

// Forward computes emission scores for a T×in matrix of shared states.
func (h *Head) Forward(x *mat.Dense) *mat.Dense {
	_, c := x.Dims()
	if in, _ := h.w1.w.Dims(); c != in {
		panic(fmt.Sprintf("head: input width %d, want %d", c, in))
	}
	h.x = x

	h.z1 = matMul(x, h.w1.w)
	addRow(h.z1, h.b1.w)
	h.a1 = &mat.Dense{}
	h.a1.Apply(leakyReLU, h.z1)

	h.z2 = matMul(h.a1, h.w2.w)
	addRow(h.z2, h.b2.w)
	h.a2 = &mat.Dense{}
	h.a2.Apply(leakyReLU, h.z2)

	out := matMul(h.a2, h.w3.w)
	addRow(out, h.b3.w)
	return out
}

// Backward consumes the emission gradient from the decoder, accumulates
// weight and bias gradients, and returns the gradient with respect to the
// shared states.
func (h *Head) Backward(dOut *mat.Dense) *mat.Dense {
	h.w3.grad.Add(h.w3.grad, matMul(h.a2.T(), dOut))
	accumColSums(h.b3.grad, dOut)
	dA2 := matMul(dOut, h.w3.w.T())

	dZ2 := leakyReLUBackward(dA2, h.z2)
	h.w2.grad.Add(h.w2.grad, matMul(h.a1.T(), dZ2))
	accumColSums(h.b2.grad, dZ2)
	dA1 := matMul(dZ2, h.w2.w.T())

	dZ1 := leakyReLUBackward(dA1, h.z1)
	h.w1.grad.Add(h.w1.grad, matMul(h.x.T(), dZ1))
	accumColSums(h.b1.grad, dZ1)
	return matMul(dZ1, h.w1.w.T())
}
