// Package model implements the joint NER and language-identification tagger:
// a shared encoder (transformer stack plus one BiLSTM layer) feeding two task
// heads whose emissions are decoded by per-task linear-chain CRFs.
//
// Layers implement forward and backward passes by hand over gonum matrices;
// there is no autograd. Every learned tensor is registered as a Param carrying
// an explicit role and no-decay tag, which is all the optimizer ever sees.
package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Role says which part of the model a parameter belongs to. Optimizer groups
// are built from these tags, never from parameter names.
type Role int

const (
	RoleEncoder Role = iota
	RoleRecurrent
	RoleNERHead
	RoleLIDHead
)

func (r Role) String() string {
	switch r {
	case RoleEncoder:
		return "encoder"
	case RoleRecurrent:
		return "recurrent"
	case RoleNERHead:
		return "ner-head"
	case RoleLIDHead:
		return "lid-head"
	}
	return "unknown"
}

// Param is one learned tensor with its gradient buffer.
type Param struct {
	name    string
	w       *mat.Dense
	grad    *mat.Dense
	role    Role
	noDecay bool
}

// newParam allocates a zero gradient buffer matching the weight shape.
func newParam(name string, w *mat.Dense, role Role, noDecay bool) *Param {
	r, c := w.Dims()
	return &Param{
		name:    name,
		w:       w,
		grad:    mat.NewDense(r, c, nil),
		role:    role,
		noDecay: noDecay,
	}
}

// wrapParam registers externally owned weight and gradient matrices, used for
// the CRF decoder tables whose gradients accumulate inside the crf package.
func wrapParam(name string, w, grad *mat.Dense, role Role, noDecay bool) *Param {
	return &Param{name: name, w: w, grad: grad, role: role, noDecay: noDecay}
}

// Name returns the unique parameter name.
func (p *Param) Name() string { return p.name }

// Data returns the weight matrix.
func (p *Param) Data() *mat.Dense { return p.w }

// Grad returns the gradient buffer.
func (p *Param) Grad() *mat.Dense { return p.grad }

// Role returns the construction-time role tag.
func (p *Param) Role() Role { return p.role }

// NoDecay reports whether the parameter is exempt from weight decay. Biases
// and normalization scales and shifts are tagged at construction.
func (p *Param) NoDecay() bool { return p.noDecay }

// ZeroGrad clears the gradient buffer.
func (p *Param) ZeroGrad() { p.grad.Zero() }

// uniformInit fills a new matrix with values in [-1/sqrt(fanIn), 1/sqrt(fanIn)).
func uniformInit(r, c, fanIn int, rng *rand.Rand) *mat.Dense {
	bound := 1.0 / math.Sqrt(float64(fanIn))
	data := make([]float64, r*c)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
	return mat.NewDense(r, c, data)
}

// onesRow returns a 1×n row of ones, the initial value for norm scales.
func onesRow(n int) *mat.Dense {
	data := make([]float64, n)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(1, n, data)
}
