package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// BiLSTM is one bidirectional LSTM layer over batch-first sequences. Each
// direction keeps hiddenDim units; the output concatenates both directions
// per position.
type BiLSTM struct {
	inDim, hiddenDim int
	fwd, bwd         *lstmDirection
}

// NewBiLSTM builds both directions with fan-in initialized gate weights and
// zero biases. All parameters carry the recurrent role.
func NewBiLSTM(name string, inDim, hiddenDim int, rng *rand.Rand) *BiLSTM {
	return &BiLSTM{
		inDim:     inDim,
		hiddenDim: hiddenDim,
		fwd:       newLSTMDirection(name+".fwd", inDim, hiddenDim, rng),
		bwd:       newLSTMDirection(name+".bwd", inDim, hiddenDim, rng),
	}
}

// OutputDim returns the concatenated output width.
func (l *BiLSTM) OutputDim() int { return 2 * l.hiddenDim }

// Params lists the parameters of both directions.
func (l *BiLSTM) Params() []*Param {
	return append(l.fwd.params(), l.bwd.params()...)
}

// Forward runs both directions over a T×in matrix and concatenates their
// hidden states into T×2H.
func (l *BiLSTM) Forward(x *mat.Dense) *mat.Dense {
	T, _ := x.Dims()
	hFwd := l.fwd.run(x)
	hBwd := l.bwd.run(reverseRows(x))

	H := l.hiddenDim
	out := mat.NewDense(T, 2*H, nil)
	for t := range T {
		row := out.RawRowView(t)
		copy(row[:H], hFwd.RawRowView(t))
		copy(row[H:], hBwd.RawRowView(T-1-t))
	}
	return out
}

// Backward runs truncated-free BPTT through both directions and returns the
// gradient with respect to the input sequence.
func (l *BiLSTM) Backward(dOut *mat.Dense) *mat.Dense {
	T, _ := dOut.Dims()
	H := l.hiddenDim

	dFwd := mat.NewDense(T, H, nil)
	dBwd := mat.NewDense(T, H, nil)
	for t := range T {
		row := dOut.RawRowView(t)
		copy(dFwd.RawRowView(t), row[:H])
		copy(dBwd.RawRowView(T-1-t), row[H:])
	}

	dX := l.fwd.backward(dFwd)
	dXRev := l.bwd.backward(dBwd)
	for t := range T {
		a := dX.RawRowView(t)
		b := dXRev.RawRowView(T - 1 - t)
		for j := range a {
			a[j] += b[j]
		}
	}
	return dX
}

func reverseRows(x *mat.Dense) *mat.Dense {
	T, c := x.Dims()
	out := mat.NewDense(T, c, nil)
	for t := range T {
		copy(out.RawRowView(t), x.RawRowView(T-1-t))
	}
	return out
}

// lstmDirection is a single-direction LSTM. Gate weights act on the
// concatenated [input, previous hidden] row; the caches keep everything the
// backward pass needs per timestep.
type lstmDirection struct {
	in, hidden     int
	wf, wi, wg, wo *Param // (in+H)×H
	bf, bi, bg, bo *Param // 1×H

	// per-step caches from the last forward
	combined                   []*mat.Dense
	fGate, iGate, gGate, oGate []*mat.Dense
	cell, tanhCell             []*mat.Dense
}

func newLSTMDirection(name string, in, hidden int, rng *rand.Rand) *lstmDirection {
	cat := in + hidden
	gateW := func(suffix string) *Param {
		return newParam(name+".w"+suffix, uniformInit(cat, hidden, cat, rng), RoleRecurrent, false)
	}
	gateB := func(suffix string) *Param {
		return newParam(name+".b"+suffix, mat.NewDense(1, hidden, nil), RoleRecurrent, true)
	}
	return &lstmDirection{
		in:     in,
		hidden: hidden,
		wf:     gateW("f"),
		wi:     gateW("i"),
		wg:     gateW("g"),
		wo:     gateW("o"),
		bf:     gateB("f"),
		bi:     gateB("i"),
		bg:     gateB("g"),
		bo:     gateB("o"),
	}
}

func (d *lstmDirection) params() []*Param {
	return []*Param{d.wf, d.bf, d.wi, d.bi, d.wg, d.bg, d.wo, d.bo}
}

// gate computes act(combined·W + b) as a 1×H row.
func (d *lstmDirection) gate(combined *mat.Dense, w, b *Param, act func(float64) float64) *mat.Dense {
	z := matMul(combined, w.w)
	addRow(z, b.w)
	row := z.RawRowView(0)
	for j := range row {
		row[j] = act(row[j])
	}
	return z
}

// run processes rows 0..T-1 and returns the T×H hidden states.
func (d *lstmDirection) run(x *mat.Dense) *mat.Dense {
	T, _ := x.Dims()
	H := d.hidden

	d.combined = make([]*mat.Dense, T)
	d.fGate = make([]*mat.Dense, T)
	d.iGate = make([]*mat.Dense, T)
	d.gGate = make([]*mat.Dense, T)
	d.oGate = make([]*mat.Dense, T)
	d.cell = make([]*mat.Dense, T)
	d.tanhCell = make([]*mat.Dense, T)

	hidden := mat.NewDense(T, H, nil)
	hPrev := make([]float64, H)
	cPrev := make([]float64, H)

	for t := range T {
		combined := mat.NewDense(1, d.in+H, nil)
		row := combined.RawRowView(0)
		copy(row[:d.in], x.RawRowView(t))
		copy(row[d.in:], hPrev)
		d.combined[t] = combined

		d.fGate[t] = d.gate(combined, d.wf, d.bf, sigmoid)
		d.iGate[t] = d.gate(combined, d.wi, d.bi, sigmoid)
		d.gGate[t] = d.gate(combined, d.wg, d.bg, math.Tanh)
		d.oGate[t] = d.gate(combined, d.wo, d.bo, sigmoid)

		cell := mat.NewDense(1, H, nil)
		tanhCell := mat.NewDense(1, H, nil)
		f := d.fGate[t].RawRowView(0)
		i := d.iGate[t].RawRowView(0)
		g := d.gGate[t].RawRowView(0)
		o := d.oGate[t].RawRowView(0)
		c := cell.RawRowView(0)
		tc := tanhCell.RawRowView(0)
		h := hidden.RawRowView(t)
		for j := range H {
			c[j] = f[j]*cPrev[j] + i[j]*g[j]
			tc[j] = math.Tanh(c[j])
			h[j] = o[j] * tc[j]
		}
		d.cell[t] = cell
		d.tanhCell[t] = tanhCell

		hPrev = h
		cPrev = c
	}
	return hidden
}

// backward consumes per-step hidden gradients (in this direction's time
// order), accumulates gate parameter gradients and returns input gradients.
func (d *lstmDirection) backward(dHidden *mat.Dense) *mat.Dense {
	T, _ := dHidden.Dims()
	H := d.hidden
	dX := mat.NewDense(T, d.in, nil)

	dhNext := make([]float64, H)
	dcNext := make([]float64, H)
	zero := make([]float64, H)

	dz := mat.NewDense(1, H, nil)
	for t := T - 1; t >= 0; t-- {
		f := d.fGate[t].RawRowView(0)
		i := d.iGate[t].RawRowView(0)
		g := d.gGate[t].RawRowView(0)
		o := d.oGate[t].RawRowView(0)
		tc := d.tanhCell[t].RawRowView(0)
		cPrev := zero
		if t > 0 {
			cPrev = d.cell[t-1].RawRowView(0)
		}

		dh := make([]float64, H)
		upstream := dHidden.RawRowView(t)
		dc := make([]float64, H)
		for j := range H {
			dh[j] = upstream[j] + dhNext[j]
			dc[j] = dcNext[j] + dh[j]*o[j]*(1-tc[j]*tc[j])
		}

		dCombined := mat.NewDense(1, d.in+H, nil)
		apply := func(w, b *Param) {
			w.grad.Add(w.grad, matMul(d.combined[t].T(), dz))
			accumColSums(b.grad, dz)
			dCombined.Add(dCombined, matMul(dz, w.w.T()))
		}

		row := dz.RawRowView(0)
		for j := range H {
			row[j] = dh[j] * tc[j] * o[j] * (1 - o[j])
		}
		apply(d.wo, d.bo)
		for j := range H {
			row[j] = dc[j] * cPrev[j] * f[j] * (1 - f[j])
		}
		apply(d.wf, d.bf)
		for j := range H {
			row[j] = dc[j] * g[j] * i[j] * (1 - i[j])
		}
		apply(d.wi, d.bi)
		for j := range H {
			row[j] = dc[j] * i[j] * (1 - g[j]*g[j])
		}
		apply(d.wg, d.bg)

		comb := dCombined.RawRowView(0)
		copy(dX.RawRowView(t), comb[:d.in])
		copy(dhNext, comb[d.in:])
		for j := range H {
			dcNext[j] = dc[j] * f[j]
		}
	}
	return dX
}
