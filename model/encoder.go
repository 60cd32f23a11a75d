package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// EncoderConfig describes the shared encoder shape.
type EncoderConfig struct {
	VocabSize  int     `json:"vocab_size"`
	MaxLen     int     `json:"max_len"`
	Hidden     int     `json:"hidden"`
	Layers     int     `json:"layers"`
	Heads      int     `json:"heads"`
	FFN        int     `json:"ffn"`
	LSTMHidden int     `json:"lstm_hidden"`
	Dropout    float64 `json:"dropout"`
	Freeze     bool    `json:"freeze"`
}

// DefaultEncoderConfig mirrors a distilbert-base shape with a 256-unit
// BiLSTM on top. VocabSize is filled in from the tokenizer.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		MaxLen:     512,
		Hidden:     768,
		Layers:     6,
		Heads:      12,
		FFN:        3072,
		LSTMHidden: 256,
		Dropout:    0.1,
	}
}

// Encoder turns subword IDs into shared contextual states: token and
// position embeddings, a stack of pre-norm transformer blocks, a final
// LayerNorm and one BiLSTM layer. The transformer part can be frozen; the
// BiLSTM always trains.
type Encoder struct {
	cfg EncoderConfig

	tokEmb *Param
	posEmb *Param
	blocks []*block
	final  *layerNorm
	lstm   *BiLSTM

	dropEmb  dropout
	rng      *rand.Rand
	training bool

	ids []int
}

// NewEncoder builds an encoder for the given shape.
func NewEncoder(cfg EncoderConfig, rng *rand.Rand) *Encoder {
	if cfg.Hidden%cfg.Heads != 0 {
		panic(fmt.Sprintf("encoder: hidden %d not divisible by %d heads", cfg.Hidden, cfg.Heads))
	}
	e := &Encoder{
		cfg:     cfg,
		tokEmb:  newParam("encoder.tok_emb", uniformInit(cfg.VocabSize, cfg.Hidden, cfg.Hidden, rng), RoleEncoder, false),
		posEmb:  newParam("encoder.pos_emb", uniformInit(cfg.MaxLen, cfg.Hidden, cfg.Hidden, rng), RoleEncoder, false),
		final:   newLayerNorm("encoder.final", cfg.Hidden),
		lstm:    NewBiLSTM("encoder.lstm", cfg.Hidden, cfg.LSTMHidden, rng),
		dropEmb: dropout{p: cfg.Dropout},
		rng:     rng,
	}
	e.blocks = make([]*block, cfg.Layers)
	for i := range cfg.Layers {
		e.blocks[i] = newBlock(fmt.Sprintf("encoder.block%d", i), cfg, rng)
	}
	return e
}

// SetTraining switches dropout on or off.
func (e *Encoder) SetTraining(v bool) { e.training = v }

// OutputDim returns the width of the shared states.
func (e *Encoder) OutputDim() int { return 2 * e.cfg.LSTMHidden }

// Params lists every encoder parameter, transformer and BiLSTM alike. The
// caller decides what to register; frozen runs drop the RoleEncoder entries.
func (e *Encoder) Params() []*Param {
	params := []*Param{e.tokEmb, e.posEmb}
	for _, b := range e.blocks {
		params = append(params, b.params()...)
	}
	params = append(params, e.final.params()...)
	return append(params, e.lstm.Params()...)
}

// Forward encodes a sequence of subword IDs into a T×(2*LSTMHidden) matrix
// of shared states.
func (e *Encoder) Forward(ids []int) *mat.Dense {
	n := len(ids)
	if n == 0 {
		panic("encoder: empty sequence")
	}
	if n > e.cfg.MaxLen {
		panic(fmt.Sprintf("encoder: sequence length %d exceeds max %d", n, e.cfg.MaxLen))
	}
	e.ids = ids

	x := mat.NewDense(n, e.cfg.Hidden, nil)
	for t, id := range ids {
		if id < 0 || id >= e.cfg.VocabSize {
			panic(fmt.Sprintf("encoder: token id %d out of range", id))
		}
		row := x.RawRowView(t)
		copy(row, e.tokEmb.w.RawRowView(id))
		pos := e.posEmb.w.RawRowView(t)
		for j := range row {
			row[j] += pos[j]
		}
	}
	x = e.dropEmb.forward(x, e.rng, e.training)

	for _, b := range e.blocks {
		x = b.forward(x, e.rng, e.training)
	}
	x = e.final.forward(x)
	return e.lstm.Forward(x)
}

// Backward propagates the shared-state gradient down the stack. The BiLSTM
// always accumulates gradients; with Freeze set the pass stops there and the
// transformer stays untouched.
func (e *Encoder) Backward(dOut *mat.Dense) {
	dX := e.lstm.Backward(dOut)
	if e.cfg.Freeze {
		return
	}
	dX = e.final.backward(dX)
	for i := len(e.blocks) - 1; i >= 0; i-- {
		dX = e.blocks[i].backward(dX)
	}
	dX = e.dropEmb.backward(dX)

	for t, id := range e.ids {
		src := dX.RawRowView(t)
		tok := e.tokEmb.grad.RawRowView(id)
		pos := e.posEmb.grad.RawRowView(t)
		for j := range src {
			tok[j] += src[j]
			pos[j] += src[j]
		}
	}
}

// dropout is inverted dropout; the kept mask is cached for the backward
// pass. Inactive outside training or at p=0.
type dropout struct {
	p    float64
	mask *mat.Dense
}

func (d *dropout) forward(x *mat.Dense, rng *rand.Rand, training bool) *mat.Dense {
	if !training || d.p <= 0 {
		d.mask = nil
		return x
	}
	r, c := x.Dims()
	d.mask = mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	keep := 1.0 / (1.0 - d.p)
	for i := range r {
		m := d.mask.RawRowView(i)
		src := x.RawRowView(i)
		dst := out.RawRowView(i)
		for j := range c {
			if rng.Float64() >= d.p {
				m[j] = keep
				dst[j] = src[j] * keep
			}
		}
	}
	return out
}

func (d *dropout) backward(dY *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dY
	}
	out := &mat.Dense{}
	out.MulElem(dY, d.mask)
	return out
}

// block is one pre-norm transformer block: LayerNorm → attention → residual,
// LayerNorm → feed-forward → residual.
type block struct {
	ln1, ln2 *layerNorm
	attn     *attention
	ffn      *feedForward
	dropAttn dropout
	dropFFN  dropout
}

func newBlock(name string, cfg EncoderConfig, rng *rand.Rand) *block {
	return &block{
		ln1:      newLayerNorm(name+".ln1", cfg.Hidden),
		ln2:      newLayerNorm(name+".ln2", cfg.Hidden),
		attn:     newAttention(name+".attn", cfg.Hidden, cfg.Heads, rng),
		ffn:      newFeedForward(name+".ffn", cfg.Hidden, cfg.FFN, rng),
		dropAttn: dropout{p: cfg.Dropout},
		dropFFN:  dropout{p: cfg.Dropout},
	}
}

func (b *block) params() []*Param {
	params := b.ln1.params()
	params = append(params, b.attn.params()...)
	params = append(params, b.ln2.params()...)
	return append(params, b.ffn.params()...)
}

func (b *block) forward(x *mat.Dense, rng *rand.Rand, training bool) *mat.Dense {
	attnOut := b.attn.forward(b.ln1.forward(x))
	attnOut = b.dropAttn.forward(attnOut, rng, training)
	x1 := &mat.Dense{}
	x1.Add(x, attnOut)

	ffnOut := b.ffn.forward(b.ln2.forward(x1))
	ffnOut = b.dropFFN.forward(ffnOut, rng, training)
	out := &mat.Dense{}
	out.Add(x1, ffnOut)
	return out
}

func (b *block) backward(dY *mat.Dense) *mat.Dense {
	dX1 := b.ln2.backward(b.ffn.backward(b.dropFFN.backward(dY)))
	dX1.Add(dX1, dY)

	dX := b.ln1.backward(b.attn.backward(b.dropAttn.backward(dX1)))
	dX.Add(dX, dX1)
	return dX
}

// attention is bidirectional multi-head self-attention with combined
// projection matrices, split into heads by column slices.
type attention struct {
	heads, dHead   int
	wq, wk, wv, wo *Param

	x       *mat.Dense
	q, k, v *mat.Dense
	probs   []*mat.Dense
	ocat    *mat.Dense
}

func newAttention(name string, hidden, heads int, rng *rand.Rand) *attention {
	return &attention{
		heads: heads,
		dHead: hidden / heads,
		wq:    newParam(name+".wq", uniformInit(hidden, hidden, hidden, rng), RoleEncoder, false),
		wk:    newParam(name+".wk", uniformInit(hidden, hidden, hidden, rng), RoleEncoder, false),
		wv:    newParam(name+".wv", uniformInit(hidden, hidden, hidden, rng), RoleEncoder, false),
		wo:    newParam(name+".wo", uniformInit(hidden, hidden, hidden, rng), RoleEncoder, false),
		probs: make([]*mat.Dense, heads),
	}
}

func (a *attention) params() []*Param {
	return []*Param{a.wq, a.wk, a.wv, a.wo}
}

func (a *attention) headView(m *mat.Dense, h int) *mat.Dense {
	r, _ := m.Dims()
	return m.Slice(0, r, h*a.dHead, (h+1)*a.dHead).(*mat.Dense)
}

func (a *attention) forward(x *mat.Dense) *mat.Dense {
	a.x = x
	T, hidden := x.Dims()
	a.q = matMul(x, a.wq.w)
	a.k = matMul(x, a.wk.w)
	a.v = matMul(x, a.wv.w)
	a.ocat = mat.NewDense(T, hidden, nil)

	rescale := 1.0 / math.Sqrt(float64(a.dHead))
	for h := range a.heads {
		qh := a.headView(a.q, h)
		kh := a.headView(a.k, h)
		vh := a.headView(a.v, h)

		scores := matMul(qh, kh.T())
		scores.Scale(rescale, scores)
		a.probs[h] = rowSoftmax(scores)

		a.headView(a.ocat, h).Copy(matMul(a.probs[h], vh))
	}
	return matMul(a.ocat, a.wo.w)
}

func (a *attention) backward(dY *mat.Dense) *mat.Dense {
	T, hidden := a.x.Dims()
	a.wo.grad.Add(a.wo.grad, matMul(a.ocat.T(), dY))
	dOcat := matMul(dY, a.wo.w.T())

	dQ := mat.NewDense(T, hidden, nil)
	dK := mat.NewDense(T, hidden, nil)
	dV := mat.NewDense(T, hidden, nil)

	rescale := 1.0 / math.Sqrt(float64(a.dHead))
	for h := range a.heads {
		qh := a.headView(a.q, h)
		kh := a.headView(a.k, h)
		vh := a.headView(a.v, h)
		dOh := a.headView(dOcat, h)

		dProbs := matMul(dOh, vh.T())
		a.headView(dV, h).Copy(matMul(a.probs[h].T(), dOh))

		dScores := rowSoftmaxBackward(dProbs, a.probs[h])
		dScores.Scale(rescale, dScores)
		a.headView(dQ, h).Copy(matMul(dScores, kh))
		a.headView(dK, h).Copy(matMul(dScores.T(), qh))
	}

	a.wq.grad.Add(a.wq.grad, matMul(a.x.T(), dQ))
	a.wk.grad.Add(a.wk.grad, matMul(a.x.T(), dK))
	a.wv.grad.Add(a.wv.grad, matMul(a.x.T(), dV))

	dX := matMul(dQ, a.wq.w.T())
	dX.Add(dX, matMul(dK, a.wk.w.T()))
	dX.Add(dX, matMul(dV, a.wv.w.T()))
	return dX
}

// feedForward is the block MLP: Linear → GELU → Linear.
type feedForward struct {
	w1, b1 *Param
	w2, b2 *Param

	x, z1, a1 *mat.Dense
}

func newFeedForward(name string, hidden, inner int, rng *rand.Rand) *feedForward {
	return &feedForward{
		w1: newParam(name+".w1", uniformInit(hidden, inner, hidden, rng), RoleEncoder, false),
		b1: newParam(name+".b1", mat.NewDense(1, inner, nil), RoleEncoder, true),
		w2: newParam(name+".w2", uniformInit(inner, hidden, inner, rng), RoleEncoder, false),
		b2: newParam(name+".b2", mat.NewDense(1, hidden, nil), RoleEncoder, true),
	}
}

func (f *feedForward) params() []*Param {
	return []*Param{f.w1, f.b1, f.w2, f.b2}
}

func (f *feedForward) forward(x *mat.Dense) *mat.Dense {
	f.x = x
	f.z1 = matMul(x, f.w1.w)
	addRow(f.z1, f.b1.w)
	f.a1 = &mat.Dense{}
	f.a1.Apply(gelu, f.z1)

	out := matMul(f.a1, f.w2.w)
	addRow(out, f.b2.w)
	return out
}

func (f *feedForward) backward(dY *mat.Dense) *mat.Dense {
	f.w2.grad.Add(f.w2.grad, matMul(f.a1.T(), dY))
	accumColSums(f.b2.grad, dY)
	dA1 := matMul(dY, f.w2.w.T())

	dZ1 := geluBackward(dA1, f.z1)
	f.w1.grad.Add(f.w1.grad, matMul(f.x.T(), dZ1))
	accumColSums(f.b1.grad, dZ1)
	return matMul(dZ1, f.w1.w.T())
}

// layerNorm normalizes every row to zero mean and unit variance, then
// applies the learned scale and shift.
type layerNorm struct {
	gamma, beta *Param
	eps         float64

	xhat   *mat.Dense
	invStd []float64
}

func newLayerNorm(name string, dim int) *layerNorm {
	return &layerNorm{
		gamma: newParam(name+".gamma", onesRow(dim), RoleEncoder, true),
		beta:  newParam(name+".beta", mat.NewDense(1, dim, nil), RoleEncoder, true),
		eps:   1e-5,
	}
}

func (ln *layerNorm) params() []*Param {
	return []*Param{ln.gamma, ln.beta}
}

func (ln *layerNorm) forward(x *mat.Dense) *mat.Dense {
	T, d := x.Dims()
	out := mat.NewDense(T, d, nil)
	ln.xhat = mat.NewDense(T, d, nil)
	ln.invStd = make([]float64, T)

	g := ln.gamma.w.RawRowView(0)
	b := ln.beta.w.RawRowView(0)
	for t := range T {
		src := x.RawRowView(t)
		var mu float64
		for _, v := range src {
			mu += v
		}
		mu /= float64(d)
		var variance float64
		for _, v := range src {
			diff := v - mu
			variance += diff * diff
		}
		variance /= float64(d)
		istd := 1.0 / math.Sqrt(variance+ln.eps)
		ln.invStd[t] = istd

		xh := ln.xhat.RawRowView(t)
		dst := out.RawRowView(t)
		for j := range d {
			xh[j] = (src[j] - mu) * istd
			dst[j] = g[j]*xh[j] + b[j]
		}
	}
	return out
}

func (ln *layerNorm) backward(dY *mat.Dense) *mat.Dense {
	T, d := dY.Dims()
	dX := mat.NewDense(T, d, nil)

	g := ln.gamma.w.RawRowView(0)
	dG := ln.gamma.grad.RawRowView(0)
	dB := ln.beta.grad.RawRowView(0)
	for t := range T {
		dy := dY.RawRowView(t)
		xh := ln.xhat.RawRowView(t)
		istd := ln.invStd[t]

		var sum1, sum2 float64
		for j := range d {
			dG[j] += dy[j] * xh[j]
			dB[j] += dy[j]
			gy := dy[j] * g[j]
			sum1 += gy
			sum2 += gy * xh[j]
		}
		dst := dX.RawRowView(t)
		for j := range d {
			gy := dy[j] * g[j]
			dst[j] = (float64(d)*gy - sum1 - xh[j]*sum2) * istd / float64(d)
		}
	}
	return dX
}
