// Package optim implements the AdamW optimizer that drives training.
// Parameters are grouped so each group can carry its own learning rate and
// weight decay.
package optim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Parameter is one trainable tensor with its accumulated gradient. Names
// must be unique across the model; optimizer moments are keyed by them.
type Parameter interface {
	Name() string
	Data() *mat.Dense
	Grad() *mat.Dense
}

// Group ties a set of parameters to one learning rate and weight decay.
type Group struct {
	Name        string
	LR          float64
	WeightDecay float64
	Params      []Parameter
}

// AdamW is Adam with decoupled weight decay: the decay term is applied
// directly to the weights instead of being mixed into the gradient.
type AdamW struct {
	groups       []Group
	beta1, beta2 float64
	eps          float64

	step int
	m    map[string][]float64
	v    map[string][]float64
}

// NewAdamW builds an optimizer over the given groups with the usual Adam
// defaults (beta1 0.9, beta2 0.999, eps 1e-8).
func NewAdamW(groups []Group) (*AdamW, error) {
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, p := range g.Params {
			if seen[p.Name()] {
				return nil, fmt.Errorf("parameter %q registered twice", p.Name())
			}
			seen[p.Name()] = true
		}
	}
	return &AdamW{
		groups: groups,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		m:      make(map[string][]float64),
		v:      make(map[string][]float64),
	}, nil
}

// Groups returns the registered parameter groups.
func (o *AdamW) Groups() []Group { return o.groups }

// Step applies one bias-corrected update to every registered parameter.
func (o *AdamW) Step() {
	o.step++
	c1 := 1.0 - math.Pow(o.beta1, float64(o.step))
	c2 := 1.0 - math.Pow(o.beta2, float64(o.step))

	for _, g := range o.groups {
		for _, p := range g.Params {
			w := p.Data()
			grad := p.Grad()
			r, c := w.Dims()

			m := o.m[p.Name()]
			v := o.v[p.Name()]
			if m == nil {
				m = make([]float64, r*c)
				v = make([]float64, r*c)
				o.m[p.Name()] = m
				o.v[p.Name()] = v
			}

			for i := range r {
				wRow := w.RawRowView(i)
				gRow := grad.RawRowView(i)
				for j := range c {
					k := i*c + j
					gv := gRow[j]
					m[k] = o.beta1*m[k] + (1.0-o.beta1)*gv
					v[k] = o.beta2*v[k] + (1.0-o.beta2)*gv*gv
					mhat := m[k] / c1
					vhat := v[k] / c2
					wRow[j] -= g.LR * (mhat/(math.Sqrt(vhat)+o.eps) + g.WeightDecay*wRow[j])
				}
			}
		}
	}
}

// ZeroGrad clears the gradients of every registered parameter.
func (o *AdamW) ZeroGrad() {
	for _, g := range o.groups {
		for _, p := range g.Params {
			p.Grad().Zero()
		}
	}
}

// State is the serializable optimizer state: step count and first and
// second moments keyed by parameter name.
type State struct {
	Step int                  `json:"step"`
	M    map[string][]float64 `json:"m"`
	V    map[string][]float64 `json:"v"`
}

// State snapshots the optimizer so a checkpoint can resume training.
func (o *AdamW) State() State {
	s := State{
		Step: o.step,
		M:    make(map[string][]float64, len(o.m)),
		V:    make(map[string][]float64, len(o.v)),
	}
	for name, m := range o.m {
		s.M[name] = append([]float64(nil), m...)
	}
	for name, v := range o.v {
		s.V[name] = append([]float64(nil), v...)
	}
	return s
}

// LoadState restores a snapshot taken with State. Moments for parameters
// the optimizer does not know are rejected, as are size mismatches.
func (o *AdamW) LoadState(s State) error {
	sizes := make(map[string]int)
	for _, g := range o.groups {
		for _, p := range g.Params {
			r, c := p.Data().Dims()
			sizes[p.Name()] = r * c
		}
	}
	for name, m := range s.M {
		want, ok := sizes[name]
		if !ok {
			return fmt.Errorf("moment for unknown parameter %q", name)
		}
		if len(m) != want || len(s.V[name]) != want {
			return fmt.Errorf("moment size mismatch for %q: got %d, want %d", name, len(m), want)
		}
	}
	o.step = s.Step
	o.m = make(map[string][]float64, len(s.M))
	o.v = make(map[string][]float64, len(s.V))
	for name, m := range s.M {
		o.m[name] = append([]float64(nil), m...)
	}
	for name, v := range s.V {
		o.v[name] = append([]float64(nil), v...)
	}
	return nil
}
