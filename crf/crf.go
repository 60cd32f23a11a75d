// Package crf implements a linear-chain Conditional Random Field over dense
// per-position emission scores.
//
// A Decoder holds learned transition, start and end scores for a fixed tag
// inventory. Emissions come from an upstream model as a T×C matrix per
// sequence; the decoder turns them into a negative log-likelihood for
// training and into Viterbi tag paths for prediction. Sequences in a batch
// are padded to a common length and described by a boolean mask that must be
// a contiguous prefix of true values.
package crf

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Alphabet maps between string tags and integer IDs.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{
		ToID: make(map[string]int),
	}
}

// Add adds a string to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a string, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}

// Decoder holds the CRF parameters for one tagging task.
//
// NumTags counts the task tags plus the padding tag, which by convention has
// the highest ID. Trans is NumTags×NumTags with Trans[i][j] scoring a move
// from tag i to tag j; Start and End are 1×NumTags row vectors scoring the
// first and last tag of a sequence. The *Grad matrices accumulate gradients
// of the batch NLL and are consumed by the optimizer.
type Decoder struct {
	NumTags int

	Trans *mat.Dense
	Start *mat.Dense
	End   *mat.Dense

	TransGrad *mat.Dense
	StartGrad *mat.Dense
	EndGrad   *mat.Dense
}

// NewDecoder creates a decoder with transition scores drawn uniformly from
// [-0.1, 0.1).
func NewDecoder(numTags int, rng *rand.Rand) *Decoder {
	init := func(r, c int) *mat.Dense {
		m := mat.NewDense(r, c, nil)
		for i := range r {
			for j := range c {
				m.Set(i, j, rng.Float64()*0.2-0.1)
			}
		}
		return m
	}
	return &Decoder{
		NumTags:   numTags,
		Trans:     init(numTags, numTags),
		Start:     init(1, numTags),
		End:       init(1, numTags),
		TransGrad: mat.NewDense(numTags, numTags, nil),
		StartGrad: mat.NewDense(1, numTags, nil),
		EndGrad:   mat.NewDense(1, numTags, nil),
	}
}

// ZeroGrad clears the accumulated parameter gradients.
func (d *Decoder) ZeroGrad() {
	d.TransGrad.Zero()
	d.StartGrad.Zero()
	d.EndGrad.Zero()
}

// MaskLen returns the number of leading true values in the mask and verifies
// that nothing follows them. An all-false mask is rejected: every sequence
// must contain at least one real position.
func MaskLen(mask []bool) (int, error) {
	n := 0
	for n < len(mask) && mask[n] {
		n++
	}
	for t := n; t < len(mask); t++ {
		if mask[t] {
			return 0, fmt.Errorf("mask is not a contiguous prefix: position %d is set after a gap", t)
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("mask selects no positions")
	}
	return n, nil
}

// checkBatch validates batch shapes and returns the unmasked length of every
// sequence.
func (d *Decoder) checkBatch(emissions []*mat.Dense, tags [][]int, mask [][]bool) ([]int, error) {
	if len(emissions) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(mask) != len(emissions) {
		return nil, fmt.Errorf("batch size mismatch: %d emission matrices, %d masks", len(emissions), len(mask))
	}
	if tags != nil && len(tags) != len(emissions) {
		return nil, fmt.Errorf("batch size mismatch: %d emission matrices, %d tag sequences", len(emissions), len(tags))
	}
	lens := make([]int, len(emissions))
	for b, em := range emissions {
		T, C := em.Dims()
		if C != d.NumTags {
			return nil, fmt.Errorf("sequence %d: emissions have %d columns, decoder has %d tags", b, C, d.NumTags)
		}
		if len(mask[b]) > T {
			return nil, fmt.Errorf("sequence %d: mask length %d exceeds emission rows %d", b, len(mask[b]), T)
		}
		n, err := MaskLen(mask[b])
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", b, err)
		}
		if tags != nil {
			if len(tags[b]) < n {
				return nil, fmt.Errorf("sequence %d: %d tags for %d unmasked positions", b, len(tags[b]), n)
			}
			for t := range n {
				if tags[b][t] < 0 || tags[b][t] >= d.NumTags {
					return nil, fmt.Errorf("sequence %d: tag %d at position %d out of range [0,%d)", b, tags[b][t], t, d.NumTags)
				}
			}
		}
		lens[b] = n
	}
	return lens, nil
}

// scoreSequence computes the unnormalized score of a gold path over the
// first n positions: start score, emission and transition scores along the
// path, and the end score.
func (d *Decoder) scoreSequence(em *mat.Dense, tags []int, n int) float64 {
	score := d.Start.At(0, tags[0]) + em.At(0, tags[0])
	for t := 1; t < n; t++ {
		score += d.Trans.At(tags[t-1], tags[t]) + em.At(t, tags[t])
	}
	return score + d.End.At(0, tags[n-1])
}

// reducer collapses the candidate scores over all predecessor tags into a
// single value. Viterbi reduces with max and keeps the argmax; the forward
// algorithm reduces with log-sum-exp and ignores the index.
type reducer func(cand []float64) (float64, int)

// chain runs the shared first-order recurrence over the first n emission
// rows. Row t of the returned table holds the reduced score of each tag at
// position t; back[t][j] is the predecessor index the reducer chose (only
// meaningful for an argmax reducer). Start scores enter at t=0, end scores
// are left to the caller.
func (d *Decoder) chain(em *mat.Dense, n int, reduce reducer) (table [][]float64, back [][]int) {
	C := d.NumTags
	table = make([][]float64, n)
	back = make([][]int, n)

	table[0] = make([]float64, C)
	start := d.Start.RawRowView(0)
	emRow := em.RawRowView(0)
	for j := range C {
		table[0][j] = start[j] + emRow[j]
	}

	cand := make([]float64, C)
	for t := 1; t < n; t++ {
		table[t] = make([]float64, C)
		back[t] = make([]int, C)
		prev := table[t-1]
		emRow = em.RawRowView(t)
		for j := range C {
			for i := range C {
				cand[i] = prev[i] + d.Trans.At(i, j)
			}
			v, arg := reduce(cand)
			table[t][j] = v + emRow[j]
			back[t][j] = arg
		}
	}
	return table, back
}
