package crf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// logSumExp computes log(sum(exp(xs))) with the running maximum subtracted
// before exponentiation.
func logSumExp(xs []float64) float64 {
	max := math.Inf(-1)
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

func lseReduce(cand []float64) (float64, int) {
	return logSumExp(cand), 0
}

// forwardVars runs the log-space forward algorithm over the first n emission
// rows. alpha[t][j] is the log-sum of all path prefixes ending in tag j at
// position t, including the start score but not the end score. logZ folds
// the end scores into the last row.
func (d *Decoder) forwardVars(em *mat.Dense, n int) (alpha [][]float64, logZ float64) {
	alpha, _ = d.chain(em, n, lseReduce)
	final := make([]float64, d.NumTags)
	end := d.End.RawRowView(0)
	for j := range d.NumTags {
		final[j] = alpha[n-1][j] + end[j]
	}
	return alpha, logSumExp(final)
}

// backwardVars computes beta[t][i], the log-sum of all path suffixes that
// leave position t in tag i, including the end score.
func (d *Decoder) backwardVars(em *mat.Dense, n int) [][]float64 {
	C := d.NumTags
	beta := make([][]float64, n)
	beta[n-1] = make([]float64, C)
	copy(beta[n-1], d.End.RawRowView(0))

	cand := make([]float64, C)
	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, C)
		emNext := em.RawRowView(t + 1)
		for i := range C {
			for j := range C {
				cand[j] = d.Trans.At(i, j) + emNext[j] + beta[t+1][j]
			}
			beta[t][i] = logSumExp(cand)
		}
	}
	return beta
}

// NegativeLogLikelihood returns the mean over the batch of
// logZ - score(gold). Emissions beyond each mask prefix are ignored, so the
// value is always non-negative and unchanged by extra padding.
func (d *Decoder) NegativeLogLikelihood(emissions []*mat.Dense, tags [][]int, mask [][]bool) (float64, error) {
	lens, err := d.checkBatch(emissions, tags, mask)
	if err != nil {
		return 0, err
	}
	var total float64
	for b, em := range emissions {
		n := lens[b]
		_, logZ := d.forwardVars(em, n)
		total += logZ - d.scoreSequence(em, tags[b], n)
	}
	return total / float64(len(emissions)), nil
}

// Backward computes the batch NLL together with its gradients. The returned
// matrices hold dNLL/d(emissions) per sequence, with zero rows at masked
// positions; gradients for the transition, start and end parameters
// accumulate into the decoder's *Grad matrices. All gradients carry the 1/B
// factor of the mean reduction.
func (d *Decoder) Backward(emissions []*mat.Dense, tags [][]int, mask [][]bool) (float64, []*mat.Dense, error) {
	lens, err := d.checkBatch(emissions, tags, mask)
	if err != nil {
		return 0, nil, err
	}
	C := d.NumTags
	inv := 1.0 / float64(len(emissions))

	var total float64
	grads := make([]*mat.Dense, len(emissions))
	for b, em := range emissions {
		n := lens[b]
		gold := tags[b]

		alpha, logZ := d.forwardVars(em, n)
		beta := d.backwardVars(em, n)
		total += logZ - d.scoreSequence(em, gold, n)

		rows, _ := em.Dims()
		grad := mat.NewDense(rows, C, nil)
		for t := range n {
			row := grad.RawRowView(t)
			for j := range C {
				row[j] = inv * math.Exp(alpha[t][j]+beta[t][j]-logZ)
			}
			row[gold[t]] -= inv
		}
		grads[b] = grad

		// Start and end gradients: first/last node marginals minus the
		// gold one-hots, which the emission rows above already hold.
		for j := range C {
			d.StartGrad.Set(0, j, d.StartGrad.At(0, j)+grad.At(0, j))
			d.EndGrad.Set(0, j, d.EndGrad.At(0, j)+grad.At(n-1, j))
		}

		// Transition gradients: edge marginals minus empirical counts.
		for t := 0; t+1 < n; t++ {
			emNext := em.RawRowView(t + 1)
			for i := range C {
				for j := range C {
					marg := math.Exp(alpha[t][i] + d.Trans.At(i, j) + emNext[j] + beta[t+1][j] - logZ)
					d.TransGrad.Set(i, j, d.TransGrad.At(i, j)+inv*marg)
				}
			}
			d.TransGrad.Set(gold[t], gold[t+1], d.TransGrad.At(gold[t], gold[t+1])-inv)
		}
	}
	return total * inv, grads, nil
}
