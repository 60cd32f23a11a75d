package crf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxReduce scans candidates in ascending tag order with a strict
// comparison, so equal scores keep the lowest tag ID.
func maxReduce(cand []float64) (float64, int) {
	best := math.Inf(-1)
	arg := 0
	for i, v := range cand {
		if v > best {
			best = v
			arg = i
		}
	}
	return best, arg
}

// decodeOne runs Viterbi over the first n emission rows and backtracks the
// best path.
func (d *Decoder) decodeOne(em *mat.Dense, n int) []int {
	delta, back := d.chain(em, n, maxReduce)

	end := d.End.RawRowView(0)
	bestScore := math.Inf(-1)
	bestTag := 0
	for j := range d.NumTags {
		if s := delta[n-1][j] + end[j]; s > bestScore {
			bestScore = s
			bestTag = j
		}
	}

	path := make([]int, n)
	path[n-1] = bestTag
	for t := n - 1; t > 0; t-- {
		path[t-1] = back[t][path[t]]
	}
	return path
}

// Decode returns the highest-scoring tag path for every sequence in the
// batch. Each path covers exactly the unmasked prefix of its sequence; score
// ties resolve to the lowest tag ID.
func (d *Decoder) Decode(emissions []*mat.Dense, mask [][]bool) ([][]int, error) {
	lens, err := d.checkBatch(emissions, nil, mask)
	if err != nil {
		return nil, err
	}
	paths := make([][]int, len(emissions))
	for b, em := range emissions {
		paths[b] = d.decodeOne(em, lens[b])
	}
	return paths, nil
}
