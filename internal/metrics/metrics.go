// Package metrics scores tag predictions and tracks results across a
// training run.
package metrics

import "fmt"

// Confusion accumulates gold versus predicted tag counts for one task.
// Positions whose gold tag equals the ignored id (the padding tag) are
// skipped entirely.
type Confusion struct {
	NumTags int
	Ignore  int
	Counts  [][]int // Counts[gold][pred]
}

// NewConfusion builds an empty matrix over numTags tags, excluding the
// given tag id from every average.
func NewConfusion(numTags, ignore int) *Confusion {
	c := &Confusion{NumTags: numTags, Ignore: ignore}
	c.Counts = make([][]int, numTags)
	for i := range c.Counts {
		c.Counts[i] = make([]int, numTags)
	}
	return c
}

// Add counts one sequence of predictions against its gold tags.
func (c *Confusion) Add(gold, pred []int) error {
	if len(gold) != len(pred) {
		return fmt.Errorf("length mismatch: %d gold tags, %d predictions", len(gold), len(pred))
	}
	for i := range gold {
		g, p := gold[i], pred[i]
		if g < 0 || g >= c.NumTags {
			return fmt.Errorf("gold tag %d out of range [0,%d)", g, c.NumTags)
		}
		if p < 0 || p >= c.NumTags {
			return fmt.Errorf("predicted tag %d out of range [0,%d)", p, c.NumTags)
		}
		if g == c.Ignore {
			continue
		}
		c.Counts[g][p]++
	}
	return nil
}

// Reset clears the counts for the next epoch.
func (c *Confusion) Reset() {
	for i := range c.Counts {
		for j := range c.Counts[i] {
			c.Counts[i][j] = 0
		}
	}
}

// ClassScores is the per-tag breakdown used in reports.
type ClassScores struct {
	Tag       int
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// PerClass computes precision, recall and F1 for every tag except the
// ignored one. A zero denominator yields a zero score, so tags without
// support still count toward the macro average.
func (c *Confusion) PerClass() []ClassScores {
	out := make([]ClassScores, 0, c.NumTags-1)
	for tag := range c.NumTags {
		if tag == c.Ignore {
			continue
		}
		tp := c.Counts[tag][tag]
		var fp, fn int
		for other := range c.NumTags {
			if other == tag {
				continue
			}
			fp += c.Counts[other][tag]
			fn += c.Counts[tag][other]
		}

		s := ClassScores{Tag: tag}
		for _, v := range c.Counts[tag] {
			s.Support += v
		}
		if tp+fp > 0 {
			s.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			s.Recall = float64(tp) / float64(tp+fn)
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		out = append(out, s)
	}
	return out
}

// Scores holds macro averages over the non-ignored tags.
type Scores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// Macro averages the per-class scores with equal class weight.
func (c *Confusion) Macro() Scores {
	classes := c.PerClass()
	if len(classes) == 0 {
		return Scores{}
	}
	var s Scores
	for _, cs := range classes {
		s.Precision += cs.Precision
		s.Recall += cs.Recall
		s.F1 += cs.F1
	}
	n := float64(len(classes))
	s.Precision /= n
	s.Recall /= n
	s.F1 /= n
	return s
}

// MetricName builds a tracked metric key, for example "f1/val-ner".
func MetricName(metric, split, task string) string {
	return fmt.Sprintf("%s/%s-%s", metric, split, task)
}

// LossName builds the joint loss key for a split, for example "loss/train".
func LossName(split string) string {
	return "loss/" + split
}

// TaskLossName builds the per-task loss key, for example "loss-ner/train".
func TaskLossName(task, split string) string {
	return "loss-" + task + "/" + split
}
