package metrics

// EarlyStopper watches a maximized metric and signals when it has stopped
// improving for a row of epochs.
type EarlyStopper struct {
	patience int
	best     float64
	bad      int
	seen     bool
}

// NewEarlyStopper allows patience epochs without improvement before
// ShouldStop turns true.
func NewEarlyStopper(patience int) *EarlyStopper {
	return &EarlyStopper{patience: patience}
}

// Update feeds the latest value and reports whether it is a new best.
// Matching the previous best does not count as improvement.
func (e *EarlyStopper) Update(value float64) bool {
	if !e.seen || value > e.best {
		e.best = value
		e.bad = 0
		e.seen = true
		return true
	}
	e.bad++
	return false
}

// ShouldStop reports whether patience is exhausted.
func (e *EarlyStopper) ShouldStop() bool {
	return e.seen && e.bad >= e.patience
}

// Best returns the best value seen so far.
func (e *EarlyStopper) Best() float64 {
	return e.best
}
