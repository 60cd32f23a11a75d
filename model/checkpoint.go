package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"

	"github.com/arjav2002/codemix/internal/optim"
)

// Checkpoint bundles everything needed to reuse or resume a run: the model
// configuration, every weight keyed by parameter name, and optionally the
// optimizer state. Final models are checkpoints with a nil Optim.
type Checkpoint struct {
	Config  Config
	Weights map[string][]float64
	Optim   *optim.State
	Epoch   int
	Metric  float64
}

// NewCheckpoint snapshots the model, and the optimizer when one is given.
func NewCheckpoint(m *Joint, opt *optim.AdamW, epoch int, metric float64) *Checkpoint {
	ck := &Checkpoint{
		Config:  m.cfg,
		Weights: m.Snapshot(),
		Epoch:   epoch,
		Metric:  metric,
	}
	if opt != nil {
		st := opt.State()
		ck.Optim = &st
	}
	return ck
}

// Snapshot copies every weight, frozen ones included, keyed by name.
func (m *Joint) Snapshot() map[string][]float64 {
	weights := make(map[string][]float64, len(m.all))
	for _, p := range m.all {
		r, c := p.w.Dims()
		flat := make([]float64, 0, r*c)
		for i := range r {
			flat = append(flat, p.w.RawRowView(i)...)
		}
		weights[p.Name()] = flat
	}
	return weights
}

// Restore copies weights back into the model by parameter name. A missing
// parameter or a size mismatch is an error.
func (m *Joint) Restore(weights map[string][]float64) error {
	for _, p := range m.all {
		flat, ok := weights[p.Name()]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", p.Name())
		}
		r, c := p.w.Dims()
		if len(flat) != r*c {
			return fmt.Errorf("parameter %q: %d values for %dx%d matrix", p.Name(), len(flat), r, c)
		}
		for i := range r {
			copy(p.w.RawRowView(i), flat[i*c:(i+1)*c])
		}
	}
	return nil
}

// SaveCheckpoint writes a checkpoint as a gob file.
func SaveCheckpoint(path string, ck *Checkpoint) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ck); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &ck, nil
}

// Load rebuilds a tagger from a checkpoint file. The rng only seeds
// dropout for any further training; the restored weights overwrite the
// fresh initialization.
func Load(path string, rng *rand.Rand) (*Joint, *Checkpoint, error) {
	ck, err := LoadCheckpoint(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := New(ck.Config, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild model: %w", err)
	}
	if err := m.Restore(ck.Weights); err != nil {
		return nil, nil, err
	}
	return m, ck, nil
}
