package metrics

import (
	"encoding/json"
	"fmt"
	"os"
)

// EpochRecord is one epoch worth of logged values.
type EpochRecord struct {
	Epoch  int                `json:"epoch"`
	Values map[string]float64 `json:"values"`
}

// History is the run log written next to the checkpoints.
type History struct {
	Records []EpochRecord `json:"records"`
}

// Append logs the values of one epoch. The map is copied so the caller can
// reuse it.
func (h *History) Append(epoch int, values map[string]float64) {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	h.Records = append(h.Records, EpochRecord{Epoch: epoch, Values: copied})
}

// Save writes the history as indented JSON.
func (h *History) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

// LoadHistory reads a history file written by Save.
func LoadHistory(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return &h, nil
}
