package crf

import (
	"encoding/json"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// decoderState is the JSON form of a Decoder. Matrices are stored flat in
// row-major order; gradients are not persisted.
type decoderState struct {
	NumTags int       `json:"num_tags"`
	Trans   []float64 `json:"trans"`
	Start   []float64 `json:"start"`
	End     []float64 `json:"end"`
}

// MarshalDecoder serializes the decoder to JSON bytes.
func MarshalDecoder(d *Decoder) ([]byte, error) {
	state := decoderState{
		NumTags: d.NumTags,
		Trans:   append([]float64(nil), d.Trans.RawMatrix().Data...),
		Start:   append([]float64(nil), d.Start.RawMatrix().Data...),
		End:     append([]float64(nil), d.End.RawMatrix().Data...),
	}
	return json.Marshal(state)
}

// UnmarshalDecoder deserializes a decoder from JSON bytes.
func UnmarshalDecoder(data []byte) (*Decoder, error) {
	var state decoderState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	C := state.NumTags
	if C <= 0 {
		return nil, fmt.Errorf("invalid tag count %d", C)
	}
	if len(state.Trans) != C*C || len(state.Start) != C || len(state.End) != C {
		return nil, fmt.Errorf("parameter sizes do not match %d tags", C)
	}
	return &Decoder{
		NumTags:   C,
		Trans:     mat.NewDense(C, C, state.Trans),
		Start:     mat.NewDense(1, C, state.Start),
		End:       mat.NewDense(1, C, state.End),
		TransGrad: mat.NewDense(C, C, nil),
		StartGrad: mat.NewDense(1, C, nil),
		EndGrad:   mat.NewDense(1, C, nil),
	}, nil
}

// SaveDecoder serializes the decoder to a JSON file.
func SaveDecoder(d *Decoder, path string) error {
	data, err := MarshalDecoder(d)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadDecoder deserializes a decoder from a JSON file.
func LoadDecoder(path string) (*Decoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalDecoder(data)
}
