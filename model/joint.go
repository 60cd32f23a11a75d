package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/arjav2002/codemix/crf"
	"github.com/arjav2002/codemix/internal/optim"
)

// Config describes a complete tagger: the label space of each task
// (including the padding tag) and the shared encoder shape.
type Config struct {
	NumNERTags int           `json:"num_ner_tags"`
	NumLIDTags int           `json:"num_lid_tags"`
	Encoder    EncoderConfig `json:"encoder"`
}

// Losses holds the per-task losses of one step. The joint training loss is
// their plain sum.
type Losses struct {
	NER float64
	LID float64
}

// Total returns the joint loss.
func (l Losses) Total() float64 { return l.NER + l.LID }

// Joint is the full tagger: one shared encoder feeding an NER head and a
// LID head, each scored by its own CRF decoder. The pieces are wired
// together here and nowhere else.
type Joint struct {
	cfg Config

	Enc        *Encoder
	NERHead    *Head
	LIDHead    *Head
	NERDecoder *crf.Decoder
	LIDDecoder *crf.Decoder

	all       []*Param
	trainable []*Param
}

// New builds a freshly initialized tagger. With cfg.Encoder.Freeze set the
// transformer parameters are excluded from training; the BiLSTM, the heads
// and the decoders always train.
func New(cfg Config, rng *rand.Rand) (*Joint, error) {
	if cfg.NumNERTags < 2 {
		return nil, fmt.Errorf("need at least one NER tag plus padding, got %d", cfg.NumNERTags)
	}
	if cfg.NumLIDTags < 2 {
		return nil, fmt.Errorf("need at least one LID tag plus padding, got %d", cfg.NumLIDTags)
	}
	if cfg.Encoder.VocabSize <= 0 {
		return nil, fmt.Errorf("encoder vocab size must be positive, got %d", cfg.Encoder.VocabSize)
	}

	m := &Joint{
		cfg: cfg,
		Enc: NewEncoder(cfg.Encoder, rng),
	}
	m.NERHead = NewHead("ner_head", RoleNERHead, m.Enc.OutputDim(), cfg.NumNERTags, rng)
	m.LIDHead = NewHead("lid_head", RoleLIDHead, m.Enc.OutputDim(), cfg.NumLIDTags, rng)
	m.NERDecoder = crf.NewDecoder(cfg.NumNERTags, rng)
	m.LIDDecoder = crf.NewDecoder(cfg.NumLIDTags, rng)

	m.all = m.Enc.Params()
	m.all = append(m.all, m.NERHead.Params()...)
	m.all = append(m.all, m.LIDHead.Params()...)
	m.all = append(m.all, decoderParams("crf.ner", m.NERDecoder, RoleNERHead)...)
	m.all = append(m.all, decoderParams("crf.lid", m.LIDDecoder, RoleLIDHead)...)

	for _, p := range m.all {
		if cfg.Encoder.Freeze && p.Role() == RoleEncoder {
			continue
		}
		m.trainable = append(m.trainable, p)
	}
	return m, nil
}

// decoderParams exposes the CRF tables as parameters of the owning task so
// they train at the task learning rate alongside the head.
func decoderParams(prefix string, d *crf.Decoder, role Role) []*Param {
	return []*Param{
		wrapParam(prefix+".trans", d.Trans, d.TransGrad, role, false),
		wrapParam(prefix+".start", d.Start, d.StartGrad, role, false),
		wrapParam(prefix+".end", d.End, d.EndGrad, role, false),
	}
}

// Config returns the configuration the tagger was built with.
func (m *Joint) Config() Config { return m.cfg }

// SetTraining switches dropout in the encoder on or off.
func (m *Joint) SetTraining(v bool) { m.Enc.SetTraining(v) }

// Params returns the trainable parameters. Frozen transformer weights are
// not included.
func (m *Joint) Params() []*Param { return m.trainable }

// ZeroGrad clears every gradient, including the CRF tables.
func (m *Joint) ZeroGrad() {
	for _, p := range m.all {
		p.ZeroGrad()
	}
}

// Forward encodes a batch and returns one emission matrix per task and
// sequence, padded with zero rows to the mask length so downstream CRF
// calls can use the batch masks unchanged.
func (m *Joint) Forward(inputs [][]int, masks [][]bool) (nerEms, lidEms []*mat.Dense, err error) {
	if len(inputs) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	if len(masks) != len(inputs) {
		return nil, nil, fmt.Errorf("batch size mismatch: %d inputs, %d masks", len(inputs), len(masks))
	}
	nerEms = make([]*mat.Dense, len(inputs))
	lidEms = make([]*mat.Dense, len(inputs))
	for i := range inputs {
		n, err := crf.MaskLen(masks[i])
		if err != nil {
			return nil, nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		if len(inputs[i]) < n {
			return nil, nil, fmt.Errorf("sequence %d: %d ids for %d unmasked positions", i, len(inputs[i]), n)
		}
		shared := m.Enc.Forward(inputs[i][:n])
		nerEms[i] = padRows(m.NERHead.Forward(shared), len(masks[i]))
		lidEms[i] = padRows(m.LIDHead.Forward(shared), len(masks[i]))
	}
	return nerEms, lidEms, nil
}

// TrainStep runs one optimization step worth of work: forward and backward
// over the batch, leaving mean-reduced gradients in place. The caller
// applies the optimizer afterwards. Sequences are processed one at a time
// so every layer backward sees the caches of its own forward; gradients
// accumulate unscaled and are divided by the batch size at the end.
func (m *Joint) TrainStep(inputs, nerTags, lidTags [][]int, masks [][]bool) (Losses, error) {
	B := len(inputs)
	if B == 0 {
		return Losses{}, fmt.Errorf("empty batch")
	}
	if len(nerTags) != B || len(lidTags) != B || len(masks) != B {
		return Losses{}, fmt.Errorf("batch size mismatch: %d inputs, %d ner tags, %d lid tags, %d masks",
			B, len(nerTags), len(lidTags), len(masks))
	}
	m.ZeroGrad()

	var losses Losses
	for i := range inputs {
		n, err := crf.MaskLen(masks[i])
		if err != nil {
			return Losses{}, fmt.Errorf("sequence %d: %w", i, err)
		}
		if len(inputs[i]) < n || len(nerTags[i]) < n || len(lidTags[i]) < n {
			return Losses{}, fmt.Errorf("sequence %d: mask selects %d positions but inputs or tags are shorter", i, n)
		}

		shared := m.Enc.Forward(inputs[i][:n])
		nerEm := m.NERHead.Forward(shared)
		lidEm := m.LIDHead.Forward(shared)

		seqMask := [][]bool{trueMask(n)}
		nerLoss, dNER, err := m.NERDecoder.Backward([]*mat.Dense{nerEm}, [][]int{nerTags[i][:n]}, seqMask)
		if err != nil {
			return Losses{}, fmt.Errorf("sequence %d: ner: %w", i, err)
		}
		lidLoss, dLID, err := m.LIDDecoder.Backward([]*mat.Dense{lidEm}, [][]int{lidTags[i][:n]}, seqMask)
		if err != nil {
			return Losses{}, fmt.Errorf("sequence %d: lid: %w", i, err)
		}

		dShared := m.NERHead.Backward(dNER[0])
		dShared.Add(dShared, m.LIDHead.Backward(dLID[0]))
		m.Enc.Backward(dShared)

		losses.NER += nerLoss
		losses.LID += lidLoss
	}

	inv := 1.0 / float64(B)
	for _, p := range m.all {
		p.grad.Scale(inv, p.grad)
	}
	losses.NER *= inv
	losses.LID *= inv
	return losses, nil
}

// EvalStep computes losses and decoded tag paths for a batch without
// touching any gradient.
func (m *Joint) EvalStep(inputs, nerTags, lidTags [][]int, masks [][]bool) (Losses, [][]int, [][]int, error) {
	nerEms, lidEms, err := m.Forward(inputs, masks)
	if err != nil {
		return Losses{}, nil, nil, err
	}
	var losses Losses
	if losses.NER, err = m.NERDecoder.NegativeLogLikelihood(nerEms, nerTags, masks); err != nil {
		return Losses{}, nil, nil, fmt.Errorf("ner: %w", err)
	}
	if losses.LID, err = m.LIDDecoder.NegativeLogLikelihood(lidEms, lidTags, masks); err != nil {
		return Losses{}, nil, nil, fmt.Errorf("lid: %w", err)
	}
	nerPred, err := m.NERDecoder.Decode(nerEms, masks)
	if err != nil {
		return Losses{}, nil, nil, fmt.Errorf("ner: %w", err)
	}
	lidPred, err := m.LIDDecoder.Decode(lidEms, masks)
	if err != nil {
		return Losses{}, nil, nil, fmt.Errorf("lid: %w", err)
	}
	return losses, nerPred, lidPred, nil
}

// Predict decodes tag paths for inputs without gold labels.
func (m *Joint) Predict(inputs [][]int, masks [][]bool) ([][]int, [][]int, error) {
	nerEms, lidEms, err := m.Forward(inputs, masks)
	if err != nil {
		return nil, nil, err
	}
	nerPred, err := m.NERDecoder.Decode(nerEms, masks)
	if err != nil {
		return nil, nil, fmt.Errorf("ner: %w", err)
	}
	lidPred, err := m.LIDDecoder.Decode(lidEms, masks)
	if err != nil {
		return nil, nil, fmt.Errorf("lid: %w", err)
	}
	return nerPred, lidPred, nil
}

// ConfigureOptimizer builds the AdamW optimizer with the five parameter
// groups used for training: transformer and BiLSTM at the base rate, each
// head with its CRF tables at its own rate, and every bias and norm
// parameter at the base rate without weight decay.
func (m *Joint) ConfigureOptimizer(baseLR, nerLR, lidLR, weightDecay float64) (*optim.AdamW, error) {
	var encoder, recurrent, ner, lid, noDecay []optim.Parameter
	for _, p := range m.trainable {
		switch {
		case p.NoDecay():
			noDecay = append(noDecay, p)
		case p.Role() == RoleEncoder:
			encoder = append(encoder, p)
		case p.Role() == RoleRecurrent:
			recurrent = append(recurrent, p)
		case p.Role() == RoleNERHead:
			ner = append(ner, p)
		case p.Role() == RoleLIDHead:
			lid = append(lid, p)
		default:
			return nil, fmt.Errorf("parameter %q has no optimizer group", p.Name())
		}
	}
	return optim.NewAdamW([]optim.Group{
		{Name: "encoder", LR: baseLR, WeightDecay: weightDecay, Params: encoder},
		{Name: "recurrent", LR: baseLR, WeightDecay: weightDecay, Params: recurrent},
		{Name: "ner_head", LR: nerLR, WeightDecay: weightDecay, Params: ner},
		{Name: "lid_head", LR: lidLR, WeightDecay: weightDecay, Params: lid},
		{Name: "no_decay", LR: baseLR, WeightDecay: 0, Params: noDecay},
	})
}

func trueMask(n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	return mask
}

func padRows(m *mat.Dense, total int) *mat.Dense {
	r, c := m.Dims()
	if r == total {
		return m
	}
	out := mat.NewDense(total, c, nil)
	for t := range r {
		copy(out.RawRowView(t), m.RawRowView(t))
	}
	return out
}
