package model

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/arjav2002/codemix/internal/optim"
)

func tinyJointConfig() Config {
	return Config{
		NumNERTags: 4, // O, B-PER, I-PER plus padding
		NumLIDTags: 3, // en, hi plus padding
		Encoder:    tinyEncoderConfig(),
	}
}

// Two sequences padded to length four; the padding tag is the last id of
// each task.
func tinyBatch() (inputs, nerTags, lidTags [][]int, masks [][]bool) {
	inputs = [][]int{{1, 3, 5, 2}, {4, 2, 0, 0}}
	nerTags = [][]int{{1, 2, 0, 3}, {0, 1, 3, 3}}
	lidTags = [][]int{{0, 1, 0, 2}, {1, 0, 2, 2}}
	masks = [][]bool{{true, true, true, false}, {true, true, false, false}}
	return inputs, nerTags, lidTags, masks
}

func paramByName(t *testing.T, m *Joint, name string) *Param {
	t.Helper()
	for _, p := range m.all {
		if p.Name() == name {
			return p
		}
	}
	t.Fatalf("no parameter named %q", name)
	return nil
}

func groupByName(t *testing.T, opt *optim.AdamW, name string) optim.Group {
	t.Helper()
	for _, g := range opt.Groups() {
		if g.Name == name {
			return g
		}
	}
	t.Fatalf("no group named %q", name)
	return optim.Group{}
}

func groupHas(g optim.Group, name string) bool {
	for _, p := range g.Params {
		if p.Name() == name {
			return true
		}
	}
	return false
}

func TestOptimizerGroups(t *testing.T) {
	m, err := New(tinyJointConfig(), seededRNG(20))
	if err != nil {
		t.Fatal(err)
	}
	opt, err := m.ConfigureOptimizer(1e-3, 3e-3, 2e-3, 1e-2)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(opt.Groups()); got != 5 {
		t.Fatalf("group count = %d, want 5", got)
	}

	rates := map[string]float64{
		"encoder":   1e-3,
		"recurrent": 1e-3,
		"ner_head":  3e-3,
		"lid_head":  2e-3,
		"no_decay":  1e-3,
	}
	for name, lr := range rates {
		g := groupByName(t, opt, name)
		if g.LR != lr {
			t.Errorf("group %s lr = %v, want %v", name, g.LR, lr)
		}
		wantWD := 1e-2
		if name == "no_decay" {
			wantWD = 0
		}
		if g.WeightDecay != wantWD {
			t.Errorf("group %s weight decay = %v, want %v", name, g.WeightDecay, wantWD)
		}
	}

	members := map[string][]string{
		"encoder":   {"encoder.tok_emb", "encoder.pos_emb", "encoder.block0.attn.wq", "encoder.block0.ffn.w1"},
		"recurrent": {"encoder.lstm.fwd.wf", "encoder.lstm.bwd.wo"},
		"ner_head":  {"ner_head.w1", "ner_head.w3", "crf.ner.trans", "crf.ner.start", "crf.ner.end"},
		"lid_head":  {"lid_head.w1", "crf.lid.trans", "crf.lid.end"},
		"no_decay":  {"ner_head.b1", "lid_head.b3", "encoder.final.gamma", "encoder.block0.ln1.beta", "encoder.lstm.fwd.bf"},
	}
	for name, want := range members {
		g := groupByName(t, opt, name)
		for _, pname := range want {
			if !groupHas(g, pname) {
				t.Errorf("group %s is missing %s", name, pname)
			}
		}
	}

	total := 0
	for _, g := range opt.Groups() {
		total += len(g.Params)
	}
	if total != len(m.Params()) {
		t.Errorf("groups hold %d parameters, model has %d trainable", total, len(m.Params()))
	}
}

func TestFrozenEncoderGroups(t *testing.T) {
	cfg := tinyJointConfig()
	cfg.Encoder.Freeze = true
	m, err := New(cfg, seededRNG(21))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range m.Params() {
		if p.Role() == RoleEncoder {
			t.Fatalf("frozen model still trains %s", p.Name())
		}
	}
	opt, err := m.ConfigureOptimizer(1e-3, 3e-3, 3e-3, 1e-2)
	if err != nil {
		t.Fatal(err)
	}
	if g := groupByName(t, opt, "encoder"); len(g.Params) != 0 {
		t.Errorf("frozen encoder group holds %d parameters, want 0", len(g.Params))
	}
	noDecay := groupByName(t, opt, "no_decay")
	if groupHas(noDecay, "encoder.final.gamma") {
		t.Error("frozen norm parameter still registered")
	}
	if !groupHas(noDecay, "encoder.lstm.fwd.bf") {
		t.Error("recurrent bias missing from no_decay group")
	}
}

func TestForwardPadsEmissions(t *testing.T) {
	m, err := New(tinyJointConfig(), seededRNG(22))
	if err != nil {
		t.Fatal(err)
	}
	inputs, _, _, masks := tinyBatch()
	nerEms, lidEms, err := m.Forward(inputs, masks)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := nerEms[0].Dims(); r != 4 || c != 4 {
		t.Fatalf("ner emissions dims = %dx%d, want 4x4", r, c)
	}
	if r, c := lidEms[1].Dims(); r != 4 || c != 3 {
		t.Fatalf("lid emissions dims = %dx%d, want 4x3", r, c)
	}
	if !anyNonzero(nerEms[0]) {
		t.Fatal("emissions are identically zero")
	}
	for _, tt := range []struct {
		name string
		em   *mat.Dense
		from int
	}{
		{"ner seq 0", nerEms[0], 3},
		{"ner seq 1", nerEms[1], 2},
		{"lid seq 0", lidEms[0], 3},
		{"lid seq 1", lidEms[1], 2},
	} {
		r, _ := tt.em.Dims()
		for i := tt.from; i < r; i++ {
			for _, v := range tt.em.RawRowView(i) {
				if v != 0 {
					t.Errorf("%s: padded row %d not zero", tt.name, i)
					break
				}
			}
		}
	}
}

// Batch gradients must equal the mean of the per-sequence gradients.
func TestTrainStepMeanReduction(t *testing.T) {
	m, err := New(tinyJointConfig(), seededRNG(23))
	if err != nil {
		t.Fatal(err)
	}
	inputs, nerTags, lidTags, masks := tinyBatch()
	watch := []string{
		"encoder.tok_emb",
		"encoder.lstm.fwd.wf",
		"ner_head.w3",
		"lid_head.w1",
		"crf.ner.trans",
		"crf.lid.start",
	}

	grab := func() map[string]*mat.Dense {
		out := make(map[string]*mat.Dense, len(watch))
		for _, name := range watch {
			out[name] = mat.DenseCopyOf(paramByName(t, m, name).grad)
		}
		return out
	}

	lossAB, err := m.TrainStep(inputs, nerTags, lidTags, masks)
	if err != nil {
		t.Fatal(err)
	}
	gAB := grab()
	lossA, err := m.TrainStep(inputs[:1], nerTags[:1], lidTags[:1], masks[:1])
	if err != nil {
		t.Fatal(err)
	}
	gA := grab()
	lossB, err := m.TrainStep(inputs[1:], nerTags[1:], lidTags[1:], masks[1:])
	if err != nil {
		t.Fatal(err)
	}
	gB := grab()

	if diff := math.Abs(lossAB.NER - (lossA.NER+lossB.NER)/2); diff > 1e-9 {
		t.Errorf("batch NER loss differs from per-sequence mean by %g", diff)
	}
	if diff := math.Abs(lossAB.LID - (lossA.LID+lossB.LID)/2); diff > 1e-9 {
		t.Errorf("batch LID loss differs from per-sequence mean by %g", diff)
	}
	for _, name := range watch {
		r, c := gAB[name].Dims()
		for i := range r {
			for j := range c {
				want := (gA[name].At(i, j) + gB[name].At(i, j)) / 2
				if got := gAB[name].At(i, j); math.Abs(got-want) > 1e-9 {
					t.Fatalf("%s grad[%d,%d] = %g, want per-sequence mean %g", name, i, j, got, want)
				}
			}
		}
	}
}

func TestTrainingReducesLoss(t *testing.T) {
	m, err := New(tinyJointConfig(), seededRNG(24))
	if err != nil {
		t.Fatal(err)
	}
	opt, err := m.ConfigureOptimizer(1e-3, 3e-3, 3e-3, 1e-2)
	if err != nil {
		t.Fatal(err)
	}
	inputs, nerTags, lidTags, masks := tinyBatch()

	first, err := m.TrainStep(inputs, nerTags, lidTags, masks)
	if err != nil {
		t.Fatal(err)
	}
	if first.NER < 0 || first.LID < 0 {
		t.Fatalf("negative loss: %+v", first)
	}
	opt.Step()

	last := first
	for range 60 {
		last, err = m.TrainStep(inputs, nerTags, lidTags, masks)
		if err != nil {
			t.Fatal(err)
		}
		opt.Step()
	}
	if math.IsNaN(last.Total()) || math.IsInf(last.Total(), 0) {
		t.Fatalf("loss diverged: %+v", last)
	}
	if last.Total() >= first.Total() {
		t.Errorf("loss did not decrease: first %.6f, last %.6f", first.Total(), last.Total())
	}
}

func TestEvalStepDecodesPrefixes(t *testing.T) {
	m, err := New(tinyJointConfig(), seededRNG(25))
	if err != nil {
		t.Fatal(err)
	}
	inputs, nerTags, lidTags, masks := tinyBatch()
	losses, nerPred, lidPred, err := m.EvalStep(inputs, nerTags, lidTags, masks)
	if err != nil {
		t.Fatal(err)
	}
	if losses.NER < 0 || losses.LID < 0 {
		t.Errorf("negative eval loss: %+v", losses)
	}
	wantLens := []int{3, 2}
	for i, want := range wantLens {
		if len(nerPred[i]) != want || len(lidPred[i]) != want {
			t.Fatalf("sequence %d: predicted lengths %d/%d, want %d", i, len(nerPred[i]), len(lidPred[i]), want)
		}
		for _, tag := range nerPred[i] {
			if tag < 0 || tag >= 4 {
				t.Errorf("sequence %d: ner tag %d out of range", i, tag)
			}
		}
		for _, tag := range lidPred[i] {
			if tag < 0 || tag >= 3 {
				t.Errorf("sequence %d: lid tag %d out of range", i, tag)
			}
		}
	}

	nerOnly, lidOnly, err := m.Predict(inputs, masks)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range wantLens {
		if len(nerOnly[i]) != want || len(lidOnly[i]) != want {
			t.Errorf("Predict sequence %d: lengths %d/%d, want %d", i, len(nerOnly[i]), len(lidOnly[i]), want)
		}
	}
}

// A restored checkpoint must continue training exactly like the original.
func TestCheckpointResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ck.gob")
	inputs, nerTags, lidTags, masks := tinyBatch()

	m1, err := New(tinyJointConfig(), seededRNG(26))
	if err != nil {
		t.Fatal(err)
	}
	opt1, err := m1.ConfigureOptimizer(1e-3, 3e-3, 3e-3, 1e-2)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := m1.TrainStep(inputs, nerTags, lidTags, masks); err != nil {
			t.Fatal(err)
		}
		opt1.Step()
	}
	if err := SaveCheckpoint(path, NewCheckpoint(m1, opt1, 3, 0.42)); err != nil {
		t.Fatal(err)
	}

	m2, ck, err := Load(path, seededRNG(99))
	if err != nil {
		t.Fatal(err)
	}
	if ck.Epoch != 3 || ck.Metric != 0.42 {
		t.Errorf("checkpoint metadata = epoch %d metric %v, want 3 and 0.42", ck.Epoch, ck.Metric)
	}
	if ck.Optim == nil {
		t.Fatal("checkpoint lost optimizer state")
	}
	opt2, err := m2.ConfigureOptimizer(1e-3, 3e-3, 3e-3, 1e-2)
	if err != nil {
		t.Fatal(err)
	}
	if err := opt2.LoadState(*ck.Optim); err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := m1.TrainStep(inputs, nerTags, lidTags, masks); err != nil {
			t.Fatal(err)
		}
		opt1.Step()
		if _, err := m2.TrainStep(inputs, nerTags, lidTags, masks); err != nil {
			t.Fatal(err)
		}
		opt2.Step()
	}

	w1, w2 := m1.Snapshot(), m2.Snapshot()
	if len(w1) != len(w2) {
		t.Fatalf("snapshots hold %d and %d parameters", len(w1), len(w2))
	}
	for name, flat1 := range w1 {
		flat2 := w2[name]
		if len(flat1) != len(flat2) {
			t.Fatalf("%s: size %d vs %d", name, len(flat1), len(flat2))
		}
		for k := range flat1 {
			if flat1[k] != flat2[k] {
				t.Fatalf("%s diverged after resume at index %d: %v vs %v", name, k, flat1[k], flat2[k])
			}
		}
	}
}

func TestJointValidation(t *testing.T) {
	if _, err := New(Config{NumNERTags: 1, NumLIDTags: 3, Encoder: tinyEncoderConfig()}, seededRNG(27)); err == nil {
		t.Error("expected error for single NER tag")
	}
	if _, err := New(Config{NumNERTags: 4, NumLIDTags: 1, Encoder: tinyEncoderConfig()}, seededRNG(27)); err == nil {
		t.Error("expected error for single LID tag")
	}
	cfg := tinyJointConfig()
	cfg.Encoder.VocabSize = 0
	if _, err := New(cfg, seededRNG(27)); err == nil {
		t.Error("expected error for empty vocabulary")
	}

	m, err := New(tinyJointConfig(), seededRNG(28))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.TrainStep(nil, nil, nil, nil); err == nil {
		t.Error("expected error for empty batch")
	}
	inputs, nerTags, lidTags, masks := tinyBatch()
	if _, err := m.TrainStep(inputs, nerTags[:1], lidTags, masks); err == nil {
		t.Error("expected error for mismatched batch sizes")
	}
	gap := [][]bool{{true, false, true, false}, masks[1]}
	if _, err := m.TrainStep(inputs, nerTags, lidTags, gap); err == nil {
		t.Error("expected error for non-contiguous mask")
	}
}
