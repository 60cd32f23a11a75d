package codemix

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/arjav2002/codemix/crf"
	"github.com/arjav2002/codemix/internal/data"
	"github.com/arjav2002/codemix/internal/metrics"
	"github.com/arjav2002/codemix/model"
)

// TrainConfig holds every training hyperparameter. Zero values are not
// filled in, so start from DefaultTrainConfig and override.
type TrainConfig struct {
	DatasetDir string `json:"dataset_dir"`
	OutputDir  string `json:"output_dir"`
	RunName    string `json:"run_name"`

	Epochs      int     `json:"epochs"`
	LR          float64 `json:"lr"`
	NERLR       float64 `json:"ner_lr"`
	LIDLR       float64 `json:"lid_lr"`
	WeightDecay float64 `json:"weight_decay"`
	Dropout     float64 `json:"dropout"`
	BatchSize   int     `json:"batch_size"`
	MaxSeqLen   int     `json:"max_seq_len"`
	VocabSize   int     `json:"vocab_size"`
	Freeze      bool    `json:"freeze"`
	Patience    int     `json:"patience"`
	Seed        int64   `json:"seed"`

	// Encoder sets the transformer and BiLSTM shape. Vocabulary size,
	// sequence length, dropout and the freeze flag are taken from the
	// fields above when the model is built.
	Encoder model.EncoderConfig `json:"encoder"`
}

// DefaultTrainConfig returns the training defaults.
func DefaultTrainConfig() *TrainConfig {
	return &TrainConfig{
		DatasetDir:  "data",
		OutputDir:   "runs",
		Epochs:      50,
		LR:          1e-3,
		NERLR:       3e-3,
		LIDLR:       3e-3,
		WeightDecay: 1e-2,
		Dropout:     0.1,
		BatchSize:   32,
		MaxSeqLen:   128,
		VocabSize:   8000,
		Patience:    5,
		Seed:        42,
		Encoder:     model.DefaultEncoderConfig(),
	}
}

// EvalConfig holds configuration for evaluating a trained model on a split.
type EvalConfig struct {
	ModelDir   string
	DatasetDir string
	Split      string
	BatchSize  int
	MaxSeqLen  int
}

// DefaultEvalConfig returns the evaluation defaults. An empty ModelDir
// triggers the same model directory search New uses.
func DefaultEvalConfig() *EvalConfig {
	return &EvalConfig{
		DatasetDir: "data",
		Split:      "test",
		BatchSize:  32,
		MaxSeqLen:  128,
	}
}

// TaskReport is the per-task evaluation breakdown: per-class scores keyed by
// tag name, the confusion counts and the macro averages. The padding tag is
// excluded throughout.
type TaskReport struct {
	Task      string
	Classes   []string
	Confusion map[string]map[string]int
	Precision map[string]float64
	Recall    map[string]float64
	F1        map[string]float64
	Macro     metrics.Scores
}

// EvalReport holds the evaluation results of one split for both tasks.
type EvalReport struct {
	Split  string
	Loss   float64
	Losses model.Losses
	NER    TaskReport
	LID    TaskReport
}

// TrainResult summarizes a finished training run.
type TrainResult struct {
	RunDir     string
	BestPath   string
	BestEpoch  int
	BestMetric float64
	Stopped    bool
	History    *metrics.History
	Test       *EvalReport
}

// Train runs the full training loop: it fits a subword tokenizer, trains the
// joint tagger with early stopping on the validation NER F1, keeps the three
// best checkpoints plus the last one, then reloads the best checkpoint,
// exports it as the run's model and evaluates it on the test split.
func Train(cfg *TrainConfig) (*TrainResult, error) {
	if cfg == nil {
		cfg = DefaultTrainConfig()
	}
	if cfg.RunName == "" {
		return nil, fmt.Errorf("codemix: run name is required")
	}
	if cfg.Epochs < 1 {
		return nil, fmt.Errorf("codemix: need at least one epoch, got %d", cfg.Epochs)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	corpus, err := data.NewStore(cfg.DatasetDir).Load()
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	trainSents, err := corpus.Split("train")
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	valSents, err := corpus.Split("val")
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	testSents, err := corpus.Split("test")
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}

	runDir := filepath.Join(cfg.OutputDir, cfg.RunName)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, "config.json"), raw, 0o644); err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}

	tok, err := data.TrainOrLoadTokenizer(trainSents, filepath.Join(runDir, tokenizerFile), cfg.VocabSize)
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}

	encCfg := cfg.Encoder
	encCfg.VocabSize = tok.VocabSize()
	encCfg.MaxLen = cfg.MaxSeqLen
	encCfg.Dropout = cfg.Dropout
	encCfg.Freeze = cfg.Freeze

	m, err := model.New(model.Config{
		NumNERTags: corpus.NER.Size(),
		NumLIDTags: corpus.LID.Size(),
		Encoder:    encCfg,
	}, rng)
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	opt, err := m.ConfigureOptimizer(cfg.LR, cfg.NERLR, cfg.LIDLR, cfg.WeightDecay)
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	batcher := data.NewBatcher(tok, corpus.NER, corpus.LID, cfg.MaxSeqLen, cfg.BatchSize)

	slog.Info("Training tagger",
		"run", cfg.RunName,
		"train", len(trainSents), "val", len(valSents),
		"vocab", tok.VocabSize(),
		"params", len(m.Params()),
		"freeze", cfg.Freeze)

	monitored := metrics.MetricName("f1", "val", "ner")
	stopper := metrics.NewEarlyStopper(cfg.Patience)
	history := &metrics.History{}
	result := &TrainResult{RunDir: runDir, History: history}
	var top []checkpointRef

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		m.SetTraining(true)
		data.Shuffle(trainSents, rng)
		batches, err := batcher.Batches(trainSents)
		if err != nil {
			return nil, fmt.Errorf("codemix: %w", err)
		}
		for step, batch := range batches {
			m.ZeroGrad()
			losses, err := m.TrainStep(batch.Inputs, batch.NERTags, batch.LIDTags, batch.Masks)
			if err != nil {
				return nil, fmt.Errorf("codemix: epoch %d step %d: %w", epoch, step, err)
			}
			opt.Step()
			if (step+1)%20 == 0 {
				slog.Debug("train step", "epoch", epoch, "step", step+1,
					"loss", losses.Total(), "ner", losses.NER, "lid", losses.LID)
			}
		}

		m.SetTraining(false)
		values := make(map[string]float64)
		trainEval, err := evalSplit(m, batcher, trainSents, corpus)
		if err != nil {
			return nil, fmt.Errorf("codemix: %w", err)
		}
		trainEval.addTo(values, "train")
		valEval, err := evalSplit(m, batcher, valSents, corpus)
		if err != nil {
			return nil, fmt.Errorf("codemix: %w", err)
		}
		valEval.addTo(values, "val")
		history.Append(epoch, values)
		if err := history.Save(filepath.Join(runDir, "metrics.json")); err != nil {
			return nil, fmt.Errorf("codemix: %w", err)
		}

		score := values[monitored]
		improved := stopper.Update(score)
		slog.Info("Epoch finished",
			"epoch", epoch,
			"duration", time.Since(start),
			metrics.LossName("train"), values[metrics.LossName("train")],
			metrics.LossName("val"), values[metrics.LossName("val")],
			monitored, score,
			"improved", improved)

		ck := model.NewCheckpoint(m, opt, epoch, score)
		if err := model.SaveCheckpoint(filepath.Join(runDir, "last.gob"), ck); err != nil {
			return nil, fmt.Errorf("codemix: %w", err)
		}
		if top, err = keepTopK(runDir, top, ck, 3); err != nil {
			return nil, fmt.Errorf("codemix: %w", err)
		}
		if improved {
			result.BestEpoch = epoch
			result.BestMetric = score
		}
		if stopper.ShouldStop() {
			slog.Info("Early stopping", "epoch", epoch, "best", stopper.Best())
			result.Stopped = true
			break
		}
	}
	result.BestPath = top[0].path

	best, ck, err := model.Load(result.BestPath, rng)
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	best.SetTraining(false)
	tagger := &Tagger{
		model:     best,
		tok:       tok,
		ner:       corpus.NER,
		lid:       corpus.LID,
		languages: corpus.Languages,
		epoch:     ck.Epoch,
		metric:    ck.Metric,
	}
	if err := tagger.Save(runDir); err != nil {
		return nil, err
	}

	report, err := evalReport(best, batcher, testSents, corpus, "test")
	if err != nil {
		return nil, err
	}
	result.Test = report
	slog.Info("Test evaluation",
		"best_epoch", ck.Epoch,
		metrics.LossName("test"), report.Loss,
		metrics.MetricName("f1", "test", "ner"), report.NER.Macro.F1,
		metrics.MetricName("f1", "test", "lid"), report.LID.Macro.F1)
	return result, nil
}

// Evaluate loads a trained tagger and scores it on one dataset split.
func Evaluate(cfg *EvalConfig) (*EvalReport, error) {
	if cfg == nil {
		cfg = DefaultEvalConfig()
	}
	dir := cfg.ModelDir
	if dir == "" {
		var err error
		if dir, err = findModelDir("model"); err != nil {
			return nil, fmt.Errorf("codemix: %w", err)
		}
	}
	t, err := Load(dir)
	if err != nil {
		return nil, err
	}

	corpus, err := data.NewStore(cfg.DatasetDir).Load()
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	if !sameAlphabet(t.ner, corpus.NER) {
		return nil, fmt.Errorf("codemix: dataset ner tags do not match the model")
	}
	if !sameAlphabet(t.lid, corpus.LID) {
		return nil, fmt.Errorf("codemix: dataset lid tags do not match the model")
	}
	sentences, err := corpus.Split(cfg.Split)
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}

	t.model.SetTraining(false)
	batcher := data.NewBatcher(t.tok, corpus.NER, corpus.LID, cfg.MaxSeqLen, cfg.BatchSize)
	return evalReport(t.model, batcher, sentences, corpus, cfg.Split)
}

func sameAlphabet(a, b *crf.Alphabet) bool {
	if a.Size() != b.Size() {
		return false
	}
	for i, s := range a.ToStr {
		if b.ToStr[i] != s {
			return false
		}
	}
	return true
}

// splitEval is the raw evaluation of one split: the mean losses and one
// confusion matrix per task.
type splitEval struct {
	losses model.Losses
	ner    *metrics.Confusion
	lid    *metrics.Confusion
}

func evalSplit(m *model.Joint, b *data.Batcher, sentences []data.Sentence, corpus *data.Corpus) (*splitEval, error) {
	batches, err := b.Batches(sentences)
	if err != nil {
		return nil, err
	}
	ev := &splitEval{
		ner: metrics.NewConfusion(corpus.NER.Size(), corpus.NERPadID()),
		lid: metrics.NewConfusion(corpus.LID.Size(), corpus.LIDPadID()),
	}
	var count int
	for _, batch := range batches {
		losses, nerPred, lidPred, err := m.EvalStep(batch.Inputs, batch.NERTags, batch.LIDTags, batch.Masks)
		if err != nil {
			return nil, err
		}
		ev.losses.NER += losses.NER * float64(batch.Size())
		ev.losses.LID += losses.LID * float64(batch.Size())
		count += batch.Size()
		for i := range nerPred {
			if err := ev.ner.Add(batch.NERTags[i][:len(nerPred[i])], nerPred[i]); err != nil {
				return nil, err
			}
			if err := ev.lid.Add(batch.LIDTags[i][:len(lidPred[i])], lidPred[i]); err != nil {
				return nil, err
			}
		}
	}
	if count > 0 {
		ev.losses.NER /= float64(count)
		ev.losses.LID /= float64(count)
	}
	return ev, nil
}

// addTo writes the split's tracked metrics into the epoch value map.
func (ev *splitEval) addTo(values map[string]float64, split string) {
	values[metrics.LossName(split)] = ev.losses.Total()
	values[metrics.TaskLossName("ner", split)] = ev.losses.NER
	values[metrics.TaskLossName("lid", split)] = ev.losses.LID
	for task, conf := range map[string]*metrics.Confusion{"ner": ev.ner, "lid": ev.lid} {
		s := conf.Macro()
		values[metrics.MetricName("prec", split, task)] = s.Precision
		values[metrics.MetricName("rec", split, task)] = s.Recall
		values[metrics.MetricName("f1", split, task)] = s.F1
	}
}

func evalReport(m *model.Joint, b *data.Batcher, sentences []data.Sentence, corpus *data.Corpus, split string) (*EvalReport, error) {
	ev, err := evalSplit(m, b, sentences, corpus)
	if err != nil {
		return nil, fmt.Errorf("codemix: %w", err)
	}
	return &EvalReport{
		Split:  split,
		Loss:   ev.losses.Total(),
		Losses: ev.losses,
		NER:    buildTaskReport("ner", ev.ner, corpus.NER),
		LID:    buildTaskReport("lid", ev.lid, corpus.LID),
	}, nil
}

func buildTaskReport(task string, conf *metrics.Confusion, tags *crf.Alphabet) TaskReport {
	r := TaskReport{
		Task:      task,
		Confusion: make(map[string]map[string]int),
		Precision: make(map[string]float64),
		Recall:    make(map[string]float64),
		F1:        make(map[string]float64),
		Macro:     conf.Macro(),
	}
	for _, s := range conf.PerClass() {
		name := tags.ToStr[s.Tag]
		r.Classes = append(r.Classes, name)
		r.Precision[name] = s.Precision
		r.Recall[name] = s.Recall
		r.F1[name] = s.F1
		row := make(map[string]int)
		for pred, n := range conf.Counts[s.Tag] {
			if n > 0 {
				row[tags.ToStr[pred]] = n
			}
		}
		r.Confusion[name] = row
	}
	return r
}

// checkpointRef tracks one saved checkpoint for top-k pruning.
type checkpointRef struct {
	path   string
	metric float64
	epoch  int
}

// keepTopK writes ck when it ranks among the best k checkpoints by the
// monitored metric and deletes the one it displaces. Ties keep the earlier
// epoch.
func keepTopK(dir string, top []checkpointRef, ck *model.Checkpoint, k int) ([]checkpointRef, error) {
	path := filepath.Join(dir, fmt.Sprintf("epoch%03d-f1=%.4f.gob", ck.Epoch, ck.Metric))
	top = append(top, checkpointRef{path: path, metric: ck.Metric, epoch: ck.Epoch})
	sort.Slice(top, func(i, j int) bool {
		if top[i].metric != top[j].metric {
			return top[i].metric > top[j].metric
		}
		return top[i].epoch < top[j].epoch
	})
	if len(top) > k {
		drop := top[len(top)-1]
		top = top[:len(top)-1]
		if drop.path == path {
			return top, nil
		}
		if err := os.Remove(drop.path); err != nil && !os.IsNotExist(err) {
			return top, fmt.Errorf("prune checkpoint: %w", err)
		}
	}
	if err := model.SaveCheckpoint(path, ck); err != nil {
		return top, err
	}
	return top, nil
}
