package metrics

import (
	"math"
	"path/filepath"
	"testing"
)

// Tags 0..2 plus padding id 3. Confusion after Add:
//
//	gold 0: pred 0 once, pred 1 once
//	gold 1: pred 1 once, pred 2 once
//	gold 2: pred 2 once
//	gold 3 (padding): skipped
//
// Class 0: P=1, R=1/2, F1=2/3. Class 1: P=1/2, R=1/2, F1=1/2.
// Class 2: P=1/2, R=1, F1=2/3. Macro F1 = 11/18.
func TestMacroHandComputed(t *testing.T) {
	c := NewConfusion(4, 3)
	if err := c.Add([]int{0, 0, 1, 1, 2, 3}, []int{0, 1, 1, 2, 2, 0}); err != nil {
		t.Fatal(err)
	}

	classes := c.PerClass()
	if len(classes) != 3 {
		t.Fatalf("per-class count = %d, want 3", len(classes))
	}
	wantF1 := []float64{2.0 / 3, 0.5, 2.0 / 3}
	wantSupport := []int{2, 2, 1}
	for i, cs := range classes {
		if math.Abs(cs.F1-wantF1[i]) > 1e-12 {
			t.Errorf("class %d F1 = %v, want %v", cs.Tag, cs.F1, wantF1[i])
		}
		if cs.Support != wantSupport[i] {
			t.Errorf("class %d support = %d, want %d", cs.Tag, cs.Support, wantSupport[i])
		}
	}

	macro := c.Macro()
	if math.Abs(macro.Precision-2.0/3) > 1e-12 {
		t.Errorf("macro precision = %v, want %v", macro.Precision, 2.0/3)
	}
	if math.Abs(macro.Recall-2.0/3) > 1e-12 {
		t.Errorf("macro recall = %v, want %v", macro.Recall, 2.0/3)
	}
	if math.Abs(macro.F1-11.0/18) > 1e-12 {
		t.Errorf("macro F1 = %v, want %v", macro.F1, 11.0/18)
	}
}

// A tag that never occurs still participates in the macro average with a
// zero score.
func TestZeroSupportDragsMacro(t *testing.T) {
	c := NewConfusion(4, 3)
	if err := c.Add([]int{0, 0}, []int{0, 0}); err != nil {
		t.Fatal(err)
	}
	if got := c.Macro().F1; math.Abs(got-1.0/3) > 1e-12 {
		t.Errorf("macro F1 = %v, want 1/3", got)
	}
}

func TestPaddingGoldSkipped(t *testing.T) {
	c := NewConfusion(3, 2)
	if err := c.Add([]int{2, 2, 2}, []int{0, 1, 2}); err != nil {
		t.Fatal(err)
	}
	for i := range c.Counts {
		for j, v := range c.Counts[i] {
			if v != 0 {
				t.Fatalf("count[%d][%d] = %d after padding-only input", i, j, v)
			}
		}
	}
	if got := c.Macro(); got.F1 != 0 || got.Precision != 0 {
		t.Errorf("macro over empty counts = %+v, want zeros", got)
	}
}

// Predicting the padding tag at a real position costs recall.
func TestPaddingPredictionCostsRecall(t *testing.T) {
	c := NewConfusion(3, 2)
	if err := c.Add([]int{0}, []int{2}); err != nil {
		t.Fatal(err)
	}
	classes := c.PerClass()
	if classes[0].Recall != 0 || classes[0].Support != 1 {
		t.Errorf("class 0 = %+v, want zero recall with support 1", classes[0])
	}
}

func TestAddValidation(t *testing.T) {
	c := NewConfusion(3, 2)
	if err := c.Add([]int{0, 1}, []int{0}); err == nil {
		t.Error("expected error for length mismatch")
	}
	if err := c.Add([]int{5}, []int{0}); err == nil {
		t.Error("expected error for gold tag out of range")
	}
	if err := c.Add([]int{0}, []int{-1}); err == nil {
		t.Error("expected error for prediction out of range")
	}
}

func TestReset(t *testing.T) {
	c := NewConfusion(3, 2)
	if err := c.Add([]int{0, 1}, []int{0, 1}); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if c.Counts[0][0] != 0 || c.Counts[1][1] != 0 {
		t.Error("counts survived Reset")
	}
}

func TestNames(t *testing.T) {
	if got := MetricName("f1", "val", "ner"); got != "f1/val-ner" {
		t.Errorf("MetricName = %q, want %q", got, "f1/val-ner")
	}
	if got := MetricName("prec", "test", "lid"); got != "prec/test-lid" {
		t.Errorf("MetricName = %q, want %q", got, "prec/test-lid")
	}
	if got := LossName("train"); got != "loss/train" {
		t.Errorf("LossName = %q, want %q", got, "loss/train")
	}
	if got := TaskLossName("ner", "train"); got != "loss-ner/train" {
		t.Errorf("TaskLossName = %q, want %q", got, "loss-ner/train")
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	var h History
	h.Append(1, map[string]float64{"loss/train": 2.5, "f1/val-ner": 0.41})
	h.Append(2, map[string]float64{"loss/train": 1.9, "f1/val-ner": 0.55})
	if err := h.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadHistory(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Records) != 2 {
		t.Fatalf("record count = %d, want 2", len(loaded.Records))
	}
	if loaded.Records[1].Epoch != 2 {
		t.Errorf("second record epoch = %d, want 2", loaded.Records[1].Epoch)
	}
	if got := loaded.Records[1].Values["f1/val-ner"]; got != 0.55 {
		t.Errorf("restored value = %v, want 0.55", got)
	}
}

func TestEarlyStopper(t *testing.T) {
	es := NewEarlyStopper(2)
	if !es.Update(0.5) {
		t.Error("first value should be an improvement")
	}
	if es.ShouldStop() {
		t.Error("should not stop after first value")
	}
	if es.Update(0.4) {
		t.Error("worse value reported as improvement")
	}
	if es.Update(0.5) {
		t.Error("matching the best should not count as improvement")
	}
	if !es.ShouldStop() {
		t.Error("should stop after two epochs without improvement")
	}
	if !es.Update(0.6) {
		t.Error("new best not recognized")
	}
	if es.ShouldStop() {
		t.Error("new best should reset patience")
	}
	if es.Best() != 0.6 {
		t.Errorf("best = %v, want 0.6", es.Best())
	}
}
