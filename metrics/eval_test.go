package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/decoder"
	"github.com/sunilsivadas/neural-sp/model"
	"github.com/sunilsivadas/neural-sp/vocab"
)

func evalConfig() *config.Config {
	cfg := config.Default()
	cfg.InputChannel = 3
	cfg.UseDelta = false
	cfg.UseDoubleDelta = false
	cfg.Splice = 1
	cfg.NumStack = 1
	cfg.NumSkip = 1
	cfg.MinFrameNum = 0
	cfg.DynamicBatching = false
	cfg.NumUnits = 4
	cfg.NumLayers = 1
	cfg.DropoutInput = 0
	cfg.DropoutHidden = 0
	return &cfg
}

func evalVocab(t *testing.T) *vocab.Vocab {
	t.Helper()
	v, err := vocab.New([]string{"ア", "イ", "ウ"})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func synthFeats(n, dim int) [][]float64 {
	feats := make([][]float64, n)
	for t := range feats {
		row := make([]float64, dim)
		for d := range row {
			row[d] = float64(t%16) + float64(d)*0.25
		}
		feats[t] = row
	}
	return feats
}

func writeEvalCorpus(t *testing.T, dir string, cfg *config.Config, split string, frames []int, texts []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "feats"), 0o755); err != nil {
		t.Fatal(err)
	}
	splitDir := filepath.Join(dir, cfg.DataSize, cfg.LabelType)
	if err := os.MkdirAll(splitDir, 0o755); err != nil {
		t.Fatal(err)
	}
	utts := make([]corpus.Utterance, len(frames))
	for i, n := range frames {
		id := fmt.Sprintf("%s_%03d", split, i)
		rel := filepath.Join("feats", id+".htk")
		if err := corpus.WriteHTK(filepath.Join(dir, rel), synthFeats(n, cfg.InputChannel), corpus.HTKKindFBank); err != nil {
			t.Fatal(err)
		}
		utts[i] = corpus.Utterance{ID: id, FeatPath: rel, NumFrames: n, Text: texts[i]}
	}
	if err := corpus.WriteManifest(filepath.Join(splitDir, split+".csv"), utts); err != nil {
		t.Fatal(err)
	}
}

func evalSetup(t *testing.T) (*model.Model, *corpus.Dataset) {
	t.Helper()
	dir := t.TempDir()
	cfg := evalConfig()
	voc := evalVocab(t)
	frames := []int{12, 9, 15, 10, 8}
	texts := []string{"ア", "イ", "ウ", "ア イ", "イ ウ"}
	writeEvalCorpus(t, dir, cfg, "eval1", frames, texts)

	ds, err := corpus.Open(cfg, dir, "eval1", 2, voc)
	if err != nil {
		t.Fatalf("corpus.Open: %v", err)
	}
	m, err := model.New(cfg, voc.NumClasses(), 1)
	if err != nil {
		t.Fatalf("model.New: %v", err)
	}
	return m, ds
}

func TestEvaluateFullSet(t *testing.T) {
	m, ds := evalSetup(t)
	cfg := Config{
		Beam:    decoder.Config{BeamWidth: 1, MaxDecodeLen: 150},
		Workers: 2,
	}

	rep, err := Evaluate(context.Background(), m, ds, cfg)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if rep.Split != "eval1" {
		t.Errorf("Split = %q, want eval1", rep.Split)
	}
	if rep.N != 5 {
		t.Errorf("N = %d, want 5", rep.N)
	}
	// Reference lengths are fixed by the transcripts regardless of what
	// the untrained model emits.
	if rep.Chars.RefLen != 7 {
		t.Errorf("Chars.RefLen = %d, want 7", rep.Chars.RefLen)
	}
	if rep.Words.RefLen != 7 {
		t.Errorf("Words.RefLen = %d, want 7", rep.Words.RefLen)
	}
	if rep.CER() < 0 || rep.WER() < 0 {
		t.Errorf("negative rates: CER=%f WER=%f", rep.CER(), rep.WER())
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	m, ds := evalSetup(t)
	ctx := context.Background()

	r1, err := Evaluate(ctx, m, ds, Config{Beam: decoder.Config{BeamWidth: 1, MaxDecodeLen: 150}, Workers: 1})
	if err != nil {
		t.Fatal(err)
	}
	r2, err := Evaluate(ctx, m, ds, Config{Beam: decoder.Config{BeamWidth: 1, MaxDecodeLen: 150}, Workers: 4})
	if err != nil {
		t.Fatal(err)
	}
	if *r1 != *r2 {
		t.Errorf("reports differ across worker counts:\n%+v\n%+v", r1, r2)
	}
}

func TestEvaluateMaxEval(t *testing.T) {
	m, ds := evalSetup(t)
	ctx := context.Background()
	cfg := Config{Beam: decoder.Config{BeamWidth: 1, MaxDecodeLen: 150}, MaxEval: 3, Workers: 2}

	rep, err := Evaluate(ctx, m, ds, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rep.N != 3 {
		t.Errorf("capped N = %d, want 3", rep.N)
	}

	// The cap rewinds the iterator, so a full pass still sees every
	// utterance.
	cfg.MaxEval = 0
	rep, err = Evaluate(ctx, m, ds, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if rep.N != 5 {
		t.Errorf("full N after capped pass = %d, want 5", rep.N)
	}
}

func TestReportMetric(t *testing.T) {
	rep := &Report{
		Chars: EditStats{Sub: 1, RefLen: 10},
		Words: EditStats{Sub: 1, RefLen: 4},
	}
	if got := rep.Metric(false); got != rep.CER() {
		t.Errorf("Metric(false) = %f, want CER %f", got, rep.CER())
	}
	if got := rep.Metric(true); got != rep.WER() {
		t.Errorf("Metric(true) = %f, want WER %f", got, rep.WER())
	}
}
