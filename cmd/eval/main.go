package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"k8s.io/klog/v2"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/decoder"
	"github.com/sunilsivadas/neural-sp/language"
	"github.com/sunilsivadas/neural-sp/metrics"
	"github.com/sunilsivadas/neural-sp/trainer"
	"github.com/sunilsivadas/neural-sp/vocab"
)

var (
	modelDir  = flag.String("model", "", "trained model directory (required)")
	dataPath  = flag.String("data-path", "data", "corpus root with feature files and dataset CSVs")
	epoch     = flag.Int("epoch", -1, "checkpoint epoch to load (-1 = latest)")
	beamWidth = flag.Int("beam", 0, "beam width (0 = value from the model config)")
	lmPath    = flag.String("lm", "", "ARPA language model for shallow fusion (overrides config lm_path)")
	lmWeight  = flag.Float64("lm-weight", -1, "language model weight (negative = value from the model config)")
	maxEval   = flag.Int("max-eval", 0, "cap on evaluated utterances per split (0 = all)")
	splitList = flag.String("splits", "eval1,eval2,eval3", "comma-separated dataset splits to score")
	workers   = flag.Int("workers", runtime.NumCPU(), "parallel decoding workers")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: eval -model models/blstm_ctc/kana/subset/blstm320H5L_ctc -data-path data")
		fmt.Fprintln(os.Stderr, "  Scores a trained model on the held-out sets and prints a CER/WER table.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *modelDir == "" {
		flag.Usage()
		klog.Exitf("-model is required")
	}

	cfg, err := config.Load(filepath.Join(*modelDir, "config.yml"))
	if err != nil {
		klog.Fatalf("Load config: %v", err)
	}
	m, _, st, err := trainer.LoadCheckpoint(*modelDir, *epoch)
	if err != nil {
		klog.Fatalf("Load checkpoint: %v", err)
	}
	klog.Infof("Model %s at epoch %d (dev best %.4f)", m.Name(), st.Epoch, st.MetricDevBest)

	voc, err := vocab.Load(filepath.Join(*dataPath, cfg.DataSize, cfg.LabelType, "vocab.txt"))
	if err != nil {
		klog.Fatalf("Load vocabulary: %v", err)
	}
	if voc.NumClasses() != m.NumClasses() {
		klog.Fatalf("vocabulary has %d classes, model has %d", voc.NumClasses(), m.NumClasses())
	}

	width := cfg.BeamWidth
	if *beamWidth > 0 {
		width = *beamWidth
	}
	weight := cfg.LMWeight
	if *lmWeight >= 0 {
		weight = *lmWeight
	}
	arpa := cfg.LMPath
	if *lmPath != "" {
		arpa = *lmPath
	}
	var lm *language.NGramModel
	if arpa != "" && weight > 0 {
		f, err := os.Open(arpa)
		if err != nil {
			klog.Fatalf("Open LM: %v", err)
		}
		lm, err = language.LoadARPA(f)
		f.Close()
		if err != nil {
			klog.Fatalf("Load LM: %v", err)
		}
		klog.Infof("Shallow fusion with %s (weight %.2f)", arpa, weight)
	}

	maxLen := trainer.MaxDecodeLenChar
	if cfg.WordLevel() {
		maxLen = trainer.MaxDecodeLenWord
	}
	evalCfg := metrics.Config{
		Beam: decoder.Config{
			BeamWidth:    width,
			MaxDecodeLen: maxLen,
			LMWeight:     weight,
			WordLevel:    cfg.WordLevel(),
		},
		LM:      lm,
		MaxEval: *maxEval,
		Workers: *workers,
	}

	fmt.Printf("%-8s %6s %8s %8s\n", "set", "utts", "CER%", "WER%")
	fmt.Println(strings.Repeat("-", 33))
	var cerSum, werSum float64
	var n int
	for _, split := range strings.Split(*splitList, ",") {
		split = strings.TrimSpace(split)
		if split == "" {
			continue
		}
		ds, err := corpus.Open(cfg, *dataPath, split, 1, voc)
		if err != nil {
			klog.Fatalf("Open %s set: %v", split, err)
		}
		rep, err := metrics.Evaluate(context.Background(), m, ds, evalCfg)
		if err != nil {
			klog.Fatalf("Evaluate %s: %v", split, err)
		}
		fmt.Printf("%-8s %6d %8.3f %8.3f\n", rep.Split, rep.N, rep.CER()*100, rep.WER()*100)
		cerSum += rep.CER()
		werSum += rep.WER()
		n++
	}
	if n > 1 {
		fmt.Println(strings.Repeat("-", 33))
		fmt.Printf("%-8s %6s %8.3f %8.3f\n", "mean", "", cerSum/float64(n)*100, werSum/float64(n)*100)
	}
}
