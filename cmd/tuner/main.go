// tuner grid searches decoding parameters on a held-out split. Every
// combination runs a full evaluation pass, so keep the grid small or
// cap it with -max-eval.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/decoder"
	"github.com/sunilsivadas/neural-sp/language"
	"github.com/sunilsivadas/neural-sp/metrics"
	"github.com/sunilsivadas/neural-sp/trainer"
	"github.com/sunilsivadas/neural-sp/vocab"
)

type paramSet struct {
	Beam     int
	LMWeight float64
}

type result struct {
	params paramSet
	report *metrics.Report
	err    error
}

func main() {
	modelDir := flag.String("model", "", "trained model directory (required)")
	dataPath := flag.String("data-path", "data", "corpus root written by featgen")
	split := flag.String("split", "dev", "split to tune on")
	epoch := flag.Int("epoch", -1, "checkpoint epoch (-1 = latest)")
	lmPath := flag.String("lm", "", "ARPA language model for shallow fusion")
	beamsStr := flag.String("beams", "1,2,4,8", "comma-separated beam widths")
	lmWeightsStr := flag.String("lm-weights", "0,0.1,0.2,0.3,0.5", "comma-separated LM weights")
	maxEval := flag.Int("max-eval", 0, "utterances per combination (0=all)")
	workers := flag.Int("workers", 0, "parallel workers (default: NumCPU)")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: tuner -model DIR [options]")
		fmt.Fprintln(os.Stderr, "  Grid search beam width and LM weight against a held-out split.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *modelDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if *workers <= 0 {
		*workers = runtime.NumCPU()
	}

	// Parse grid parameters
	beams := parseInts(*beamsStr)
	lmWeights := parseFloats(*lmWeightsStr)
	if *lmPath == "" {
		lmWeights = []float64{0}
	}

	fmt.Fprintf(os.Stderr, "Grid: %d Beam × %d LMWeight = %d combos\n",
		len(beams), len(lmWeights), len(beams)*len(lmWeights))

	// Load model and its config
	cfg, err := config.Load(filepath.Join(*modelDir, "config.yml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	m, _, st, err := trainer.LoadCheckpoint(*modelDir, *epoch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load checkpoint: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Model %s at epoch %d\n", m.Name(), st.Epoch)

	voc, err := vocab.Load(filepath.Join(*dataPath, cfg.DataSize, cfg.LabelType, "vocab.txt"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load vocabulary: %v\n", err)
		os.Exit(1)
	}
	if voc.NumClasses() != m.NumClasses() {
		fmt.Fprintf(os.Stderr, "vocabulary has %d classes, model has %d\n", voc.NumClasses(), m.NumClasses())
		os.Exit(1)
	}

	var lm *language.NGramModel
	if *lmPath != "" {
		f, err := os.Open(*lmPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open LM: %v\n", err)
			os.Exit(1)
		}
		lm, err = language.LoadARPA(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load LM: %v\n", err)
			os.Exit(1)
		}
	}

	maxLen := trainer.MaxDecodeLenChar
	if cfg.WordLevel() {
		maxLen = trainer.MaxDecodeLenWord
	}

	// Build parameter grid
	var grid []paramSet
	for _, b := range beams {
		for _, lw := range lmWeights {
			grid = append(grid, paramSet{Beam: b, LMWeight: lw})
		}
	}
	if len(grid) == 0 {
		fmt.Fprintln(os.Stderr, "empty parameter grid")
		os.Exit(1)
	}

	// Each combination re-reads the split, so combinations are the unit
	// of parallelism and every pass decodes single-threaded.
	fmt.Fprintf(os.Stderr, "Running %d combinations on %d workers...\n", len(grid), *workers)
	results := make([]result, len(grid))
	var wg sync.WaitGroup
	sem := make(chan struct{}, *workers)

	for gi, ps := range grid {
		wg.Add(1)
		sem <- struct{}{}
		go func(gi int, ps paramSet) {
			defer wg.Done()
			defer func() { <-sem }()

			ds, err := corpus.Open(cfg, *dataPath, *split, 1, voc)
			if err != nil {
				results[gi] = result{params: ps, err: err}
				return
			}

			evalCfg := metrics.Config{
				Beam: decoder.Config{
					BeamWidth:    ps.Beam,
					MaxDecodeLen: maxLen,
					LMWeight:     ps.LMWeight,
					WordLevel:    cfg.WordLevel(),
				},
				MaxEval: *maxEval,
				Workers: 1,
			}
			if ps.LMWeight > 0 {
				evalCfg.LM = lm
			}

			rep, err := metrics.Evaluate(context.Background(), m, ds, evalCfg)
			results[gi] = result{params: ps, report: rep, err: err}
		}(gi, ps)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "beam=%d lm-weight=%.2f: %v\n", r.params.Beam, r.params.LMWeight, r.err)
			os.Exit(1)
		}
	}

	// Sort by headline metric ascending, then by beam for ties
	wordLevel := cfg.WordLevel()
	sort.Slice(results, func(i, j int) bool {
		mi := results[i].report.Metric(wordLevel)
		mj := results[j].report.Metric(wordLevel)
		if mi != mj {
			return mi < mj
		}
		return results[i].params.Beam < results[j].params.Beam
	})

	// Print results
	fmt.Printf("%-6s %-10s %6s %8s %8s\n", "Beam", "LMWeight", "utts", "CER%", "WER%")
	fmt.Println(strings.Repeat("-", 42))
	for _, r := range results {
		fmt.Printf("%-6d %-10.2f %6d %8.3f %8.3f\n",
			r.params.Beam, r.params.LMWeight,
			r.report.N, r.report.CER()*100, r.report.WER()*100)
	}

	best := results[0]
	fmt.Printf("\nBest: -beam %d -lm-weight %.2f\n", best.params.Beam, best.params.LMWeight)
}

func parseFloats(s string) []float64 {
	var vals []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad value %q: %v\n", part, err)
			os.Exit(1)
		}
		vals = append(vals, v)
	}
	return vals
}

func parseInts(s string) []int {
	var vals []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad value %q: %v\n", part, err)
			os.Exit(1)
		}
		vals = append(vals, v)
	}
	return vals
}
