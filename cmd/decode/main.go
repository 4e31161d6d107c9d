// decode transcribes WAV files with a model directory written by
// cmd/train.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	neuralsp "github.com/sunilsivadas/neural-sp"
	"github.com/sunilsivadas/neural-sp/language"
)

func main() {
	modelDir := flag.String("model", "", "trained model directory (required)")
	lmPath := flag.String("lm", "", "ARPA language model for shallow fusion")
	lmWeight := flag.Float64("lm-weight", -1, "language model weight (negative uses the model config)")
	beam := flag.Int("beam", 0, "beam width (0 uses the model config)")
	verbose := flag.Bool("v", false, "verbose output")

	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: decode -model DIR audio.wav [audio.wav ...]")
		fmt.Fprintln(os.Stderr, "  Prints one transcript per file.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *modelDir == "" || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	rec, err := neuralsp.Open(*modelDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *beam > 0 {
		rec.DecCfg.BeamWidth = *beam
	}
	if *lmWeight >= 0 {
		rec.DecCfg.LMWeight = *lmWeight
	}

	arpa := rec.Cfg.LMPath
	if *lmPath != "" {
		arpa = *lmPath
	}
	if arpa != "" && rec.DecCfg.LMWeight > 0 {
		f, err := os.Open(arpa)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		lm, err := language.LoadARPA(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: load LM: %v\n", err)
			os.Exit(1)
		}
		rec.LM = lm
	}

	for _, wavPath := range flag.Args() {
		result, err := rec.RecognizeFile(wavPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", wavPath, err)
			os.Exit(1)
		}

		if flag.NArg() > 1 {
			fmt.Printf("%s\t%s\n", wavPath, result.Text)
		} else {
			fmt.Println(result.Text)
		}

		if *verbose {
			fmt.Fprintf(os.Stderr, "Score: %.4f\n", result.LogScore)
			fmt.Fprintf(os.Stderr, "Tokens: %s\n", strings.Join(result.Tokens, " "))
		}
	}
}
