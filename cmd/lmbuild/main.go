package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sunilsivadas/neural-sp/language"
	"github.com/sunilsivadas/neural-sp/vocab"
)

func main() {
	order := flag.Int("order", 3, "N-gram order (1-3)")
	unit := flag.String("unit", "kana", "token unit: kana (normalized characters) or word")
	output := flag.String("output", "", "output file (default: stdout)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: lmbuild [options] [input-files...]")
		fmt.Fprintln(os.Stderr, "  Builds an ARPA N-gram language model from transcripts, one sentence")
		fmt.Fprintln(os.Stderr, "  per line. Kana mode splits each line into normalized characters, word")
		fmt.Fprintln(os.Stderr, "  mode keeps the space segmentation. Reads stdin when no files given.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	tokenize, err := tokenizerFor(*unit)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	b := language.NewBuilder(*order)
	total := 0
	if flag.NArg() == 0 {
		total = feed(b, os.Stdin, tokenize)
	} else {
		for _, path := range flag.Args() {
			f, err := os.Open(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
				continue
			}
			total += feed(b, f, tokenize)
			f.Close()
		}
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *output, err)
			os.Exit(1)
		}
		defer f.Close()
		out = f
	}
	if err := b.WriteARPA(out); err != nil {
		fmt.Fprintf(os.Stderr, "write ARPA: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Built %d-gram %s model from %d sentences\n", *order, *unit, total)
}

func tokenizerFor(unit string) (func(string) []string, error) {
	switch unit {
	case "word":
		return strings.Fields, nil
	case "kana":
		return func(line string) []string {
			return vocab.SplitKana(vocab.NormalizeKana(line))
		}, nil
	}
	return nil, fmt.Errorf("unknown unit %q", unit)
}

// feed adds every non-empty line of r as one sentence and reports how
// many it added.
func feed(b *language.Builder, r io.Reader, tokenize func(string) []string) int {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	count := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if tokens := tokenize(line); len(tokens) > 0 {
			b.AddSentence(tokens)
			count++
		}
	}
	return count
}
