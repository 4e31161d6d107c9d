// lmtext normalizes raw Japanese text into language model training
// sentences: one line per sentence, tokens separated by spaces, in the
// same units the recognizer emits. Kana mode asks MeCab for readings
// and keeps only sentences it could fully resolve to kana; word mode
// keeps MeCab's surface tokens.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sunilsivadas/neural-sp/vocab"
)

const mecabBatchSize = 1000

// tagRe matches WikiExtractor <doc ...> and </doc> tags.
var tagRe = regexp.MustCompile(`^</?doc[^>]*>$`)

// lineFilter decides which tokenized sentences are worth keeping.
type lineFilter struct {
	unit      string
	minTokens int
	voc       *vocab.Vocab
}

func (f lineFilter) keep(line string) ([]string, bool) {
	tokens := toTokens(line, f.unit)
	if len(tokens) < f.minTokens {
		return nil, false
	}
	if f.voc != nil && !inVocab(tokens, f.voc) {
		return nil, false
	}
	return tokens, true
}

func main() {
	unit := flag.String("unit", "kana", "output unit: kana or word")
	vocabPath := flag.String("vocab", "", "recognizer vocabulary; sentences with tokens outside it are dropped")
	minTokens := flag.Int("min-tokens", 3, "minimum tokens per sentence")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: lmtext [options] < input.txt > output.txt")
		fmt.Fprintln(os.Stderr, "  Reads Japanese text from stdin and writes one sentence per line,")
		fmt.Fprintln(os.Stderr, "  tokenized with MeCab into the units lmbuild expects.")
		fmt.Fprintln(os.Stderr, "  Handles WikiExtractor output (strips <doc> tags, splits on 。).")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *unit != "kana" && *unit != "word" {
		fmt.Fprintf(os.Stderr, "error: unknown unit %q\n", *unit)
		flag.Usage()
		os.Exit(1)
	}

	if _, err := exec.LookPath("mecab"); err != nil {
		fmt.Fprintln(os.Stderr, "error: mecab not found in PATH")
		fmt.Fprintln(os.Stderr, "  install: brew install mecab mecab-ipadic")
		os.Exit(1)
	}

	var voc *vocab.Vocab
	if *vocabPath != "" {
		var err error
		voc, err = vocab.Load(*vocabPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error loading vocabulary: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Vocabulary: %d tokens\n", voc.Size())
	}

	format := "-Owakati"
	if *unit == "kana" {
		format = "-Oyomi"
	}

	out := bufio.NewWriter(os.Stdout)
	read, kept, err := tokenizeStream(os.Stdin, out, format, lineFilter{
		unit:      *unit,
		minTokens: *minTokens,
		voc:       voc,
	})
	out.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read error: %v\n", err)
	}

	rate := 0.0
	if read > 0 {
		rate = float64(kept) / float64(read) * 100
	}
	fmt.Fprintf(os.Stderr, "Input: %d sentences, Output: %d sentences (%.1f%%)\n", read, kept, rate)
}

// tokenizeStream reads raw text lines, cuts them into sentences, runs
// MeCab over them a batch at a time, and writes the ones that survive
// the filter. It returns how many sentences went in and came out.
func tokenizeStream(in io.Reader, out *bufio.Writer, format string, f lineFilter) (read, kept int, err error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	pending := make([]string, 0, mecabBatchSize)
	for sc.Scan() {
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || tagRe.MatchString(raw) {
			continue
		}
		for _, sent := range splitSentences(raw) {
			read++
			pending = append(pending, sent)
			if len(pending) == mecabBatchSize {
				kept += emitBatch(out, pending, format, f)
				pending = pending[:0]
			}
		}
	}
	kept += emitBatch(out, pending, format, f)
	return read, kept, sc.Err()
}

// emitBatch tokenizes one batch with MeCab and writes the sentences
// the filter keeps, returning how many were written. A MeCab failure
// drops the batch rather than aborting the stream.
func emitBatch(out *bufio.Writer, sents []string, format string, f lineFilter) int {
	if len(sents) == 0 {
		return 0
	}
	lines, err := mecabBatch(sents, format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mecab error: %v\n", err)
		return 0
	}
	kept := 0
	for _, line := range lines {
		tokens, ok := f.keep(line)
		if !ok {
			continue
		}
		fmt.Fprintln(out, strings.Join(tokens, " "))
		kept++
	}
	return kept
}

// splitSentences cuts a line at the Japanese full stop and drops
// empty pieces.
func splitSentences(line string) []string {
	var sents []string
	for line != "" {
		sent, rest, _ := strings.Cut(line, "。")
		if sent = strings.TrimSpace(sent); sent != "" {
			sents = append(sents, sent)
		}
		line = rest
	}
	return sents
}

// toTokens converts one MeCab output line into label tokens. Kana mode
// returns nil when the reading still contains anything MeCab could not
// resolve to kana, so kanji and ASCII residue never reach the model.
func toTokens(line, unit string) []string {
	line = strings.TrimSpace(line)
	if unit == "word" {
		return strings.Fields(line)
	}
	reading := vocab.NormalizeKana(line)
	if reading == "" || !allKana(reading) {
		return nil
	}
	return vocab.SplitKana(reading)
}

// allKana reports whether every rune is katakana or the long vowel
// mark. Whitespace is ignored, matching what SplitKana drops.
func allKana(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '　' {
			continue
		}
		if (r < 'ァ' || r > 'ヶ') && r != 'ー' {
			return false
		}
	}
	return true
}

// inVocab checks if every token exists in the recognizer vocabulary.
func inVocab(tokens []string, voc *vocab.Vocab) bool {
	for _, t := range tokens {
		if _, ok := voc.ID(t); !ok {
			return false
		}
	}
	return true
}

// mecabBatch feeds the sentences through one MeCab process. Both
// -Owakati and -Oyomi emit exactly one output line per input line.
func mecabBatch(sents []string, format string) ([]string, error) {
	cmd := exec.Command("mecab", format)
	cmd.Stdin = strings.NewReader(strings.Join(sents, "\n"))
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(out), "\n")
	return strings.Split(text, "\n"), nil
}
