package vocab

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// BlankID is the CTC blank label. It is always class 0 and never appears
// in the vocabulary file, so file tokens occupy ids 1..Size().
const BlankID = 0

// oovToken, when present in the vocabulary file, absorbs unknown tokens
// during encoding.
const oovToken = "OOV"

// Vocab maps between label tokens and contiguous class ids.
type Vocab struct {
	tokens []string
	ids    map[string]int
	oovID  int
}

// New builds a vocabulary from an ordered token list. Duplicates are
// rejected.
func New(tokens []string) (*Vocab, error) {
	v := &Vocab{
		tokens: make([]string, 1, len(tokens)+1),
		ids:    make(map[string]int, len(tokens)),
		oovID:  -1,
	}
	v.tokens[0] = "<blank>"
	for _, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("vocab: empty token")
		}
		if _, ok := v.ids[tok]; ok {
			return nil, fmt.Errorf("vocab: duplicate token %q", tok)
		}
		id := len(v.tokens)
		v.tokens = append(v.tokens, tok)
		v.ids[tok] = id
		if tok == oovToken {
			v.oovID = id
		}
	}
	return v, nil
}

// Load reads a vocabulary file with one token per line. Blank lines and
// lines starting with # are skipped.
func Load(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: reading %s: %w", path, err)
	}
	v, err := New(tokens)
	if err != nil {
		return nil, fmt.Errorf("%v in %s", err, path)
	}
	return v, nil
}

// Save writes the vocabulary back out, one token per line, blank excluded.
func (v *Vocab) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vocab: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, tok := range v.tokens[1:] {
		fmt.Fprintln(w, tok)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("vocab: writing %s: %w", path, err)
	}
	return f.Close()
}

// Size returns the number of real tokens, blank excluded.
func (v *Vocab) Size() int { return len(v.tokens) - 1 }

// NumClasses returns the output dimension including the blank.
func (v *Vocab) NumClasses() int { return len(v.tokens) }

// ID looks up the class id of a token.
func (v *Vocab) ID(tok string) (int, bool) {
	id, ok := v.ids[tok]
	return id, ok
}

// Token returns the token for a class id, or "" if out of range.
func (v *Vocab) Token(id int) string {
	if id <= 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Encode maps tokens to class ids. Unknown tokens fall back to the OOV
// token when the vocabulary has one, otherwise encoding fails.
func (v *Vocab) Encode(tokens []string) ([]int, error) {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		id, ok := v.ids[tok]
		if !ok {
			if v.oovID < 0 {
				return nil, fmt.Errorf("vocab: unknown token %q", tok)
			}
			id = v.oovID
		}
		ids[i] = id
	}
	return ids, nil
}

// Decode maps class ids back to tokens. Blank and out-of-range ids are
// dropped.
func (v *Vocab) Decode(ids []int) []string {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		if id <= 0 || id >= len(v.tokens) {
			continue
		}
		tokens = append(tokens, v.tokens[id])
	}
	return tokens
}
