package language

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// LoadARPA reads an ARPA format language model. ARPA stores base-10
// log probabilities; entries are converted to natural log on load.
// Sections of order 4 and above are skipped.
func LoadARPA(r io.Reader) (*NGramModel, error) {
	model := newNGramModel(0)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)

	inData := false
	section := 0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !inData {
			inData = line == `\data\`
			continue
		}

		switch {
		case line == `\end\`:
			return model, sc.Err()

		case strings.HasPrefix(line, `\`) && strings.HasSuffix(line, "-grams:"):
			order, err := strconv.Atoi(line[1 : len(line)-len("-grams:")])
			if err != nil {
				section = 0
				continue
			}
			section = order
			if order > model.Order && order <= 3 {
				model.Order = order
			}

		case section > 0:
			if err := model.addGramLine(section, line); err != nil {
				return nil, fmt.Errorf("parse n-gram line %q: %w", line, err)
			}

		case strings.HasPrefix(line, "ngram "):
			// Count headers like "ngram 2=1053" fix the model order.
			spec := strings.SplitN(line[len("ngram "):], "=", 2)
			if len(spec) == 2 {
				if order, err := strconv.Atoi(strings.TrimSpace(spec[0])); err == nil && order > model.Order {
					model.Order = order
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return model, nil
}

// addGramLine parses "logprob w1 .. wN [backoff]" into the right table.
func (m *NGramModel) addGramLine(order int, line string) error {
	fields := strings.Fields(line)
	if len(fields) < order+1 {
		return fmt.Errorf("too few fields for %d-gram: %q", order, line)
	}

	prob, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("parse log prob: %w", err)
	}
	g := gram{Prob: prob * math.Ln10}

	if len(fields) > order+1 {
		backoff, err := strconv.ParseFloat(fields[order+1], 64)
		if err != nil {
			return fmt.Errorf("parse backoff: %w", err)
		}
		g.Backoff = backoff * math.Ln10
	}

	words := fields[1 : order+1]
	switch order {
	case 1:
		m.Unigrams[words[0]] = g
	case 2:
		m.Bigrams[[2]string{words[0], words[1]}] = g
	case 3:
		m.Trigrams[[3]string{words[0], words[1], words[2]}] = g
	}
	return nil
}
