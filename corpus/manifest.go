package corpus

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// Utterance is one manifest row: a feature file plus its transcript as
// space-separated label tokens.
type Utterance struct {
	ID        string
	FeatPath  string
	NumFrames int
	Text      string
}

var manifestHeader = []string{"utt_id", "feat_path", "num_frames", "text"}

// LoadManifest reads a split manifest CSV.
func LoadManifest(path string) ([]Utterance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(manifestHeader)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: reading header: %w", path, err)
	}
	for i, want := range manifestHeader {
		if header[i] != want {
			return nil, fmt.Errorf("manifest: %s: header column %d is %q, want %q", path, i, header[i], want)
		}
	}

	var utts []Utterance
	line := 1
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		line++
		frames, err := strconv.Atoi(rec[2])
		if err != nil || frames <= 0 {
			return nil, fmt.Errorf("manifest: %s:%d: bad num_frames %q", path, line, rec[2])
		}
		utts = append(utts, Utterance{
			ID:        rec[0],
			FeatPath:  rec[1],
			NumFrames: frames,
			Text:      rec[3],
		})
	}
	if len(utts) == 0 {
		return nil, fmt.Errorf("manifest: %s: no utterances", path)
	}
	return utts, nil
}

// WriteManifest writes utterances as a split manifest CSV.
func WriteManifest(path string, utts []Utterance) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		f.Close()
		return fmt.Errorf("manifest: %w", err)
	}
	for _, u := range utts {
		rec := []string{u.ID, u.FeatPath, strconv.Itoa(u.NumFrames), u.Text}
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("manifest: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: %s: %w", path, err)
	}
	return f.Close()
}
