package neuralsp

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/feature"
	"github.com/sunilsivadas/neural-sp/model"
	"github.com/sunilsivadas/neural-sp/trainer"
	"github.com/sunilsivadas/neural-sp/vocab"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.InputChannel = 8
	cfg.UseDelta = false
	cfg.UseDoubleDelta = false
	cfg.Splice = 1
	cfg.NumStack = 1
	cfg.NumSkip = 1
	cfg.NumUnits = 4
	cfg.NumLayers = 1
	cfg.DropoutInput = 0
	cfg.DropoutHidden = 0
	return &cfg
}

// writeModelDir lays out a model directory the way cmd/train does.
func writeModelDir(t *testing.T, cfg *config.Config, withCMVN bool) string {
	t.Helper()
	dir := t.TempDir()

	voc, err := vocab.New([]string{"ア", "イ", "ウ"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := model.New(cfg, voc.NumClasses(), 11)
	if err != nil {
		t.Fatal(err)
	}
	opt, err := model.NewOptimizer(cfg.Optimizer, cfg.LearningRate, 0, m.Params())
	if err != nil {
		t.Fatal(err)
	}
	st := trainer.TrainState{Epoch: 1, Step: 10, LearningRate: cfg.LearningRate, MetricDevBest: 0.8}
	if err := trainer.SaveCheckpoint(dir, m, opt, st); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Save(filepath.Join(dir, "config.yml")); err != nil {
		t.Fatal(err)
	}
	if err := voc.Save(filepath.Join(dir, "vocab.txt")); err != nil {
		t.Fatal(err)
	}

	if withCMVN {
		cm := feature.NewCMVN(cfg.InputChannel)
		stats := make([][]float64, 64)
		for i := range stats {
			row := make([]float64, cfg.InputChannel)
			for d := range row {
				row[d] = math.Sin(float64(i)*0.3+float64(d)) * float64(d+1)
			}
			stats[i] = row
		}
		if err := cm.Accumulate(stats); err != nil {
			t.Fatal(err)
		}
		if err := cm.Save(filepath.Join(dir, "cmvn.gob")); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// sineSamples generates 0.4 s of a 440 Hz tone at 16 kHz.
func sineSamples() []float64 {
	samples := make([]float64, 6400)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/16000)
	}
	return samples
}

func TestOpenRecognize(t *testing.T) {
	cfg := testConfig()
	dir := writeModelDir(t, cfg, false)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.CMVN != nil {
		t.Error("CMVN loaded from a directory without statistics")
	}
	if r.FeatCfg.NumMelFilters != cfg.InputChannel {
		t.Errorf("NumMelFilters = %d, want %d", r.FeatCfg.NumMelFilters, cfg.InputChannel)
	}

	res, err := r.RecognizeSamples(sineSamples())
	if err != nil {
		t.Fatalf("RecognizeSamples: %v", err)
	}
	if math.IsNaN(res.LogScore) || math.IsInf(res.LogScore, 0) {
		t.Errorf("LogScore = %v", res.LogScore)
	}
	for _, id := range res.TokenIDs {
		if id < 1 || id > r.Voc.Size() {
			t.Errorf("token id %d out of range", id)
		}
	}
}

func TestOpenWithCMVN(t *testing.T) {
	cfg := testConfig()
	dir := writeModelDir(t, cfg, true)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.CMVN == nil {
		t.Fatal("CMVN statistics not loaded")
	}
	if _, err := r.RecognizeSamples(sineSamples()); err != nil {
		t.Fatalf("RecognizeSamples: %v", err)
	}
}

func TestRecognizeFile(t *testing.T) {
	cfg := testConfig()
	dir := writeModelDir(t, cfg, false)
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	raw := make([]int16, 6400)
	for i := range raw {
		raw[i] = int16(12000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	wavPath := filepath.Join(t.TempDir(), "utt.wav")
	if err := os.WriteFile(wavPath, buildWAV(16000, raw), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := r.RecognizeFile(wavPath)
	if err != nil {
		t.Fatalf("RecognizeFile: %v", err)
	}
	if res == nil {
		t.Fatal("nil result")
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Error("expected error for an empty model directory")
	}
}

func TestOpenClassMismatch(t *testing.T) {
	cfg := testConfig()
	dir := writeModelDir(t, cfg, false)

	voc, err := vocab.New([]string{"ア", "イ", "ウ", "エ"})
	if err != nil {
		t.Fatal(err)
	}
	if err := voc.Save(filepath.Join(dir, "vocab.txt")); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); err == nil {
		t.Error("expected error for a vocabulary that disagrees with the model")
	}
}

// buildWAV constructs a minimal 16-bit mono PCM file in memory.
func buildWAV(sampleRate uint32, samples []int16) []byte {
	var buf bytes.Buffer
	dataSize := uint32(len(samples) * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, sampleRate*2)
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}
