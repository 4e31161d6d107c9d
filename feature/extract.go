package feature

import "fmt"

// Config holds all feature extraction parameters.
type Config struct {
	Type          string // "fbank" or "mfcc"
	SampleRate    int
	FrameLenMs    float64 // frame length in milliseconds
	FrameShiftMs  float64 // frame shift in milliseconds
	PreEmphCoeff  float64
	NumMelFilters int
	NumCepstra    int // mfcc only
	LowFreq       float64
	HighFreq      float64
	FFTSize       int
	UseDelta      bool
	UseDeltaDelta bool
	CepLifter     int  // mfcc only
	UseCMN        bool // per-utterance cepstral mean normalization, mfcc only
}

// DefaultConfig returns the standard log mel filterbank configuration.
func DefaultConfig() Config {
	return Config{
		Type:          "fbank",
		SampleRate:    16000,
		FrameLenMs:    25.0,
		FrameShiftMs:  10.0,
		PreEmphCoeff:  0.97,
		NumMelFilters: 40,
		NumCepstra:    13,
		LowFreq:       0,
		HighFreq:      8000,
		FFTSize:       512,
		UseDelta:      true,
		UseDeltaDelta: true,
		CepLifter:     22,
		UseCMN:        true,
	}
}

// BaseDim returns the per-frame dimension before deltas.
func (c Config) BaseDim() int {
	if c.Type == "mfcc" {
		return c.NumCepstra
	}
	return c.NumMelFilters
}

// FeatureDim returns the total feature vector dimension.
func (c Config) FeatureDim() int {
	d := c.BaseDim()
	if c.UseDelta {
		d += c.BaseDim()
	}
	if c.UseDeltaDelta {
		d += c.BaseDim()
	}
	return d
}

// Validate checks the extraction parameters.
func (c Config) Validate() error {
	switch c.Type {
	case "fbank", "mfcc":
	default:
		return fmt.Errorf("feature type must be fbank or mfcc, got %q", c.Type)
	}
	if c.FFTSize <= 0 || c.FFTSize&(c.FFTSize-1) != 0 {
		return fmt.Errorf("fft size must be a power of 2, got %d", c.FFTSize)
	}
	if c.NumMelFilters <= 0 {
		return fmt.Errorf("mel filter count must be positive, got %d", c.NumMelFilters)
	}
	if c.Type == "mfcc" && (c.NumCepstra <= 0 || c.NumCepstra > c.NumMelFilters) {
		return fmt.Errorf("cepstra count %d out of range for %d filters", c.NumCepstra, c.NumMelFilters)
	}
	frameLen := int(c.FrameLenMs * float64(c.SampleRate) / 1000.0)
	if frameLen <= 0 || frameLen > c.FFTSize {
		return fmt.Errorf("frame of %d samples does not fit fft size %d", frameLen, c.FFTSize)
	}
	return nil
}

// Extract computes fbank or MFCC features from raw audio samples.
// Returns a matrix of shape [numFrames][FeatureDim].
func Extract(samples []float64, cfg Config) ([][]float64, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty samples")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	frameLen := int(cfg.FrameLenMs * float64(cfg.SampleRate) / 1000.0)
	frameShift := int(cfg.FrameShiftMs * float64(cfg.SampleRate) / 1000.0)

	emphasized := PreEmphasize(samples, cfg.PreEmphCoeff)
	frames := Frame(emphasized, frameLen, frameShift)
	if len(frames) == 0 {
		return nil, fmt.Errorf("audio too short for a single frame")
	}

	melFB := NewMelFilterbank(cfg.NumMelFilters, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq)
	fftWS := newFFTWorkspace(cfg.FFTSize)
	hammWin := hammingTable(frameLen)

	var feats [][]float64
	if cfg.Type == "mfcc" {
		feats = extractMFCC(frames, cfg, melFB, fftWS, hammWin)
	} else {
		feats = extractFBank(frames, cfg, melFB, fftWS, hammWin)
	}

	if cfg.UseDelta && cfg.UseDeltaDelta {
		feats = AppendDeltas(feats)
	} else if cfg.UseDelta {
		d1 := Delta(feats, 2)
		for t := range feats {
			feats[t] = append(feats[t], d1[t]...)
		}
	}
	return feats, nil
}

// extractFBank computes log mel filterbank energies per frame.
func extractFBank(frames [][]float64, cfg Config, melFB *MelFilterbank, fftWS *fftWorkspace, win []float64) [][]float64 {
	nFrames := len(frames)
	out := make([][]float64, nFrames)
	all := make([]float64, nFrames*cfg.NumMelFilters)
	for i, frame := range frames {
		fftWS.computePowerSpectrum(frame, win)
		row := all[i*cfg.NumMelFilters : (i+1)*cfg.NumMelFilters]
		melFB.applyInto(fftWS.power, row)
		out[i] = row
	}
	return out
}

// extractMFCC runs the full cepstral pipeline: mel energies, DCT,
// liftering and optional per-utterance mean normalization.
func extractMFCC(frames [][]float64, cfg Config, melFB *MelFilterbank, fftWS *fftWorkspace, win []float64) [][]float64 {
	dctTbl := newDCTTable(cfg.NumCepstra, cfg.NumMelFilters)
	melBuf := make([]float64, cfg.NumMelFilters)
	var liftTbl *lifterTable
	if cfg.CepLifter > 0 {
		liftTbl = newLifterTable(cfg.NumCepstra, cfg.CepLifter)
	}

	nFrames := len(frames)
	out := make([][]float64, nFrames)
	all := make([]float64, nFrames*cfg.NumCepstra)
	for i, frame := range frames {
		fftWS.computePowerSpectrum(frame, win)
		melFB.applyInto(fftWS.power, melBuf)
		cepstra := all[i*cfg.NumCepstra : (i+1)*cfg.NumCepstra]
		dctTbl.applyInto(melBuf, cepstra)
		if liftTbl != nil {
			liftTbl.apply(cepstra)
		}
		out[i] = cepstra
	}
	if cfg.UseCMN {
		ApplyCMN(out)
	}
	return out
}

// hammingTable returns Hamming window coefficients for a frame length.
func hammingTable(n int) []float64 {
	win := make([]float64, n)
	for i := range win {
		win[i] = 1
	}
	HammingWindow(win)
	return win
}
