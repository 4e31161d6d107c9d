package feature

import "math"

// logFloor keeps silent filter outputs finite.
const logFloor = 1e-30

// bandFilter is the non-zero span of one triangular filter.
type bandFilter struct {
	lo int
	w  []float64
}

// MelFilterbank applies triangular Mel-spaced filters to a power
// spectrum. Filters holds the dense [numFilters][fftSize/2+1] weights;
// the banded form drives the hot loop.
type MelFilterbank struct {
	Filters [][]float64
	bands   []bandFilter
}

// NewMelFilterbank builds numFilters triangles with edges equally
// spaced on the Mel scale between lowFreq and highFreq.
func NewMelFilterbank(numFilters, fftSize, sampleRate int, lowFreq, highFreq float64) *MelFilterbank {
	nBins := fftSize/2 + 1

	// numFilters triangles need numFilters+2 edge bins.
	bins := make([]int, numFilters+2)
	loMel, hiMel := hzToMel(lowFreq), hzToMel(highFreq)
	step := (hiMel - loMel) / float64(numFilters+1)
	for i := range bins {
		mel := loMel + float64(i)*step
		bins[i] = int(math.Floor(melToHz(mel) * float64(fftSize+1) / float64(sampleRate)))
	}

	fb := &MelFilterbank{
		Filters: make([][]float64, numFilters),
		bands:   make([]bandFilter, numFilters),
	}
	for i := range fb.Filters {
		row := make([]float64, nBins)
		left, center, right := bins[i], bins[i+1], bins[i+2]

		firstNZ, lastNZ := -1, -1
		set := func(j int, v float64) {
			if v == 0 || j >= nBins {
				return
			}
			row[j] = v
			if firstNZ < 0 {
				firstNZ = j
			}
			lastNZ = j
		}
		if center > left {
			for j := left; j < center; j++ {
				set(j, float64(j-left)/float64(center-left))
			}
		}
		if right > center {
			for j := center; j <= right; j++ {
				set(j, float64(right-j)/float64(right-center))
			}
		}

		fb.Filters[i] = row
		if firstNZ >= 0 {
			fb.bands[i] = bandFilter{lo: firstNZ, w: row[firstNZ : lastNZ+1]}
		}
	}
	return fb
}

// Apply returns the log Mel energy of each filter.
func (fb *MelFilterbank) Apply(powerSpec []float64) []float64 {
	out := make([]float64, len(fb.bands))
	fb.applyInto(powerSpec, out)
	return out
}

func (fb *MelFilterbank) applyInto(powerSpec, dst []float64) {
	for i, bf := range fb.bands {
		hi := bf.lo + len(bf.w)
		if hi > len(powerSpec) {
			hi = len(powerSpec)
		}
		sum := 0.0
		for j, p := range powerSpec[bf.lo:hi] {
			sum += p * bf.w[j]
		}
		if sum < logFloor {
			sum = logFloor
		}
		dst[i] = math.Log(sum)
	}
}

// DCT extracts numCepstra cepstral coefficients from log Mel energies
// with a Type-II transform.
func DCT(logMelEnergies []float64, numCepstra int) []float64 {
	out := make([]float64, numCepstra)
	scale := math.Pi / float64(len(logMelEnergies))
	for k := range out {
		sum := 0.0
		for j, e := range logMelEnergies {
			sum += e * math.Cos(scale*float64(k)*(float64(j)+0.5))
		}
		out[k] = sum
	}
	return out
}

// dctTable caches the DCT cosine basis for repeated frames.
type dctTable struct {
	rows [][]float64
}

func newDCTTable(numCepstra, numFilters int) *dctTable {
	t := &dctTable{rows: make([][]float64, numCepstra)}
	scale := math.Pi / float64(numFilters)
	backing := make([]float64, numCepstra*numFilters)
	for k := range t.rows {
		row := backing[k*numFilters : (k+1)*numFilters]
		for j := range row {
			row[j] = math.Cos(scale * float64(k) * (float64(j) + 0.5))
		}
		t.rows[k] = row
	}
	return t
}

func (t *dctTable) applyInto(logMelEnergies, dst []float64) {
	for k, row := range t.rows {
		sum := 0.0
		for j, c := range row {
			sum += logMelEnergies[j] * c
		}
		dst[k] = sum
	}
}

// CepstralLifter applies sinusoidal liftering in place, boosting the
// higher cepstra that carry most of the discriminative detail.
func CepstralLifter(cepstra []float64, L int) {
	for i := range cepstra {
		cepstra[i] *= lifterCoeff(i, L)
	}
}

// lifterTable caches the liftering coefficients.
type lifterTable struct {
	coeff []float64
}

func newLifterTable(numCepstra, L int) *lifterTable {
	t := &lifterTable{coeff: make([]float64, numCepstra)}
	for i := range t.coeff {
		t.coeff[i] = lifterCoeff(i, L)
	}
	return t
}

func (t *lifterTable) apply(cepstra []float64) {
	for i := range cepstra {
		cepstra[i] *= t.coeff[i]
	}
}

func lifterCoeff(i, L int) float64 {
	return 1 + float64(L)/2*math.Sin(math.Pi*float64(i)/float64(L))
}

func hzToMel(hz float64) float64 {
	return 2595 * math.Log10(1+hz/700)
}

func melToHz(mel float64) float64 {
	return 700 * (math.Pow(10, mel/2595) - 1)
}
