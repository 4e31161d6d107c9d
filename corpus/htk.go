package corpus

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// HTK base parameter kinds (lower 6 bits of parmKind).
const (
	HTKKindMFCC  = 6
	HTKKindFBank = 7
	HTKKindUser  = 9
)

// HTK qualifier bits.
const (
	htkQualE = 0o100  // log energy appended
	htkQualD = 0o400  // delta coefficients
	htkQualA = 0o1000 // acceleration coefficients
	htkQualZ = 0o4000 // cepstral mean normalized
)

// htkSampPeriod is the frame shift in 100ns units (10ms).
const htkSampPeriod = 100000

type htkHeader struct {
	NSamples   int32
	SampPeriod int32
	SampSize   int16
	ParmKind   int16
}

// ReadHTK reads an HTK parameter file into per-frame feature vectors.
func ReadHTK(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("htk: %w", err)
	}
	defer f.Close()
	feats, err := readHTK(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("htk: %s: %w", path, err)
	}
	return feats, nil
}

// DecodeHTK reads an HTK parameter file from an in-memory buffer.
func DecodeHTK(data []byte) ([][]float64, error) {
	feats, err := readHTK(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("htk: %w", err)
	}
	return feats, nil
}

func readHTK(r io.Reader) ([][]float64, error) {
	var hdr htkHeader
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if hdr.NSamples < 0 {
		return nil, fmt.Errorf("bad sample count %d", hdr.NSamples)
	}
	if hdr.SampSize <= 0 || hdr.SampSize%4 != 0 {
		return nil, fmt.Errorf("bad sample size %d, want multiple of 4", hdr.SampSize)
	}
	switch hdr.ParmKind & 0o77 {
	case HTKKindMFCC, HTKKindFBank, HTKKindUser:
	default:
		return nil, fmt.Errorf("unsupported parameter kind %d", hdr.ParmKind)
	}

	numFrames := int(hdr.NSamples)
	dim := int(hdr.SampSize) / 4
	raw := make([]byte, numFrames*dim*4)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("reading %d frames: %w", numFrames, err)
	}

	feats := make([][]float64, numFrames)
	flat := make([]float64, numFrames*dim)
	for t := 0; t < numFrames; t++ {
		row := flat[t*dim : (t+1)*dim]
		base := t * dim * 4
		for d := 0; d < dim; d++ {
			bits := binary.BigEndian.Uint32(raw[base+d*4:])
			row[d] = float64(math.Float32frombits(bits))
		}
		feats[t] = row
	}
	return feats, nil
}

// WriteHTK writes per-frame feature vectors as an HTK parameter file
// with the given base kind. The frame shift is fixed at 10ms.
func WriteHTK(path string, feats [][]float64, parmKind int16) error {
	if len(feats) == 0 {
		return fmt.Errorf("htk: no frames to write")
	}
	dim := len(feats[0])
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("htk: %w", err)
	}
	w := bufio.NewWriter(f)

	hdr := htkHeader{
		NSamples:   int32(len(feats)),
		SampPeriod: htkSampPeriod,
		SampSize:   int16(dim * 4),
		ParmKind:   parmKind,
	}
	if err := binary.Write(w, binary.BigEndian, &hdr); err != nil {
		f.Close()
		return fmt.Errorf("htk: writing header: %w", err)
	}
	buf := make([]byte, dim*4)
	for t, frame := range feats {
		if len(frame) != dim {
			f.Close()
			return fmt.Errorf("htk: frame %d has dim %d, want %d", t, len(frame), dim)
		}
		for d, v := range frame {
			binary.BigEndian.PutUint32(buf[d*4:], math.Float32bits(float32(v)))
		}
		if _, err := w.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("htk: writing frame %d: %w", t, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("htk: %w", err)
	}
	return f.Close()
}
