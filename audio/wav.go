package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// WAVHeader holds the parsed RIFF/WAV header fields.
type WAVHeader struct {
	SampleRate    uint32
	BitsPerSample uint16
	NumChannels   uint16
	NumSamples    int
}

const (
	wavFormatPCM   = 1
	wavSampleRate  = 16000
	wavSampleBits  = 16
	wavFmtBaseSize = 16
)

// ReadWAV parses a WAV stream and returns normalized float64 samples in
// [-1.0, 1.0]. Anything other than 16-bit PCM mono at 16 kHz is rejected,
// since that is the only format the feature pipeline accepts.
func ReadWAV(r io.ReadSeeker) ([]float64, WAVHeader, error) {
	var hdr WAVHeader

	var preamble [12]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return nil, hdr, fmt.Errorf("read RIFF preamble: %w", err)
	}
	if string(preamble[0:4]) != "RIFF" {
		return nil, hdr, errors.New("not a RIFF file")
	}
	if string(preamble[8:12]) != "WAVE" {
		return nil, hdr, errors.New("not a WAVE file")
	}

	var samples []float64
	haveFmt, haveData := false, false

	for !(haveFmt && haveData) {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, hdr, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if err := parseFmtChunk(r, size, &hdr); err != nil {
				return nil, hdr, err
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, hdr, errors.New("data chunk before fmt chunk")
			}
			var err error
			samples, err = parsePCMChunk(r, size, &hdr)
			if err != nil {
				return nil, hdr, err
			}
			haveData = true

		default:
			// Chunks are padded to an even byte boundary.
			skip := int64(size) + int64(size&1)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, hdr, fmt.Errorf("skip chunk %q: %w", id, err)
			}
		}
	}

	if !haveFmt {
		return nil, hdr, errors.New("missing fmt chunk")
	}
	if !haveData {
		return nil, hdr, errors.New("missing data chunk")
	}
	return samples, hdr, nil
}

// ReadWAVFile is a convenience wrapper that opens a file path.
func ReadWAVFile(path string) ([]float64, WAVHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WAVHeader{}, err
	}
	defer f.Close()
	return ReadWAV(f)
}

func parseFmtChunk(r io.ReadSeeker, size uint32, h *WAVHeader) error {
	if size < wavFmtBaseSize {
		return fmt.Errorf("fmt chunk too short: %d bytes", size)
	}
	var body [wavFmtBaseSize]byte
	if _, err := io.ReadFull(r, body[:]); err != nil {
		return fmt.Errorf("read fmt chunk: %w", err)
	}

	format := binary.LittleEndian.Uint16(body[0:2])
	if format != wavFormatPCM {
		return fmt.Errorf("unsupported audio format %d (only PCM=1 supported)", format)
	}
	h.NumChannels = binary.LittleEndian.Uint16(body[2:4])
	if h.NumChannels != 1 {
		return fmt.Errorf("unsupported channel count %d (only mono supported)", h.NumChannels)
	}
	h.SampleRate = binary.LittleEndian.Uint32(body[4:8])
	if h.SampleRate != wavSampleRate {
		return fmt.Errorf("unsupported sample rate %d (only %d supported)", h.SampleRate, wavSampleRate)
	}
	// body[8:14] carries byte rate and block alignment, both implied by
	// the fields above.
	h.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])
	if h.BitsPerSample != wavSampleBits {
		return fmt.Errorf("unsupported bits per sample %d (only %d supported)", h.BitsPerSample, wavSampleBits)
	}

	if size > wavFmtBaseSize {
		if _, err := r.Seek(int64(size-wavFmtBaseSize), io.SeekCurrent); err != nil {
			return fmt.Errorf("skip extra fmt bytes: %w", err)
		}
	}
	return nil
}

func parsePCMChunk(r io.Reader, size uint32, h *WAVHeader) ([]float64, error) {
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read PCM data: %w", err)
	}

	n := int(size) / 2
	h.NumSamples = n
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[2*i : 2*i+2]))
		samples[i] = float64(v) / 32768.0
	}
	return samples, nil
}
