package tboard

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Event proto field numbers (tensorflow.Event / tensorflow.Summary).
const (
	fieldWallTime    = 1
	fieldStep        = 2
	fieldFileVersion = 3
	fieldSummary     = 5

	fieldSummaryValue = 1
	fieldValueTag     = 1
	fieldValueSimple  = 2
)

const crcMaskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// maskedCRC computes the masked CRC32-C used by the TFRecord framing.
func maskedCRC(p []byte) uint32 {
	crc := crc32.Checksum(p, castagnoli)
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// Writer appends scalar summaries to a TFRecord event file that
// TensorBoard can read. Not safe for concurrent use.
type Writer struct {
	f   *os.File
	w   *bufio.Writer
	buf []byte
}

// NewWriter creates the log directory if needed and opens a fresh event
// file named events.out.tfevents.<unix>.<hostname> inside it. The first
// record identifies the file format version.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tboard: create log dir: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	name := fmt.Sprintf("events.out.tfevents.%d.%s", time.Now().Unix(), host)
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("tboard: create event file: %w", err)
	}
	w := &Writer{f: f, w: bufio.NewWriter(f)}

	ev := protowire.AppendTag(nil, fieldWallTime, protowire.Fixed64Type)
	ev = protowire.AppendFixed64(ev, math.Float64bits(wallTime()))
	ev = protowire.AppendTag(ev, fieldFileVersion, protowire.BytesType)
	ev = protowire.AppendString(ev, "brain.Event:2")
	if err := w.writeRecord(ev); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// AddScalar records a single scalar value under tag at the given step.
func (w *Writer) AddScalar(tag string, value float64, step int) error {
	val := protowire.AppendTag(nil, fieldValueTag, protowire.BytesType)
	val = protowire.AppendString(val, tag)
	val = protowire.AppendTag(val, fieldValueSimple, protowire.Fixed32Type)
	val = protowire.AppendFixed32(val, math.Float32bits(float32(value)))

	sum := protowire.AppendTag(nil, fieldSummaryValue, protowire.BytesType)
	sum = protowire.AppendBytes(sum, val)

	ev := protowire.AppendTag(w.buf[:0], fieldWallTime, protowire.Fixed64Type)
	ev = protowire.AppendFixed64(ev, math.Float64bits(wallTime()))
	ev = protowire.AppendTag(ev, fieldStep, protowire.VarintType)
	ev = protowire.AppendVarint(ev, uint64(step))
	ev = protowire.AppendTag(ev, fieldSummary, protowire.BytesType)
	ev = protowire.AppendBytes(ev, sum)
	w.buf = ev
	return w.writeRecord(ev)
}

// writeRecord frames one serialized event: length, masked CRC of the
// length bytes, payload, masked CRC of the payload.
func (w *Writer) writeRecord(payload []byte) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint64(hdr[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(hdr[8:], maskedCRC(hdr[:8]))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("tboard: write record: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("tboard: write record: %w", err)
	}
	var foot [4]byte
	binary.LittleEndian.PutUint32(foot[:], maskedCRC(payload))
	if _, err := w.w.Write(foot[:]); err != nil {
		return fmt.Errorf("tboard: write record: %w", err)
	}
	return nil
}

// Flush forces buffered records to disk.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Close flushes and closes the event file.
func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func wallTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
