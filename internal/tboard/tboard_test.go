package tboard

import (
	"encoding/binary"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

// readRecords parses the TFRecord framing back out of an event file,
// verifying both CRCs on every record.
func readRecords(t *testing.T, path string) [][]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read event file: %v", err)
	}
	var records [][]byte
	for len(data) > 0 {
		if len(data) < 12 {
			t.Fatalf("truncated record header: %d bytes left", len(data))
		}
		n := binary.LittleEndian.Uint64(data[:8])
		if got, want := binary.LittleEndian.Uint32(data[8:12]), maskedCRC(data[:8]); got != want {
			t.Fatalf("length crc = %#x, want %#x", got, want)
		}
		data = data[12:]
		if uint64(len(data)) < n+4 {
			t.Fatalf("truncated payload: need %d, have %d", n+4, len(data))
		}
		payload := data[:n]
		if got, want := binary.LittleEndian.Uint32(data[n:n+4]), maskedCRC(payload); got != want {
			t.Fatalf("payload crc = %#x, want %#x", got, want)
		}
		records = append(records, payload)
		data = data[n+4:]
	}
	return records
}

type parsedEvent struct {
	step        int64
	fileVersion string
	tag         string
	value       float32
	hasValue    bool
}

func parseEvent(t *testing.T, payload []byte) parsedEvent {
	t.Helper()
	var ev parsedEvent
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			t.Fatalf("bad tag: %v", protowire.ParseError(n))
		}
		payload = payload[n:]
		switch num {
		case fieldWallTime:
			_, n = protowire.ConsumeFixed64(payload)
		case fieldStep:
			var v uint64
			v, n = protowire.ConsumeVarint(payload)
			ev.step = int64(v)
		case fieldFileVersion:
			var s []byte
			s, n = protowire.ConsumeBytes(payload)
			ev.fileVersion = string(s)
		case fieldSummary:
			var sum []byte
			sum, n = protowire.ConsumeBytes(payload)
			parseSummary(t, sum, &ev)
		default:
			n = protowire.ConsumeFieldValue(num, typ, payload)
		}
		if n < 0 {
			t.Fatalf("bad field %d: %v", num, protowire.ParseError(n))
		}
		payload = payload[n:]
	}
	return ev
}

func parseSummary(t *testing.T, sum []byte, ev *parsedEvent) {
	t.Helper()
	for len(sum) > 0 {
		num, typ, n := protowire.ConsumeTag(sum)
		if n < 0 {
			t.Fatalf("bad summary tag: %v", protowire.ParseError(n))
		}
		sum = sum[n:]
		if num != fieldSummaryValue {
			n = protowire.ConsumeFieldValue(num, typ, sum)
			sum = sum[n:]
			continue
		}
		val, n := protowire.ConsumeBytes(sum)
		sum = sum[n:]
		for len(val) > 0 {
			vnum, vtyp, vn := protowire.ConsumeTag(val)
			if vn < 0 {
				t.Fatalf("bad value tag: %v", protowire.ParseError(vn))
			}
			val = val[vn:]
			switch vnum {
			case fieldValueTag:
				var s []byte
				s, vn = protowire.ConsumeBytes(val)
				ev.tag = string(s)
			case fieldValueSimple:
				var bits uint32
				bits, vn = protowire.ConsumeFixed32(val)
				ev.value = math.Float32frombits(bits)
				ev.hasValue = true
			default:
				vn = protowire.ConsumeFieldValue(vnum, vtyp, val)
			}
			val = val[vn:]
		}
	}
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.AddScalar("train/loss", 3.25, 100); err != nil {
		t.Fatalf("AddScalar: %v", err)
	}
	if err := w.AddScalar("dev/loss", 2.5, 100); err != nil {
		t.Fatalf("AddScalar: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files in log dir, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "events.out.tfevents.") {
		t.Errorf("event file name = %q, want events.out.tfevents.* prefix", name)
	}

	records := readRecords(t, filepath.Join(dir, name))
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	first := parseEvent(t, records[0])
	if first.fileVersion != "brain.Event:2" {
		t.Errorf("file_version = %q, want %q", first.fileVersion, "brain.Event:2")
	}

	ev := parseEvent(t, records[1])
	if ev.tag != "train/loss" || !ev.hasValue {
		t.Errorf("record 1 tag = %q (hasValue=%v), want train/loss", ev.tag, ev.hasValue)
	}
	if ev.step != 100 {
		t.Errorf("record 1 step = %d, want 100", ev.step)
	}
	if ev.value != 3.25 {
		t.Errorf("record 1 value = %f, want 3.25", ev.value)
	}

	ev = parseEvent(t, records[2])
	if ev.tag != "dev/loss" || ev.value != 2.5 {
		t.Errorf("record 2 = %q/%f, want dev/loss/2.5", ev.tag, ev.value)
	}
}

func TestMaskedCRC(t *testing.T) {
	// Masking must be reversible: unmask(mask(crc)) == crc.
	data := []byte("masked crc test vector")
	crc := crc32.Checksum(data, castagnoli)
	masked := maskedCRC(data)
	rot := masked - crcMaskDelta
	unmasked := (rot << 15) | (rot >> 17)
	if unmasked != crc {
		t.Errorf("unmasked crc = %#x, want %#x", unmasked, crc)
	}
}
