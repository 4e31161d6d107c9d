package vocab

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	content := "ア\nイ\nウ\n\n# comment\nー\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Size() != 4 {
		t.Errorf("Size = %d, want 4", v.Size())
	}
	if v.NumClasses() != 5 {
		t.Errorf("NumClasses = %d, want 5", v.NumClasses())
	}

	// File tokens start at 1; 0 is the blank.
	id, ok := v.ID("ア")
	if !ok || id != 1 {
		t.Errorf("ID(ア) = %d,%v, want 1,true", id, ok)
	}
	id, ok = v.ID("ー")
	if !ok || id != 4 {
		t.Errorf("ID(ー) = %d,%v, want 4,true", id, ok)
	}
	if _, ok := v.ID("カ"); ok {
		t.Error("ID(カ) should not be found")
	}
	if got := v.Token(2); got != "イ" {
		t.Errorf("Token(2) = %q, want イ", got)
	}
	if got := v.Token(BlankID); got != "" {
		t.Errorf("Token(blank) = %q, want empty", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	v, err := New([]string{"ア", "イ", "ウ"})
	if err != nil {
		t.Fatal(err)
	}
	ids, err := v.Encode([]string{"ウ", "ア", "イ"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []int{3, 1, 2}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}

	toks := v.Decode([]int{3, BlankID, 1, 99, 2})
	if len(toks) != 3 || toks[0] != "ウ" || toks[1] != "ア" || toks[2] != "イ" {
		t.Errorf("Decode = %v, want [ウ ア イ]", toks)
	}
}

func TestEncodeUnknown(t *testing.T) {
	v, err := New([]string{"ア", "イ"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Encode([]string{"カ"}); err == nil {
		t.Error("Encode of unknown token should fail without OOV")
	}

	v2, err := New([]string{"ア", "OOV", "イ"})
	if err != nil {
		t.Fatal(err)
	}
	ids, err := v2.Encode([]string{"ア", "カ", "イ"})
	if err != nil {
		t.Fatalf("Encode with OOV: %v", err)
	}
	if ids[1] != 2 {
		t.Errorf("unknown token id = %d, want OOV id 2", ids[1])
	}
}

func TestDuplicateToken(t *testing.T) {
	if _, err := New([]string{"ア", "ア"}); err == nil {
		t.Error("duplicate token should fail")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	v, err := New([]string{"学会", "OOV", "です"})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := v.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	v2, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v2.NumClasses() != v.NumClasses() {
		t.Fatalf("NumClasses after round trip = %d, want %d", v2.NumClasses(), v.NumClasses())
	}
	for id := 1; id <= v.Size(); id++ {
		if v2.Token(id) != v.Token(id) {
			t.Errorf("Token(%d) = %q, want %q", id, v2.Token(id), v.Token(id))
		}
	}
}
