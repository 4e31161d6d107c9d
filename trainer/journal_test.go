package trainer

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := OpenJournal(path, "blstm4H1L_ctc", "kana", "subset")
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if err := j.LogStep(100, 0.25, 112.5, 108.3, 1e-3); err != nil {
		t.Fatal(err)
	}
	if err := j.LogStep(200, 0.5, 95.1, 92.7, 1e-3); err != nil {
		t.Fatal(err)
	}
	if err := j.LogEval(1, "dev", 0.32, 0.41); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var runs int
	if err := db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs); err != nil {
		t.Fatal(err)
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}

	var steps int
	if err := db.QueryRow(`SELECT COUNT(*) FROM steps`).Scan(&steps); err != nil {
		t.Fatal(err)
	}
	if steps != 2 {
		t.Errorf("steps = %d, want 2", steps)
	}

	var trainLoss float64
	if err := db.QueryRow(`SELECT train_loss FROM steps WHERE step = 100`).Scan(&trainLoss); err != nil {
		t.Fatal(err)
	}
	if trainLoss != 112.5 {
		t.Errorf("train_loss = %f, want 112.5", trainLoss)
	}

	var split string
	var cer float64
	if err := db.QueryRow(`SELECT split, cer FROM epochs WHERE epoch = 1`).Scan(&split, &cer); err != nil {
		t.Fatal(err)
	}
	if split != "dev" || cer != 0.32 {
		t.Errorf("epoch row = (%q, %f), want (dev, 0.32)", split, cer)
	}
}

func TestJournalSeparateRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := OpenJournal(path, "m", "kana", "subset")
	if err != nil {
		t.Fatal(err)
	}
	first := j1.RunID()
	j1.Close()

	j2, err := OpenJournal(path, "m", "kana", "subset")
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()
	if j2.RunID() == first {
		t.Errorf("restart reused run id %d", first)
	}
}
