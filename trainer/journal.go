package trainer

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Journal records run metadata, logged steps and epoch evaluations in
// a SQLite file so finished experiments can be queried without parsing
// logs.
type Journal struct {
	db    *sql.DB
	runID int64
}

const journalSchema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	model_name TEXT NOT NULL,
	label_type TEXT NOT NULL,
	data_size TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS steps(
	run_id INTEGER NOT NULL REFERENCES runs(id),
	step INTEGER NOT NULL,
	epoch_detail REAL NOT NULL,
	train_loss REAL NOT NULL,
	dev_loss REAL NOT NULL,
	lr REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS epochs(
	run_id INTEGER NOT NULL REFERENCES runs(id),
	epoch INTEGER NOT NULL,
	split TEXT NOT NULL,
	cer REAL NOT NULL,
	wer REAL NOT NULL
);`

// OpenJournal opens or creates the journal database and registers a
// new run row.
func OpenJournal(path, modelName, labelType, dataSize string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}

	res, err := db.Exec(
		`INSERT INTO runs(started_at, model_name, label_type, data_size) VALUES(?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), modelName, labelType, dataSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: start run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Journal{db: db, runID: runID}, nil
}

// RunID returns the row id of the current run.
func (j *Journal) RunID() int64 { return j.runID }

// LogStep appends one logged training step.
func (j *Journal) LogStep(step int, epochDetail, trainLoss, devLoss, lr float64) error {
	_, err := j.db.Exec(
		`INSERT INTO steps(run_id, step, epoch_detail, train_loss, dev_loss, lr) VALUES(?, ?, ?, ?, ?, ?)`,
		j.runID, step, epochDetail, trainLoss, devLoss, lr)
	if err != nil {
		return fmt.Errorf("journal: log step: %w", err)
	}
	return nil
}

// LogEval appends one per-epoch evaluation result.
func (j *Journal) LogEval(epoch int, split string, cer, wer float64) error {
	_, err := j.db.Exec(
		`INSERT INTO epochs(run_id, epoch, split, cer, wer) VALUES(?, ?, ?, ?, ?)`,
		j.runID, epoch, split, cer, wer)
	if err != nil {
		return fmt.Errorf("journal: log eval: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
