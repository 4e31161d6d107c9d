package trainer

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sunilsivadas/neural-sp/model"
)

// TrainState is the loop position saved with every checkpoint, enough
// to resume a run exactly where it stopped.
type TrainState struct {
	Epoch            int
	Step             int
	LearningRate     float64
	MetricDevBest    float64
	NotImprovedEpoch int
}

type serializedCheckpointV1 struct {
	Version int
	State   TrainState
	Model   []byte
	Optim   []byte
}

const checkpointPrefix = "model.epoch-"

// SaveCheckpoint writes model weights, optimizer state and the loop
// position to <dir>/model.epoch-N.
func SaveCheckpoint(dir string, m *model.Model, opt *model.Optimizer, st TrainState) error {
	var mbuf, obuf bytes.Buffer
	if err := m.Save(&mbuf); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := opt.Save(&obuf); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	ck := serializedCheckpointV1{
		Version: 1,
		State:   st,
		Model:   mbuf.Bytes(),
		Optim:   obuf.Bytes(),
	}

	path := filepath.Join(dir, checkpointPrefix+strconv.Itoa(st.Epoch))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&ck); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: encoding %s: %w", path, err)
	}
	return f.Close()
}

// LoadCheckpoint restores the checkpoint for the given epoch from dir.
// Epoch -1 picks the newest one on disk.
func LoadCheckpoint(dir string, epoch int) (*model.Model, *model.Optimizer, TrainState, error) {
	var st TrainState
	if epoch < 0 {
		var err error
		epoch, err = LatestCheckpoint(dir)
		if err != nil {
			return nil, nil, st, err
		}
	}

	path := filepath.Join(dir, checkpointPrefix+strconv.Itoa(epoch))
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, st, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()

	var ck serializedCheckpointV1
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, nil, st, fmt.Errorf("checkpoint: decoding %s: %w", path, err)
	}
	if ck.Version != 1 {
		return nil, nil, st, fmt.Errorf("checkpoint: unsupported version %d in %s", ck.Version, path)
	}

	m, err := model.Load(bytes.NewReader(ck.Model))
	if err != nil {
		return nil, nil, st, fmt.Errorf("checkpoint: %w", err)
	}
	opt, err := model.LoadOptimizer(bytes.NewReader(ck.Optim))
	if err != nil {
		return nil, nil, st, fmt.Errorf("checkpoint: %w", err)
	}
	return m, opt, ck.State, nil
}

// LatestCheckpoint returns the highest checkpoint epoch present in dir.
func LatestCheckpoint(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}
	best := -1
	for _, e := range entries {
		name, ok := strings.CutPrefix(e.Name(), checkpointPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("checkpoint: no checkpoints in %s", dir)
	}
	return best, nil
}
