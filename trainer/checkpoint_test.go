package trainer

import (
	"testing"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/model"
)

func trainerConfig() *config.Config {
	cfg := config.Default()
	cfg.InputChannel = 3
	cfg.UseDelta = false
	cfg.UseDoubleDelta = false
	cfg.Splice = 1
	cfg.NumStack = 1
	cfg.NumSkip = 1
	cfg.MinFrameNum = 0
	cfg.DynamicBatching = false
	cfg.NumUnits = 4
	cfg.NumLayers = 1
	cfg.DropoutInput = 0
	cfg.DropoutHidden = 0
	return &cfg
}

func newTestModel(t *testing.T) (*model.Model, *model.Optimizer) {
	t.Helper()
	m, err := model.New(trainerConfig(), 4, 7)
	if err != nil {
		t.Fatal(err)
	}
	opt, err := model.NewOptimizer("adam", 1e-3, 0, m.Params())
	if err != nil {
		t.Fatal(err)
	}
	return m, opt
}

func fillGrads(m *model.Model) *model.Grads {
	grads := m.NewGrads()
	for _, g := range grads.G {
		for i := range g {
			g[i] = 0.01 * float64(i%7+1)
		}
	}
	return grads
}

func TestCheckpointRoundTrip(t *testing.T) {
	m, opt := newTestModel(t)
	dir := t.TempDir()

	// One update so the optimizer carries non-trivial moment state.
	opt.Step(m.Params(), fillGrads(m), 1, 0)

	st := TrainState{Epoch: 3, Step: 120, LearningRate: 5e-4, MetricDevBest: 0.42, NotImprovedEpoch: 1}
	if err := SaveCheckpoint(dir, m, opt, st); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	m2, opt2, st2, err := LoadCheckpoint(dir, 3)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if st2 != st {
		t.Errorf("state = %+v, want %+v", st2, st)
	}

	p1, p2 := m.Params(), m2.Params()
	if len(p1) != len(p2) {
		t.Fatalf("param count %d vs %d", len(p1), len(p2))
	}
	for i := range p1 {
		if p1[i].Name != p2[i].Name {
			t.Fatalf("param %d name %q vs %q", i, p1[i].Name, p2[i].Name)
		}
		for j := range p1[i].W {
			if p1[i].W[j] != p2[i].W[j] {
				t.Fatalf("param %s differs at %d after restore", p1[i].Name, j)
			}
		}
	}

	// The restored optimizer must continue exactly where the original
	// would, including bias correction on the step counter.
	opt.Step(p1, fillGrads(m), 1, 0)
	opt2.Step(p2, fillGrads(m2), 1, 0)
	for i := range p1 {
		for j := range p1[i].W {
			if p1[i].W[j] != p2[i].W[j] {
				t.Fatalf("param %s diverges at %d after one more step", p1[i].Name, j)
			}
		}
	}
}

func TestLoadCheckpointLatest(t *testing.T) {
	m, opt := newTestModel(t)
	dir := t.TempDir()

	for _, epoch := range []int{1, 2, 5} {
		st := TrainState{Epoch: epoch, Step: epoch * 10, LearningRate: 1e-3, MetricDevBest: 1}
		if err := SaveCheckpoint(dir, m, opt, st); err != nil {
			t.Fatalf("SaveCheckpoint epoch %d: %v", epoch, err)
		}
	}

	_, _, st, err := LoadCheckpoint(dir, -1)
	if err != nil {
		t.Fatalf("LoadCheckpoint(-1): %v", err)
	}
	if st.Epoch != 5 {
		t.Errorf("latest epoch = %d, want 5", st.Epoch)
	}
	if st.Step != 50 {
		t.Errorf("latest step = %d, want 50", st.Step)
	}
}

func TestLatestCheckpointEmpty(t *testing.T) {
	if _, err := LatestCheckpoint(t.TempDir()); err == nil {
		t.Error("expected error for directory without checkpoints")
	}
}
