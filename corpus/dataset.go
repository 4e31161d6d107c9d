package corpus

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/vocab"
)

// defaultSeed matches the experiment-wide RNG seed.
const defaultSeed = 1623

// cacheBytes bounds the per-dataset feature byte cache.
const cacheBytes = 256 << 20

// Batch is one minibatch of variable-length utterances.
type Batch struct {
	Utts  []string
	Texts []string
	// Xs holds per-utterance feature sequences after frame stacking and
	// splicing, so len(Xs[i]) == XLens[i].
	Xs    [][][]float64
	XLens []int
	Ys    [][]int
	YLens []int
	// IsNewEpoch marks the batch that consumes the last utterances of
	// the current epoch.
	IsNewEpoch bool
}

// Dataset iterates one corpus split in minibatches. The training split
// is served shortest-first until sort_stop_epoch and shuffled after,
// dev is shuffled every epoch, eval splits keep manifest order.
type Dataset struct {
	split     string
	isEval    bool
	cfg       *config.Config
	voc       *vocab.Vocab
	dataDir   string
	utts      []Utterance
	ys        [][]int
	order     []int
	pos       int
	epoch     int
	batchSize int
	featDim   int
	cache     *featureCache
	rng       *rand.Rand
}

// Open loads the manifest for one split under
// <dataDir>/<data_size>/<label_type>/<split>.csv and prepares iteration.
// Training utterances shorter than min_frame_num are dropped.
func Open(cfg *config.Config, dataDir, split string, batchSize int, voc *vocab.Vocab) (*Dataset, error) {
	manifest := filepath.Join(dataDir, cfg.DataSize, cfg.LabelType, split+".csv")
	utts, err := LoadManifest(manifest)
	if err != nil {
		return nil, err
	}

	if split == "train" && cfg.MinFrameNum > 0 {
		kept := utts[:0]
		for _, u := range utts {
			if u.NumFrames >= cfg.MinFrameNum {
				kept = append(kept, u)
			}
		}
		if len(kept) == 0 {
			return nil, fmt.Errorf("corpus: %s: all utterances shorter than min_frame_num %d", split, cfg.MinFrameNum)
		}
		utts = kept
	}

	ys := make([][]int, len(utts))
	for i, u := range utts {
		y, err := voc.Encode(strings.Fields(u.Text))
		if err != nil {
			return nil, fmt.Errorf("corpus: %s: utterance %s: %w", split, u.ID, err)
		}
		if len(y) == 0 {
			return nil, fmt.Errorf("corpus: %s: utterance %s has empty transcript", split, u.ID)
		}
		ys[i] = y
	}

	freq := cfg.InputChannel
	if cfg.UseDelta {
		freq += cfg.InputChannel
	}
	if cfg.UseDoubleDelta {
		freq += cfg.InputChannel
	}

	d := &Dataset{
		split:     split,
		isEval:    strings.HasPrefix(split, "eval"),
		cfg:       cfg,
		voc:       voc,
		dataDir:   dataDir,
		utts:      utts,
		ys:        ys,
		order:     make([]int, len(utts)),
		batchSize: batchSize,
		featDim:   freq,
		cache:     newFeatureCache(cacheBytes),
		rng:       rand.New(rand.NewSource(defaultSeed)),
	}
	d.resetOrder()
	return d, nil
}

func (d *Dataset) resetOrder() {
	for i := range d.order {
		d.order[i] = i
	}
	switch {
	case d.isEval:
		// manifest order
	case d.split == "train" && d.epoch < d.cfg.SortStopEpoch:
		sort.SliceStable(d.order, func(i, j int) bool {
			return d.utts[d.order[i]].NumFrames < d.utts[d.order[j]].NumFrames
		})
	default:
		d.rng.Shuffle(len(d.order), func(i, j int) {
			d.order[i], d.order[j] = d.order[j], d.order[i]
		})
	}
}

// CurrentBatchSize returns the size of the batch the next call to Next
// will produce. With dynamic batching the nominal size shrinks for long
// utterances so the padded tensor stays bounded.
func (d *Dataset) CurrentBatchSize() int {
	bs := d.batchSize
	if d.cfg.DynamicBatching && !d.isEval {
		end := d.pos + bs
		if end > len(d.order) {
			end = len(d.order)
		}
		maxFrames := 0
		for _, idx := range d.order[d.pos:end] {
			if f := d.utts[idx].NumFrames; f > maxFrames {
				maxFrames = f
			}
		}
		switch {
		case maxFrames > 1200:
			bs /= 4
		case maxFrames > 600:
			bs /= 2
		}
		if bs < 1 {
			bs = 1
		}
	}
	if remaining := len(d.order) - d.pos; bs > remaining {
		bs = remaining
	}
	return bs
}

// Next produces the next minibatch. Feature files are loaded in
// parallel and decoded through the byte cache. The final batch of an
// epoch reports IsNewEpoch and the iterator rolls over automatically.
func (d *Dataset) Next() (*Batch, error) {
	bs := d.CurrentBatchSize()
	idx := d.order[d.pos : d.pos+bs]

	batch := &Batch{
		Utts:  make([]string, bs),
		Texts: make([]string, bs),
		Xs:    make([][][]float64, bs),
		XLens: make([]int, bs),
		Ys:    make([][]int, bs),
		YLens: make([]int, bs),
	}

	var g errgroup.Group
	g.SetLimit(loadWorkers())
	for i, uttIdx := range idx {
		u := d.utts[uttIdx]
		y := d.ys[uttIdx]
		g.Go(func() error {
			x, err := d.loadFeatures(u)
			if err != nil {
				return err
			}
			x = Preprocess(x, d.cfg)
			batch.Utts[i] = u.ID
			batch.Texts[i] = u.Text
			batch.Xs[i] = x
			batch.XLens[i] = len(x)
			batch.Ys[i] = y
			batch.YLens[i] = len(y)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.pos += bs
	if d.pos >= len(d.order) {
		batch.IsNewEpoch = true
		d.epoch++
		d.pos = 0
		d.resetOrder()
	}
	return batch, nil
}

func (d *Dataset) loadFeatures(u Utterance) ([][]float64, error) {
	path := u.FeatPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.dataDir, path)
	}
	data, ok := d.cache.get(path)
	if !ok {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("corpus: utterance %s: %w", u.ID, err)
		}
		d.cache.set(path, data)
	}
	x, err := DecodeHTK(data)
	if err != nil {
		return nil, fmt.Errorf("corpus: utterance %s: %w", u.ID, err)
	}
	if len(x) == 0 {
		return nil, fmt.Errorf("corpus: utterance %s: empty feature file", u.ID)
	}
	if len(x[0]) != d.featDim {
		return nil, fmt.Errorf("corpus: utterance %s: feature dim %d, want %d (check use_delta settings)",
			u.ID, len(x[0]), d.featDim)
	}
	return x, nil
}

// Epoch returns the number of completed epochs.
func (d *Dataset) Epoch() int { return d.epoch }

// EpochDetail returns the fractional epoch position.
func (d *Dataset) EpochDetail() float64 {
	return float64(d.epoch) + float64(d.pos)/float64(len(d.order))
}

// SetEpoch rewinds or advances the epoch counter, e.g. when restarting
// from a checkpoint, and rebuilds the iteration order accordingly.
func (d *Dataset) SetEpoch(n int) {
	d.epoch = n
	d.pos = 0
	d.resetOrder()
}

// Len returns the number of utterances served per epoch.
func (d *Dataset) Len() int { return len(d.utts) }

// NumClasses returns the output dimension including the blank.
func (d *Dataset) NumClasses() int { return d.voc.NumClasses() }

// Vocab returns the label vocabulary shared by all splits.
func (d *Dataset) Vocab() *vocab.Vocab { return d.voc }

// Split returns the split name this dataset serves.
func (d *Dataset) Split() string { return d.split }

func loadWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if n > 8 {
		n = 8
	}
	return n
}

// Preprocess applies the configured frame stacking and splicing, the
// same transform every training batch goes through. Decode paths run
// raw features through it so the model sees its training-time input.
func Preprocess(x [][]float64, cfg *config.Config) [][]float64 {
	x = stackFrames(x, cfg.NumStack, cfg.NumSkip)
	return spliceFrames(x, cfg.Splice)
}

// stackFrames concatenates stack consecutive frames and advances by
// skip, shortening the sequence by roughly num_skip. The tail is padded
// by repeating the final frame.
func stackFrames(x [][]float64, stack, skip int) [][]float64 {
	if stack <= 1 && skip <= 1 {
		return x
	}
	T := len(x)
	dim := len(x[0])
	outLen := (T + skip - 1) / skip
	out := make([][]float64, outLen)
	flat := make([]float64, outLen*stack*dim)
	for i := 0; i < outLen; i++ {
		row := flat[i*stack*dim : (i+1)*stack*dim]
		for s := 0; s < stack; s++ {
			t := i*skip + s
			if t >= T {
				t = T - 1
			}
			copy(row[s*dim:(s+1)*dim], x[t])
		}
		out[i] = row
	}
	return out
}

// spliceFrames appends left and right context frames, replicating the
// edges, so each output row covers a window of splice input frames.
func spliceFrames(x [][]float64, splice int) [][]float64 {
	if splice <= 1 {
		return x
	}
	T := len(x)
	dim := len(x[0])
	half := splice / 2
	out := make([][]float64, T)
	flat := make([]float64, T*splice*dim)
	for t := 0; t < T; t++ {
		row := flat[t*splice*dim : (t+1)*splice*dim]
		for w := -half; w <= half; w++ {
			src := t + w
			if src < 0 {
				src = 0
			}
			if src >= T {
				src = T - 1
			}
			copy(row[(w+half)*dim:(w+half+1)*dim], x[src])
		}
		out[t] = row
	}
	return out
}
