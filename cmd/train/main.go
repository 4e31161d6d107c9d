package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"k8s.io/klog/v2"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/feature"
	"github.com/sunilsivadas/neural-sp/model"
	"github.com/sunilsivadas/neural-sp/trainer"
	"github.com/sunilsivadas/neural-sp/vocab"
)

// seed makes weight init reproducible across runs of the same config.
const seed = 1623

var (
	configPath     = flag.String("config", "", "experiment YAML (required for fresh runs)")
	modelSavePath  = flag.String("model-save-path", "", "root directory for new model directories")
	savedModelPath = flag.String("saved-model-path", "", "existing model directory to restart from")
	dataPath       = flag.String("data-path", "data", "corpus root with feature files and dataset CSVs")
	workers        = flag.Int("workers", runtime.NumCPU(), "parallel workers for loss and gradient computation")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: train -config exp.yml -model-save-path models -data-path data")
		fmt.Fprintln(os.Stderr, "       train -saved-model-path models/blstm_ctc/kana/subset/blstm320H5L_ctc -data-path data")
		fmt.Fprintln(os.Stderr, "  Trains a CTC speech recognizer and evaluates it per epoch.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if (*modelSavePath == "") == (*savedModelPath == "") {
		flag.Usage()
		klog.Exitf("set exactly one of -model-save-path and -saved-model-path")
	}

	var cfg *config.Config
	var err error
	if *savedModelPath != "" {
		cfg, err = config.Load(filepath.Join(*savedModelPath, "config.yml"))
	} else {
		if *configPath == "" {
			flag.Usage()
			klog.Exitf("-config is required with -model-save-path")
		}
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		klog.Fatalf("Load config: %v", err)
	}

	voc, err := vocab.Load(filepath.Join(*dataPath, cfg.DataSize, cfg.LabelType, "vocab.txt"))
	if err != nil {
		klog.Fatalf("Load vocabulary: %v", err)
	}

	trainSet, err := corpus.Open(cfg, *dataPath, "train", cfg.BatchSize, voc)
	if err != nil {
		klog.Fatalf("Open train set: %v", err)
	}
	devSet, err := corpus.Open(cfg, *dataPath, "dev", cfg.BatchSize, voc)
	if err != nil {
		klog.Fatalf("Open dev set: %v", err)
	}
	evalSets := make([]*corpus.Dataset, 0, 3)
	for _, split := range []string{"eval1", "eval2", "eval3"} {
		ds, err := corpus.Open(cfg, *dataPath, split, 1, voc)
		if err != nil {
			klog.Fatalf("Open %s set: %v", split, err)
		}
		evalSets = append(evalSets, ds)
	}
	cfg.NumClasses = trainSet.NumClasses()
	klog.Infof("Dataset: train %d / dev %d / eval %d+%d+%d utterances, %d classes",
		trainSet.Len(), devSet.Len(),
		evalSets[0].Len(), evalSets[1].Len(), evalSets[2].Len(), cfg.NumClasses)

	var (
		m        *model.Model
		opt      *model.Optimizer
		st       trainer.TrainState
		savePath string
	)
	if *savedModelPath != "" {
		m, opt, st, err = trainer.LoadCheckpoint(*savedModelPath, -1)
		if err != nil {
			klog.Fatalf("Restore checkpoint: %v", err)
		}
		if m.NumClasses() != cfg.NumClasses {
			klog.Fatalf("saved model has %d classes, corpus has %d", m.NumClasses(), cfg.NumClasses)
		}
		savePath = *savedModelPath

		// Resume at the epoch after the checkpointed one.
		st.Epoch++
		trainSet.SetEpoch(st.Epoch - 1)
		if opt.Name == "sgd" && cfg.WeightNoiseStd > 0 {
			m.EnableWeightNoise(cfg.WeightNoiseStd)
		}
		klog.Infof("Restarting from epoch %d (step %d, lr %.5f)", st.Epoch, st.Step, st.LearningRate)
	} else {
		m, err = model.New(cfg, cfg.NumClasses, seed)
		if err != nil {
			klog.Fatalf("Build model: %v", err)
		}
		opt, err = model.NewOptimizer(cfg.Optimizer, cfg.LearningRate, cfg.WeightDecay, m.Params())
		if err != nil {
			klog.Fatalf("Build optimizer: %v", err)
		}
		st = trainer.TrainState{Epoch: 1, Step: 0, LearningRate: cfg.LearningRate, MetricDevBest: 1}

		savePath, err = resolveSavePath(filepath.Join(
			*modelSavePath, cfg.ModelType, cfg.LabelType, cfg.DataSize, m.Name()))
		if err != nil {
			klog.Fatalf("Create model directory: %v", err)
		}
		if err := cfg.Save(filepath.Join(savePath, "config.yml")); err != nil {
			klog.Fatalf("Save config: %v", err)
		}
		// The model directory carries everything decoding needs.
		if err := voc.Save(filepath.Join(savePath, "vocab.txt")); err != nil {
			klog.Fatalf("Save vocabulary: %v", err)
		}
		cmvnPath := filepath.Join(*dataPath, cfg.DataSize, cfg.LabelType, "cmvn.gob")
		if _, err := os.Stat(cmvnPath); err == nil {
			cm, err := feature.LoadCMVN(cmvnPath)
			if err != nil {
				klog.Fatalf("Load CMVN: %v", err)
			}
			if err := cm.Save(filepath.Join(savePath, "cmvn.gob")); err != nil {
				klog.Fatalf("Copy CMVN: %v", err)
			}
		}
	}
	klog.Infof("Model directory: %s", savePath)

	params := make([]model.Param, len(m.Params()))
	copy(params, m.Params())
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
	for _, p := range params {
		klog.Infof("%s %d", p.Name, len(p.W))
	}
	klog.Infof("Total %.3f M parameters", float64(m.NumParams())/1e6)

	tr := &trainer.Trainer{
		Cfg:      cfg,
		Model:    m,
		Optim:    opt,
		TrainSet: trainSet,
		DevSet:   devSet,
		EvalSets: evalSets,
		SavePath: savePath,
		Workers:  *workers,
		State:    st,
	}
	if err := tr.Run(context.Background()); err != nil {
		klog.Fatalf("Training: %v", err)
	}
}

// resolveSavePath creates the model directory, suffixing _2, _3 and so on
// when the target already holds a finished run.
func resolveSavePath(base string) (string, error) {
	path := base
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(path, "COMPLETE")); os.IsNotExist(err) {
			break
		}
		path = fmt.Sprintf("%s_%d", base, i)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
