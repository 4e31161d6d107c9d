package trainer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/decoder"
	"github.com/sunilsivadas/neural-sp/internal/tboard"
	"github.com/sunilsivadas/neural-sp/metrics"
	"github.com/sunilsivadas/neural-sp/model"
)

// Decode length caps per label unit during evaluation.
const (
	MaxDecodeLenWord = 60
	MaxDecodeLenChar = 150
)

// Trainer wires the datasets, model, optimizer and bookkeeping for one
// run and drives the epoch loop.
type Trainer struct {
	Cfg      *config.Config
	Model    *model.Model
	Optim    *model.Optimizer
	TrainSet *corpus.Dataset
	DevSet   *corpus.Dataset
	EvalSets []*corpus.Dataset
	SavePath string
	Workers  int

	// State is the resume position. Fresh runs start at epoch 1, step
	// 0, with the best metric at 1 since error rates stay below it.
	State TrainState

	ctrl    *Controller
	journal *Journal
	tb      *tboard.Writer

	csvSteps []int
	csvTrain []float64
	csvDev   []float64
}

// Run trains until num_epoch epochs finish or early stopping fires,
// checkpointing and evaluating at epoch boundaries. On a clean finish
// it writes an empty COMPLETE file into the save path.
func (t *Trainer) Run(ctx context.Context) error {
	if t.Workers < 1 {
		t.Workers = 1
	}
	t.ctrl = NewController(t.Cfg.DecayStartEpoch, t.Cfg.DecayRate, t.Cfg.DecayPatientEpoch, true)

	var err error
	t.tb, err = tboard.NewWriter(t.SavePath)
	if err != nil {
		return err
	}
	defer t.tb.Close()

	t.journal, err = OpenJournal(filepath.Join(t.SavePath, "journal.db"),
		t.Model.Name(), t.Cfg.LabelType, t.Cfg.DataSize)
	if err != nil {
		return err
	}
	defer t.journal.Close()

	grads := t.Model.NewGrads()
	params := t.Model.Params()

	epoch := t.State.Epoch
	step := t.State.Step
	lr := t.State.LearningRate
	metricDevBest := t.State.MetricDevBest
	notImprovedEpoch := t.State.NotImprovedEpoch
	t.Optim.LR = lr

	startTrain := time.Now()
	startEpoch := time.Now()
	startStep := time.Now()
	lossTrainMean := 0.0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := t.TrainSet.Next()
		if err != nil {
			return err
		}
		loss, skipped := t.Model.TrainBatch(batch.Xs, batch.Ys, grads, t.Workers, step)
		if n := len(batch.Xs) - skipped; n > 0 {
			t.Optim.Step(params, grads, 1/float64(n), t.Cfg.ClipGradNorm)
		}
		if skipped > 0 {
			klog.Warningf("Skipped %d utterances too short for their labels", skipped)
		}
		klog.V(1).Infof("step %d loss %.3f", step+1, loss)
		lossTrainMean += loss

		if (step+1)%t.Cfg.PrintStep == 0 {
			devBatch, err := t.DevSet.Next()
			if err != nil {
				return err
			}
			lossDev, _ := t.Model.EvalBatch(devBatch.Xs, devBatch.Ys, t.Workers)

			lossTrainMean /= float64(t.Cfg.PrintStep)
			t.csvSteps = append(t.csvSteps, step+1)
			t.csvTrain = append(t.csvTrain, lossTrainMean)
			t.csvDev = append(t.csvDev, lossDev)

			if err := t.tb.AddScalar("train/loss", lossTrainMean, step+1); err != nil {
				return err
			}
			if err := t.tb.AddScalar("dev/loss", lossDev, step+1); err != nil {
				return err
			}
			if err := t.journal.LogStep(step+1, t.TrainSet.EpochDetail(), lossTrainMean, lossDev, lr); err != nil {
				return err
			}

			maxXLen := 0
			for _, l := range batch.XLens {
				if l > maxXLen {
					maxXLen = l
				}
			}
			klog.Infof("...Step:%d(epoch:%.3f) loss:%.3f(%.3f)/lr:%.5f/batch:%d/x_lens:%d (%.3f min)",
				step+1, t.TrainSet.EpochDetail(), lossTrainMean, lossDev, lr,
				len(batch.Xs), maxXLen*t.Cfg.NumStack, time.Since(startStep).Minutes())
			startStep = time.Now()
			lossTrainMean = 0
		}
		step++

		if batch.IsNewEpoch {
			klog.Infof("===== EPOCH:%d (%.3f min) =====", epoch, time.Since(startEpoch).Minutes())
			if err := t.writeLossCSV(); err != nil {
				return err
			}

			if epoch < t.Cfg.EvalStartEpoch {
				st := TrainState{Epoch: epoch, Step: step, LearningRate: lr,
					MetricDevBest: metricDevBest, NotImprovedEpoch: notImprovedEpoch}
				if err := SaveCheckpoint(t.SavePath, t.Model, t.Optim, st); err != nil {
					return err
				}
			} else {
				startEval := time.Now()
				wordScoring := t.Cfg.WordLevel() && !t.Cfg.PretrainStage

				devRep, err := t.evaluate(ctx, t.DevSet)
				if err != nil {
					return err
				}
				var metricDev float64
				if wordScoring {
					metricDev = devRep.WER()
					klog.Infof("  WER (dev): %.3f %%", metricDev*100)
				} else {
					metricDev = devRep.CER()
					klog.Infof("  CER / WER (dev): %.3f %% / %.3f %%", devRep.CER()*100, devRep.WER()*100)
				}
				if err := t.journal.LogEval(epoch, devRep.Split, devRep.CER(), devRep.WER()); err != nil {
					return err
				}

				if metricDev < metricDevBest {
					metricDevBest = metricDev
					notImprovedEpoch = 0
					klog.Info("||||| Best Score |||||")

					st := TrainState{Epoch: epoch, Step: step, LearningRate: lr,
						MetricDevBest: metricDevBest, NotImprovedEpoch: notImprovedEpoch}
					if err := SaveCheckpoint(t.SavePath, t.Model, t.Optim, st); err != nil {
						return err
					}

					var cerSum, werSum float64
					for _, ds := range t.EvalSets {
						rep, err := t.evaluate(ctx, ds)
						if err != nil {
							return err
						}
						if wordScoring {
							klog.Infof("  WER (%s): %.3f %%", rep.Split, rep.WER()*100)
						} else {
							klog.Infof("  CER / WER (%s): %.3f %% / %.3f %%", rep.Split, rep.CER()*100, rep.WER()*100)
						}
						if err := t.journal.LogEval(epoch, rep.Split, rep.CER(), rep.WER()); err != nil {
							return err
						}
						cerSum += rep.CER()
						werSum += rep.WER()
					}
					if n := float64(len(t.EvalSets)); n > 0 {
						if wordScoring {
							klog.Infof("  WER (mean): %.3f %%", werSum/n*100)
						} else {
							klog.Infof("  CER / WER (mean): %.3f %% / %.3f %%", cerSum/n*100, werSum/n*100)
						}
					}
				} else {
					notImprovedEpoch++
				}
				klog.Infof("Evaluation time: %.3f min", time.Since(startEval).Minutes())

				if notImprovedEpoch == t.Cfg.NotImprovedPatientEpoch {
					break
				}

				lr = t.ctrl.DecayLR(lr, epoch, metricDev)
				t.Optim.LR = lr

				if epoch == t.Cfg.ConvertToSGDEpoch {
					t.Optim.ConvertToSGD(lr)
					klog.Info("========== Convert to SGD ==========")
					if t.Cfg.WeightNoiseStd > 0 {
						t.Model.EnableWeightNoise(t.Cfg.WeightNoiseStd)
					}
				}
			}

			if epoch == t.Cfg.NumEpoch {
				break
			}
			epoch++
			startStep = time.Now()
			startEpoch = time.Now()
		}
	}

	klog.Infof("Total time: %.3f hour", time.Since(startTrain).Hours())

	// Mark the run as finished cleanly.
	if err := os.WriteFile(filepath.Join(t.SavePath, "COMPLETE"), nil, 0o644); err != nil {
		return err
	}
	t.State = TrainState{Epoch: epoch, Step: step, LearningRate: lr,
		MetricDevBest: metricDevBest, NotImprovedEpoch: notImprovedEpoch}
	return nil
}

// evaluate scores one dataset with width-1 decoding, capping output
// length by the label unit.
func (t *Trainer) evaluate(ctx context.Context, ds *corpus.Dataset) (*metrics.Report, error) {
	maxLen := MaxDecodeLenChar
	if t.Cfg.WordLevel() {
		maxLen = MaxDecodeLenWord
	}
	cfg := metrics.Config{
		Beam: decoder.Config{
			BeamWidth:    1,
			MaxDecodeLen: maxLen,
			WordLevel:    t.Cfg.WordLevel(),
		},
		Workers: t.Workers,
	}
	return metrics.Evaluate(ctx, t.Model, ds, cfg)
}

func (t *Trainer) writeLossCSV() error {
	var b strings.Builder
	b.WriteString("step,train_loss,dev_loss\n")
	for i, s := range t.csvSteps {
		fmt.Fprintf(&b, "%d,%.6f,%.6f\n", s, t.csvTrain[i], t.csvDev[i])
	}
	return os.WriteFile(filepath.Join(t.SavePath, "loss.csv"), []byte(b.String()), 0o644)
}
