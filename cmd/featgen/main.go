package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"k8s.io/klog/v2"

	"github.com/sunilsivadas/neural-sp/audio"
	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/feature"
	"github.com/sunilsivadas/neural-sp/vocab"
)

var (
	inputDir  = flag.String("input", "", "directory with <split>.tsv manifests (wav_path<TAB>transcript)")
	outputDir = flag.String("output", "data", "corpus root to write features and dataset CSVs into")
	dataSize  = flag.String("data-size", "subset", "corpus size tag used in the output layout")
	labelType = flag.String("label-type", "kana", "label unit: kana or word")
	featType  = flag.String("feature", "fbank", "feature type: fbank or mfcc")
	numMel    = flag.Int("mel", 40, "mel filterbank channels")
	useDelta  = flag.Bool("delta", true, "append delta coefficients")
	useDDelta = flag.Bool("ddelta", true, "append delta-delta coefficients")
	augment   = flag.Bool("augment", false, "5-way speed perturbation for the train split")
	workers   = flag.Int("workers", runtime.NumCPU(), "parallel extraction workers")
)

var splits = []string{"train", "dev", "eval1", "eval2", "eval3"}

type rawUtt struct {
	wavPath string
	text    string
}

type extracted struct {
	utt     corpus.Utterance
	feats   [][]float64
	isTrain bool
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: featgen -input manifests -output data")
		fmt.Fprintln(os.Stderr, "  Extracts features from WAV manifests and writes the training corpus layout:")
		fmt.Fprintln(os.Stderr, "  HTK feature files, per-split CSVs, global CMVN stats and the vocabulary.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *inputDir == "" {
		flag.Usage()
		klog.Exitf("-input is required")
	}

	featCfg := feature.DefaultConfig()
	featCfg.Type = *featType
	featCfg.NumMelFilters = *numMel
	featCfg.UseDelta = *useDelta
	featCfg.UseDeltaDelta = *useDDelta
	// Global CMVN over the train split replaces per-utterance CMN.
	featCfg.UseCMN = false
	if err := featCfg.Validate(); err != nil {
		klog.Fatalf("Feature config: %v", err)
	}
	htkKind := int16(corpus.HTKKindFBank)
	if *featType == "mfcc" {
		htkKind = corpus.HTKKindMFCC
	}

	labelDir := filepath.Join(*outputDir, *dataSize, *labelType)
	if err := os.MkdirAll(labelDir, 0o755); err != nil {
		klog.Fatalf("Create output directory: %v", err)
	}

	cmvn := feature.NewCMVN(featCfg.FeatureDim())
	tokenSet := make(map[string]struct{})
	manifests := make(map[string][]corpus.Utterance)

	for _, split := range splits {
		manifestPath := filepath.Join(*inputDir, split+".tsv")
		raw, err := readManifest(manifestPath)
		if os.IsNotExist(err) {
			klog.Warningf("No manifest for %s, skipping", split)
			continue
		}
		if err != nil {
			klog.Fatalf("Read %s: %v", manifestPath, err)
		}

		utts, skipped := extractSplit(split, raw, featCfg, htkKind, cmvn, tokenSet)
		if len(utts) == 0 {
			klog.Fatalf("%s: no usable utterances", split)
		}
		manifests[split] = utts
		klog.Infof("%s: %d utterances extracted, %d skipped", split, len(utts), skipped)
	}
	if len(manifests["train"]) == 0 {
		klog.Exitf("the train split is required")
	}

	// Second pass: normalize every written feature file with the train
	// statistics.
	klog.Infof("Normalizing with global CMVN over %d train frames", cmvn.Frames())
	for _, split := range splits {
		for _, u := range manifests[split] {
			path := filepath.Join(*outputDir, u.FeatPath)
			feats, err := corpus.ReadHTK(path)
			if err != nil {
				klog.Fatalf("Reread %s: %v", path, err)
			}
			if err := cmvn.Normalize(feats); err != nil {
				klog.Fatalf("Normalize %s: %v", u.ID, err)
			}
			if err := corpus.WriteHTK(path, feats, htkKind); err != nil {
				klog.Fatalf("Rewrite %s: %v", path, err)
			}
		}
	}

	for _, split := range splits {
		utts := manifests[split]
		if utts == nil {
			continue
		}
		csvPath := filepath.Join(labelDir, split+".csv")
		if err := corpus.WriteManifest(csvPath, utts); err != nil {
			klog.Fatalf("Write %s: %v", csvPath, err)
		}
	}

	tokens := make([]string, 0, len(tokenSet)+1)
	for tok := range tokenSet {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	// Unknown dev/eval tokens encode onto this during training.
	tokens = append(tokens, "OOV")
	voc, err := vocab.New(tokens)
	if err != nil {
		klog.Fatalf("Build vocabulary: %v", err)
	}
	if err := voc.Save(filepath.Join(labelDir, "vocab.txt")); err != nil {
		klog.Fatalf("Save vocabulary: %v", err)
	}
	if err := cmvn.Save(filepath.Join(labelDir, "cmvn.gob")); err != nil {
		klog.Fatalf("Save CMVN: %v", err)
	}
	klog.Infof("Wrote %s: %d classes, feature dim %d", labelDir, voc.NumClasses(), featCfg.FeatureDim())
}

// readManifest parses wav_path<TAB>transcript lines, skipping blanks
// and comments.
func readManifest(path string) ([]rawUtt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var utts []rawUtt
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		utts = append(utts, rawUtt{wavPath: parts[0], text: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return utts, nil
}

// extractSplit runs feature extraction for one split, writing raw HTK
// files and returning the manifest rows. Train utterances feed the CMVN
// accumulator and the token inventory; unreadable WAVs are skipped with
// a warning.
func extractSplit(split string, raw []rawUtt, featCfg feature.Config, htkKind int16,
	cmvn *feature.CMVN, tokenSet map[string]struct{}) ([]corpus.Utterance, int) {

	featDir := filepath.Join(*outputDir, "feats", split)
	if err := os.MkdirAll(featDir, 0o755); err != nil {
		klog.Fatalf("Create %s: %v", featDir, err)
	}

	isTrain := split == "train"
	factors := []float64{1.0}
	if *augment && isTrain {
		factors = []float64{1.0, 0.9, 0.95, 1.05, 1.1}
	}

	resultCh := make(chan extracted, *workers*2)
	sem := make(chan struct{}, *workers)
	var wg sync.WaitGroup
	var skipMu sync.Mutex
	skipped := 0

	go func() {
		for _, r := range raw {
			text := tokenizeTranscript(r.text)
			if text == "" {
				skipMu.Lock()
				skipped++
				skipMu.Unlock()
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(r rawUtt, text string) {
				defer wg.Done()
				defer func() { <-sem }()

				samples, _, err := audio.ReadWAVFile(r.wavPath)
				if err != nil {
					klog.Warningf("%s: %v", r.wavPath, err)
					skipMu.Lock()
					skipped++
					skipMu.Unlock()
					return
				}

				base := strings.TrimSuffix(filepath.Base(r.wavPath), filepath.Ext(r.wavPath))
				for _, factor := range factors {
					id := base
					in := samples
					if factor != 1.0 {
						id = fmt.Sprintf("%s-sp%.2f", base, factor)
						in = audio.SpeedPerturb(samples, factor)
						if in == nil {
							continue
						}
					}
					feats, err := feature.Extract(in, featCfg)
					if err != nil || len(feats) == 0 {
						klog.Warningf("%s: extraction failed: %v", id, err)
						continue
					}
					rel := filepath.Join("feats", split, id+".htk")
					if err := corpus.WriteHTK(filepath.Join(*outputDir, rel), feats, htkKind); err != nil {
						klog.Fatalf("Write %s: %v", rel, err)
					}
					resultCh <- extracted{
						utt:     corpus.Utterance{ID: id, FeatPath: rel, NumFrames: len(feats), Text: text},
						feats:   feats,
						isTrain: isTrain,
					}
				}
			}(r, text)
		}
		wg.Wait()
		close(resultCh)
	}()

	var utts []corpus.Utterance
	for r := range resultCh {
		if r.isTrain {
			if err := cmvn.Accumulate(r.feats); err != nil {
				klog.Fatalf("CMVN: %v", err)
			}
			for _, tok := range strings.Fields(r.utt.Text) {
				tokenSet[tok] = struct{}{}
			}
		}
		utts = append(utts, r.utt)
	}
	sort.Slice(utts, func(i, j int) bool { return utts[i].ID < utts[j].ID })
	return utts, skipped
}

// tokenizeTranscript turns a raw transcript into the space-separated
// token sequence stored in the dataset CSV. Kana labels split into
// normalized characters; word labels keep the given segmentation.
func tokenizeTranscript(text string) string {
	if *labelType == "word" {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.Join(vocab.SplitKana(vocab.NormalizeKana(text)), " ")
}
