package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// Standard evaluation talk sets from the CSJ recipe. Each holds ten
// talks; everything else splits into train and dev.
var defaultEvalTalks = map[string][]string{
	"eval1": {
		"A01M0110", "A01M0137", "A01M0097", "A03M0106", "A04M0123",
		"A04M0121", "A04M0051", "A03M0156", "A03M0112", "A03M0113",
	},
	"eval2": {
		"A01M0056", "A03F0072", "A02M0012", "A03M0016", "A06M0064",
		"A06F0135", "A01F0034", "A01F0063", "A01F0001", "A01M0141",
	},
	"eval3": {
		"S00M0112", "S00F0066", "S00M0213", "S00F0019", "S00M0079",
		"S01F0105", "S00F0152", "S00M0070", "S00M0008", "S00F0148",
	},
}

var (
	exportPath = flag.String("export", "", "CSJ utterance export TSV: id, talk, start, end, orthography, reading (required)")
	wavSrcDir  = flag.String("wav-src", "", "directory with one WAV per talk, <talk>.wav (required)")
	outputDir  = flag.String("output", "", "directory for the per-split manifests (required)")
	wavDir     = flag.String("wav-dir", "", "output directory for cut utterance WAVs (required)")
	transcript = flag.String("transcript", "reading", "transcript column: reading (kana) or orthography")
	devTalks   = flag.Int("dev-talks", 10, "non-eval talks held out as the dev split")
	minDur     = flag.Float64("min-dur", 0.3, "minimum utterance duration in seconds")
	evalLists  = flag.String("eval-lists", "", "directory with eval1/eval2/eval3 talk list files overriding the built-in sets")
	workers    = flag.Int("workers", runtime.NumCPU(), "number of parallel ffmpeg workers")
)

type csjUtt struct {
	id    string
	talk  string
	start float64
	end   float64
	text  string
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: csjimport -export utts.tsv -wav-src csj/wav -output manifests -wav-dir wav16k")
		fmt.Fprintln(os.Stderr, "  Cuts talk recordings into utterance WAVs and writes featgen manifests")
		fmt.Fprintln(os.Stderr, "  for train/dev/eval1/eval2/eval3 using the standard evaluation talk sets.")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *exportPath == "" || *wavSrcDir == "" || *outputDir == "" || *wavDir == "" {
		flag.Usage()
		klog.Exitf("-export, -wav-src, -output and -wav-dir are all required")
	}
	if *transcript != "reading" && *transcript != "orthography" {
		klog.Exitf("-transcript must be reading or orthography")
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		klog.Exitf("ffmpeg not found in PATH")
	}

	evalTalks := defaultEvalTalks
	if *evalLists != "" {
		var err error
		evalTalks, err = readEvalLists(*evalLists)
		if err != nil {
			klog.Fatalf("Read eval lists: %v", err)
		}
	}

	utts, dropped, err := readExport(*exportPath, *transcript == "reading", *minDur)
	if err != nil {
		klog.Fatalf("Read export: %v", err)
	}
	klog.Infof("Export: %d utterances (%d dropped)", len(utts), dropped)
	if len(utts) == 0 {
		klog.Exitf("nothing to import")
	}

	assign := splitAssignment(utts, evalTalks, *devTalks)

	if err := os.MkdirAll(*wavDir, 0o755); err != nil {
		klog.Fatalf("Create wav-dir: %v", err)
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		klog.Fatalf("Create output: %v", err)
	}

	// Cut and resample the utterance segments.
	var cutOK, cutFail int64
	sem := make(chan struct{}, *workers)
	var wg sync.WaitGroup
	for i := range utts {
		wg.Add(1)
		sem <- struct{}{}
		go func(u *csjUtt) {
			defer wg.Done()
			defer func() { <-sem }()

			src := filepath.Join(*wavSrcDir, u.talk+".wav")
			dst := filepath.Join(*wavDir, u.id+".wav")
			if err := cutSegment(src, dst, u.start, u.end); err != nil {
				klog.Warningf("%s: %v", u.id, err)
				atomic.AddInt64(&cutFail, 1)
				return
			}
			atomic.AddInt64(&cutOK, 1)
		}(&utts[i])
	}
	wg.Wait()
	klog.Infof("Segments cut: %d (failed: %d)", cutOK, cutFail)

	counts := make(map[string]int)
	writers := make(map[string]*bufio.Writer)
	files := make(map[string]*os.File)
	for _, split := range []string{"train", "dev", "eval1", "eval2", "eval3"} {
		f, err := os.Create(filepath.Join(*outputDir, split+".tsv"))
		if err != nil {
			klog.Fatalf("Create manifest: %v", err)
		}
		files[split] = f
		writers[split] = bufio.NewWriter(f)
	}
	for _, u := range utts {
		wavPath := filepath.Join(*wavDir, u.id+".wav")
		if _, err := os.Stat(wavPath); err != nil {
			continue
		}
		split := assign[u.talk]
		fmt.Fprintf(writers[split], "%s\t%s\n", wavPath, u.text)
		counts[split]++
	}
	for split, w := range writers {
		if err := w.Flush(); err != nil {
			klog.Fatalf("Write %s manifest: %v", split, err)
		}
		if err := files[split].Close(); err != nil {
			klog.Fatalf("Close %s manifest: %v", split, err)
		}
	}
	klog.Infof("Manifests: train %d / dev %d / eval %d+%d+%d",
		counts["train"], counts["dev"], counts["eval1"], counts["eval2"], counts["eval3"])
}

// readExport parses the utterance table. Rows with a missing transcript
// or shorter than minDur are dropped.
func readExport(path string, useReading bool, minDur float64) ([]csjUtt, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var utts []csjUtt
	dropped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 6 {
			return nil, 0, fmt.Errorf("line %d: want 6 columns, got %d", lineNum, len(cols))
		}
		start, err := strconv.ParseFloat(cols[2], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: start: %v", lineNum, err)
		}
		end, err := strconv.ParseFloat(cols[3], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("line %d: end: %v", lineNum, err)
		}
		text := cols[4]
		if useReading {
			text = cols[5]
		}
		text = strings.TrimSpace(text)
		if text == "" || end-start < minDur {
			dropped++
			continue
		}
		utts = append(utts, csjUtt{id: cols[0], talk: cols[1], start: start, end: end, text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return utts, dropped, nil
}

// splitAssignment maps each talk to its split: the eval lists as given,
// then the first devTalks remaining talks (sorted) as dev, the rest as
// train.
func splitAssignment(utts []csjUtt, evalTalks map[string][]string, devTalks int) map[string]string {
	assign := make(map[string]string)
	for split, talks := range evalTalks {
		for _, talk := range talks {
			assign[talk] = split
		}
	}

	var rest []string
	seen := make(map[string]bool)
	for _, u := range utts {
		if seen[u.talk] {
			continue
		}
		seen[u.talk] = true
		if _, ok := assign[u.talk]; !ok {
			rest = append(rest, u.talk)
		}
	}
	sort.Strings(rest)
	for i, talk := range rest {
		if i < devTalks {
			assign[talk] = "dev"
		} else {
			assign[talk] = "train"
		}
	}
	return assign
}

// readEvalLists loads eval1/eval2/eval3 talk id files, one id per line.
func readEvalLists(dir string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, split := range []string{"eval1", "eval2", "eval3"} {
		f, err := os.Open(filepath.Join(dir, split))
		if err != nil {
			return nil, err
		}
		var talks []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			talk := strings.TrimSpace(scanner.Text())
			if talk != "" {
				talks = append(talks, talk)
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
		if len(talks) == 0 {
			return nil, fmt.Errorf("%s: empty talk list", split)
		}
		out[split] = talks
	}
	return out, nil
}

// cutSegment extracts one utterance from a talk recording as 16 kHz
// mono 16-bit PCM.
func cutSegment(src, dst string, start, end float64) error {
	cmd := exec.Command("ffmpeg", "-y", "-loglevel", "error",
		"-i", src,
		"-ss", fmt.Sprintf("%.3f", start), "-to", fmt.Sprintf("%.3f", end),
		"-ar", "16000", "-ac", "1", "-sample_fmt", "s16",
		"-f", "wav", dst)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%v: %s", err, string(output))
	}
	return nil
}
