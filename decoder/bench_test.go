package decoder

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/sunilsivadas/neural-sp/vocab"
)

func benchVocab(b *testing.B, size int) *vocab.Vocab {
	tokens := make([]string, size)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("w%d", i)
	}
	voc, err := vocab.New(tokens)
	if err != nil {
		b.Fatalf("vocab.New: %v", err)
	}
	return voc
}

func benchLogProbs(T, K int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, T)
	for t := range rows {
		row := make([]float64, K)
		sum := 0.0
		for k := range row {
			row[k] = math.Exp(rng.NormFloat64())
			sum += row[k]
		}
		for k := range row {
			row[k] = math.Log(row[k] / sum)
		}
		rows[t] = row
	}
	return rows
}

func BenchmarkGreedy_50vocab_200frames(b *testing.B) {
	rows := benchLogProbs(200, 51, 1)
	b.ResetTimer()
	for b.Loop() {
		Greedy(rows)
	}
}

func BenchmarkDecode_beam4_50vocab_200frames(b *testing.B) {
	voc := benchVocab(b, 50)
	rows := benchLogProbs(200, voc.NumClasses(), 1)
	cfg := Config{BeamWidth: 4, MaxDecodeLen: 150}
	b.ResetTimer()
	for b.Loop() {
		Decode(rows, nil, voc, cfg)
	}
}

func BenchmarkDecode_beam8_100vocab_500frames(b *testing.B) {
	voc := benchVocab(b, 100)
	rows := benchLogProbs(500, voc.NumClasses(), 1)
	cfg := Config{BeamWidth: 8, MaxDecodeLen: 150}
	b.ResetTimer()
	for b.Loop() {
		Decode(rows, nil, voc, cfg)
	}
}
