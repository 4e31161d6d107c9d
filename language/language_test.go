package language

import (
	"math"
	"strings"
	"testing"

	"github.com/sunilsivadas/neural-sp/internal/mathutil"
)

const testARPA = `\data\
ngram 1=5
ngram 2=4
ngram 3=2

\1-grams:
-0.90	</s>
-0.80	<s>	-0.40
-0.60	ア	-0.30
-0.70	イ	-0.20
-1.10	ウ

\2-grams:
-0.25	<s> ア	-0.15
-0.35	ア イ	-0.10
-0.45	イ </s>
-0.55	イ ウ

\3-grams:
-0.20	<s> ア イ
-0.30	ア イ ウ

\end\
`

func loadTestModel(t *testing.T) *NGramModel {
	t.Helper()
	model, err := LoadARPA(strings.NewReader(testARPA))
	if err != nil {
		t.Fatalf("LoadARPA: %v", err)
	}
	return model
}

func TestLoadARPA(t *testing.T) {
	model := loadTestModel(t)

	if model.Order != 3 {
		t.Errorf("Order = %d, want 3", model.Order)
	}
	if len(model.Unigrams) != 5 || len(model.Bigrams) != 4 || len(model.Trigrams) != 2 {
		t.Errorf("table sizes = %d/%d/%d, want 5/4/2",
			len(model.Unigrams), len(model.Bigrams), len(model.Trigrams))
	}

	// ARPA is log10, the model natural log.
	g, ok := model.Unigrams["ア"]
	if !ok {
		t.Fatal("missing unigram ア")
	}
	if math.Abs(g.Prob-(-0.60*math.Ln10)) > 1e-12 {
		t.Errorf("P(ア) = %f, want %f", g.Prob, -0.60*math.Ln10)
	}
	if math.Abs(g.Backoff-(-0.30*math.Ln10)) > 1e-12 {
		t.Errorf("bow(ア) = %f, want %f", g.Backoff, -0.30*math.Ln10)
	}
}

func TestLogProbTrigramHit(t *testing.T) {
	model := loadTestModel(t)
	got := model.LogProb([]string{"<s>", "ア"}, "イ")
	want := -0.20 * math.Ln10
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogProb(<s> ア, イ) = %f, want %f", got, want)
	}
}

func TestLogProbBackoffChain(t *testing.T) {
	model := loadTestModel(t)

	// Unseen trigram with a seen bigram context charges that context's
	// backoff weight before the bigram score.
	got := model.LogProb([]string{"ア", "イ"}, "</s>")
	want := (-0.10 + -0.45) * math.Ln10
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogProb(ア イ, </s>) = %f, want %f", got, want)
	}

	// Unseen trigram and unseen bigram falls to the unigram, through
	// the zero backoff of the イ ウ context.
	got = model.LogProb([]string{"イ", "ウ"}, "ア")
	want = -0.60 * math.Ln10
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("LogProb(イ ウ, ア) = %f, want %f", got, want)
	}
}

func TestLogProbUnknownWord(t *testing.T) {
	model := loadTestModel(t)
	if got := model.LogProb(nil, "ン"); got != mathutil.LogZero {
		t.Errorf("LogProb(, ン) = %f, want LogZero", got)
	}
}

func TestSentenceLogProb(t *testing.T) {
	model := loadTestModel(t)
	// P(ア|<s>) + P(イ|<s> ア) + bow(ア イ) + P(</s>|イ)
	got := model.SentenceLogProb([]string{"ア", "イ"})
	want := (-0.25 - 0.20 - 0.10 - 0.45) * math.Ln10
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("SentenceLogProb(ア イ) = %f, want %f", got, want)
	}
}

func TestVocab(t *testing.T) {
	model := loadTestModel(t)
	if got := model.Vocab(); len(got) != 5 {
		t.Errorf("len(Vocab) = %d, want 5", len(got))
	}
}

func TestLoadARPASkipsHigherOrders(t *testing.T) {
	arpa := `\data\
ngram 1=1
ngram 4=1

\1-grams:
-0.5	ア

\4-grams:
-0.1	ア ア ア ア

\end\
`
	model, err := LoadARPA(strings.NewReader(arpa))
	if err != nil {
		t.Fatalf("LoadARPA: %v", err)
	}
	if len(model.Unigrams) != 1 {
		t.Errorf("len(Unigrams) = %d, want 1", len(model.Unigrams))
	}
	if len(model.Bigrams) != 0 || len(model.Trigrams) != 0 {
		t.Errorf("unexpected higher-order entries: %d/%d", len(model.Bigrams), len(model.Trigrams))
	}
}
