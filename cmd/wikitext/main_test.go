package main

import (
	"strings"
	"testing"
)

func TestCleanWikitext(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"[[東京|とうきょう]]に行く", "とうきょうに行く"},
		{"[[東京]]に行く", "東京に行く"},
		{"{{出典|year=2000}}本文", "本文"},
		{"本文<ref>脚注</ref>です", "本文です"},
		{"'''強調'''と''斜体''", "強調と斜体"},
		{"== 見出し ==本文", "本文"},
		{"[https://example.com リンク]本文", "本文"},
	}

	for _, tt := range tests {
		got := strings.TrimSpace(cleanWikitext(tt.input))
		if got != tt.want {
			t.Errorf("cleanWikitext(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCleanWikitextNestedTemplates(t *testing.T) {
	got := strings.TrimSpace(cleanWikitext("{{a|{{b}}}}残り"))
	if got != "残り" {
		t.Errorf("cleanWikitext = %q, want %q", got, "残り")
	}
}

func TestSplitOnPeriod(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"東京に行く。大阪に行く。", 2},
		{"東京に行く", 1},
		{"", 0},
		{"。。", 0},
	}

	for _, tt := range tests {
		got := splitOnPeriod(tt.input)
		if len(got) != tt.want {
			t.Errorf("splitOnPeriod(%q) = %v (len=%d), want len=%d", tt.input, got, len(got), tt.want)
		}
	}
}
