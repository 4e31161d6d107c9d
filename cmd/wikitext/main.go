// wikitext extracts plain text sentences from a MediaWiki XML dump,
// one sentence per line split on 。, ready for piping into lmtext.
package main

import (
	"bufio"
	"compress/bzip2"
	"encoding/xml"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

type page struct {
	Title    string   `xml:"title"`
	Revision revision `xml:"revision"`
}

type revision struct {
	Text string `xml:"text"`
}

// markup lists the strip passes in application order. References must
// go before the generic tag strip so their content disappears with
// them, and category and file links before plain link resolution so
// they vanish instead of leaking their targets.
var markup = []struct {
	re     *regexp.Regexp
	with   string
	passes int
}{
	{regexp.MustCompile(`\{\{\{[^{}]*\}\}\}`), "", 1},
	{regexp.MustCompile(`\{\{[^{}]*\}\}`), "", 3}, // nested templates resolve inside out
	{regexp.MustCompile(`\[\[(?:Category|カテゴリ):[^\]]+\]\]`), "", 1},
	{regexp.MustCompile(`\[\[(?:File|ファイル|Image|画像):[^\]]+\]\]`), "", 1},
	{regexp.MustCompile(`<ref[^>]*/>|<ref[^>]*>[\s\S]*?</ref>`), "", 1},
	{regexp.MustCompile(`\[\[([^|\]]*\|)?([^\]]*)\]\]`), "$2", 1},
	{regexp.MustCompile(`\[https?://[^\]]*\]`), "", 1},
	{regexp.MustCompile(`<[^>]+>`), "", 1},
	{regexp.MustCompile(`={2,}[^=]+=+`), "", 1},
	{regexp.MustCompile(`(?m)^[*#:;|!]+`), "", 1},
}

var spaceRuns = regexp.MustCompile(`\s+`)

type sentenceFilter struct {
	minChars int
	maxChars int
}

func main() {
	maxPages := flag.Int("max-pages", 0, "maximum pages to process (0=all)")
	minChars := flag.Int("min-chars", 2, "minimum characters per sentence")
	maxChars := flag.Int("max-chars", 100, "maximum characters per sentence")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: wikitext [options] jawiki-pages-articles.xml.bz2")
		fmt.Fprintln(os.Stderr, "  Extracts plain text from MediaWiki XML dump.")
		fmt.Fprintln(os.Stderr, "  Output: one sentence per line (split on 。)")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(flag.Arg(0), ".bz2") {
		reader = bzip2.NewReader(f)
	}

	out := bufio.NewWriterSize(os.Stdout, 256*1024)
	defer out.Flush()

	filter := sentenceFilter{minChars: *minChars, maxChars: *maxChars}
	pages, sentences := extractDump(reader, out, *maxPages, filter)
	fmt.Fprintf(os.Stderr, "\rPages: %d, Sentences: %d\n", pages, sentences)
}

// extractDump walks the page elements of a dump, cleans each article
// body and writes the surviving sentences. Pages whose title carries a
// namespace prefix are skipped.
func extractDump(r io.Reader, out *bufio.Writer, maxPages int, filter sentenceFilter) (pages, sentences int) {
	decoder := xml.NewDecoder(r)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "xml: %v\n", err)
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "page" {
			continue
		}

		var p page
		if err := decoder.DecodeElement(&p, &start); err != nil {
			continue
		}
		if strings.Contains(p.Title, ":") {
			continue
		}

		for _, s := range splitOnPeriod(cleanWikitext(p.Revision.Text)) {
			if filter.keep(s) {
				fmt.Fprintln(out, s)
				sentences++
			}
		}

		pages++
		if pages%10000 == 0 {
			fmt.Fprintf(os.Stderr, "\rPages: %d, Sentences: %d", pages, sentences)
		}
		if maxPages > 0 && pages >= maxPages {
			break
		}
	}
	return pages, sentences
}

func (f sentenceFilter) keep(s string) bool {
	n := utf8.RuneCountInString(s)
	return n >= f.minChars && n <= f.maxChars
}

// cleanWikitext strips MediaWiki markup down to plain text.
func cleanWikitext(text string) string {
	for _, m := range markup {
		for i := 0; i < m.passes; i++ {
			text = m.re.ReplaceAllString(text, m.with)
		}
	}
	text = strings.ReplaceAll(text, "'''", "")
	text = strings.ReplaceAll(text, "''", "")
	return spaceRuns.ReplaceAllString(text, " ")
}

// splitOnPeriod cuts text into trimmed non-empty sentences at 。.
func splitOnPeriod(text string) []string {
	parts := strings.Split(text, "。")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
