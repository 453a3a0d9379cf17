package scraper

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

type extracted struct {
	title   string
	content string
	links   []string
}

// Elements whose end starts a new paragraph in the extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "ul": true, "ol": true, "dl": true, "dt": true, "dd": true,
	"table": true, "tr": true, "blockquote": true, "pre": true, "figure": true,
	"figcaption": true, "aside": true, "form": true,
}

var mainSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

func extractHTML(r io.Reader, base *url.URL) (extracted, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return extracted{}, fmt.Errorf("parse html: %w", err)
	}

	var page extracted
	page.title = strings.TrimSpace(doc.Find("title").First().Text())

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		link := abs.String()
		if !seen[link] {
			seen[link] = true
			page.links = append(page.links, link)
		}
	})

	doc.Find("script, style, noscript, template, svg, nav, header, footer").Remove()

	var root *goquery.Selection
	for _, selector := range mainSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			root = selected
			break
		}
	}
	// Fallback to body if no main content found
	if root == nil {
		root = doc.Find("body")
	}

	var b strings.Builder
	root.Each(func(_ int, s *goquery.Selection) {
		writeText(&b, s)
		b.WriteString("\n\n")
	})
	page.content = normalizeText(b.String())

	return page, nil
}

func writeText(b *strings.Builder, s *goquery.Selection) {
	s.Contents().Each(func(_ int, child *goquery.Selection) {
		switch name := goquery.NodeName(child); {
		case name == "#text":
			b.WriteString(collapseSpace(child.Text()))
		case name == "br":
			b.WriteString("\n")
		case blockElements[name]:
			b.WriteString("\n\n")
			writeText(b, child)
			b.WriteString("\n\n")
		default:
			writeText(b, child)
		}
	})
}

// collapseSpace folds source formatting whitespace in a text node to single
// spaces. Line structure comes from block elements instead.
func collapseSpace(s string) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		if s == "" {
			return ""
		}
		return " "
	}
	out := strings.Join(words, " ")
	if unicode.IsSpace(rune(s[0])) {
		out = " " + out
	}
	if unicode.IsSpace(rune(s[len(s)-1])) {
		out += " "
	}
	return out
}

func extractPDF(data []byte) (extracted, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return extracted{}, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return extracted{}, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return extracted{}, fmt.Errorf("read pdf text: %w", err)
	}

	content := normalizeText(buf.String())
	title, _, _ := strings.Cut(content, "\n")
	return extracted{title: strings.TrimSpace(title), content: content}, nil
}

// normalizeText collapses whitespace inside lines and keeps at most one blank
// line between paragraphs.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var b strings.Builder
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = b.Len() > 0
			continue
		}
		if b.Len() > 0 {
			if blank {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(line)
		blank = false
	}
	return b.String()
}

var languageScripts = map[string]*unicode.RangeTable{
	"en": unicode.Latin,
	"te": unicode.Telugu,
	"ta": unicode.Tamil,
	"hi": unicode.Devanagari,
}

// detectLanguages reports which of the target languages have their script
// present in text, in target order.
func detectLanguages(text string, targets []string) []string {
	found := make(map[*unicode.RangeTable]bool)
	for _, r := range text {
		for _, table := range languageScripts {
			if !found[table] && unicode.Is(table, r) {
				found[table] = true
			}
		}
	}

	langs := []string{}
	for _, code := range targets {
		if table, ok := languageScripts[code]; ok && found[table] {
			langs = append(langs, code)
		}
	}
	return langs
}
