package rag_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/pkg/prompt"
	"github.com/xhad/chatweb/pkg/store"
)

// fakeFetcher serves fixed documents per URL.
type fakeFetcher struct {
	pages    map[string]string
	block    bool
	inflight *atomic.Int32
	overlaps *atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]models.Document, error) {
	if f.inflight != nil {
		if f.inflight.Add(1) > 1 {
			f.overlaps.Add(1)
		}
		defer f.inflight.Add(-1)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	content, ok := f.pages[url]
	if !ok {
		return nil, errors.New("404 not found")
	}
	return []models.Document{{
		ID:       "doc-" + url,
		URL:      url,
		Content:  content,
		Metadata: map[string]interface{}{"title": "Docs"},
	}}, nil
}

// failingEmbedder fails document embedding or blocks until cancelled.
type failingEmbedder struct {
	err   error
	block bool
}

func (e *failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, e.err
}

func (e *failingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, e.err
}

// countingStore records builds on top of a memory store.
type countingStore struct {
	*store.MemoryStore
	builds int
	err    error
}

func newCountingStore() *countingStore {
	s, _ := store.NewMemory(store.MemoryConfig{})
	return &countingStore{MemoryStore: s}
}

func (s *countingStore) ResetAndBuild(ctx context.Context, entries []models.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.builds++
	return s.MemoryStore.ResetAndBuild(ctx, entries)
}

var (
	languageLine = regexp.MustCompile(`Answer language for this question: (\w+)`)
	contextBlock = regexp.MustCompile(`(?s)Context:\n(.*?)\n\nUser Question:\n(.*?)\n\nAnswer`)
)

var notFound = map[string]string{
	"English": prompt.NotFound,
	"Telugu":  "అందించిన వెబ్‌సైట్ కంటెంట్‌లో ఆ సమాచారం దొరకలేదు.",
	"Tamil":   "வழங்கப்பட்ட இணையதள உள்ளடக்கத்தில் அந்த தகவல் இல்லை.",
	"Hindi":   "दी गई वेबसाइट सामग्री में यह जानकारी नहीं मिली।",
}

var translations = map[string]map[string]string{
	"Our return policy is 30 days.": {
		"Telugu": "మా రిటర్న్ పాలసీ 30 రోజులు.",
		"Tamil":  "எங்கள் திருப்பி அனுப்பும் கொள்கை 30 நாட்கள்.",
		"Hindi":  "हमारी वापसी नीति 30 दिन की है।",
	},
}

var stopWords = map[string]bool{
	"what": true, "does": true, "with": true, "this": true, "that": true,
	"tell": true, "about": true, "please": true, "answer": true,
	"telugu": true, "tamil": true, "hindi": true, "english": true,
}

// scriptedGenerator follows the prompt's rules mechanically: it answers with
// the context sentence sharing a keyword with the question, in the language
// the prompt asks for, or says the answer is missing.
type scriptedGenerator struct {
	mu       sync.Mutex
	prompts  []string
	err      error
	block    bool
	inflight *atomic.Int32
	overlaps *atomic.Int32
}

func (g *scriptedGenerator) Generate(ctx context.Context, composed string) (string, error) {
	if g.inflight != nil {
		if g.inflight.Add(1) > 1 {
			g.overlaps.Add(1)
		}
		defer g.inflight.Add(-1)
	}

	g.mu.Lock()
	g.prompts = append(g.prompts, composed)
	g.mu.Unlock()

	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.err != nil {
		return "", g.err
	}

	lang := "English"
	if m := languageLine.FindStringSubmatch(composed); m != nil {
		lang = m[1]
	}
	m := contextBlock.FindStringSubmatch(composed)
	if m == nil || m[1] == prompt.NoContext {
		return notFound[lang], nil
	}

	sentence := relevantSentence(m[1], m[2])
	if sentence == "" {
		return notFound[lang], nil
	}
	if lang == "English" {
		return sentence, nil
	}
	if t, ok := translations[sentence][lang]; ok {
		return t, nil
	}
	return notFound[lang], nil
}

func (g *scriptedGenerator) last() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func keywords(s string) []string {
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len(w) >= 4 && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

func relevantSentence(context, question string) string {
	words := keywords(question)
	for _, line := range strings.Split(context, "\n") {
		for _, sentence := range strings.SplitAfter(line, ". ") {
			sentence = strings.TrimSpace(sentence)
			lower := strings.ToLower(sentence)
			for _, w := range words {
				if strings.Contains(lower, w) {
					return sentence
				}
			}
		}
	}
	return ""
}
