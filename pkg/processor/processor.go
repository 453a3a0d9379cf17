package processor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/chatweb/internal/models"
)

type ProcessorConfig struct {
	ChunkSize    int // in characters (runes)
	ChunkOverlap int
	// Separators are tried in order when snapping a cut to a boundary.
	Separators []string
}

// DefaultSeparators prefers paragraph, then line, then sentence, then word
// boundaries.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "। ", " "}

type Processor struct {
	config     ProcessorConfig
	separators [][]rune
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", config.ChunkSize, config.ChunkOverlap)
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}

	p := &Processor{config: config}
	for _, sep := range config.Separators {
		if sep != "" {
			p.separators = append(p.separators, []rune(sep))
		}
	}
	return p, nil
}

// Process splits every document into overlapping chunks, in document order.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, error) {
	var chunks []models.Chunk

	for _, doc := range docs {
		for i, span := range p.spans([]rune(doc.Content)) {
			metadata := make(map[string]interface{}, len(doc.Metadata)+2)
			for k, v := range doc.Metadata {
				metadata[k] = v
			}
			metadata["source"] = doc.URL
			metadata["chunk_index"] = i

			chunks = append(chunks, models.Chunk{
				ID:         uuid.NewString(),
				DocumentID: doc.ID,
				SourceURL:  doc.URL,
				Index:      i,
				Text:       span.text,
				Start:      span.start,
				Overlap:    span.overlap,
				Metadata:   metadata,
			})
		}
	}

	return chunks, nil
}

type span struct {
	text    string
	start   int
	overlap int
}

// spans slides a ChunkSize window over text. Each cut is snapped back to the
// best separator that still leaves the window advancing past the overlap,
// and the next window starts ChunkOverlap runes before the cut.
func (p *Processor) spans(text []rune) []span {
	if strings.TrimSpace(string(text)) == "" {
		return nil
	}

	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap
	var out []span
	start, prevEnd := 0, 0

	for {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = p.snap(text, start, end)
		}

		s := span{text: string(text[start:end]), start: start}
		if len(out) > 0 {
			s.overlap = prevEnd - start
		}
		out = append(out, s)

		if end == len(text) {
			return out
		}
		prevEnd = end
		start = end - overlap
	}
}

// snap returns the position just after the last occurrence of the most
// preferred separator in text[lo:end], or end when none is found.
func (p *Processor) snap(text []rune, start, end int) int {
	size, overlap := p.config.ChunkSize, p.config.ChunkOverlap
	lo := start + size/2
	if lo < start+overlap+1 {
		lo = start + overlap + 1
	}

	for _, sep := range p.separators {
		for cut := end; cut-len(sep) >= start && cut >= lo; cut-- {
			if hasSeparatorAt(text, cut-len(sep), sep) {
				return cut
			}
		}
	}
	return end
}

func hasSeparatorAt(text []rune, at int, sep []rune) bool {
	if at < 0 || at+len(sep) > len(text) {
		return false
	}
	for i, r := range sep {
		if text[at+i] != r {
			return false
		}
	}
	return true
}
