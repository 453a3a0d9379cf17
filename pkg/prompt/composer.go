// Package prompt turns retrieved passages and a question into the instruction
// sent to the generation service.
package prompt

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

// NotFound is the reply the model is told to give when the context does not
// contain the answer.
const NotFound = "I could not find that information in the provided website content."

// NoContext stands in for the context block when retrieval found nothing.
const NoContext = "(no relevant context was found on the website)"

const defaultTemplate = `You are a helpful url reader.

STRICT RULES:
- Use ONLY the context below
- Do NOT hallucinate
- If the answer is not in the context, reply exactly: "{{.not_found}}" (translated into the answer language)
- DEFAULT language is ENGLISH
- Change the answer language ONLY if the CURRENT question explicitly asks for it
- Do NOT remember language preference from previous questions
- Supported languages: {{.supported}}
- If the user says "telugu", "తెలుగు", "తెలుగులో", answer in Telugu
- If the user says "tamil", "தமிழ்", answer in Tamil
- If the user says "hindi", "हिंदी", answer in Hindi
- Otherwise, ALWAYS answer in English

Answer language for this question: {{.language}}

Context:
{{.context}}

User Question:
{{.question}}

Answer (follow the language rules strictly):
`

// Prompt is a composed instruction and the language it asks for.
type Prompt struct {
	Text     string
	Language Language
}

// Composer renders prompts. It keeps no state between calls, so the answer
// language of one question never leaks into the next.
type Composer struct {
	template prompts.PromptTemplate
}

func NewComposer() *Composer {
	return &Composer{
		template: prompts.NewPromptTemplate(defaultTemplate,
			[]string{"not_found", "supported", "language", "context", "question"}),
	}
}

// Compose joins passages with blank lines, in the given order, and renders
// them with question into the template.
func (c *Composer) Compose(passages []string, question string) (Prompt, error) {
	lang := DetectLanguage(question)

	text, err := c.template.Format(map[string]any{
		"not_found": NotFound,
		"supported": supportedNames(),
		"language":  lang.Name,
		"context":   Context(passages),
		"question":  question,
	})
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	return Prompt{Text: text, Language: lang}, nil
}

func supportedNames() string {
	names := make([]string, len(Supported))
	for i, l := range Supported {
		names[i] = l.Name
	}
	return strings.Join(names, ", ")
}

// Context builds the context block for passages.
func Context(passages []string) string {
	kept := make([]string, 0, len(passages))
	for _, p := range passages {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return NoContext
	}
	return strings.Join(kept, "\n\n")
}
