package prompt

import (
	"regexp"
	"strings"
)

// Language is a supported answer language.
type Language struct {
	Code string
	Name string
}

var (
	English = Language{Code: "en", Name: "English"}
	Telugu  = Language{Code: "te", Name: "Telugu"}
	Tamil   = Language{Code: "ta", Name: "Tamil"}
	Hindi   = Language{Code: "hi", Name: "Hindi"}
)

// Supported lists the answer languages, default first.
var Supported = []Language{English, Telugu, Tamil, Hindi}

type marker struct {
	lang   Language
	latin  *regexp.Regexp
	native []string
}

var markers = []marker{
	{
		lang:  English,
		latin: regexp.MustCompile(`(?i)\b(english|inglish)\b`),
	},
	{
		lang:   Telugu,
		latin:  regexp.MustCompile(`(?i)\b(telugu|thelugu|telugulo)\b`),
		native: []string{"తెలుగు", "తెలుగులో"},
	},
	{
		lang:   Tamil,
		latin:  regexp.MustCompile(`(?i)\b(tamil|tamizh|thamizh|tamilil)\b`),
		native: []string{"தமிழ்", "தமிழில்"},
	},
	{
		lang:   Hindi,
		latin:  regexp.MustCompile(`(?i)\b(hindi|hindhi)\b`),
		native: []string{"हिंदी", "हिन्दी"},
	},
}

// DetectLanguage returns the language explicitly requested by question, or
// English when it names none. When several are named the earliest mention
// wins.
func DetectLanguage(question string) Language {
	best, at := English, -1
	for _, m := range markers {
		pos := m.position(question)
		if pos < 0 {
			continue
		}
		if at < 0 || pos < at {
			best, at = m.lang, pos
		}
	}
	return best
}

func (m marker) position(s string) int {
	pos := -1
	if loc := m.latin.FindStringIndex(s); loc != nil {
		pos = loc[0]
	}
	for _, word := range m.native {
		if i := strings.Index(s, word); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	return pos
}
