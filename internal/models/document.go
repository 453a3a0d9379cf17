package models

import "time"

type Document struct {
	ID       string
	URL      string
	Title    string
	Content  string
	Metadata map[string]interface{}
}

// Chunk is a contiguous slice of a Document's content. Start and Overlap are
// measured in runes.
type Chunk struct {
	ID         string
	DocumentID string
	SourceURL  string
	Index      int
	Text       string
	Start      int
	Overlap    int
	Metadata   map[string]interface{}
}

type Entry struct {
	ID       string                 `json:"id"`
	Vector   []float32              `json:"vector"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

type ScoredEntry struct {
	Entry
	Distance float64
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role
	Content string
}

// Handle identifies one successful load. A newer load invalidates it.
type Handle struct {
	ID        string
	URL       string
	Documents int
	Chunks    int
	LoadedAt  time.Time
}

type Answer struct {
	Text     string
	Language string
	Sources  []ScoredEntry
}
