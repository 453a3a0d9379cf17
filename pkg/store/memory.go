package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

type MemoryConfig struct {
	PersistDir string // optional; empty keeps the index in memory only
	Collection string
	Logger     *zap.Logger
}

// MemoryStore keeps one immutable snapshot of entries and swaps it wholesale
// on every build. Queries hold a reference to whichever snapshot was current
// when they started.
type MemoryStore struct {
	config MemoryConfig
	log    *zap.Logger

	mu   sync.RWMutex
	snap *snapshot
}

type snapshot struct {
	entries []models.Entry
	norms   []float64
	dim     int
}

// persisted is the on-disk layout of a snapshot.
type persisted struct {
	Collection string         `json:"collection"`
	Dimension  int            `json:"dimension"`
	BuiltAt    time.Time      `json:"built_at"`
	Entries    []models.Entry `json:"entries"`
}

func NewMemory(config MemoryConfig) (*MemoryStore, error) {
	if config.Collection == "" {
		config.Collection = "url_rag"
	}
	if config.PersistDir != "" {
		if err := os.MkdirAll(config.PersistDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist dir: %w", err)
		}
	}
	return &MemoryStore{
		config: config,
		log:    logger.OrNop(config.Logger).Named("store"),
	}, nil
}

// Path is the snapshot file, or "" when persistence is off.
func (s *MemoryStore) Path() string {
	if s.config.PersistDir == "" {
		return ""
	}
	return filepath.Join(s.config.PersistDir, s.config.Collection+".json")
}

// ResetAndBuild replaces every entry with entries. On error the previous
// snapshot, in memory and on disk, is left untouched.
func (s *MemoryStore) ResetAndBuild(ctx context.Context, entries []models.Entry) error {
	snap, err := newSnapshot(entries)
	if err != nil {
		return err
	}

	// Nothing is written once the caller has given up.
	if err := ctx.Err(); err != nil {
		return err
	}

	if path := s.Path(); path != "" {
		if err := s.persist(path, snap); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.log.Info("index rebuilt",
		zap.Int("entries", len(snap.entries)),
		zap.Int("dimension", snap.dim))
	return nil
}

func newSnapshot(entries []models.Entry) (*snapshot, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries to index")
	}

	dim := len(entries[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("entry %s has an empty vector", entries[0].ID)
	}

	snap := &snapshot{
		entries: make([]models.Entry, len(entries)),
		norms:   make([]float64, len(entries)),
		dim:     dim,
	}
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("entry %s has dimension %d, expected %d", e.ID, len(e.Vector), dim)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("duplicate entry id %s", e.ID)
		}
		seen[e.ID] = true

		e.Vector = append([]float32(nil), e.Vector...)
		snap.entries[i] = e
		snap.norms[i] = norm(e.Vector)
	}
	return snap, nil
}

// persist writes snap next to path and renames it into place, so the file
// only ever holds one complete build.
func (s *MemoryStore) persist(path string, snap *snapshot) error {
	data, err := json.Marshal(persisted{
		Collection: s.config.Collection,
		Dimension:  snap.dim,
		BuiltAt:    time.Now().UTC(),
		Entries:    snap.entries,
	})
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+s.config.Collection+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Query returns the k entries nearest to vector by cosine distance. Equal
// distances keep insertion order.
func (s *MemoryStore) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredEntry, error) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	if snap == nil || len(snap.entries) == 0 {
		return nil, ragerr.Query("query", ragerr.ErrEmptyStore)
	}
	if len(vector) != snap.dim {
		return nil, ragerr.Query("query",
			fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), snap.dim))
	}
	if k <= 0 {
		return nil, ragerr.Query("query", fmt.Errorf("k must be positive, got %d", k))
	}
	if err := ctx.Err(); err != nil {
		return nil, ragerr.Query("query", err)
	}

	qnorm := norm(vector)
	results := make([]models.ScoredEntry, len(snap.entries))
	for i, e := range snap.entries {
		results[i] = models.ScoredEntry{
			Entry:    e,
			Distance: cosineDistance(vector, e.Vector, qnorm, snap.norms[i]),
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return 0
	}
	return len(s.snap.entries)
}

func (s *MemoryStore) Close() error {
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 - cos(a, b). A zero vector is treated as unrelated to
// everything.
func cosineDistance(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot/(na*nb)
}
