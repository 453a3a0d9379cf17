package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	Logger     *zap.Logger
}

// VectorStore keeps the index in a Postgres table with the pgvector
// extension. Each rebuild runs in one transaction, so readers see either the
// previous rows or the new ones.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	log    *zap.Logger
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "url_rag"
	}
	if !tableName.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.VectorDim <= 0 {
		config.VectorDim = 384 // all-minilm
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		log:    logger.OrNop(config.Logger).Named("pgvector"),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

// ResetAndBuild deletes every row and inserts entries in the same
// transaction. Positions record insertion order for tie-breaking.
func (vs *VectorStore) ResetAndBuild(ctx context.Context, entries []models.Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("no entries to index")
	}
	for _, e := range entries {
		if len(e.Vector) != vs.config.VectorDim {
			return fmt.Errorf("entry %s has dimension %d, expected %d", e.ID, len(e.Vector), vs.config.VectorDim)
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", vs.config.TableName)); err != nil {
		return fmt.Errorf("failed to clear table: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, position, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)`,
		vs.config.TableName)

	// Insert entries in batches
	for from := 0; from < len(entries); from += vs.config.BatchSize {
		to := min(from+vs.config.BatchSize, len(entries))

		batch := &pgx.Batch{}
		for i := from; i < to; i++ {
			e := entries[i]
			batch.Queue(stmt, e.ID, i, sanitizeUTF8(e.Text), pgvector.NewVector(e.Vector), e.Metadata)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert entries: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.log.Info("index rebuilt",
		zap.String("table", vs.config.TableName),
		zap.Int("entries", len(entries)))
	return nil
}

func (vs *VectorStore) Query(ctx context.Context, vector []float32, k int) ([]models.ScoredEntry, error) {
	if len(vector) != vs.config.VectorDim {
		return nil, ragerr.Query("query",
			fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), vs.config.VectorDim))
	}
	if k <= 0 {
		return nil, ragerr.Query("query", fmt.Errorf("k must be positive, got %d", k))
	}

	query := fmt.Sprintf(`
		SELECT id, content, embedding, metadata, embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance, position
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, ragerr.Query("query", fmt.Errorf("failed to query entries: %w", err))
	}
	defer rows.Close()

	var results []models.ScoredEntry
	for rows.Next() {
		var (
			r         models.ScoredEntry
			embedding pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &r.Text, &embedding, &r.Metadata, &r.Distance); err != nil {
			return nil, ragerr.Query("query", fmt.Errorf("failed to scan row: %w", err))
		}
		r.Vector = embedding.Slice()
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, ragerr.Query("query", err)
	}

	if len(results) == 0 {
		return nil, ragerr.Query("query", ragerr.ErrEmptyStore)
	}
	return results, nil
}

func (vs *VectorStore) Close() error {
	if vs.pool != nil {
		vs.pool.Close()
	}
	return nil
}

// sanitizeUTF8 makes s storable in a TEXT column.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		s = string([]rune(s))
	}
	return strings.ReplaceAll(s, "\x00", "")
}
