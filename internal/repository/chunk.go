package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
)

// ChunkRepository persists knowledge chunks and serves cosine-similarity
// candidates via pgvector.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx dbtx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

const chunkColumns = `id, content, embedding, source_type, municipality, document_type,
	confidence_score, approval_status, regulation_version, created_at, metadata`

// Insert writes one chunk. The write is a single statement, so it is atomic:
// a crash mid-write never leaves a partial chunk readable.
func (r *ChunkRepository) Insert(ctx context.Context, c *domain.KnowledgeChunk) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO knowledge_chunks
			(id, content, embedding, source_type, municipality, document_type,
			 confidence_score, approval_status, regulation_version, created_at, metadata)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID,
		c.Content,
		pgvector.NewVector(c.Embedding),
		string(c.SourceType),
		nullableString(c.Scope.Municipality),
		nullableString(c.Scope.DocumentType),
		c.ConfidenceScore,
		string(c.ApprovalStatus),
		nullableString(c.RegulationVersion),
		createdAt,
		c.Metadata,
	)
	return err
}

// GetByID loads one chunk.
func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeChunk, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM knowledge_chunks WHERE id = $1`, id)
	chunk, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrChunkNotFound
	}
	return chunk, err
}

// SearchSimilar returns up to limit candidate chunks ordered by cosine
// similarity to the query vector. Scope filters admit globally-scoped chunks
// (NULL municipality or document type) alongside exact matches.
func (r *ChunkRepository) SearchSimilar(ctx context.Context, embedding []float32, filters service.SearchFilters, limit int) ([]*service.ChunkMatch, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + chunkColumns + `, 1 - (embedding <=> $1) AS similarity
		FROM knowledge_chunks`
	args := []any{pgvector.NewVector(embedding)}
	var where []string

	if filters.Scope.Municipality != "" {
		args = append(args, filters.Scope.Municipality)
		where = append(where, fmt.Sprintf("(municipality IS NULL OR municipality = $%d)", len(args)))
	}
	if filters.Scope.DocumentType != "" {
		args = append(args, filters.Scope.DocumentType)
		where = append(where, fmt.Sprintf("(document_type IS NULL OR document_type = $%d)", len(args)))
	}
	if filters.SourceType != "" {
		args = append(args, string(filters.SourceType))
		where = append(where, fmt.Sprintf("source_type = $%d", len(args)))
	}
	if filters.ExcludeRejected {
		args = append(args, string(domain.ApprovalStatusRejected))
		where = append(where, fmt.Sprintf("approval_status <> $%d", len(args)))
	}

	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*service.ChunkMatch
	for rows.Next() {
		var match service.ChunkMatch
		chunk, err := scanChunkWithSimilarity(rows, &match.Similarity)
		if err != nil {
			return nil, err
		}
		match.Chunk = chunk
		matches = append(matches, &match)
	}
	return matches, rows.Err()
}

// ListGolden returns approved chunks at or above minConfidence, most
// trusted first.
func (r *ChunkRepository) ListGolden(ctx context.Context, scope domain.Scope, minConfidence float64) ([]*domain.KnowledgeChunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM knowledge_chunks
		WHERE approval_status = $1 AND confidence_score >= $2`
	args := []any{string(domain.ApprovalStatusApproved), minConfidence}

	query, args = appendScopeFilter(query, args, scope)
	query += " ORDER BY confidence_score DESC, created_at DESC"

	return r.listChunks(ctx, query, args)
}

// ListRejected returns rejected chunks, newest first.
func (r *ChunkRepository) ListRejected(ctx context.Context, scope domain.Scope) ([]*domain.KnowledgeChunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM knowledge_chunks
		WHERE approval_status = $1`
	args := []any{string(domain.ApprovalStatusRejected)}

	query, args = appendScopeFilter(query, args, scope)
	query += " ORDER BY created_at DESC"

	return r.listChunks(ctx, query, args)
}

// Stats counts chunks by provenance, scope, approval status, and confidence
// bucket.
func (r *ChunkRepository) Stats(ctx context.Context) (*domain.StoreStats, error) {
	stats := &domain.StoreStats{
		BySourceType:     map[domain.SourceType]int64{},
		ByMunicipality:   map[string]int64{},
		ByDocumentType:   map[string]int64{},
		ByApprovalStatus: map[domain.ApprovalStatus]int64{},
		ByConfidence:     map[domain.ConfidenceBucket]int64{},
	}

	rows, err := r.db.Query(ctx,
		`SELECT source_type, COALESCE(municipality, ''), COALESCE(document_type, ''),
			approval_status, confidence_score
		 FROM knowledge_chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sourceType, municipality, documentType, status string
		var confidence float64
		if err := rows.Scan(&sourceType, &municipality, &documentType, &status, &confidence); err != nil {
			return nil, err
		}
		stats.TotalChunks++
		stats.BySourceType[domain.SourceType(sourceType)]++
		if municipality != "" {
			stats.ByMunicipality[municipality]++
		}
		if documentType != "" {
			stats.ByDocumentType[documentType]++
		}
		stats.ByApprovalStatus[domain.ApprovalStatus(status)]++
		stats.ByConfidence[domain.BucketForConfidence(confidence)]++
	}
	return stats, rows.Err()
}

// DeleteAllRegulations removes every regulation chunk regardless of version.
// Callers run it inside the replace transaction.
func (r *ChunkRepository) DeleteAllRegulations(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_chunks WHERE source_type = $1`,
		string(domain.SourceTypeRegulation))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByRegulationVersion reports how many chunks carry each regulation
// version marker.
func (r *ChunkRepository) CountByRegulationVersion(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT regulation_version, COUNT(*)
		 FROM knowledge_chunks
		 WHERE source_type = $1 AND regulation_version IS NOT NULL
		 GROUP BY regulation_version`,
		string(domain.SourceTypeRegulation))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var version string
		var n int
		if err := rows.Scan(&version, &n); err != nil {
			return nil, err
		}
		counts[version] = n
	}
	return counts, rows.Err()
}

func (r *ChunkRepository) listChunks(ctx context.Context, query string, args []any) ([]*domain.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.KnowledgeChunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func appendScopeFilter(query string, args []any, scope domain.Scope) (string, []any) {
	if scope.Municipality != "" {
		args = append(args, scope.Municipality)
		query += fmt.Sprintf(" AND (municipality IS NULL OR municipality = $%d)", len(args))
	}
	if scope.DocumentType != "" {
		args = append(args, scope.DocumentType)
		query += fmt.Sprintf(" AND (document_type IS NULL OR document_type = $%d)", len(args))
	}
	return query, args
}

func scanChunk(row pgx.Row) (*domain.KnowledgeChunk, error) {
	var c domain.KnowledgeChunk
	var embedding pgvector.Vector
	var municipality, documentType, regulationVersion *string
	var sourceType, status string

	err := row.Scan(&c.ID, &c.Content, &embedding, &sourceType, &municipality,
		&documentType, &c.ConfidenceScore, &status, &regulationVersion,
		&c.CreatedAt, &c.Metadata)
	if err != nil {
		return nil, err
	}

	c.Embedding = embedding.Slice()
	c.SourceType = domain.SourceType(sourceType)
	c.Scope = domain.Scope{
		Municipality: stringOrEmpty(municipality),
		DocumentType: stringOrEmpty(documentType),
	}
	c.ApprovalStatus = domain.ApprovalStatus(status)
	c.RegulationVersion = stringOrEmpty(regulationVersion)
	return &c, nil
}

func scanChunkWithSimilarity(row pgx.Row, similarity *float64) (*domain.KnowledgeChunk, error) {
	var c domain.KnowledgeChunk
	var embedding pgvector.Vector
	var municipality, documentType, regulationVersion *string
	var sourceType, status string

	err := row.Scan(&c.ID, &c.Content, &embedding, &sourceType, &municipality,
		&documentType, &c.ConfidenceScore, &status, &regulationVersion,
		&c.CreatedAt, &c.Metadata, similarity)
	if err != nil {
		return nil, err
	}

	c.Embedding = embedding.Slice()
	c.SourceType = domain.SourceType(sourceType)
	c.Scope = domain.Scope{
		Municipality: stringOrEmpty(municipality),
		DocumentType: stringOrEmpty(documentType),
	}
	c.ApprovalStatus = domain.ApprovalStatus(status)
	c.RegulationVersion = stringOrEmpty(regulationVersion)
	return &c, nil
}
