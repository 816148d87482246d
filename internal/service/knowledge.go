package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/telemetry"
)

const (
	// approvedBoost is the ranking weight applied to approved chunks when
	// the caller asks to prioritize them. Similarity is multiplied by this
	// weight; confidence only breaks ties.
	approvedBoost = 1.15

	defaultTopK = 5

	candidateMultiplier = 4
	minCandidates       = 20
	maxCandidates       = 200
)

// ChunkRepositoryInterface defines the repository interface for chunk
// persistence and similarity search.
type ChunkRepositoryInterface interface {
	Insert(ctx context.Context, chunk *domain.KnowledgeChunk) error
	SearchSimilar(ctx context.Context, embedding []float32, filters SearchFilters, limit int) ([]*ChunkMatch, error)
	ListGolden(ctx context.Context, scope domain.Scope, minConfidence float64) ([]*domain.KnowledgeChunk, error)
	ListRejected(ctx context.Context, scope domain.Scope) ([]*domain.KnowledgeChunk, error)
	Stats(ctx context.Context) (*domain.StoreStats, error)
}

// ChunkTxRepository is the transaction-bound repository used by the
// regulation version replace.
type ChunkTxRepository interface {
	Insert(ctx context.Context, chunk *domain.KnowledgeChunk) error
	DeleteAllRegulations(ctx context.Context) (int64, error)
}

// TxRepositories provides transaction-bound repositories.
type TxRepositories interface {
	Chunks() ChunkTxRepository
}

// TxRunner executes a function within a transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(repos TxRepositories) error) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator generates real UUIDs.
type DefaultUUIDGenerator struct{}

func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// SearchFilters constrain which chunks are similarity-search candidates.
// A scope filter admits chunks whose corresponding field is unset: global
// knowledge applies everywhere.
type SearchFilters struct {
	Scope           domain.Scope
	SourceType      domain.SourceType
	ExcludeRejected bool
}

// ChunkMatch pairs a candidate chunk with its base cosine similarity.
type ChunkMatch struct {
	Chunk      *domain.KnowledgeChunk
	Similarity float64
}

// SearchInput describes a retrieval request.
type SearchInput struct {
	Query              string
	Scope              domain.Scope
	SourceType         domain.SourceType
	ExcludeRejected    bool
	PrioritizeApproved bool
	TopK               int
}

// SearchResult is a ranked retrieval hit.
type SearchResult struct {
	Chunk      *domain.KnowledgeChunk
	Similarity float64
	Score      float64
}

// BatchFailure reports one item of a batch that could not be stored.
type BatchFailure struct {
	Index int
	Err   error
}

// BatchResult summarizes a batch add: partial success is a first-class
// outcome, every dropped item is accounted for.
type BatchResult struct {
	Stored []*domain.KnowledgeChunk
	Failed []BatchFailure
}

// AllStored reports whether no item failed.
func (r *BatchResult) AllStored() bool {
	return len(r.Failed) == 0
}

// KnowledgeService is the chunk store and retrieval engine: it owns chunk
// ingestion, confidence-weighted search, golden record and negative
// constraint listings, and the regulation version replace.
type KnowledgeService struct {
	repo            ChunkRepositoryInterface
	embedding       EmbeddingClient
	tx              TxRunner
	uuidGen         UUIDGenerator
	goldenThreshold float64
	chunkCfg        ChunkConfig
}

// NewKnowledgeService creates a KnowledgeService with default chunking and
// golden-record threshold.
func NewKnowledgeService(repo ChunkRepositoryInterface, embedding EmbeddingClient, tx TxRunner) *KnowledgeService {
	return &KnowledgeService{
		repo:            repo,
		embedding:       embedding,
		tx:              tx,
		uuidGen:         &DefaultUUIDGenerator{},
		goldenThreshold: domain.GoldenConfidenceThreshold,
		chunkCfg:        DefaultChunkConfig(),
	}
}

// WithUUIDGenerator overrides UUID generation (for testing).
func (s *KnowledgeService) WithUUIDGenerator(gen UUIDGenerator) *KnowledgeService {
	s.uuidGen = gen
	return s
}

// WithGoldenThreshold overrides the golden-record confidence threshold.
func (s *KnowledgeService) WithGoldenThreshold(threshold float64) *KnowledgeService {
	if threshold > 0 && threshold <= 1 {
		s.goldenThreshold = threshold
	}
	return s
}

// WithChunkConfig overrides the chunking parameters used by ingestion.
func (s *KnowledgeService) WithChunkConfig(cfg ChunkConfig) *KnowledgeService {
	s.chunkCfg = cfg
	return s
}

// GoldenThreshold returns the configured golden-record threshold.
func (s *KnowledgeService) GoldenThreshold() float64 {
	return s.goldenThreshold
}

// AddChunk stores one chunk, embedding its content first when it arrives
// without a vector.
func (s *KnowledgeService) AddChunk(ctx context.Context, chunk *domain.KnowledgeChunk) (*domain.KnowledgeChunk, error) {
	s.prepare(chunk)
	if err := domain.ValidateChunk(chunk); err != nil {
		return nil, err
	}

	if chunk.Embedding == nil {
		embedding, err := s.embedding.EmbedDocument(ctx, chunk.Content)
		if err != nil {
			return nil, domain.NewProviderError("failed to embed chunk", err)
		}
		chunk.Embedding = embedding
	}

	if err := s.repo.Insert(ctx, chunk); err != nil {
		return nil, domain.NewPersistenceError("failed to store chunk", err)
	}
	return chunk, nil
}

// AddChunksBatch stores many chunks. Chunks lacking vectors are embedded in
// a single external round trip; each chunk commits individually, so one
// failed item never blocks its siblings. The returned BatchResult accounts
// for every input. A non-nil error is returned only when the context is
// cancelled mid-batch; chunks committed before cancellation stay committed.
func (s *KnowledgeService) AddChunksBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) (*BatchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.AddChunksBatch", telemetry.SpanAttributes{
		Operation: "add_chunks_batch",
	})
	defer span.End()

	result := &BatchResult{}
	ready := make([]bool, len(chunks))

	var pendingTexts []string
	var pendingIdx []int
	for i, chunk := range chunks {
		s.prepare(chunk)
		if err := domain.ValidateChunk(chunk); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Index: i, Err: err})
			continue
		}
		if chunk.Embedding == nil {
			pendingTexts = append(pendingTexts, chunk.Content)
			pendingIdx = append(pendingIdx, i)
			continue
		}
		ready[i] = true
	}

	if len(pendingTexts) > 0 {
		vectors, itemErrs, err := s.embedding.EmbedDocumentBatch(ctx, pendingTexts)
		if err != nil {
			for _, i := range pendingIdx {
				result.Failed = append(result.Failed, BatchFailure{
					Index: i,
					Err:   domain.NewProviderError("failed to embed chunk", err),
				})
			}
		} else {
			for j, i := range pendingIdx {
				if itemErrs[j] != nil {
					result.Failed = append(result.Failed, BatchFailure{
						Index: i,
						Err:   domain.NewProviderError("failed to embed chunk", itemErrs[j]),
					})
					continue
				}
				chunks[i].Embedding = vectors[j]
				ready[i] = true
			}
		}
	}

	for i, chunk := range chunks {
		if !ready[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			// Stop committing; already-stored chunks stay intact.
			return result, err
		}
		if err := s.repo.Insert(ctx, chunk); err != nil {
			result.Failed = append(result.Failed, BatchFailure{
				Index: i,
				Err:   domain.NewPersistenceError("failed to store chunk", err),
			})
			continue
		}
		result.Stored = append(result.Stored, chunk)
	}

	sort.Slice(result.Failed, func(a, b int) bool {
		return result.Failed[a].Index < result.Failed[b].Index
	})
	return result, nil
}

// Search retrieves the TopK highest-scoring chunks for the query.
// finalScore = cosineSimilarity x weight, where weight is approvedBoost for
// approved chunks when PrioritizeApproved is set and 1.0 otherwise. Rejected
// chunks are excluded entirely (never merely down-weighted) when
// ExcludeRejected is set. Ties break by confidence descending, then
// created_at descending.
func (s *KnowledgeService) Search(ctx context.Context, input SearchInput) ([]*SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.Search", telemetry.SpanAttributes{
		Municipality: input.Scope.Municipality,
		DocumentType: input.Scope.DocumentType,
		SourceType:   string(input.SourceType),
		Operation:    "search",
	})
	defer span.End()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return []*SearchResult{}, nil
	}

	topK := input.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	embedding, err := s.embedding.EmbedQuery(ctx, query)
	if err != nil {
		return nil, domain.NewProviderError("failed to embed query", err)
	}

	candidateLimit := topK * candidateMultiplier
	if candidateLimit < minCandidates {
		candidateLimit = minCandidates
	}
	if candidateLimit > maxCandidates {
		candidateLimit = maxCandidates
	}

	filters := SearchFilters{
		Scope:           input.Scope,
		SourceType:      input.SourceType,
		ExcludeRejected: input.ExcludeRejected,
	}
	matches, err := s.repo.SearchSimilar(ctx, embedding, filters, candidateLimit)
	if err != nil {
		return nil, domain.NewPersistenceError("similarity search failed", err)
	}

	results := make([]*SearchResult, 0, len(matches))
	for _, m := range matches {
		weight := 1.0
		if input.PrioritizeApproved && m.Chunk.ApprovalStatus == domain.ApprovalStatusApproved {
			weight = approvedBoost
		}
		results = append(results, &SearchResult{
			Chunk:      m.Chunk,
			Similarity: m.Similarity,
			Score:      m.Similarity * weight,
		})
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		if results[a].Chunk.ConfidenceScore != results[b].Chunk.ConfidenceScore {
			return results[a].Chunk.ConfidenceScore > results[b].Chunk.ConfidenceScore
		}
		return results[a].Chunk.CreatedAt.After(results[b].Chunk.CreatedAt)
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// GoldenRecords returns approved chunks at or above minConfidence,
// optionally scoped. A non-positive minConfidence uses the configured
// golden-record threshold.
func (s *KnowledgeService) GoldenRecords(ctx context.Context, scope domain.Scope, minConfidence float64) ([]*domain.KnowledgeChunk, error) {
	if minConfidence <= 0 {
		minConfidence = s.goldenThreshold
	}
	records, err := s.repo.ListGolden(ctx, scope, minConfidence)
	if err != nil {
		return nil, domain.NewPersistenceError("failed to list golden records", err)
	}
	return records, nil
}

// NegativeConstraints returns rejected chunks, optionally scoped.
func (s *KnowledgeService) NegativeConstraints(ctx context.Context, scope domain.Scope) ([]*domain.KnowledgeChunk, error) {
	constraints, err := s.repo.ListRejected(ctx, scope)
	if err != nil {
		return nil, domain.NewPersistenceError("failed to list negative constraints", err)
	}
	return constraints, nil
}

// Stats summarizes the store contents.
func (s *KnowledgeService) Stats(ctx context.Context) (*domain.StoreStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, domain.NewPersistenceError("failed to compute stats", err)
	}
	return stats, nil
}

// ExampleInput describes an approved example document to ingest.
type ExampleInput struct {
	Text      string
	Scope     domain.Scope
	OriginRef string
}

// IngestExample chunks an approved example document and stores the chunks.
func (s *KnowledgeService) IngestExample(ctx context.Context, input ExampleInput) (*BatchResult, error) {
	pieces, err := ChunkText(input.Text, s.chunkCfg)
	if err != nil {
		return nil, err
	}

	chunks := make([]*domain.KnowledgeChunk, 0, len(pieces))
	for _, piece := range pieces {
		chunk := &domain.KnowledgeChunk{
			Content:         piece,
			SourceType:      domain.SourceTypeExample,
			Scope:           input.Scope,
			ApprovalStatus:  domain.ApprovalStatusApproved,
			ConfidenceScore: InitialConfidence(domain.SourceTypeExample, domain.ApprovalStatusApproved, input.Scope),
		}
		if input.OriginRef != "" {
			chunk.Metadata = map[string]any{"origin_ref": input.OriginRef}
		}
		chunks = append(chunks, chunk)
	}
	return s.AddChunksBatch(ctx, chunks)
}

// RegulationInput describes a regulation version to ingest.
type RegulationInput struct {
	Version string
	Text    string
	Scope   domain.Scope
}

// IngestRegulation chunks regulation text and installs it as the current
// regulation version, replacing any prior version.
func (s *KnowledgeService) IngestRegulation(ctx context.Context, input RegulationInput) (int, error) {
	if strings.TrimSpace(input.Version) == "" {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "regulation version is required")
	}

	pieces, err := ChunkText(input.Text, s.chunkCfg)
	if err != nil {
		return 0, err
	}
	if len(pieces) == 0 {
		return 0, domain.NewDomainError(domain.ErrCodeValidation, "regulation text is empty")
	}

	chunks := make([]*domain.KnowledgeChunk, 0, len(pieces))
	for _, piece := range pieces {
		chunks = append(chunks, &domain.KnowledgeChunk{
			Content:           piece,
			SourceType:        domain.SourceTypeRegulation,
			Scope:             input.Scope,
			ApprovalStatus:    domain.ApprovalStatusUnknown,
			ConfidenceScore:   InitialConfidence(domain.SourceTypeRegulation, domain.ApprovalStatusUnknown, input.Scope),
			RegulationVersion: input.Version,
		})
	}

	if err := s.ReplaceRegulationVersion(ctx, input.Version, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// ReplaceRegulationVersion atomically replaces all stored regulation chunks
// with the new set. Embeddings are generated before the transaction starts;
// any failure, embedding or persistence, leaves the store in the pre-replace
// state. No reader ever observes a mix of old and new regulation versions.
func (s *KnowledgeService) ReplaceRegulationVersion(ctx context.Context, version string, chunks []*domain.KnowledgeChunk) error {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.ReplaceRegulationVersion", telemetry.SpanAttributes{
		SourceType: string(domain.SourceTypeRegulation),
		Operation:  "replace_regulation_version",
	})
	defer span.End()

	if strings.TrimSpace(version) == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "regulation version is required")
	}

	var pendingTexts []string
	var pendingIdx []int
	for i, chunk := range chunks {
		chunk.SourceType = domain.SourceTypeRegulation
		chunk.RegulationVersion = version
		s.prepare(chunk)
		if err := domain.ValidateChunk(chunk); err != nil {
			return domain.NewVersionReplaceError(fmt.Sprintf("invalid regulation chunk %d", i), err)
		}
		if chunk.Embedding == nil {
			pendingTexts = append(pendingTexts, chunk.Content)
			pendingIdx = append(pendingIdx, i)
		}
	}

	// Unlike the batch add, the replace is all-or-nothing: a single item
	// that cannot be embedded aborts the operation before any row moves.
	if len(pendingTexts) > 0 {
		vectors, itemErrs, err := s.embedding.EmbedDocumentBatch(ctx, pendingTexts)
		if err != nil {
			return domain.NewVersionReplaceError("failed to embed regulation chunks", err)
		}
		for j, i := range pendingIdx {
			if itemErrs[j] != nil {
				return domain.NewVersionReplaceError(
					fmt.Sprintf("failed to embed regulation chunk %d", i), itemErrs[j])
			}
			chunks[i].Embedding = vectors[j]
		}
	}

	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		txRepo := repos.Chunks()
		if _, err := txRepo.DeleteAllRegulations(ctx); err != nil {
			return err
		}
		for _, chunk := range chunks {
			if err := txRepo.Insert(ctx, chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.NewVersionReplaceError("regulation replace rolled back", err)
	}
	return nil
}

func (s *KnowledgeService) prepare(chunk *domain.KnowledgeChunk) {
	if chunk == nil {
		return
	}
	if chunk.ID == "" {
		chunk.ID = s.uuidGen.NewString()
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now().UTC()
	}
}
