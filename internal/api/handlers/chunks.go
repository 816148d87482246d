package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nordfire/munikb/internal/api"
	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
)

type KnowledgeService interface {
	AddChunksBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) (*service.BatchResult, error)
	GoldenRecords(ctx context.Context, scope domain.Scope, minConfidence float64) ([]*domain.KnowledgeChunk, error)
	NegativeConstraints(ctx context.Context, scope domain.Scope) ([]*domain.KnowledgeChunk, error)
	Stats(ctx context.Context) (*domain.StoreStats, error)
	IngestExample(ctx context.Context, input service.ExampleInput) (*service.BatchResult, error)
	IngestRegulation(ctx context.Context, input service.RegulationInput) (int, error)
}

type ChunkHandler struct {
	svc KnowledgeService
}

func NewChunkHandler(svc KnowledgeService) *ChunkHandler {
	return &ChunkHandler{svc: svc}
}

type ChunkRequest struct {
	Content           string         `json:"content"`
	SourceType        string         `json:"source_type"`
	Municipality      string         `json:"municipality,omitempty"`
	DocumentType      string         `json:"document_type,omitempty"`
	ConfidenceScore   float64        `json:"confidence_score"`
	ApprovalStatus    string         `json:"approval_status"`
	RegulationVersion string         `json:"regulation_version,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

type ChunkResponse struct {
	ID                string         `json:"id"`
	Content           string         `json:"content"`
	SourceType        string         `json:"source_type"`
	Municipality      string         `json:"municipality,omitempty"`
	DocumentType      string         `json:"document_type,omitempty"`
	ConfidenceScore   float64        `json:"confidence_score"`
	ApprovalStatus    string         `json:"approval_status"`
	RegulationVersion string         `json:"regulation_version,omitempty"`
	CreatedAt         string         `json:"created_at"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func chunkToResponse(c *domain.KnowledgeChunk) *ChunkResponse {
	return &ChunkResponse{
		ID:                c.ID,
		Content:           c.Content,
		SourceType:        string(c.SourceType),
		Municipality:      c.Scope.Municipality,
		DocumentType:      c.Scope.DocumentType,
		ConfidenceScore:   c.ConfidenceScore,
		ApprovalStatus:    string(c.ApprovalStatus),
		RegulationVersion: c.RegulationVersion,
		CreatedAt:         c.CreatedAt.Format("2006-01-02T15:04:05Z"),
		Metadata:          c.Metadata,
	}
}

func chunksToResponse(chunks []*domain.KnowledgeChunk) []*ChunkResponse {
	responses := make([]*ChunkResponse, len(chunks))
	for i, c := range chunks {
		responses[i] = chunkToResponse(c)
	}
	return responses
}

type BatchFailureResponse struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type BatchResponse struct {
	Stored []*ChunkResponse       `json:"stored"`
	Failed []BatchFailureResponse `json:"failed"`
}

func batchToResponse(result *service.BatchResult) *BatchResponse {
	resp := &BatchResponse{
		Stored: chunksToResponse(result.Stored),
		Failed: make([]BatchFailureResponse, len(result.Failed)),
	}
	for i, f := range result.Failed {
		resp.Failed[i] = BatchFailureResponse{Index: f.Index, Error: f.Err.Error()}
	}
	return resp
}

type AddChunksRequest struct {
	Chunks []ChunkRequest `json:"chunks"`
}

// AddBatch stores a batch of pre-formed chunks. Partial success returns 200
// with per-index failures; full success returns 201.
func (h *ChunkHandler) AddBatch(w http.ResponseWriter, r *http.Request) {
	var req AddChunksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Chunks) == 0 {
		api.Error(w, http.StatusBadRequest, "chunks is required")
		return
	}

	chunks := make([]*domain.KnowledgeChunk, len(req.Chunks))
	for i, c := range req.Chunks {
		chunks[i] = &domain.KnowledgeChunk{
			Content:    c.Content,
			SourceType: domain.SourceType(c.SourceType),
			Scope: domain.Scope{
				Municipality: c.Municipality,
				DocumentType: c.DocumentType,
			},
			ConfidenceScore:   c.ConfidenceScore,
			ApprovalStatus:    domain.ApprovalStatus(c.ApprovalStatus),
			RegulationVersion: c.RegulationVersion,
			Metadata:          c.Metadata,
		}
		if chunks[i].ApprovalStatus == "" {
			chunks[i].ApprovalStatus = domain.ApprovalStatusUnknown
		}
	}

	result, err := h.svc.AddChunksBatch(r.Context(), chunks)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if !result.AllStored() {
		status = http.StatusOK
	}
	api.Success(w, status, batchToResponse(result))
}

type IngestExampleRequest struct {
	Text         string `json:"text"`
	Municipality string `json:"municipality,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	OriginRef    string `json:"origin_ref,omitempty"`
}

// IngestExample chunks an approved example document and stores the pieces.
func (h *ChunkHandler) IngestExample(w http.ResponseWriter, r *http.Request) {
	var req IngestExampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.svc.IngestExample(r.Context(), service.ExampleInput{
		Text: req.Text,
		Scope: domain.Scope{
			Municipality: req.Municipality,
			DocumentType: req.DocumentType,
		},
		OriginRef: req.OriginRef,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusCreated
	if !result.AllStored() {
		status = http.StatusOK
	}
	api.Success(w, status, batchToResponse(result))
}

type IngestRegulationRequest struct {
	Text         string `json:"text"`
	Municipality string `json:"municipality,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
}

type IngestRegulationResponse struct {
	Version      string `json:"version"`
	ChunksStored int    `json:"chunks_stored"`
}

// ReplaceRegulation installs the given regulation version, atomically
// replacing any previously stored version.
func (h *ChunkHandler) ReplaceRegulation(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	if version == "" {
		api.Error(w, http.StatusBadRequest, "version is required")
		return
	}

	var req IngestRegulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	stored, err := h.svc.IngestRegulation(r.Context(), service.RegulationInput{
		Version: version,
		Text:    req.Text,
		Scope: domain.Scope{
			Municipality: req.Municipality,
			DocumentType: req.DocumentType,
		},
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, IngestRegulationResponse{
		Version:      version,
		ChunksStored: stored,
	})
}

type ChunkListResponse struct {
	Items []*ChunkResponse `json:"items"`
	Count int              `json:"count"`
}

// GoldenRecords lists approved chunks at or above the confidence threshold.
func (h *ChunkHandler) GoldenRecords(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)

	minConfidence := 0.0
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			api.Error(w, http.StatusBadRequest, "min_confidence must be a number in [0, 1]")
			return
		}
		minConfidence = parsed
	}

	records, err := h.svc.GoldenRecords(r.Context(), scope, minConfidence)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ChunkListResponse{
		Items: chunksToResponse(records),
		Count: len(records),
	})
}

// NegativeConstraints lists rejected chunks: patterns generation must avoid.
func (h *ChunkHandler) NegativeConstraints(w http.ResponseWriter, r *http.Request) {
	constraints, err := h.svc.NegativeConstraints(r.Context(), scopeFromQuery(r))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ChunkListResponse{
		Items: chunksToResponse(constraints),
		Count: len(constraints),
	})
}

type StatsResponse struct {
	TotalChunks      int64            `json:"total_chunks"`
	BySourceType     map[string]int64 `json:"by_source_type"`
	ByMunicipality   map[string]int64 `json:"by_municipality"`
	ByDocumentType   map[string]int64 `json:"by_document_type"`
	ByApprovalStatus map[string]int64 `json:"by_approval_status"`
	ByConfidence     map[string]int64 `json:"by_confidence"`
}

// Stats summarizes the store contents.
func (h *ChunkHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := StatsResponse{
		TotalChunks:      stats.TotalChunks,
		BySourceType:     make(map[string]int64, len(stats.BySourceType)),
		ByMunicipality:   stats.ByMunicipality,
		ByDocumentType:   stats.ByDocumentType,
		ByApprovalStatus: make(map[string]int64, len(stats.ByApprovalStatus)),
		ByConfidence:     make(map[string]int64, len(stats.ByConfidence)),
	}
	for k, v := range stats.BySourceType {
		resp.BySourceType[string(k)] = v
	}
	for k, v := range stats.ByApprovalStatus {
		resp.ByApprovalStatus[string(k)] = v
	}
	for k, v := range stats.ByConfidence {
		resp.ByConfidence[string(k)] = v
	}

	api.Success(w, http.StatusOK, resp)
}

func scopeFromQuery(r *http.Request) domain.Scope {
	return domain.Scope{
		Municipality: r.URL.Query().Get("municipality"),
		DocumentType: r.URL.Query().Get("document_type"),
	}
}
