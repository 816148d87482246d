package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nordfire/munikb/internal/api"
	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
)

type SearchService interface {
	Search(ctx context.Context, input service.SearchInput) ([]*service.SearchResult, error)
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query              string `json:"query"`
	Municipality       string `json:"municipality,omitempty"`
	DocumentType       string `json:"document_type,omitempty"`
	SourceType         string `json:"source_type,omitempty"`
	ExcludeRejected    bool   `json:"exclude_rejected"`
	PrioritizeApproved bool   `json:"prioritize_approved"`
	TopK               int    `json:"top_k,omitempty"`
}

type SearchResultResponse struct {
	Chunk      *ChunkResponse `json:"chunk"`
	Similarity float64        `json:"similarity"`
	Score      float64        `json:"score"`
}

type SearchResponse struct {
	Results []*SearchResultResponse `json:"results"`
	Count   int                     `json:"count"`
}

// Search ranks stored chunks against the query by confidence-weighted
// similarity.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.SourceType != "" && !domain.IsValidSourceType(domain.SourceType(req.SourceType)) {
		api.Error(w, http.StatusBadRequest, "invalid source type")
		return
	}

	results, err := h.svc.Search(r.Context(), service.SearchInput{
		Query: req.Query,
		Scope: domain.Scope{
			Municipality: req.Municipality,
			DocumentType: req.DocumentType,
		},
		SourceType:         domain.SourceType(req.SourceType),
		ExcludeRejected:    req.ExcludeRejected,
		PrioritizeApproved: req.PrioritizeApproved,
		TopK:               req.TopK,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := SearchResponse{
		Results: make([]*SearchResultResponse, len(results)),
		Count:   len(results),
	}
	for i, res := range results {
		resp.Results[i] = &SearchResultResponse{
			Chunk:      chunkToResponse(res.Chunk),
			Similarity: res.Similarity,
			Score:      res.Score,
		}
	}

	api.Success(w, http.StatusOK, resp)
}
