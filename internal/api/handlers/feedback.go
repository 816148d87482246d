package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nordfire/munikb/internal/api"
	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
)

type FeedbackQueue interface {
	Enqueue(record *domain.FeedbackRecord)
	Len() int
}

type FeedbackAnalyzer interface {
	Analyze(ctx context.Context, batch []*domain.FeedbackRecord, documentType string) (*service.AnalyzeResult, error)
}

type FeedbackHandler struct {
	queue    FeedbackQueue
	analyzer FeedbackAnalyzer
}

func NewFeedbackHandler(queue FeedbackQueue, analyzer FeedbackAnalyzer) *FeedbackHandler {
	return &FeedbackHandler{queue: queue, analyzer: analyzer}
}

type FeedbackRequest struct {
	DocumentID       string   `json:"document_id"`
	Municipality     string   `json:"municipality,omitempty"`
	DocumentType     string   `json:"document_type,omitempty"`
	Approved         bool     `json:"approved"`
	FeedbackText     string   `json:"feedback_text,omitempty"`
	RejectionReasons []string `json:"rejection_reasons,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
}

func (r FeedbackRequest) toRecord() *domain.FeedbackRecord {
	return &domain.FeedbackRecord{
		DocumentID: r.DocumentID,
		Scope: domain.Scope{
			Municipality: r.Municipality,
			DocumentType: r.DocumentType,
		},
		Approved:         r.Approved,
		FeedbackText:     r.FeedbackText,
		RejectionReasons: r.RejectionReasons,
		Suggestions:      r.Suggestions,
		ReceivedAt:       time.Now().UTC(),
	}
}

type EnqueueFeedbackResponse struct {
	Queued int `json:"queued"`
}

// Submit queues a feedback record for the periodic learning pass.
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentID == "" {
		api.Error(w, http.StatusBadRequest, "document_id is required")
		return
	}

	h.queue.Enqueue(req.toRecord())

	api.Success(w, http.StatusAccepted, EnqueueFeedbackResponse{Queued: h.queue.Len()})
}

type AnalyzeFeedbackRequest struct {
	Records      []FeedbackRequest `json:"records"`
	DocumentType string            `json:"document_type,omitempty"`
}

type AnalyzeFeedbackResponse struct {
	InsightsStored    int               `json:"insights_stored"`
	InsightsFailed    int               `json:"insights_failed"`
	Dropped           int               `json:"dropped"`
	PartitionFailures map[string]string `json:"partition_failures,omitempty"`
}

// Analyze runs feedback analysis synchronously on the submitted batch,
// bypassing the queue.
func (h *FeedbackHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Records) == 0 {
		api.Error(w, http.StatusBadRequest, "records is required")
		return
	}

	batch := make([]*domain.FeedbackRecord, len(req.Records))
	for i, rec := range req.Records {
		batch[i] = rec.toRecord()
	}

	result, err := h.analyzer.Analyze(r.Context(), batch, req.DocumentType)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := AnalyzeFeedbackResponse{Dropped: result.Dropped}
	if result.Stored != nil {
		resp.InsightsStored = len(result.Stored.Stored)
		resp.InsightsFailed = len(result.Stored.Failed)
	}
	if len(result.PartitionFailures) > 0 {
		resp.PartitionFailures = make(map[string]string, len(result.PartitionFailures))
		for municipality, failure := range result.PartitionFailures {
			resp.PartitionFailures[municipality] = failure.Error()
		}
	}

	api.Success(w, http.StatusOK, resp)
}
