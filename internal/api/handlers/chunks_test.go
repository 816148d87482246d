package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKnowledgeService struct {
	mock.Mock
}

func (m *MockKnowledgeService) AddChunksBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) (*service.BatchResult, error) {
	args := m.Called(ctx, chunks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockKnowledgeService) GoldenRecords(ctx context.Context, scope domain.Scope, minConfidence float64) ([]*domain.KnowledgeChunk, error) {
	args := m.Called(ctx, scope, minConfidence)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeChunk), args.Error(1)
}

func (m *MockKnowledgeService) NegativeConstraints(ctx context.Context, scope domain.Scope) ([]*domain.KnowledgeChunk, error) {
	args := m.Called(ctx, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeChunk), args.Error(1)
}

func (m *MockKnowledgeService) Stats(ctx context.Context) (*domain.StoreStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StoreStats), args.Error(1)
}

func (m *MockKnowledgeService) IngestExample(ctx context.Context, input service.ExampleInput) (*service.BatchResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockKnowledgeService) IngestRegulation(ctx context.Context, input service.RegulationInput) (int, error) {
	args := m.Called(ctx, input)
	return args.Int(0), args.Error(1)
}

func newTestChunk(id string) *domain.KnowledgeChunk {
	return &domain.KnowledgeChunk{
		ID:         id,
		Content:    "Flugtveje skal friholdes i hele bygningens brugstid.",
		SourceType: domain.SourceTypeExample,
		Scope: domain.Scope{
			Municipality: "Aarhus",
			DocumentType: "brandstrategi",
		},
		ConfidenceScore: 0.75,
		ApprovalStatus:  domain.ApprovalStatusApproved,
		CreatedAt:       time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func jsonRequest(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestChunkHandler_AddBatch_Success(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	stored := newTestChunk("c-1")
	mockSvc.On("AddChunksBatch", mock.Anything, mock.MatchedBy(func(chunks []*domain.KnowledgeChunk) bool {
		return len(chunks) == 1 &&
			chunks[0].Content == "Flugtveje skal friholdes." &&
			chunks[0].Scope.Municipality == "Aarhus" &&
			chunks[0].ApprovalStatus == domain.ApprovalStatusApproved
	})).Return(&service.BatchResult{Stored: []*domain.KnowledgeChunk{stored}}, nil)

	body := `{"chunks":[{"content":"Flugtveje skal friholdes.","source_type":"example","municipality":"Aarhus","confidence_score":0.75,"approval_status":"approved"}]}`
	w := httptest.NewRecorder()

	handler.AddBatch(w, jsonRequest(http.MethodPost, "/chunks/batch", body))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	storedList := data["stored"].([]interface{})
	require.Len(t, storedList, 1)
	assert.Equal(t, "c-1", storedList[0].(map[string]interface{})["id"])
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_AddBatch_DefaultsApprovalStatus(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	mockSvc.On("AddChunksBatch", mock.Anything, mock.MatchedBy(func(chunks []*domain.KnowledgeChunk) bool {
		return len(chunks) == 1 && chunks[0].ApprovalStatus == domain.ApprovalStatusUnknown
	})).Return(&service.BatchResult{Stored: []*domain.KnowledgeChunk{newTestChunk("c-1")}}, nil)

	body := `{"chunks":[{"content":"Brandceller adskilles med EI 60.","source_type":"insight","confidence_score":0.7}]}`
	w := httptest.NewRecorder()

	handler.AddBatch(w, jsonRequest(http.MethodPost, "/chunks/batch", body))

	assert.Equal(t, http.StatusCreated, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_AddBatch_PartialFailure(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	result := &service.BatchResult{
		Stored: []*domain.KnowledgeChunk{newTestChunk("c-1")},
		Failed: []service.BatchFailure{
			{Index: 1, Err: domain.NewDomainError(domain.ErrCodeValidation, "chunk content cannot be empty")},
		},
	}
	mockSvc.On("AddChunksBatch", mock.Anything, mock.Anything).Return(result, nil)

	body := `{"chunks":[{"content":"ok","source_type":"example"},{"content":"","source_type":"example"}]}`
	w := httptest.NewRecorder()

	handler.AddBatch(w, jsonRequest(http.MethodPost, "/chunks/batch", body))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	failed := data["failed"].([]interface{})
	require.Len(t, failed, 1)
	failure := failed[0].(map[string]interface{})
	assert.Equal(t, float64(1), failure["index"])
	assert.Contains(t, failure["error"], "content cannot be empty")
}

func TestChunkHandler_AddBatch_InvalidJSON(t *testing.T) {
	handler := NewChunkHandler(new(MockKnowledgeService))

	w := httptest.NewRecorder()
	handler.AddBatch(w, jsonRequest(http.MethodPost, "/chunks/batch", `{invalid`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request body")
}

func TestChunkHandler_AddBatch_EmptyChunks(t *testing.T) {
	handler := NewChunkHandler(new(MockKnowledgeService))

	w := httptest.NewRecorder()
	handler.AddBatch(w, jsonRequest(http.MethodPost, "/chunks/batch", `{"chunks":[]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "chunks is required")
}

func TestChunkHandler_IngestExample_Success(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	mockSvc.On("IngestExample", mock.Anything, mock.MatchedBy(func(input service.ExampleInput) bool {
		return input.Scope.Municipality == "Odense" && input.OriginRef == "letters/odense/2026-004.pdf"
	})).Return(&service.BatchResult{Stored: []*domain.KnowledgeChunk{newTestChunk("c-1"), newTestChunk("c-2")}}, nil)

	body := `{"text":"Godkendt brandstrategi for etagebyggeri.","municipality":"Odense","origin_ref":"letters/odense/2026-004.pdf"}`
	w := httptest.NewRecorder()

	handler.IngestExample(w, jsonRequest(http.MethodPost, "/examples", body))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Len(t, data["stored"], 2)
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_IngestExample_MissingText(t *testing.T) {
	handler := NewChunkHandler(new(MockKnowledgeService))

	w := httptest.NewRecorder()
	handler.IngestExample(w, jsonRequest(http.MethodPost, "/examples", `{"municipality":"Odense"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "text is required")
}

func TestChunkHandler_ReplaceRegulation_Success(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	mockSvc.On("IngestRegulation", mock.Anything, mock.MatchedBy(func(input service.RegulationInput) bool {
		return input.Version == "BR18-2026" && input.Text != ""
	})).Return(12, nil)

	req := jsonRequest(http.MethodPut, "/regulations/BR18-2026", `{"text":"Kapitel 5. Brand."}`)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("version", "BR18-2026")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	handler.ReplaceRegulation(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "BR18-2026", data["version"])
	assert.Equal(t, float64(12), data["chunks_stored"])
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_ReplaceRegulation_ReplaceError(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	mockSvc.On("IngestRegulation", mock.Anything, mock.Anything).
		Return(0, domain.NewVersionReplaceError("regulation replace rolled back", assert.AnError))

	req := jsonRequest(http.MethodPut, "/regulations/BR18-2026", `{"text":"Kapitel 5. Brand."}`)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("version", "BR18-2026")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()

	handler.ReplaceRegulation(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "rolled back")
}

func TestChunkHandler_ReplaceRegulation_MissingVersion(t *testing.T) {
	handler := NewChunkHandler(new(MockKnowledgeService))

	req := jsonRequest(http.MethodPut, "/regulations/", `{"text":"Kapitel 5."}`)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
	w := httptest.NewRecorder()

	handler.ReplaceRegulation(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "version is required")
}

func TestChunkHandler_GoldenRecords(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	records := []*domain.KnowledgeChunk{newTestChunk("c-1"), newTestChunk("c-2")}
	mockSvc.On("GoldenRecords", mock.Anything,
		domain.Scope{Municipality: "Aarhus", DocumentType: "brandstrategi"}, 0.9).
		Return(records, nil)

	req := httptest.NewRequest(http.MethodGet, "/golden-records?municipality=Aarhus&document_type=brandstrategi&min_confidence=0.9", nil)
	w := httptest.NewRecorder()

	handler.GoldenRecords(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(2), data["count"])
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_GoldenRecords_DefaultThreshold(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	mockSvc.On("GoldenRecords", mock.Anything, domain.Scope{}, 0.0).
		Return([]*domain.KnowledgeChunk{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/golden-records", nil)
	w := httptest.NewRecorder()

	handler.GoldenRecords(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_GoldenRecords_InvalidConfidence(t *testing.T) {
	handler := NewChunkHandler(new(MockKnowledgeService))

	req := httptest.NewRequest(http.MethodGet, "/golden-records?min_confidence=1.5", nil)
	w := httptest.NewRecorder()

	handler.GoldenRecords(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "min_confidence")
}

func TestChunkHandler_NegativeConstraints(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	rejected := newTestChunk("c-9")
	rejected.ApprovalStatus = domain.ApprovalStatusRejected
	rejected.ConfidenceScore = 0
	mockSvc.On("NegativeConstraints", mock.Anything, domain.Scope{Municipality: "Aarhus"}).
		Return([]*domain.KnowledgeChunk{rejected}, nil)

	req := httptest.NewRequest(http.MethodGet, "/negative-constraints?municipality=Aarhus", nil)
	w := httptest.NewRecorder()

	handler.NegativeConstraints(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	items := data["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "rejected", items[0].(map[string]interface{})["approval_status"])
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_Stats(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	mockSvc.On("Stats", mock.Anything).Return(&domain.StoreStats{
		TotalChunks: 42,
		BySourceType: map[domain.SourceType]int64{
			domain.SourceTypeExample:    30,
			domain.SourceTypeRegulation: 12,
		},
		ByApprovalStatus: map[domain.ApprovalStatus]int64{
			domain.ApprovalStatusApproved: 25,
		},
		ByConfidence: map[domain.ConfidenceBucket]int64{
			domain.ConfidenceHigh: 20,
		},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()

	handler.Stats(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(42), data["total_chunks"])
	bySource := data["by_source_type"].(map[string]interface{})
	assert.Equal(t, float64(30), bySource["example"])
	byConfidence := data["by_confidence"].(map[string]interface{})
	assert.Equal(t, float64(20), byConfidence["high"])
	mockSvc.AssertExpectations(t)
}

func TestChunkHandler_Stats_PersistenceError(t *testing.T) {
	mockSvc := new(MockKnowledgeService)
	handler := NewChunkHandler(mockSvc)

	mockSvc.On("Stats", mock.Anything).
		Return(nil, domain.NewPersistenceError("failed to compute stats", assert.AnError))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()

	handler.Stats(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
