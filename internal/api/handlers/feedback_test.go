package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/jobs"
	"github.com/nordfire/munikb/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFeedbackAnalyzer struct {
	mock.Mock
}

func (m *MockFeedbackAnalyzer) Analyze(ctx context.Context, batch []*domain.FeedbackRecord, documentType string) (*service.AnalyzeResult, error) {
	args := m.Called(ctx, batch, documentType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AnalyzeResult), args.Error(1)
}

func TestFeedbackHandler_Submit_Success(t *testing.T) {
	queue := jobs.NewFeedbackQueue()
	handler := NewFeedbackHandler(queue, new(MockFeedbackAnalyzer))

	body := `{"document_id":"doc-7","municipality":"Aarhus","approved":false,"rejection_reasons":["manglende flugtvejsbredde"]}`
	w := httptest.NewRecorder()

	handler.Submit(w, jsonRequest(http.MethodPost, "/feedback", body))

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(1), data["queued"])

	records := queue.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, "doc-7", records[0].DocumentID)
	assert.Equal(t, "Aarhus", records[0].Scope.Municipality)
	assert.False(t, records[0].Approved)
	assert.Equal(t, []string{"manglende flugtvejsbredde"}, records[0].RejectionReasons)
	assert.False(t, records[0].ReceivedAt.IsZero())
}

func TestFeedbackHandler_Submit_MissingDocumentID(t *testing.T) {
	queue := jobs.NewFeedbackQueue()
	handler := NewFeedbackHandler(queue, new(MockFeedbackAnalyzer))

	w := httptest.NewRecorder()
	handler.Submit(w, jsonRequest(http.MethodPost, "/feedback", `{"approved":true}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "document_id is required")
	assert.Equal(t, 0, queue.Len())
}

func TestFeedbackHandler_Submit_InvalidJSON(t *testing.T) {
	handler := NewFeedbackHandler(jobs.NewFeedbackQueue(), new(MockFeedbackAnalyzer))

	w := httptest.NewRecorder()
	handler.Submit(w, jsonRequest(http.MethodPost, "/feedback", `{invalid`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedbackHandler_Analyze_Success(t *testing.T) {
	mockAnalyzer := new(MockFeedbackAnalyzer)
	handler := NewFeedbackHandler(jobs.NewFeedbackQueue(), mockAnalyzer)

	mockAnalyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(batch []*domain.FeedbackRecord) bool {
		return len(batch) == 2 && batch[0].Scope.Municipality == "Aarhus"
	}), "brandstrategi").Return(&service.AnalyzeResult{
		Stored: &service.BatchResult{
			Stored: []*domain.KnowledgeChunk{newTestChunk("i-1"), newTestChunk("i-2")},
		},
		Dropped: 1,
	}, nil)

	body := `{"records":[{"document_id":"doc-1","municipality":"Aarhus","approved":false},{"document_id":"doc-2","municipality":"Aarhus","approved":true}],"document_type":"brandstrategi"}`
	w := httptest.NewRecorder()

	handler.Analyze(w, jsonRequest(http.MethodPost, "/feedback/analyze", body))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(2), data["insights_stored"])
	assert.Equal(t, float64(0), data["insights_failed"])
	assert.Equal(t, float64(1), data["dropped"])
	mockAnalyzer.AssertExpectations(t)
}

func TestFeedbackHandler_Analyze_PartitionFailures(t *testing.T) {
	mockAnalyzer := new(MockFeedbackAnalyzer)
	handler := NewFeedbackHandler(jobs.NewFeedbackQueue(), mockAnalyzer)

	mockAnalyzer.On("Analyze", mock.Anything, mock.Anything, "").Return(&service.AnalyzeResult{
		Stored: &service.BatchResult{},
		PartitionFailures: map[string]error{
			"Aarhus": domain.NewProviderError("pattern extraction failed", assert.AnError),
		},
	}, nil)

	body := `{"records":[{"document_id":"doc-1","municipality":"Aarhus","approved":false}]}`
	w := httptest.NewRecorder()

	handler.Analyze(w, jsonRequest(http.MethodPost, "/feedback/analyze", body))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	failures := data["partition_failures"].(map[string]interface{})
	assert.Contains(t, failures["Aarhus"], "pattern extraction failed")
}

func TestFeedbackHandler_Analyze_EmptyRecords(t *testing.T) {
	handler := NewFeedbackHandler(jobs.NewFeedbackQueue(), new(MockFeedbackAnalyzer))

	w := httptest.NewRecorder()
	handler.Analyze(w, jsonRequest(http.MethodPost, "/feedback/analyze", `{"records":[]}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "records is required")
}
