package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nordfire/munikb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPatternExtractor is a mock implementation of PatternExtractor
type MockPatternExtractor struct {
	mock.Mock
}

func (m *MockPatternExtractor) ExtractPatterns(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

// MockChunkBatchStore is a mock implementation of ChunkBatchStore
type MockChunkBatchStore struct {
	mock.Mock
}

func (m *MockChunkBatchStore) AddChunksBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) (*BatchResult, error) {
	args := m.Called(ctx, chunks)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BatchResult), args.Error(1)
}

func feedbackRecord(municipality string, approved bool, reasons ...string) *domain.FeedbackRecord {
	return &domain.FeedbackRecord{
		DocumentID:       "doc-" + municipality,
		Scope:            domain.Scope{Municipality: municipality},
		Approved:         approved,
		RejectionReasons: reasons,
	}
}

func TestFeedbackAnalyzer_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("stores validated patterns as insight chunks", func(t *testing.T) {
		mockStore := new(MockChunkBatchStore)
		mockExtractor := new(MockPatternExtractor)
		analyzer := NewFeedbackAnalyzer(mockStore, mockExtractor).
			WithUUIDGenerator(NewMockUUIDGenerator("insight-1", "insight-2"))

		payload := `[
			{"pattern_description": "Manglende paragrafhenvisninger afvises", "examples": ["doc-1"], "confidence_score": 0.9, "recommendation": "Henvis altid til BR18 §508"},
			{"pattern_description": "Upræcise afstandsangivelser", "examples": [], "confidence_score": 0.6, "recommendation": "Angiv afstande i meter"}
		]`
		mockExtractor.On("ExtractPatterns", mock.Anything, mock.Anything).Return(payload, nil)

		var captured []*domain.KnowledgeChunk
		mockStore.On("AddChunksBatch", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				captured = args.Get(1).([]*domain.KnowledgeChunk)
			}).
			Return(&BatchResult{}, nil)

		result, err := analyzer.Analyze(ctx, []*domain.FeedbackRecord{
			feedbackRecord("Aarhus", false, "mangler henvisning til §508"),
			feedbackRecord("Aarhus", true),
		}, "brandstrategi")

		require.NoError(t, err)
		require.Len(t, result.Insights, 2)
		assert.Zero(t, result.Dropped)
		assert.Empty(t, result.PartitionFailures)

		require.Len(t, captured, 2)
		first, second := captured[0], captured[1]

		assert.Equal(t, domain.SourceTypeInsight, first.SourceType)
		assert.Equal(t, domain.Scope{Municipality: "Aarhus", DocumentType: "brandstrategi"}, first.Scope)
		assert.Contains(t, first.Content, "Manglende paragrafhenvisninger")
		assert.Contains(t, first.Content, "Henvis altid til BR18 §508")
		// 0.9 >= golden threshold: stored approved. 0.6: unknown.
		assert.Equal(t, domain.ApprovalStatusApproved, first.ApprovalStatus)
		assert.InDelta(t, 0.9, first.ConfidenceScore, 1e-9)
		assert.Equal(t, domain.ApprovalStatusUnknown, second.ApprovalStatus)
		assert.InDelta(t, 0.6, second.ConfidenceScore, 1e-9)
	})

	t.Run("partitions by municipality with one extractor call each", func(t *testing.T) {
		mockStore := new(MockChunkBatchStore)
		mockExtractor := new(MockPatternExtractor)
		analyzer := NewFeedbackAnalyzer(mockStore, mockExtractor).
			WithUUIDGenerator(NewMockUUIDGenerator())

		mockExtractor.On("ExtractPatterns", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Municipality: Aarhus")
		})).Return(`[]`, nil).Once()
		mockExtractor.On("ExtractPatterns", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Municipality: Odense")
		})).Return(`[]`, nil).Once()
		mockStore.On("AddChunksBatch", mock.Anything, mock.Anything).Return(&BatchResult{}, nil)

		_, err := analyzer.Analyze(ctx, []*domain.FeedbackRecord{
			feedbackRecord("Aarhus", false, "afvist"),
			feedbackRecord("Odense", true),
			feedbackRecord("Aarhus", true),
		}, "")

		require.NoError(t, err)
		mockExtractor.AssertExpectations(t)
	})

	t.Run("invalid tuples are dropped, valid siblings survive", func(t *testing.T) {
		mockStore := new(MockChunkBatchStore)
		mockExtractor := new(MockPatternExtractor)
		analyzer := NewFeedbackAnalyzer(mockStore, mockExtractor).
			WithUUIDGenerator(NewMockUUIDGenerator())

		payload := `[
			{"pattern_description": "", "confidence_score": 0.9},
			{"pattern_description": "for høj score", "confidence_score": 1.4},
			{"pattern_description": "gyldigt mønster", "confidence_score": 0.7}
		]`
		mockExtractor.On("ExtractPatterns", mock.Anything, mock.Anything).Return(payload, nil)
		mockStore.On("AddChunksBatch", mock.Anything, mock.MatchedBy(func(chunks []*domain.KnowledgeChunk) bool {
			return len(chunks) == 1
		})).Return(&BatchResult{}, nil)

		result, err := analyzer.Analyze(ctx, []*domain.FeedbackRecord{
			feedbackRecord("Aarhus", false, "afvist"),
		}, "")

		require.NoError(t, err)
		assert.Equal(t, 2, result.Dropped)
		require.Len(t, result.Insights, 1)
		assert.Equal(t, "gyldigt mønster", result.Insights[0].PatternDescription)
		mockStore.AssertExpectations(t)
	})

	t.Run("unparseable payload yields zero insights, not an error", func(t *testing.T) {
		mockStore := new(MockChunkBatchStore)
		mockExtractor := new(MockPatternExtractor)
		analyzer := NewFeedbackAnalyzer(mockStore, mockExtractor).
			WithUUIDGenerator(NewMockUUIDGenerator())

		mockExtractor.On("ExtractPatterns", mock.Anything, mock.Anything).
			Return("Beklager, jeg kan ikke svare i JSON.", nil)
		mockStore.On("AddChunksBatch", mock.Anything, mock.Anything).Return(&BatchResult{}, nil)

		result, err := analyzer.Analyze(ctx, []*domain.FeedbackRecord{
			feedbackRecord("Aarhus", false, "afvist"),
		}, "")

		require.NoError(t, err)
		assert.Empty(t, result.Insights)
		assert.Empty(t, result.PartitionFailures)
	})

	t.Run("one failed partition does not abort the others", func(t *testing.T) {
		mockStore := new(MockChunkBatchStore)
		mockExtractor := new(MockPatternExtractor)
		analyzer := NewFeedbackAnalyzer(mockStore, mockExtractor).
			WithUUIDGenerator(NewMockUUIDGenerator())

		mockExtractor.On("ExtractPatterns", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Municipality: Aarhus")
		})).Return("", errors.New("timeout"))
		mockExtractor.On("ExtractPatterns", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "Municipality: Odense")
		})).Return(`[{"pattern_description": "mønster", "confidence_score": 0.8}]`, nil)
		mockStore.On("AddChunksBatch", mock.Anything, mock.Anything).Return(&BatchResult{}, nil)

		result, err := analyzer.Analyze(ctx, []*domain.FeedbackRecord{
			feedbackRecord("Aarhus", false, "afvist"),
			feedbackRecord("Odense", false, "afvist"),
		}, "")

		require.NoError(t, err)
		require.Len(t, result.Insights, 1)
		assert.Equal(t, "Odense", result.Insights[0].Scope.Municipality)

		require.Contains(t, result.PartitionFailures, "Aarhus")
		var domainErr *domain.DomainError
		require.ErrorAs(t, result.PartitionFailures["Aarhus"], &domainErr)
		assert.Equal(t, domain.ErrCodeProvider, domainErr.Code)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		mockStore := new(MockChunkBatchStore)
		mockExtractor := new(MockPatternExtractor)
		analyzer := NewFeedbackAnalyzer(mockStore, mockExtractor)

		result, err := analyzer.Analyze(ctx, nil, "")

		require.NoError(t, err)
		assert.Empty(t, result.Insights)
		mockExtractor.AssertNotCalled(t, "ExtractPatterns", mock.Anything, mock.Anything)
	})
}

func TestBuildFeedbackPromptSummary(t *testing.T) {
	prompt := buildFeedbackPrompt([]*domain.FeedbackRecord{
		{Scope: domain.Scope{Municipality: "Aarhus"}, Approved: true},
		{Scope: domain.Scope{Municipality: "Aarhus"}, Approved: false,
			RejectionReasons: []string{"mangler §508"},
			Suggestions:      []string{"tilføj henvisninger"}},
	}, domain.Scope{Municipality: "Aarhus", DocumentType: "brandstrategi"})

	assert.Contains(t, prompt, "Municipality: Aarhus")
	assert.Contains(t, prompt, "Document type: brandstrategi")
	assert.Contains(t, prompt, "approval rate: 50%")
	assert.Contains(t, prompt, "mangler §508")
	assert.Contains(t, prompt, "tilføj henvisninger")
	assert.Contains(t, prompt, "JSON array")
}
