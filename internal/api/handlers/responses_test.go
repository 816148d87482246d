package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockResponseParser struct {
	mock.Mock
}

func (m *MockResponseParser) ParseRejection(ctx context.Context, input service.ResponseInput) ([]*domain.KnowledgeChunk, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeChunk), args.Error(1)
}

func (m *MockResponseParser) ParseApproval(ctx context.Context, input service.ResponseInput) ([]*domain.KnowledgeChunk, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.KnowledgeChunk), args.Error(1)
}

type MockLetterStore struct {
	mock.Mock
}

func (m *MockLetterStore) StoreLetter(ctx context.Context, municipality string, text string) (string, error) {
	args := m.Called(ctx, municipality, text)
	return args.String(0), args.Error(1)
}

func TestResponseHandler_ParseRejection_Success(t *testing.T) {
	mockParser := new(MockResponseParser)
	handler := NewResponseHandler(mockParser, nil)

	constraint := newTestChunk("c-1")
	constraint.SourceType = domain.SourceTypeMunicipalResponse
	constraint.ApprovalStatus = domain.ApprovalStatusRejected
	constraint.ConfidenceScore = 0

	mockParser.On("ParseRejection", mock.Anything, mock.MatchedBy(func(input service.ResponseInput) bool {
		return input.Scope.Municipality == "Aarhus" && input.OriginRef == "letters/aarhus/2026-001.pdf"
	})).Return([]*domain.KnowledgeChunk{constraint}, nil)

	body := `{"text":"Afslag: flugtvejsbredde under 1,3 m.","municipality":"Aarhus","origin_ref":"letters/aarhus/2026-001.pdf"}`
	w := httptest.NewRecorder()

	handler.ParseRejection(w, jsonRequest(http.MethodPost, "/responses/rejection", body))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "letters/aarhus/2026-001.pdf", data["origin_ref"])
	chunks := data["chunks"].([]interface{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "rejected", chunks[0].(map[string]interface{})["approval_status"])
	mockParser.AssertExpectations(t)
}

func TestResponseHandler_ParseApproval_ArchivesLetter(t *testing.T) {
	mockParser := new(MockResponseParser)
	mockArchive := new(MockLetterStore)
	handler := NewResponseHandler(mockParser, mockArchive)

	mockArchive.On("StoreLetter", mock.Anything, "Odense", "Godkendt uden bemærkninger.").
		Return("letters/Odense/abc123.txt", nil)

	golden := newTestChunk("c-2")
	golden.ConfidenceScore = 1.0
	mockParser.On("ParseApproval", mock.Anything, mock.MatchedBy(func(input service.ResponseInput) bool {
		return input.OriginRef == "letters/Odense/abc123.txt"
	})).Return([]*domain.KnowledgeChunk{golden}, nil)

	body := `{"text":"Godkendt uden bemærkninger.","municipality":"Odense"}`
	w := httptest.NewRecorder()

	handler.ParseApproval(w, jsonRequest(http.MethodPost, "/responses/approval", body))

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "letters/Odense/abc123.txt", data["origin_ref"])
	mockParser.AssertExpectations(t)
	mockArchive.AssertExpectations(t)
}

func TestResponseHandler_ParseApproval_ArchiveFailureStillParses(t *testing.T) {
	mockParser := new(MockResponseParser)
	mockArchive := new(MockLetterStore)
	handler := NewResponseHandler(mockParser, mockArchive)

	mockArchive.On("StoreLetter", mock.Anything, "Odense", mock.Anything).
		Return("", assert.AnError)
	mockParser.On("ParseApproval", mock.Anything, mock.MatchedBy(func(input service.ResponseInput) bool {
		return input.OriginRef == ""
	})).Return([]*domain.KnowledgeChunk{}, nil)

	body := `{"text":"Godkendt.","municipality":"Odense"}`
	w := httptest.NewRecorder()

	handler.ParseApproval(w, jsonRequest(http.MethodPost, "/responses/approval", body))

	assert.Equal(t, http.StatusCreated, w.Code)
	mockParser.AssertExpectations(t)
}

func TestResponseHandler_ParseRejection_ExplicitOriginSkipsArchive(t *testing.T) {
	mockParser := new(MockResponseParser)
	mockArchive := new(MockLetterStore)
	handler := NewResponseHandler(mockParser, mockArchive)

	mockParser.On("ParseRejection", mock.Anything, mock.Anything).
		Return([]*domain.KnowledgeChunk{}, nil)

	body := `{"text":"Afslag.","municipality":"Aarhus","origin_ref":"letters/aarhus/2026-002.pdf"}`
	w := httptest.NewRecorder()

	handler.ParseRejection(w, jsonRequest(http.MethodPost, "/responses/rejection", body))

	assert.Equal(t, http.StatusCreated, w.Code)
	mockArchive.AssertNotCalled(t, "StoreLetter", mock.Anything, mock.Anything, mock.Anything)
}

func TestResponseHandler_ParseRejection_MissingText(t *testing.T) {
	handler := NewResponseHandler(new(MockResponseParser), nil)

	w := httptest.NewRecorder()
	handler.ParseRejection(w, jsonRequest(http.MethodPost, "/responses/rejection", `{"municipality":"Aarhus"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "text is required")
}

func TestResponseHandler_ParseRejection_ProviderError(t *testing.T) {
	mockParser := new(MockResponseParser)
	handler := NewResponseHandler(mockParser, nil)

	mockParser.On("ParseRejection", mock.Anything, mock.Anything).
		Return(nil, domain.NewProviderError("pattern extraction failed", assert.AnError))

	w := httptest.NewRecorder()
	handler.ParseRejection(w, jsonRequest(http.MethodPost, "/responses/rejection", `{"text":"Afslag."}`))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}
