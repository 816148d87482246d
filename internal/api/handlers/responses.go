package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/nordfire/munikb/internal/api"
	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
)

type ResponseParser interface {
	ParseRejection(ctx context.Context, input service.ResponseInput) ([]*domain.KnowledgeChunk, error)
	ParseApproval(ctx context.Context, input service.ResponseInput) ([]*domain.KnowledgeChunk, error)
}

// LetterStore archives raw municipal response letters. Optional: when nil,
// letters are parsed without being archived.
type LetterStore interface {
	StoreLetter(ctx context.Context, municipality string, text string) (string, error)
}

type ResponseHandler struct {
	parser  ResponseParser
	archive LetterStore
}

func NewResponseHandler(parser ResponseParser, archive LetterStore) *ResponseHandler {
	return &ResponseHandler{parser: parser, archive: archive}
}

type ParseResponseRequest struct {
	Text         string `json:"text"`
	Municipality string `json:"municipality,omitempty"`
	DocumentType string `json:"document_type,omitempty"`
	OriginRef    string `json:"origin_ref,omitempty"`
}

type ParseResponseResponse struct {
	OriginRef string           `json:"origin_ref,omitempty"`
	Chunks    []*ChunkResponse `json:"chunks"`
	Count     int              `json:"count"`
}

// ParseRejection extracts cited issues from a municipal rejection letter and
// stores each as a negative constraint.
func (h *ResponseHandler) ParseRejection(w http.ResponseWriter, r *http.Request) {
	h.parse(w, r, h.parser.ParseRejection)
}

// ParseApproval extracts approval statements from a municipal approval letter
// and stores each as a golden record.
func (h *ResponseHandler) ParseApproval(w http.ResponseWriter, r *http.Request) {
	h.parse(w, r, h.parser.ParseApproval)
}

func (h *ResponseHandler) parse(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, input service.ResponseInput) ([]*domain.KnowledgeChunk, error),
) {
	var req ParseResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		api.Error(w, http.StatusBadRequest, "text is required")
		return
	}

	originRef := req.OriginRef
	if originRef == "" && h.archive != nil {
		key, err := h.archive.StoreLetter(r.Context(), req.Municipality, req.Text)
		if err != nil {
			// Archiving is best effort; the letter is still parsed.
			log.Printf("letter archive failed: %v", err)
		} else {
			originRef = key
		}
	}

	chunks, err := fn(r.Context(), service.ResponseInput{
		Text: req.Text,
		Scope: domain.Scope{
			Municipality: req.Municipality,
			DocumentType: req.DocumentType,
		},
		OriginRef: originRef,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, ParseResponseResponse{
		OriginRef: originRef,
		Chunks:    chunksToResponse(chunks),
		Count:     len(chunks),
	})
}
