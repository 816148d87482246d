package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/telemetry"
)

// ResponseParser converts free-text municipal response letters into atomic
// knowledge chunks: rejections become negative constraints, approvals become
// golden records. One issue per chunk, so unrelated issues retrieve
// independently.
type ResponseParser struct {
	store     ChunkBatchStore
	extractor PatternExtractor
}

// NewResponseParser creates a ResponseParser.
func NewResponseParser(store ChunkBatchStore, extractor PatternExtractor) *ResponseParser {
	return &ResponseParser{store: store, extractor: extractor}
}

// ResponseInput is one municipal response letter.
type ResponseInput struct {
	Text  string
	Scope domain.Scope
	// OriginRef points at the archived source letter (object storage key
	// or URL). Carried in chunk metadata as provenance.
	OriginRef string
}

// ParseRejection extracts the individual issues from a rejection letter and
// stores each as a negative constraint: confidence pinned at zero, status
// rejected. Nothing actionable in the letter is a valid outcome and yields
// zero chunks.
func (p *ResponseParser) ParseRejection(ctx context.Context, input ResponseInput) ([]*domain.KnowledgeChunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "ResponseParser.ParseRejection", telemetry.SpanAttributes{
		Municipality: input.Scope.Municipality,
		DocumentType: input.Scope.DocumentType,
		Operation:    "parse_rejection",
	})
	defer span.End()

	statements, err := p.extract(ctx, rejectionPrompt(input.Text))
	if err != nil {
		return nil, err
	}
	return p.storeStatements(ctx, statements, input, 0, domain.ApprovalStatusRejected)
}

// ParseApproval extracts the best-practice statements an approval letter
// confirms and stores each as a golden record with full confidence.
func (p *ResponseParser) ParseApproval(ctx context.Context, input ResponseInput) ([]*domain.KnowledgeChunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "ResponseParser.ParseApproval", telemetry.SpanAttributes{
		Municipality: input.Scope.Municipality,
		DocumentType: input.Scope.DocumentType,
		Operation:    "parse_approval",
	})
	defer span.End()

	statements, err := p.extract(ctx, approvalPrompt(input.Text))
	if err != nil {
		return nil, err
	}
	return p.storeStatements(ctx, statements, input, 1.0, domain.ApprovalStatusApproved)
}

func (p *ResponseParser) extract(ctx context.Context, prompt string) ([]string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, nil
	}

	raw, err := p.extractor.ExtractPatterns(ctx, prompt)
	if err != nil {
		return nil, domain.NewProviderError("statement extraction failed", err)
	}

	// Malformed output is not an error: an unusable letter simply teaches
	// nothing.
	var statements []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &statements); err != nil {
		log.Printf("response parser: %v", domain.NewParseError("unparseable extractor payload", err))
		return nil, nil
	}

	valid := statements[:0]
	for _, s := range statements {
		if strings.TrimSpace(s) == "" {
			continue
		}
		valid = append(valid, strings.TrimSpace(s))
	}
	return valid, nil
}

func (p *ResponseParser) storeStatements(ctx context.Context, statements []string, input ResponseInput, confidence float64, status domain.ApprovalStatus) ([]*domain.KnowledgeChunk, error) {
	if len(statements) == 0 {
		return []*domain.KnowledgeChunk{}, nil
	}

	chunks := make([]*domain.KnowledgeChunk, 0, len(statements))
	for _, statement := range statements {
		chunk := &domain.KnowledgeChunk{
			Content:         statement,
			SourceType:      domain.SourceTypeMunicipalResponse,
			Scope:           input.Scope,
			ConfidenceScore: confidence,
			ApprovalStatus:  status,
		}
		if input.OriginRef != "" {
			chunk.Metadata = map[string]any{"origin_ref": input.OriginRef}
		}
		chunks = append(chunks, chunk)
	}

	result, err := p.store.AddChunksBatch(ctx, chunks)
	if err != nil {
		if result == nil {
			return nil, err
		}
		return result.Stored, err
	}
	for _, failure := range result.Failed {
		log.Printf("response parser: statement %d not stored: %v", failure.Index, failure.Err)
	}
	return result.Stored, nil
}

func rejectionPrompt(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return fmt.Sprintf(`A Danish municipality rejected a fire-safety document (BR18). Extract every
distinct issue the letter raises as an independent statement of what to
avoid. One statement per issue; never merge unrelated issues.

Letter:
%s

Respond with a JSON array of strings only, no prose. Return [] if the letter
contains no concrete issue.`, text)
}

func approvalPrompt(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return fmt.Sprintf(`A Danish municipality approved a fire-safety document (BR18). Extract every
best practice the approval confirms as an independent statement. One
statement per practice.

Letter:
%s

Respond with a JSON array of strings only, no prose. Return [] if the letter
names no concrete practice.`, text)
}
