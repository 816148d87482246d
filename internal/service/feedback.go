package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/telemetry"
)

// ChunkBatchStore is the slice of the chunk store the analyzer and the
// response parser need: they only ever append.
type ChunkBatchStore interface {
	AddChunksBatch(ctx context.Context, chunks []*domain.KnowledgeChunk) (*BatchResult, error)
}

// FeedbackAnalyzer turns batches of reviewer feedback into learning
// insights. Each batch is partitioned by municipality, summarized, and sent
// to the pattern extractor; validated patterns become insight chunks in the
// store.
type FeedbackAnalyzer struct {
	store           ChunkBatchStore
	extractor       PatternExtractor
	uuidGen         UUIDGenerator
	goldenThreshold float64
}

// NewFeedbackAnalyzer creates a FeedbackAnalyzer with the default
// golden-record threshold.
func NewFeedbackAnalyzer(store ChunkBatchStore, extractor PatternExtractor) *FeedbackAnalyzer {
	return &FeedbackAnalyzer{
		store:           store,
		extractor:       extractor,
		uuidGen:         &DefaultUUIDGenerator{},
		goldenThreshold: domain.GoldenConfidenceThreshold,
	}
}

// WithUUIDGenerator overrides UUID generation (for testing).
func (a *FeedbackAnalyzer) WithUUIDGenerator(gen UUIDGenerator) *FeedbackAnalyzer {
	a.uuidGen = gen
	return a
}

// WithGoldenThreshold overrides the confidence threshold above which an
// insight is stored as approved.
func (a *FeedbackAnalyzer) WithGoldenThreshold(threshold float64) *FeedbackAnalyzer {
	if threshold > 0 && threshold <= 1 {
		a.goldenThreshold = threshold
	}
	return a
}

// extractedPattern is the structured tuple the pattern extractor returns.
type extractedPattern struct {
	PatternDescription string   `json:"pattern_description"`
	Examples           []string `json:"examples"`
	ConfidenceScore    float64  `json:"confidence_score"`
	Recommendation     string   `json:"recommendation"`
}

// AnalyzeResult summarizes one analysis run. Partition failures are
// isolated: one municipality's extractor outage never hides the insights
// learned from the others.
type AnalyzeResult struct {
	Insights []*domain.LearningInsight
	Stored   *BatchResult
	// Dropped counts extractor tuples that failed schema validation.
	Dropped int
	// PartitionFailures maps municipality (empty string for global
	// feedback) to the error that aborted that partition.
	PartitionFailures map[string]error
}

// Analyze partitions the feedback batch by municipality, extracts recurring
// patterns per partition, and stores each validated pattern as an insight
// chunk. Tuples failing schema validation are dropped and counted, never
// fatal. An unreachable extractor fails only its own partition.
func (a *FeedbackAnalyzer) Analyze(ctx context.Context, batch []*domain.FeedbackRecord, documentType string) (*AnalyzeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "FeedbackAnalyzer.Analyze", telemetry.SpanAttributes{
		DocumentType: documentType,
		Operation:    "analyze_feedback",
	})
	defer span.End()

	result := &AnalyzeResult{
		Stored:            &BatchResult{},
		PartitionFailures: map[string]error{},
	}
	if len(batch) == 0 {
		return result, nil
	}

	partitions := map[string][]*domain.FeedbackRecord{}
	for _, record := range batch {
		key := record.Scope.Municipality
		partitions[key] = append(partitions[key], record)
	}

	municipalities := make([]string, 0, len(partitions))
	for m := range partitions {
		municipalities = append(municipalities, m)
	}
	sort.Strings(municipalities)

	for _, municipality := range municipalities {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		records := partitions[municipality]
		scope := domain.Scope{Municipality: municipality, DocumentType: documentType}

		raw, err := a.extractor.ExtractPatterns(ctx, buildFeedbackPrompt(records, scope))
		if err != nil {
			result.PartitionFailures[municipality] = domain.NewProviderError(
				fmt.Sprintf("pattern extraction failed for municipality %q", municipality), err)
			continue
		}

		patterns, dropped := a.parsePatterns(raw, municipality)
		result.Dropped += dropped

		insights := make([]*domain.LearningInsight, 0, len(patterns))
		chunks := make([]*domain.KnowledgeChunk, 0, len(patterns))
		for _, p := range patterns {
			insight := &domain.LearningInsight{
				ID:                 a.uuidGen.NewString(),
				Scope:              scope,
				PatternDescription: p.PatternDescription,
				Examples:           p.Examples,
				Recommendation:     p.Recommendation,
				ConfidenceScore:    p.ConfidenceScore,
				ExtractedAt:        time.Now().UTC(),
			}
			insights = append(insights, insight)
			chunks = append(chunks, a.insightToChunk(insight))
		}

		stored, err := a.store.AddChunksBatch(ctx, chunks)
		if stored != nil {
			result.Stored.Stored = append(result.Stored.Stored, stored.Stored...)
			result.Stored.Failed = append(result.Stored.Failed, stored.Failed...)
		}
		if err != nil {
			// Cancellation mid-store: stop here, already-stored chunks
			// stay committed.
			result.Insights = append(result.Insights, insights...)
			return result, err
		}
		result.Insights = append(result.Insights, insights...)
	}

	return result, nil
}

// insightToChunk converts a learning insight into its stored form. The
// insight itself is discarded after conversion; applied_count and
// success_rate travel in metadata as advisory provenance.
func (a *FeedbackAnalyzer) insightToChunk(insight *domain.LearningInsight) *domain.KnowledgeChunk {
	status := domain.ApprovalStatusUnknown
	if insight.ConfidenceScore >= a.goldenThreshold {
		status = domain.ApprovalStatusApproved
	}

	var sb strings.Builder
	sb.WriteString(insight.PatternDescription)
	if insight.Recommendation != "" {
		sb.WriteString("\n\nAnbefaling: ")
		sb.WriteString(insight.Recommendation)
	}
	for _, example := range insight.Examples {
		sb.WriteString("\nEksempel: ")
		sb.WriteString(example)
	}

	return &domain.KnowledgeChunk{
		ID:              insight.ID,
		Content:         sb.String(),
		SourceType:      domain.SourceTypeInsight,
		Scope:           insight.Scope,
		ConfidenceScore: insight.ConfidenceScore,
		ApprovalStatus:  status,
		Metadata: map[string]any{
			"applied_count": insight.AppliedCount,
			"success_rate":  insight.SuccessRate,
		},
	}
}

// parsePatterns decodes the extractor payload and drops tuples that fail
// schema validation. The extractor is expected to deliver bare JSON; fence
// stripping happens in the client adapter.
func (a *FeedbackAnalyzer) parsePatterns(raw, municipality string) ([]extractedPattern, int) {
	var candidates []extractedPattern
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &candidates); err != nil {
		log.Printf("feedback analyzer: %v", domain.NewParseError(
			fmt.Sprintf("unparseable extractor payload for municipality %q", municipality), err))
		return nil, 0
	}

	valid := candidates[:0]
	dropped := 0
	for i, c := range candidates {
		if strings.TrimSpace(c.PatternDescription) == "" {
			log.Printf("feedback analyzer: %v", domain.NewParseError(
				fmt.Sprintf("pattern %d for municipality %q has no description", i, municipality), nil))
			dropped++
			continue
		}
		if c.ConfidenceScore < 0 || c.ConfidenceScore > 1 {
			log.Printf("feedback analyzer: %v", domain.NewParseError(
				fmt.Sprintf("pattern %d for municipality %q has confidence %.2f outside [0,1]", i, municipality, c.ConfidenceScore), nil))
			dropped++
			continue
		}
		valid = append(valid, c)
	}
	return valid, dropped
}

// buildFeedbackPrompt renders the partition summary the extractor analyzes:
// approval rate, every rejection reason, every suggestion.
func buildFeedbackPrompt(records []*domain.FeedbackRecord, scope domain.Scope) string {
	approved := 0
	var reasons, suggestions []string
	for _, r := range records {
		if r.Approved {
			approved++
		}
		reasons = append(reasons, r.RejectionReasons...)
		suggestions = append(suggestions, r.Suggestions...)
	}
	approvalRate := float64(approved) / float64(len(records))

	var sb strings.Builder
	sb.WriteString("You analyze reviewer feedback on Danish fire-safety documentation (BR18).\n")
	fmt.Fprintf(&sb, "Municipality: %s\n", valueOrAll(scope.Municipality))
	fmt.Fprintf(&sb, "Document type: %s\n", valueOrAll(scope.DocumentType))
	fmt.Fprintf(&sb, "Feedback items: %d, approval rate: %.0f%%\n", len(records), approvalRate*100)

	if len(reasons) > 0 {
		sb.WriteString("\nRejection reasons:\n")
		for _, r := range reasons {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if len(suggestions) > 0 {
		sb.WriteString("\nReviewer suggestions:\n")
		for _, s := range suggestions {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}

	sb.WriteString(`
Identify recurring patterns in this feedback. Respond with a JSON array only,
no prose, where each element is:
{"pattern_description": string, "examples": [string], "confidence_score": number between 0 and 1, "recommendation": string}
Return [] if no reliable pattern exists.`)
	return sb.String()
}

func valueOrAll(v string) string {
	if v == "" {
		return "all"
	}
	return v
}
