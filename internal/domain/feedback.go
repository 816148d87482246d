package domain

import "time"

// FeedbackRecord is a structured municipal verdict on one generated document.
// Records are ephemeral inputs to the feedback analyzer and are never
// persisted as-is.
type FeedbackRecord struct {
	DocumentID       string
	Scope            Scope
	Approved         bool
	FeedbackText     string
	RejectionReasons []string
	Suggestions      []string
	ReceivedAt       time.Time
}

// LearningInsight is a pattern extracted from a batch of feedback. It is
// ephemeral: each insight is converted 1:1 into a KnowledgeChunk with
// source type insight and then discarded.
type LearningInsight struct {
	ID                 string
	Scope              Scope
	PatternDescription string
	Examples           []string
	Recommendation     string
	ConfidenceScore    float64
	AppliedCount       int
	SuccessRate        float64
	ExtractedAt        time.Time
}
