package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies which ingestion path created a chunk.
type SourceType string

const (
	SourceTypeExample           SourceType = "example"
	SourceTypeInsight           SourceType = "insight"
	SourceTypeRegulation        SourceType = "regulation"
	SourceTypeMunicipalResponse SourceType = "municipal_response"
)

// ApprovalStatus records the municipal outcome associated with a chunk.
type ApprovalStatus string

const (
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusUnknown  ApprovalStatus = "unknown"
)

// GoldenConfidenceThreshold is the default confidence at or above which an
// approved chunk counts as a golden record.
const GoldenConfidenceThreshold = 0.8

// Scope narrows a chunk to a municipality and/or document type. Empty fields
// mean the chunk applies globally.
type Scope struct {
	Municipality string
	DocumentType string
}

// IsGlobal reports whether the scope places no restriction at all.
func (s Scope) IsGlobal() bool {
	return s.Municipality == "" && s.DocumentType == ""
}

func (s Scope) String() string {
	switch {
	case s.IsGlobal():
		return "global"
	case s.Municipality == "":
		return s.DocumentType
	case s.DocumentType == "":
		return s.Municipality
	default:
		return s.Municipality + "/" + s.DocumentType
	}
}

// KnowledgeChunk is the atomic stored unit of knowledge: a text fragment with
// its embedding, provenance and confidence metadata. Chunks are append-only;
// the only mutation path is the scoped regulation version replace.
type KnowledgeChunk struct {
	ID                string
	Content           string
	Embedding         []float32
	SourceType        SourceType
	Scope             Scope
	ConfidenceScore   float64
	ApprovalStatus    ApprovalStatus
	RegulationVersion string
	CreatedAt         time.Time
	Metadata          map[string]any
}

// IsGoldenRecord reports whether the chunk qualifies as a best-practice
// record at the given threshold.
func (c *KnowledgeChunk) IsGoldenRecord(minConfidence float64) bool {
	return c.ApprovalStatus == ApprovalStatusApproved && c.ConfidenceScore >= minConfidence
}

// IsNegativeConstraint reports whether the chunk marks a pattern to avoid.
func (c *KnowledgeChunk) IsNegativeConstraint() bool {
	return c.ApprovalStatus == ApprovalStatusRejected && c.ConfidenceScore == 0
}

// ValidateChunk checks the invariants every stored chunk must satisfy.
func ValidateChunk(c *KnowledgeChunk) error {
	if c == nil {
		return NewDomainError(ErrCodeValidation, "chunk cannot be nil")
	}
	if strings.TrimSpace(c.Content) == "" {
		return NewDomainError(ErrCodeValidation, "chunk content cannot be empty")
	}
	if !IsValidSourceType(c.SourceType) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("invalid source type: %q", c.SourceType))
	}
	if !IsValidApprovalStatus(c.ApprovalStatus) {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("invalid approval status: %q", c.ApprovalStatus))
	}
	if c.ConfidenceScore < 0 || c.ConfidenceScore > 1 {
		return NewDomainError(ErrCodeValidation, fmt.Sprintf("confidence score %v outside [0, 1]", c.ConfidenceScore))
	}
	if c.SourceType == SourceTypeRegulation && c.RegulationVersion == "" {
		return NewDomainError(ErrCodeValidation, "regulation chunk requires a version marker")
	}
	return nil
}

// IsValidSourceType checks membership in the closed source type set.
func IsValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeExample, SourceTypeInsight, SourceTypeRegulation, SourceTypeMunicipalResponse:
		return true
	}
	return false
}

// IsValidApprovalStatus checks membership in the closed approval status set.
func IsValidApprovalStatus(s ApprovalStatus) bool {
	switch s {
	case ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusUnknown:
		return true
	}
	return false
}

// ConfidenceBucket labels a confidence score for reporting.
type ConfidenceBucket string

const (
	ConfidenceHigh   ConfidenceBucket = "high"
	ConfidenceMedium ConfidenceBucket = "medium"
	ConfidenceLow    ConfidenceBucket = "low"
)

// BucketForConfidence maps a score to its reporting bucket.
func BucketForConfidence(score float64) ConfidenceBucket {
	switch {
	case score >= GoldenConfidenceThreshold:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// StoreStats summarizes the contents of the chunk store.
type StoreStats struct {
	TotalChunks      int64
	BySourceType     map[SourceType]int64
	ByMunicipality   map[string]int64
	ByDocumentType   map[string]int64
	ByApprovalStatus map[ApprovalStatus]int64
	ByConfidence     map[ConfidenceBucket]int64
}
