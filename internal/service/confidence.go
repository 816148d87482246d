package service

import "github.com/nordfire/munikb/internal/domain"

// Base confidence by provenance, before status and scope adjustments.
const (
	baseConfidenceExample    = 0.65
	baseConfidenceInsight    = 0.70
	baseConfidenceRegulation = 0.85
	baseConfidenceResponse   = 0.75

	// unknownStatusMultiplier lowers confidence when the municipal outcome
	// has not been observed yet.
	unknownStatusMultiplier = 0.6

	// municipalityBonus rewards municipality-specific knowledge over
	// global patterns.
	municipalityBonus = 0.1
)

// InitialConfidence computes the confidence score assigned to a chunk at
// ingestion time. Rejected chunks are always pinned at zero so they can
// never be preferred by ranking.
func InitialConfidence(sourceType domain.SourceType, status domain.ApprovalStatus, scope domain.Scope) float64 {
	if status == domain.ApprovalStatusRejected {
		return 0
	}

	var base float64
	switch sourceType {
	case domain.SourceTypeExample:
		base = baseConfidenceExample
	case domain.SourceTypeInsight:
		base = baseConfidenceInsight
	case domain.SourceTypeRegulation:
		base = baseConfidenceRegulation
	case domain.SourceTypeMunicipalResponse:
		base = baseConfidenceResponse
	default:
		base = 0.5
	}

	// Official regulation text is authoritative regardless of municipal
	// outcome; everything else with an unobserved outcome is discounted.
	if status == domain.ApprovalStatusUnknown && sourceType != domain.SourceTypeRegulation {
		base *= unknownStatusMultiplier
	}
	if scope.Municipality != "" {
		base += municipalityBonus
	}

	return clampConfidence(base)
}

func clampConfidence(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
