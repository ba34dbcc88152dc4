package reconcile

import "labinsight/internal/domain"

// Tier is the coarse severity bucket shown above a report.
type Tier string

const (
	TierNormalRange     Tier = "normal-range"
	TierSomeFlagged     Tier = "some-flagged"
	TierMultipleFlagged Tier = "multiple-flagged"
	TierAnalysisError   Tier = "analysis-error"
)

var tierLabels = map[Tier]string{
	TierNormalRange:     "Generally within normal ranges",
	TierSomeFlagged:     "Some items flagged",
	TierMultipleFlagged: "Multiple items flagged",
	TierAnalysisError:   "Analysis error",
}

func (t Tier) Label() string { return tierLabels[t] }

// TierFor buckets an analysis by abnormal count. An analysis error takes
// precedence over any count.
func TierFor(a domain.AiAnalysisResult) Tier {
	if a.Error != "" {
		return TierAnalysisError
	}
	return TierForCount(a.AbnormalCount)
}

func TierForCount(abnormal int) Tier {
	switch {
	case abnormal <= 0:
		return TierNormalRange
	case abnormal <= 2:
		return TierSomeFlagged
	default:
		return TierMultipleFlagged
	}
}
