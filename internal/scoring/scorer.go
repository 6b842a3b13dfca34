// Package scoring combines per-rule outcomes into one composite risk score
// and maps it to a configured threshold tier.
package scoring

import (
	"sort"

	"github.com/kestrelhq/kestrel/internal/domain"
)

// Scorer is deterministic: the same result set and threshold configuration
// always yield the same composite score and tier.
type Scorer struct {
	maxScore float64
	tiers    []domain.TierThreshold
}

// New creates a scorer. Tiers are kept sorted ascending by score bound;
// scores below the lowest bound land in TierNone.
func New(cfg domain.ScoringConfig) *Scorer {
	maxScore := cfg.MaxScore
	if maxScore <= 0 {
		maxScore = 1.0
	}

	tiers := make([]domain.TierThreshold, len(cfg.Tiers))
	copy(tiers, cfg.Tiers)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Score < tiers[j].Score
	})

	return &Scorer{
		maxScore: maxScore,
		tiers:    tiers,
	}
}

// Score aggregates the batch into a CompositeScore. Each matched rule
// contributes raw score times weight; failed and unmatched rules contribute
// zero. The total is clamped to the configured maximum.
func (s *Scorer) Score(txID string, results []domain.RuleResult) domain.CompositeScore {
	var total float64
	for i := range results {
		total += results[i].Contribution()
	}
	if total > s.maxScore {
		total = s.maxScore
	}

	return domain.CompositeScore{
		TxID:    txID,
		Total:   total,
		Tier:    s.Tier(total),
		Results: results,
	}
}

// Tier assigns the highest tier whose bound does not exceed the score. Tier
// bounds are inclusive: a score exactly on a boundary belongs to that tier.
func (s *Scorer) Tier(score float64) string {
	tier := domain.TierNone
	for _, t := range s.tiers {
		if score >= t.Score {
			tier = t.Tier
		}
	}
	return tier
}

// TierRank returns the position of a tier label in the configured ordering,
// with TierNone at 0. Unknown labels rank below everything so a
// misconfigured cutoff never opens alerts spuriously.
func (s *Scorer) TierRank(tier string) int {
	if tier == domain.TierNone {
		return 0
	}
	for i, t := range s.tiers {
		if t.Tier == tier {
			return i + 1
		}
	}
	return -1
}

// MeetsCutoff reports whether the tier is at or above the cutoff tier.
func (s *Scorer) MeetsCutoff(tier, cutoff string) bool {
	cutoffRank := s.TierRank(cutoff)
	rank := s.TierRank(tier)
	if cutoffRank < 0 || rank < 0 {
		return false
	}
	return rank >= cutoffRank
}
