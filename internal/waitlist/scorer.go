package waitlist

import (
	"strconv"
	"strings"
	"time"
)

// Scorer assigns the priority score at enqueue. Lower scores are served
// first.
type Scorer interface {
	Score(e Entry, enqueuedAt time.Time) float64
}

// FIFOScorer scores by enqueue time, so earlier entries win.
type FIFOScorer struct{}

func (FIFOScorer) Score(_ Entry, enqueuedAt time.Time) float64 {
	return epochSeconds(enqueuedAt)
}

var membershipTiers = map[string]float64{
	"basic":    0,
	"silver":   1,
	"gold":     2,
	"platinum": 3,
}

// WeightedScorer starts from the enqueue time and pulls entries forward by
// an hour per weighted unit of membership tier and condition severity.
// WaitTime divides that pull, so a heavier wait weight favours tenure. The
// total pull is capped at MaxPriorityBonus, which keeps scores from any
// policy on the same time axis as FIFO.
// Metadata keys: membership_tier (basic..platinum), condition_severity (0-5).
type WeightedScorer struct {
	Weights PriorityWeights
}

// MaxPriorityBonus bounds how far ahead of its enqueue time an entry can be
// scored.
const MaxPriorityBonus = 7 * 24 * time.Hour

func (s WeightedScorer) Score(e Entry, enqueuedAt time.Time) float64 {
	units := s.Weights.Membership * membershipTiers[strings.ToLower(e.Metadata["membership_tier"])]
	if raw, ok := e.Metadata["condition_severity"]; ok {
		if sev, err := strconv.ParseFloat(raw, 64); err == nil {
			units += s.Weights.Condition * min(max(sev, 0), 5)
		}
	}
	if s.Weights.WaitTime > 0 {
		units /= s.Weights.WaitTime
	}
	bonus := min(units*time.Hour.Seconds(), MaxPriorityBonus.Seconds())
	return epochSeconds(enqueuedAt) - bonus
}

func ScorerFor(p Policy) Scorer {
	if p.Weights.IsZero() {
		return FIFOScorer{}
	}
	return WeightedScorer{Weights: p.Weights}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
