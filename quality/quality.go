// Package quality derives a completeness tier from a listing's detail payload.
package quality

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// Tier is the derived completeness of a detail payload. It is never stored.
type Tier string

const (
	Missing Tier = "MISSING"
	Bad     Tier = "BAD"
	Partial Tier = "PARTIAL"
	Good    Tier = "GOOD"
)

// DefaultGoodThreshold is the attribute count at which a payload is GOOD.
const DefaultGoodThreshold = 10

// Tiers lists every tier from most to least urgent.
func Tiers() []Tier {
	return []Tier{Missing, Bad, Partial, Good}
}

// Rank orders tiers for re-fetching; lower is more urgent.
func (t Tier) Rank() int {
	switch t {
	case Missing:
		return 0
	case Bad:
		return 1
	case Partial:
		return 2
	case Good:
		return 3
	default:
		return 4
	}
}

// ParseTier converts user input into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if t.Rank() > 3 {
		return "", fmt.Errorf("unknown quality tier %q", s)
	}
	return t, nil
}

// Classifier maps payloads to tiers.
type Classifier struct {
	GoodThreshold int
}

// NewClassifier returns a classifier; a non-positive threshold falls back to
// DefaultGoodThreshold.
func NewClassifier(goodThreshold int) Classifier {
	if goodThreshold <= 0 {
		goodThreshold = DefaultGoodThreshold
	}
	return Classifier{GoodThreshold: goodThreshold}
}

// Classify is pure: nil is MISSING, no attributes is BAD, fewer than the
// threshold is PARTIAL, anything else is GOOD.
func (c Classifier) Classify(detail *models.DetailPayload) Tier {
	threshold := c.GoodThreshold
	if threshold <= 0 {
		threshold = DefaultGoodThreshold
	}
	switch {
	case detail == nil:
		return Missing
	case len(detail.Attributes) == 0:
		return Bad
	case len(detail.Attributes) < threshold:
		return Partial
	default:
		return Good
	}
}

// Classify uses the default threshold.
func Classify(detail *models.DetailPayload) Tier {
	return Classifier{GoodThreshold: DefaultGoodThreshold}.Classify(detail)
}

// Counts is a per-tier tally.
type Counts map[Tier]int64

// Total sums every tier.
func (c Counts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}
