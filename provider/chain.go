package provider

import (
	"log/slog"
	"strings"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// Strategy is one named, pure extraction attempt over a page.
type Strategy[T any] struct {
	Name    string
	Extract func(*Page) T
}

// Chain evaluates strategies in order and keeps the first non-empty result.
// A panicking strategy counts as empty.
type Chain[T any] struct {
	Field      string
	Strategies []Strategy[T]
	empty      func(T) bool
}

// NewChain builds a chain for field. empty decides whether a result is usable.
func NewChain[T any](field string, empty func(T) bool, strategies ...Strategy[T]) Chain[T] {
	return Chain[T]{Field: field, Strategies: strategies, empty: empty}
}

// Run returns the first non-empty result and the name of the strategy that
// produced it. When every strategy comes up empty it returns the zero value
// and "".
func (c Chain[T]) Run(p *Page) (T, string) {
	var zero T
	for _, s := range c.Strategies {
		if v, ok := c.try(s, p); ok {
			return v, s.Name
		}
	}
	return zero, ""
}

// Value is Run without the strategy name.
func (c Chain[T]) Value(p *Page) T {
	v, _ := c.Run(p)
	return v
}

func (c Chain[T]) try(s Strategy[T], p *Page) (out T, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("extraction strategy panicked",
				slog.String("field", c.Field),
				slog.String("strategy", s.Name),
				slog.Any("panic", r),
			)
			ok = false
		}
	}()
	if s.Extract == nil {
		return out, false
	}
	out = s.Extract(p)
	if c.empty != nil && c.empty(out) {
		return out, false
	}
	return out, true
}

// StringChain is a chain whose results are trimmed strings.
func StringChain(field string, strategies ...Strategy[string]) Chain[string] {
	return NewChain(field, func(v string) bool { return strings.TrimSpace(v) == "" }, strategies...)
}

// ListChain is a chain over string lists.
func ListChain(field string, strategies ...Strategy[[]string]) Chain[[]string] {
	return NewChain(field, func(v []string) bool { return len(v) == 0 }, strategies...)
}

// AttributeChain is a chain over attribute lists.
func AttributeChain(strategies ...Strategy[[]models.Attribute]) Chain[[]models.Attribute] {
	return NewChain("attributes", func(v []models.Attribute) bool { return len(v) == 0 }, strategies...)
}

// TierChain is a chain over price tiers.
func TierChain(strategies ...Strategy[[]models.PriceTier]) Chain[[]models.PriceTier] {
	return NewChain("price_tiers", func(v []models.PriceTier) bool { return len(v) == 0 }, strategies...)
}

// FlagChain is a chain over booleans where false means not found.
func FlagChain(field string, strategies ...Strategy[bool]) Chain[bool] {
	return NewChain(field, func(v bool) bool { return !v }, strategies...)
}
