package quality

import (
	"fmt"
	"testing"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

func payloadWith(n int) *models.DetailPayload {
	attrs := make([]models.Attribute, n)
	for i := range attrs {
		attrs[i] = models.Attribute{Label: fmt.Sprintf("label-%d", i), Value: "v"}
	}
	return &models.DetailPayload{Attributes: attrs}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		detail   *models.DetailPayload
		expected Tier
	}{
		{name: "never fetched", detail: nil, expected: Missing},
		{name: "empty attributes", detail: &models.DetailPayload{}, expected: Bad},
		{name: "one attribute", detail: payloadWith(1), expected: Partial},
		{name: "nine attributes", detail: payloadWith(9), expected: Partial},
		{name: "ten attributes", detail: payloadWith(10), expected: Good},
		{name: "many attributes", detail: payloadWith(42), expected: Good},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.detail); got != tt.expected {
				t.Errorf("Classify() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	detail := payloadWith(3)
	first := Classify(detail)
	for i := 0; i < 100; i++ {
		if got := Classify(detail); got != first {
			t.Fatalf("iteration %d returned %s, first call returned %s", i, got, first)
		}
	}
	if len(detail.Attributes) != 3 {
		t.Fatalf("Classify must not mutate its input")
	}
}

func TestClassifierThreshold(t *testing.T) {
	c := NewClassifier(3)
	if got := c.Classify(payloadWith(2)); got != Partial {
		t.Fatalf("2 attributes with threshold 3 = %s, want PARTIAL", got)
	}
	if got := c.Classify(payloadWith(3)); got != Good {
		t.Fatalf("3 attributes with threshold 3 = %s, want GOOD", got)
	}
	if NewClassifier(0).GoodThreshold != DefaultGoodThreshold {
		t.Fatalf("non-positive threshold should fall back to the default")
	}
	if got := (Classifier{}).Classify(payloadWith(9)); got != Partial {
		t.Fatalf("zero-value classifier should use the default threshold, got %s", got)
	}
}

func TestRankOrder(t *testing.T) {
	tiers := Tiers()
	for i := 1; i < len(tiers); i++ {
		if tiers[i-1].Rank() >= tiers[i].Rank() {
			t.Fatalf("%s should rank ahead of %s", tiers[i-1], tiers[i])
		}
	}
	if _, err := ParseTier("partial"); err != nil {
		t.Fatalf("ParseTier: %v", err)
	}
	if _, err := ParseTier("excellent"); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}
