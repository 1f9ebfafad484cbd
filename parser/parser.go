// Package parser normalizes raw text pulled out of marketplace pages.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

var (
	numberPattern   = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	moqPattern      = regexp.MustCompile(`(?i)(\d[\d,]*)\s*([a-z][a-z/]*)?`)
	qtyRangePattern = regexp.MustCompile(`(\d[\d,]*)\s*(?:-|~|to|–)\s*(\d[\d,]*)`)
	qtyOpenPattern  = regexp.MustCompile(`(?:>=|≥|>\s*=?)\s*(\d[\d,]*)|(\d[\d,]*)\s*(?:\+|or more|and above)`)
)

// currencyMarkers is checked in order so "US$" wins over "$".
var currencyMarkers = []struct {
	marker string
	code   string
}{
	{"US $", "USD"},
	{"US$", "USD"},
	{"USD", "USD"},
	{"EUR", "EUR"},
	{"€", "EUR"},
	{"GBP", "GBP"},
	{"£", "GBP"},
	{"CNY", "CNY"},
	{"RMB", "CNY"},
	{"¥", "CNY"},
	{"￥", "CNY"},
	{"$", "USD"},
}

// ValidateListing ensures the summary captured the fields a listing cannot exist without.
func ValidateListing(l *models.PartialListing) error {
	if l == nil {
		return fmt.Errorf("listing is nil")
	}
	if !l.Platform.Valid() {
		return fmt.Errorf("listing has unknown platform %q", l.Platform)
	}
	if strings.TrimSpace(l.URL) == "" {
		return fmt.Errorf("listing missing url")
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("listing missing title for %s", l.URL)
	}
	return nil
}

// NormalizeSpace collapses runs of whitespace (including non-breaking spaces) and trims.
func NormalizeSpace(text string) string {
	return strings.Join(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ' '
	}), " ")
}

// NormalizeLabel cleans an attribute label: whitespace collapsed, trailing colons removed.
func NormalizeLabel(label string) string {
	label = NormalizeSpace(label)
	label = strings.TrimRight(label, ":：")
	return strings.TrimSpace(label)
}

// NormalizePrice removes currency markers and surrounding whitespace.
func NormalizePrice(price string) string {
	price = NormalizeSpace(price)
	for _, cm := range currencyMarkers {
		price = strings.ReplaceAll(price, cm.marker, "")
	}
	return strings.TrimSpace(price)
}

// DetectCurrency returns the ISO code of the first currency marker found in text.
func DetectCurrency(text string) string {
	upper := strings.ToUpper(text)
	for _, cm := range currencyMarkers {
		if strings.Contains(upper, cm.marker) {
			return cm.code
		}
	}
	return ""
}

// ParsePriceRange extracts "US $1.20 - 3.50" style prices. A single price
// yields min == max. ok is false when no number was found.
func ParsePriceRange(text string) (minPrice, maxPrice float64, currency string, ok bool) {
	currency = DetectCurrency(text)
	matches := numberPattern.FindAllString(text, 2)
	if len(matches) == 0 {
		return 0, 0, currency, false
	}
	minPrice, err := parseNumber(matches[0])
	if err != nil {
		return 0, 0, currency, false
	}
	maxPrice = minPrice
	if len(matches) > 1 {
		if second, err := parseNumber(matches[1]); err == nil {
			maxPrice = second
		}
	}
	if maxPrice < minPrice {
		minPrice, maxPrice = maxPrice, minPrice
	}
	return minPrice, maxPrice, currency, true
}

// ParseMOQ extracts the minimum order quantity and its unit, e.g. "Min. order: 500 pieces".
func ParseMOQ(text string) (int, string) {
	text = NormalizeSpace(text)
	m := moqPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, ""
	}
	qty, err := parseInt(m[1])
	if err != nil {
		return 0, ""
	}
	return qty, strings.ToLower(m[2])
}

// ParseQuantityRange reads the quantity band of a price tier. A nil max means open ended.
func ParseQuantityRange(text string) (int, *int, bool) {
	text = NormalizeSpace(text)
	if m := qtyRangePattern.FindStringSubmatch(text); m != nil {
		lo, errLo := parseInt(m[1])
		hi, errHi := parseInt(m[2])
		if errLo == nil && errHi == nil {
			return lo, &hi, true
		}
	}
	if m := qtyOpenPattern.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if lo, err := parseInt(raw); err == nil {
			return lo, nil, true
		}
	}
	if m := numberPattern.FindString(text); m != "" {
		if lo, err := parseInt(m); err == nil {
			return lo, nil, true
		}
	}
	return 0, nil, false
}

// SplitCategories splits a breadcrumb-like string on common separators.
func SplitCategories(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '>' || r == '/' || r == '|' || r == '›' || r == '»'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = NormalizeSpace(f)
		if f != "" && !strings.EqualFold(f, "home") {
			out = append(out, f)
		}
	}
	return out
}

func parseNumber(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

func parseInt(raw string) (int, error) {
	return strconv.Atoi(strings.ReplaceAll(raw, ",", ""))
}
