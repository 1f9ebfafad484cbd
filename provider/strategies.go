package provider

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/parser"
)

var (
	attributeLinePattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 /&().-]{1,40}?)\s*[:：]\s*(\S.{0,160})$`)
	pricePattern         = regexp.MustCompile(`(?i)((?:US\s?\$|USD|€|£|¥|\$)\s?\d[\d,]*(?:\.\d+)?(?:\s*[-~]\s*(?:US\s?\$|\$)?\s?\d[\d,]*(?:\.\d+)?)?)`)
	moqTextPattern       = regexp.MustCompile(`(?i)(?:min(?:imum)?\.?\s*order(?:\s*quantity)?|moq)\s*[:：]?\s*(\d[\d,]*\s*[A-Za-z/()]*)`)
	addressPattern       = regexp.MustCompile(`(?i)(?:address|location)\s*[:：]\s*(.{3,120})`)
)

// maxAttributes bounds heuristic attribute extraction on noisy pages.
const maxAttributes = 60

// TextOf extracts the text of the first element matching any selector.
func TextOf(name string, selectors ...string) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		return p.Text(selectors...)
	}}
}

// AttrOf extracts the first non-empty attribute among elements matching selector.
func AttrOf(name, selector string, attrs ...string) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		return p.Attr(selector, attrs...)
	}}
}

// URLOf is AttrOf with the result resolved against the page URL.
func URLOf(name, selector string, attrs ...string) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		return p.Resolve(p.Attr(selector, attrs...))
	}}
}

// MetaOf reads a meta tag such as og:title.
func MetaOf(name, key string) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		return parser.NormalizeSpace(p.Meta(key))
	}}
}

// HeadTitle reads <title>, cutting everything after the first of the given site suffixes.
func HeadTitle(name string, suffixes ...string) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		title := parser.NormalizeSpace(p.Doc.Find("title").First().Text())
		for _, suffix := range suffixes {
			if idx := strings.Index(strings.ToLower(title), strings.ToLower(suffix)); idx > 0 {
				title = title[:idx]
			}
		}
		return strings.TrimSpace(strings.TrimRight(title, "-|– "))
	}}
}

// LDString reads a string at path inside the JSON-LD Product block.
func LDString(name string, path ...string) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		return lookupString(p.LDProduct(), path...)
	}}
}

// LDPrice formats the JSON-LD offer price (or low/high range) with its currency.
func LDPrice(name string) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		product := p.LDProduct()
		if product == nil {
			return ""
		}
		offers := lookup(product, "offers")
		if list, ok := offers.([]any); ok && len(list) > 0 {
			offers = list[0]
		}
		currency := lookupString(offers, "priceCurrency")
		low, high := lookupString(offers, "lowPrice"), lookupString(offers, "highPrice")
		if low != "" && high != "" && low != high {
			return strings.TrimSpace(currency + " " + low + " - " + high)
		}
		if price := lookupString(offers, "price"); price != "" {
			return strings.TrimSpace(currency + " " + price)
		}
		if low != "" {
			return strings.TrimSpace(currency + " " + low)
		}
		return ""
	}}
}

// LDImages reads the JSON-LD image property, which may be a string, a list
// of strings or ImageObjects.
func LDImages(name string) Strategy[[]string] {
	return Strategy[[]string]{Name: name, Extract: func(p *Page) []string {
		var refs []string
		switch v := lookup(p.LDProduct(), "image").(type) {
		case string:
			refs = append(refs, v)
		case map[string]any:
			refs = append(refs, lookupString(v, "url"))
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					refs = append(refs, s)
				} else {
					refs = append(refs, lookupString(item, "url"))
				}
			}
		}
		return resolveAll(p, refs)
	}}
}

// LDAttributes reads schema.org additionalProperty name/value pairs.
func LDAttributes(name string) Strategy[[]models.Attribute] {
	return Strategy[[]models.Attribute]{Name: name, Extract: func(p *Page) []models.Attribute {
		var pairs [][2]string
		for _, item := range lookupSlice(p.LDProduct(), "additionalProperty") {
			pairs = append(pairs, [2]string{lookupString(item, "name"), lookupString(item, "value")})
		}
		return attributesFromPairs(pairs)
	}}
}

// TextPattern applies re to the visible text and returns its first group.
func TextPattern(name string, re *regexp.Regexp) Strategy[string] {
	return Strategy[string]{Name: name, Extract: func(p *Page) string {
		m := re.FindStringSubmatch(p.VisibleText())
		if len(m) < 2 {
			return ""
		}
		return parser.NormalizeSpace(m[1])
	}}
}

// PriceText finds the first price-looking token in the visible text.
func PriceText(name string) Strategy[string] {
	return TextPattern(name, pricePattern)
}

// MOQText finds a "Min. order: N unit" phrase in the visible text.
func MOQText(name string) Strategy[string] {
	return TextPattern(name, moqTextPattern)
}

// AttributeRows reads label/value pairs from repeated rows.
func AttributeRows(name, rowSelector, labelSelector, valueSelector string) Strategy[[]models.Attribute] {
	return Strategy[[]models.Attribute]{Name: name, Extract: func(p *Page) []models.Attribute {
		var pairs [][2]string
		p.Doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
			pairs = append(pairs, [2]string{
				row.Find(labelSelector).First().Text(),
				row.Find(valueSelector).First().Text(),
			})
		})
		return attributesFromPairs(pairs)
	}}
}

// AttributeDefinitions reads <dt>/<dd> pairs inside container.
func AttributeDefinitions(name, container string) Strategy[[]models.Attribute] {
	return Strategy[[]models.Attribute]{Name: name, Extract: func(p *Page) []models.Attribute {
		var pairs [][2]string
		p.Doc.Find(container).Find("dt").Each(func(_ int, dt *goquery.Selection) {
			pairs = append(pairs, [2]string{dt.Text(), dt.NextFiltered("dd").Text()})
		})
		return attributesFromPairs(pairs)
	}}
}

// AttributeLines splits "Label: Value" text of each matched element.
func AttributeLines(name, selector string) Strategy[[]models.Attribute] {
	return Strategy[[]models.Attribute]{Name: name, Extract: func(p *Page) []models.Attribute {
		var pairs [][2]string
		p.Doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if m := attributeLinePattern.FindStringSubmatch(parser.NormalizeSpace(s.Text())); m != nil {
				pairs = append(pairs, [2]string{m[1], m[2]})
			}
		})
		return attributesFromPairs(pairs)
	}}
}

// AttributeText is the last-resort heuristic: "Label: Value" lines of the
// visible text.
func AttributeText(name string) Strategy[[]models.Attribute] {
	return Strategy[[]models.Attribute]{Name: name, Extract: func(p *Page) []models.Attribute {
		var pairs [][2]string
		for _, line := range strings.Split(p.VisibleText(), "\n") {
			if m := attributeLinePattern.FindStringSubmatch(line); m != nil {
				pairs = append(pairs, [2]string{m[1], m[2]})
			}
		}
		return attributesFromPairs(pairs)
	}}
}

// TierRows reads quantity/price rows into price tiers.
func TierRows(name, rowSelector, qtySelector, priceSelector string) Strategy[[]models.PriceTier] {
	return Strategy[[]models.PriceTier]{Name: name, Extract: func(p *Page) []models.PriceTier {
		var tiers []models.PriceTier
		p.Doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
			if tier, ok := buildTier(row.Find(qtySelector).First().Text(), row.Find(priceSelector).First().Text()); ok {
				tiers = append(tiers, tier)
			}
		})
		return tiers
	}}
}

// ImageList collects image references from the given attributes of matched elements.
func ImageList(name, selector string, attrs ...string) Strategy[[]string] {
	return Strategy[[]string]{Name: name, Extract: func(p *Page) []string {
		var refs []string
		p.Doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			for _, attr := range attrs {
				if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
					refs = append(refs, v)
					return
				}
			}
		})
		return resolveAll(p, refs)
	}}
}

// MetaImages uses og:image as a one-element gallery.
func MetaImages(name string) Strategy[[]string] {
	return Strategy[[]string]{Name: name, Extract: func(p *Page) []string {
		return resolveAll(p, []string{p.Meta("og:image")})
	}}
}

// Crumbs reads breadcrumb link texts, skipping the home link.
func Crumbs(name, selector string) Strategy[[]string] {
	return Strategy[[]string]{Name: name, Extract: func(p *Page) []string {
		var out []string
		p.Doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := parser.NormalizeSpace(s.Text())
			if text != "" && !strings.EqualFold(text, "home") && !strings.EqualFold(text, "all categories") {
				out = append(out, text)
			}
		})
		return out
	}}
}

// LDCategory reads the JSON-LD category string as a breadcrumb.
func LDCategory(name string) Strategy[[]string] {
	return Strategy[[]string]{Name: name, Extract: func(p *Page) []string {
		return parser.SplitCategories(lookupString(p.LDProduct(), "category"))
	}}
}

// Exists reports whether selector matches anything.
func Exists(name, selector string) Strategy[bool] {
	return Strategy[bool]{Name: name, Extract: func(p *Page) bool {
		return p.Doc.Find(selector).Length() > 0
	}}
}

// TextMentions reports whether the visible text contains any of phrases.
func TextMentions(name string, phrases ...string) Strategy[bool] {
	return Strategy[bool]{Name: name, Extract: func(p *Page) bool {
		text := strings.ToLower(p.VisibleText())
		for _, phrase := range phrases {
			if strings.Contains(text, strings.ToLower(phrase)) {
				return true
			}
		}
		return false
	}}
}

func attributesFromPairs(pairs [][2]string) []models.Attribute {
	seen := make(map[string]struct{}, len(pairs))
	out := make([]models.Attribute, 0, len(pairs))
	for _, pair := range pairs {
		label := parser.NormalizeLabel(pair[0])
		value := parser.NormalizeSpace(pair[1])
		if label == "" || value == "" {
			continue
		}
		key := strings.ToLower(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, models.Attribute{Label: label, Value: value})
		if len(out) == maxAttributes {
			break
		}
	}
	return out
}

func buildTier(qtyText, priceText string) (models.PriceTier, bool) {
	lo, hi, ok := parser.ParseQuantityRange(qtyText)
	price := parser.NormalizeSpace(priceText)
	if !ok || price == "" {
		return models.PriceTier{}, false
	}
	return models.PriceTier{MinQty: lo, MaxQty: hi, Price: price}, true
}

func resolveAll(p *Page, refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		abs := p.Resolve(ref)
		if abs == "" {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out
}
