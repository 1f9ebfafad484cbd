// Package provider turns marketplace HTML into listing records. Each
// platform gets an Adapter whose fields are filled by ordered strategy
// chains; adapters never panic and never return errors.
package provider

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-catalog-ingest/models"
	"github.com/aluiziolira/go-catalog-ingest/parser"
)

// Adapter extracts records for one platform.
type Adapter interface {
	Platform() models.Platform
	ExtractSummary(html []byte, pageURL string) models.PartialListing
	ExtractDetail(html []byte, pageURL string) models.DetailPayload
}

// Discoverer is implemented by adapters that can walk search/category pages.
type Discoverer interface {
	ExtractListings(html []byte, pageURL string) []models.PartialListing
	NextPage(html []byte, pageURL string) string
}

// summaryChains fill a PartialListing from a product page header.
type summaryChains struct {
	title      Chain[string]
	price      Chain[string]
	moq        Chain[string]
	store      Chain[string]
	image      Chain[string]
	categories Chain[[]string]
}

// detailChains fill a DetailPayload.
type detailChains struct {
	attributes       Chain[[]models.Attribute]
	priceTiers       Chain[[]models.PriceTier]
	gallery          Chain[[]string]
	supplierName     Chain[string]
	supplierURL      Chain[string]
	supplierLocation Chain[string]
	supplierYears    Chain[string]
	verified         Chain[bool]
	description      Chain[string]
}

// cardSelectors describes one listing card on a search or category page.
type cardSelectors struct {
	card  string
	link  string
	title []string
	price []string
	moq   []string
	store []string
	image string
}

// imageAttrs are tried in order; lazy loaders keep the real URL in data-*.
var imageAttrs = []string{"data-original", "data-src", "data-lazy-src", "data-imgurl", "src"}

// siteAdapter is the shared Adapter implementation; platforms differ only in
// their chains and card selectors.
type siteAdapter struct {
	platform models.Platform
	summary  summaryChains
	detail   detailChains
	cards    cardSelectors
	nextPage Chain[string]
}

func (a *siteAdapter) Platform() models.Platform {
	return a.platform
}

// ExtractSummary reads the header fields of a product page.
func (a *siteAdapter) ExtractSummary(html []byte, pageURL string) (out models.PartialListing) {
	out = models.PartialListing{Platform: a.platform, URL: pageURL}
	defer a.recoverInto("summary", pageURL)

	page := NewPage(html, pageURL)
	if canonical := page.Resolve(page.Attr(`link[rel="canonical"]`, "href")); canonical != "" {
		out.URL = canonical
	}
	out.Title = a.summary.title.Value(page)
	fillPrice(&out, a.summary.price.Value(page))
	out.MOQ, out.MOQUnit = parser.ParseMOQ(a.summary.moq.Value(page))
	out.StoreName = a.summary.store.Value(page)
	out.ImageURL = page.Resolve(a.summary.image.Value(page))
	out.Categories = a.summary.categories.Value(page)
	return out
}

// ExtractDetail reads the structured body of a product page.
func (a *siteAdapter) ExtractDetail(html []byte, pageURL string) (out models.DetailPayload) {
	out = models.DetailPayload{}
	defer a.recoverInto("detail", pageURL)

	page := NewPage(html, pageURL)
	var strategy string
	out.Attributes, strategy = a.detail.attributes.Run(page)
	out.PriceTiers = a.detail.priceTiers.Value(page)
	out.Gallery = a.detail.gallery.Value(page)
	out.Supplier = models.Supplier{
		Name:        a.detail.supplierName.Value(page),
		URL:         page.Resolve(a.detail.supplierURL.Value(page)),
		Location:    a.detail.supplierLocation.Value(page),
		YearsActive: a.detail.supplierYears.Value(page),
		Verified:    a.detail.verified.Value(page),
	}
	out.Description = a.detail.description.Value(page)
	slog.Debug("detail extracted",
		slog.String("platform", string(a.platform)),
		slog.String("url", pageURL),
		slog.String("attribute_strategy", strategy),
		slog.Int("attributes", len(out.Attributes)),
		slog.Int("gallery", len(out.Gallery)),
	)
	return out
}

// ExtractListings reads every listing card of a search or category page.
func (a *siteAdapter) ExtractListings(html []byte, pageURL string) (out []models.PartialListing) {
	defer a.recoverInto("listings", pageURL)

	page := NewPage(html, pageURL)
	seen := make(map[string]struct{})
	page.Doc.Find(a.cards.card).Each(func(_ int, card *goquery.Selection) {
		link := page.Resolve(firstAttr(card.Find(a.cards.link), "href"))
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		item := models.PartialListing{
			Platform:  a.platform,
			URL:       link,
			Title:     firstText(card, a.cards.title...),
			StoreName: firstText(card, a.cards.store...),
			ImageURL:  page.Resolve(firstAttr(card.Find(a.cards.image), imageAttrs...)),
		}
		if item.Title == "" {
			item.Title = parser.NormalizeSpace(firstAttr(card.Find(a.cards.link), "title"))
		}
		fillPrice(&item, firstText(card, a.cards.price...))
		item.MOQ, item.MOQUnit = parser.ParseMOQ(firstText(card, a.cards.moq...))
		out = append(out, item)
	})
	return out
}

// NextPage returns the absolute URL of the next results page, or "".
func (a *siteAdapter) NextPage(html []byte, pageURL string) (next string) {
	defer a.recoverInto("next_page", pageURL)
	page := NewPage(html, pageURL)
	next = page.Resolve(a.nextPage.Value(page))
	if next == pageURL {
		return ""
	}
	return next
}

func (a *siteAdapter) recoverInto(stage, pageURL string) {
	if r := recover(); r != nil {
		slog.Warn("extraction aborted",
			slog.String("platform", string(a.platform)),
			slog.String("stage", stage),
			slog.String("url", pageURL),
			slog.Any("panic", r),
		)
	}
}

func fillPrice(l *models.PartialListing, text string) {
	l.PriceText = text
	if lo, hi, currency, ok := parser.ParsePriceRange(text); ok {
		l.PriceMin, l.PriceMax, l.Currency = lo, hi, currency
	}
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := parser.NormalizeSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(s *goquery.Selection, attrs ...string) string {
	for _, attr := range attrs {
		if v, ok := s.First().Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Registry maps platforms to adapters.
type Registry struct {
	adapters map[models.Platform]Adapter
}

// NewRegistry builds a registry from adapters; a later adapter replaces an
// earlier one for the same platform.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// DefaultRegistry returns the registry with every supported platform.
func DefaultRegistry() *Registry {
	return NewRegistry(NewAlibaba(), NewMadeInChina(), NewGlobalSources(), NewDHgate())
}

// Get returns the adapter for platform.
func (r *Registry) Get(platform models.Platform) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", platform)
	}
	return a, nil
}

// Discoverer returns the platform adapter as a Discoverer when it supports discovery.
func (r *Registry) Discoverer(platform models.Platform) (Discoverer, bool) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, false
	}
	d, ok := a.(Discoverer)
	return d, ok
}

// Insufficient reports whether a fetched product page carries too little
// content to be worth parsing; no title at all is the signal that a plain
// fetch got a script shell instead of the rendered page.
func (r *Registry) Insufficient(platform models.Platform, html []byte, pageURL string) bool {
	a, err := r.Get(platform)
	if err != nil {
		return false
	}
	return strings.TrimSpace(a.ExtractSummary(html, pageURL).Title) == ""
}
