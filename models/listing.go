// Package models defines data structures shared by the ingest pipeline.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform identifies an external marketplace.
type Platform string

const (
	PlatformAlibaba       Platform = "alibaba"
	PlatformMadeInChina   Platform = "made_in_china"
	PlatformGlobalSources Platform = "global_sources"
	PlatformDHgate        Platform = "dhgate"
)

// AllPlatforms lists every supported platform in a stable order.
func AllPlatforms() []Platform {
	return []Platform{PlatformAlibaba, PlatformMadeInChina, PlatformGlobalSources, PlatformDHgate}
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformAlibaba, PlatformMadeInChina, PlatformGlobalSources, PlatformDHgate:
		return true
	default:
		return false
	}
}

// ParsePlatform converts user input into a Platform.
func ParsePlatform(s string) (Platform, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	p := Platform(normalized)
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// ImageStatus tracks whether a listing's representative image was resolved.
type ImageStatus string

const (
	// ImageStatusPending means resolution was never attempted.
	ImageStatusPending ImageStatus = "pending"
	// ImageStatusCached means ImagePath points at a content-addressed cache entry.
	ImageStatusCached ImageStatus = "cached"
	// ImageStatusUnresolved means every gallery candidate failed.
	ImageStatusUnresolved ImageStatus = "unresolved"
)

// Attribute is one labelled product attribute, kept in page order.
type Attribute struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PriceTier is a quantity break. A nil MaxQty means the tier is open ended.
type PriceTier struct {
	MinQty int    `json:"min_qty"`
	MaxQty *int   `json:"max_qty,omitempty"`
	Price  string `json:"price"`
}

// Supplier describes the seller block of a detail page.
type Supplier struct {
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
	Location    string `json:"location,omitempty"`
	YearsActive string `json:"years_active,omitempty"`
	Verified    bool   `json:"verified,omitempty"`
}

// DetailPayload is the structured content of a product detail page. It is
// replaced wholesale on every successful detail fetch.
type DetailPayload struct {
	Attributes  []Attribute `json:"attributes"`
	PriceTiers  []PriceTier `json:"price_tiers"`
	Gallery     []string    `json:"gallery"`
	Supplier    Supplier    `json:"supplier"`
	Description string      `json:"description,omitempty"`
}

// StringList is a JSON encoded list of strings.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan string list: unsupported type %T", value)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	*l = out
	return nil
}

// Listing is the deduplicated catalog record for one external product page.
// Its quality tier is derived from Detail and never stored.
type Listing struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Platform        Platform       `gorm:"size:32;not null;uniqueIndex:idx_listing_key" json:"platform"`
	URL             string         `gorm:"size:2048;not null" json:"url"`
	CanonicalURL    string         `gorm:"size:2048;not null;uniqueIndex:idx_listing_key" json:"canonical_url"`
	Title           string         `gorm:"size:1024" json:"title"`
	ImagePath       string         `gorm:"size:512" json:"image_path,omitempty"`
	ImageStatus     ImageStatus    `gorm:"size:16;not null;default:pending" json:"image_status"`
	ImageSourceURL  string         `gorm:"size:2048" json:"image_source_url,omitempty"`
	GalleryDigest   string         `gorm:"size:64" json:"-"`
	PriceText       string         `gorm:"size:255" json:"price_text,omitempty"`
	PriceMin        float64        `json:"price_min,omitempty"`
	PriceMax        float64        `json:"price_max,omitempty"`
	Currency        string         `gorm:"size:8" json:"currency,omitempty"`
	MOQ             int            `json:"moq,omitempty"`
	MOQUnit         string         `gorm:"size:32" json:"moq_unit,omitempty"`
	StoreName       string         `gorm:"size:512" json:"store_name,omitempty"`
	Categories      StringList     `gorm:"type:text" json:"categories,omitempty"`
	SearchTerms     StringList     `gorm:"type:text" json:"search_terms,omitempty"`
	Detail          *DetailPayload `gorm:"serializer:json;type:text" json:"detail,omitempty"`
	DetailUpdatedAt *time.Time     `json:"detail_updated_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// HasCachedImage reports whether the listing points at a real cached image.
func (l *Listing) HasCachedImage() bool {
	return l != nil && l.ImageStatus == ImageStatusCached && l.ImagePath != ""
}

// Description returns the detail description or an empty string.
func (l *Listing) Description() string {
	if l == nil || l.Detail == nil {
		return ""
	}
	return l.Detail.Description
}

// PartialListing is what summary extraction yields: the fields visible on a
// search card or the header of a product page.
type PartialListing struct {
	Platform    Platform `json:"platform"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	PriceText   string   `json:"price_text,omitempty"`
	PriceMin    float64  `json:"price_min,omitempty"`
	PriceMax    float64  `json:"price_max,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	MOQ         int      `json:"moq,omitempty"`
	MOQUnit     string   `json:"moq_unit,omitempty"`
	StoreName   string   `json:"store_name,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	SearchTerms []string `json:"search_terms,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
}

// CacheEntry maps a content hash to its stored file. Entries are immutable.
type CacheEntry struct {
	Hash string `json:"hash"`
	Ext  string `json:"ext"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// NewListingFromSummary builds a listing row from a summary extraction.
// The listing starts without detail and with a pending image.
func NewListingFromSummary(p PartialListing, canonicalURL string) *Listing {
	l := &Listing{
		Platform:     p.Platform,
		URL:          p.URL,
		CanonicalURL: canonicalURL,
		ImageStatus:  ImageStatusPending,
	}
	l.ApplySummary(p)
	return l
}

// ApplySummary copies every non-empty summary field onto l. Empty fields
// never erase what an earlier extraction found.
func (l *Listing) ApplySummary(p PartialListing) {
	if p.Title != "" {
		l.Title = p.Title
	}
	if p.PriceText != "" {
		l.PriceText = p.PriceText
		l.PriceMin, l.PriceMax, l.Currency = p.PriceMin, p.PriceMax, p.Currency
	}
	if p.MOQ > 0 {
		l.MOQ, l.MOQUnit = p.MOQ, p.MOQUnit
	}
	if p.StoreName != "" {
		l.StoreName = p.StoreName
	}
	if len(p.Categories) > 0 {
		l.Categories = StringList(p.Categories)
	}
	if len(p.SearchTerms) > 0 {
		l.SearchTerms = StringList(p.SearchTerms)
	}
}
