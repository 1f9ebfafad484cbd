package provider

import (
	"strings"

	"github.com/aluiziolira/go-catalog-ingest/models"
)

// globalSourcesProduct returns the product object from the Next.js page props.
func globalSourcesProduct(p *Page) map[string]any {
	product, _ := lookup(p.NextData(), "props", "pageProps", "productDetail").(map[string]any)
	return product
}

// NewGlobalSources returns the globalsources.com adapter. Pages are Next.js
// renders; the product state in __NEXT_DATA__ is the most reliable source
// once the markup selectors miss.
func NewGlobalSources() Adapter {
	return &siteAdapter{
		platform: models.PlatformGlobalSources,
		summary: summaryChains{
			title: StringChain("title",
				TextOf("product-name", "h1.product-name", ".product-info h1", ".pp-title h1"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					return lookupString(globalSourcesProduct(p), "productName")
				}},
				LDString("ld-name", "name"),
				MetaOf("og-title", "og:title"),
				HeadTitle("head-title", " | Global Sources", " - Global Sources"),
			),
			price: StringChain("price",
				TextOf("price-range", ".product-price .price-range", ".price-info .price", ".pp-price"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					product := globalSourcesProduct(p)
					low, high := lookupString(product, "minPrice"), lookupString(product, "maxPrice")
					currency := lookupString(product, "currency")
					switch {
					case low == "":
						return ""
					case high == "" || high == low:
						return strings.TrimSpace(currency + " " + low)
					default:
						return strings.TrimSpace(currency + " " + low + " - " + high)
					}
				}},
				LDPrice("ld-offer"),
				PriceText("text-price"),
			),
			moq: StringChain("moq",
				TextOf("min-order", ".min-order .value", ".product-moq", ".pp-moq"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					product := globalSourcesProduct(p)
					qty := lookupString(product, "minOrderQuantity")
					if qty == "" {
						return ""
					}
					return qty + " " + lookupString(product, "minOrderUnit")
				}},
				MOQText("text-moq"),
			),
			store: StringChain("store",
				TextOf("supplier-name", ".supplier-name a", ".supplier-info .name", ".supplier-name"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					return lookupString(globalSourcesProduct(p), "supplier", "name")
				}},
				LDString("ld-brand", "brand", "name"),
			),
			image: StringChain("image",
				AttrOf("main-image", ".product-gallery .main-img img, .pp-gallery img", imageAttrs...),
				MetaOf("og-image", "og:image"),
			),
			categories: ListChain("categories",
				Crumbs("breadcrumb", ".breadcrumb a, nav[aria-label=\"breadcrumb\"] a"),
				Strategy[[]string]{Name: "next-data", Extract: func(p *Page) []string {
					var out []string
					for _, item := range lookupSlice(globalSourcesProduct(p), "categories") {
						if name := lookupString(item, "name"); name != "" {
							out = append(out, name)
						}
					}
					return out
				}},
				LDCategory("ld-category"),
			),
		},
		detail: detailChains{
			attributes: AttributeChain(
				AttributeRows("spec-list", ".spec-list .spec-item", ".spec-name", ".spec-value"),
				AttributeRows("spec-table", ".product-spec table tr", "th, td:first-child", "td:last-child"),
				Strategy[[]models.Attribute]{Name: "next-data", Extract: func(p *Page) []models.Attribute {
					var pairs [][2]string
					for _, item := range lookupSlice(globalSourcesProduct(p), "specifications") {
						pairs = append(pairs, [2]string{lookupString(item, "key"), lookupString(item, "value")})
					}
					return attributesFromPairs(pairs)
				}},
				LDAttributes("ld-properties"),
				AttributeText("text-lines"),
			),
			priceTiers: TierChain(
				TierRows("price-range-item", ".price-range-list .price-range-item", ".qty", ".price"),
				Strategy[[]models.PriceTier]{Name: "next-data", Extract: func(p *Page) []models.PriceTier {
					var tiers []models.PriceTier
					currency := lookupString(globalSourcesProduct(p), "currency")
					for _, item := range lookupSlice(globalSourcesProduct(p), "priceRanges") {
						qty := lookupString(item, "minQty")
						if upper := lookupString(item, "maxQty"); upper != "" {
							qty += "-" + upper
						} else {
							qty += "+"
						}
						price := lookupString(item, "price")
						if price != "" && currency != "" {
							price = currency + " " + price
						}
						if tier, ok := buildTier(qty, price); ok {
							tiers = append(tiers, tier)
						}
					}
					return tiers
				}},
			),
			gallery: ListChain("gallery",
				ImageList("thumbs", ".product-gallery .thumb img, .pp-gallery-thumbs img", imageAttrs...),
				Strategy[[]string]{Name: "next-data", Extract: func(p *Page) []string {
					var refs []string
					for _, item := range lookupSlice(globalSourcesProduct(p), "productImages") {
						if s, ok := item.(string); ok {
							refs = append(refs, s)
						} else if ref := lookupString(item, "url"); ref != "" {
							refs = append(refs, ref)
						}
					}
					return resolveAll(p, refs)
				}},
				LDImages("ld-image"),
				MetaImages("og-image"),
			),
			supplierName: StringChain("supplier_name",
				TextOf("supplier-name", ".supplier-name a", ".supplier-info .name"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					return lookupString(globalSourcesProduct(p), "supplier", "name")
				}},
			),
			supplierURL: StringChain("supplier_url",
				AttrOf("supplier-link", ".supplier-name a, .supplier-info a.name", "href"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					return lookupString(globalSourcesProduct(p), "supplier", "homepageUrl")
				}},
			),
			supplierLocation: StringChain("supplier_location",
				TextOf("supplier-country", ".supplier-info .country", ".supplier-location"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					return lookupString(globalSourcesProduct(p), "supplier", "country")
				}},
			),
			supplierYears: StringChain("supplier_years",
				TextOf("supplier-years", ".supplier-info .years", ".supplier-years"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					years := lookupString(globalSourcesProduct(p), "supplier", "yearsWithGS")
					if years == "" {
						return ""
					}
					return years + " yrs"
				}},
			),
			verified: FlagChain("verified",
				Exists("verified-badge", ".verified-supplier, .supplier-info .verified"),
				Strategy[bool]{Name: "next-data", Extract: func(p *Page) bool {
					return lookupString(globalSourcesProduct(p), "supplier", "verified") == "true"
				}},
			),
			description: StringChain("description",
				TextOf("description", ".product-description", "#product-detail-description"),
				Strategy[string]{Name: "next-data", Extract: func(p *Page) string {
					return lookupString(globalSourcesProduct(p), "description")
				}},
				LDString("ld-description", "description"),
				MetaOf("meta-description", "description"),
			),
		},
		cards: cardSelectors{
			card:  ".product-list .item, .search-result .product-item",
			link:  "a.product-name, a[href*=\"/product/\"]",
			title: []string{".product-name", ".title"},
			price: []string{".price", ".product-price"},
			moq:   []string{".min-order", ".moq"},
			store: []string{".supplier-name", ".company"},
			image: "img",
		},
		nextPage: StringChain("next_page",
			AttrOf("next-page", "a.next-page, .pagination .next a, a[rel=\"next\"]", "href"),
			AttrOf("link-next", "link[rel=\"next\"]", "href"),
		),
	}
}
