package provider

import (
	"github.com/aluiziolira/go-catalog-ingest/models"
)

// alibabaDetailData is the inline state object product pages assign in a script.
const alibabaDetailData = "window.detailData"

// NewAlibaba returns the alibaba.com adapter.
func NewAlibaba() Adapter {
	return &siteAdapter{
		platform: models.PlatformAlibaba,
		summary: summaryChains{
			title: StringChain("title",
				TextOf("pdp-title", ".product-title-container h1", ".module-pdp-title h1", "h1[title]"),
				AttrOf("pdp-title-attr", "h1[title]", "title"),
				Strategy[string]{Name: "detail-data", Extract: func(p *Page) string {
					return lookupString(p.ScriptJSON(alibabaDetailData), "globalData", "product", "subject")
				}},
				LDString("ld-name", "name"),
				MetaOf("og-title", "og:title"),
				HeadTitle("head-title", " - Buy ", " - Alibaba.com", "| Alibaba"),
			),
			price: StringChain("price",
				TextOf("price-range", ".product-price .price-range", ".price-list .price", ".module-pdp-price .price"),
				Strategy[string]{Name: "detail-data", Extract: alibabaDataPrice},
				LDPrice("ld-offer"),
				PriceText("text-price"),
			),
			moq: StringChain("moq",
				TextOf("moq", ".product-price .moq", ".price-list .quality", ".module-pdp-price .min-moq"),
				Strategy[string]{Name: "detail-data", Extract: func(p *Page) string {
					data := p.ScriptJSON(alibabaDetailData)
					qty := lookupString(data, "globalData", "trade", "minOrderQuantity")
					if qty == "" {
						return ""
					}
					return qty + " " + lookupString(data, "globalData", "trade", "unit")
				}},
				MOQText("text-moq"),
			),
			store: StringChain("store",
				TextOf("company-name", ".company-name a", ".company-name", ".supplier-name"),
				Strategy[string]{Name: "detail-data", Extract: func(p *Page) string {
					return lookupString(p.ScriptJSON(alibabaDetailData), "globalData", "seller", "companyName")
				}},
				LDString("ld-brand", "brand", "name"),
			),
			image: StringChain("image",
				AttrOf("main-image", ".main-index img, .image-view img", imageAttrs...),
				MetaOf("og-image", "og:image"),
			),
			categories: ListChain("categories",
				Crumbs("breadcrumb", ".detail-breadcrumb a, .breadcrumb a"),
				LDCategory("ld-category"),
			),
		},
		detail: detailChains{
			attributes: AttributeChain(
				AttributeRows("attribute-info", ".attribute-info .attribute-item", ".left", ".right"),
				AttributeDefinitions("do-entry", ".do-entry-list"),
				Strategy[[]models.Attribute]{Name: "detail-data", Extract: func(p *Page) []models.Attribute {
					var pairs [][2]string
					for _, item := range lookupSlice(p.ScriptJSON(alibabaDetailData), "globalData", "product", "productBasicProperties") {
						pairs = append(pairs, [2]string{lookupString(item, "attrName"), lookupString(item, "attrValue")})
					}
					return attributesFromPairs(pairs)
				}},
				LDAttributes("ld-properties"),
				AttributeText("text-lines"),
			),
			priceTiers: TierChain(
				TierRows("price-list", ".price-list .price-item", ".quality", ".price"),
				Strategy[[]models.PriceTier]{Name: "detail-data", Extract: func(p *Page) []models.PriceTier {
					var tiers []models.PriceTier
					for _, item := range lookupSlice(p.ScriptJSON(alibabaDetailData), "globalData", "product", "price", "productLadderPrices") {
						qty := lookupString(item, "min")
						if upper := lookupString(item, "max"); upper != "" && upper != "-1" {
							qty += "-" + upper
						}
						if tier, ok := buildTier(qty, lookupString(item, "formatPrice")); ok {
							tiers = append(tiers, tier)
						}
					}
					return tiers
				}},
			),
			gallery: ListChain("gallery",
				ImageList("thumbs", ".main-index-list img, .thumb-list img, [data-role=\"thumb\"] img", imageAttrs...),
				Strategy[[]string]{Name: "detail-data", Extract: func(p *Page) []string {
					var refs []string
					for _, item := range lookupSlice(p.ScriptJSON(alibabaDetailData), "globalData", "product", "mediaItems") {
						if ref := lookupString(item, "imageUrl", "big"); ref != "" {
							refs = append(refs, ref)
						}
					}
					return resolveAll(p, refs)
				}},
				LDImages("ld-image"),
				MetaImages("og-image"),
			),
			supplierName: StringChain("supplier_name",
				TextOf("company-name", ".company-name a", ".company-name"),
				Strategy[string]{Name: "detail-data", Extract: func(p *Page) string {
					return lookupString(p.ScriptJSON(alibabaDetailData), "globalData", "seller", "companyName")
				}},
			),
			supplierURL: StringChain("supplier_url",
				AttrOf("company-link", ".company-name a", "href"),
				Strategy[string]{Name: "detail-data", Extract: func(p *Page) string {
					return lookupString(p.ScriptJSON(alibabaDetailData), "globalData", "seller", "companyProfileUrl")
				}},
			),
			supplierLocation: StringChain("supplier_location",
				TextOf("company-location", ".company-location", ".register-country"),
				Strategy[string]{Name: "detail-data", Extract: func(p *Page) string {
					return lookupString(p.ScriptJSON(alibabaDetailData), "globalData", "seller", "companyRegisterCountry")
				}},
			),
			supplierYears: StringChain("supplier_years",
				TextOf("company-year", ".company-year", ".join-year"),
				Strategy[string]{Name: "detail-data", Extract: func(p *Page) string {
					years := lookupString(p.ScriptJSON(alibabaDetailData), "globalData", "seller", "companyJoinYears")
					if years == "" {
						return ""
					}
					return years + " yrs"
				}},
			),
			verified: FlagChain("verified",
				Exists("verified-icon", ".verified-icon, .verified-supplier"),
				Strategy[bool]{Name: "detail-data", Extract: func(p *Page) bool {
					return lookupString(p.ScriptJSON(alibabaDetailData), "globalData", "seller", "verifiedSupplier") == "true"
				}},
			),
			description: StringChain("description",
				TextOf("description", "#product-description", ".product-description", ".module-pdp-description"),
				LDString("ld-description", "description"),
				MetaOf("meta-description", "description"),
			),
		},
		cards: cardSelectors{
			card:  ".organic-list .search-card-item, .organic-list-offer-outter, [data-content=\"productItem\"]",
			link:  "a[href*=\"product-detail\"]",
			title: []string{".search-card-e-title", "h2"},
			price: []string{".search-card-e-price-main", ".elements-offer-price-normal"},
			moq:   []string{".search-card-m-sale-features__item", ".element-offer-minorder-normal"},
			store: []string{".search-card-e-company", ".organic-gallery-offer__seller-company"},
			image: "img",
		},
		nextPage: StringChain("next_page",
			AttrOf("pagination-next", "a.pagination-next, .seb-pagination__pages-link--next, a[rel=\"next\"]", "href"),
			AttrOf("link-next", "link[rel=\"next\"]", "href"),
		),
	}
}

func alibabaDataPrice(p *Page) string {
	data := p.ScriptJSON(alibabaDetailData)
	ladder := lookupSlice(data, "globalData", "product", "price", "productLadderPrices")
	if len(ladder) == 0 {
		return lookupString(data, "globalData", "product", "price", "formatPrice")
	}
	first := lookupString(ladder[0], "formatPrice")
	last := lookupString(ladder[len(ladder)-1], "formatPrice")
	if first == last || last == "" {
		return first
	}
	return last + " - " + first
}
