package provider

import "github.com/aluiziolira/go-catalog-ingest/models"

// NewDHgate returns the dhgate.com adapter. DHgate lists item specifics as
// "Label: Value" list items rather than a label/value table.
func NewDHgate() Adapter {
	return &siteAdapter{
		platform: models.PlatformDHgate,
		summary: summaryChains{
			title: StringChain("title",
				TextOf("product-title", "h1.productInfo-title", ".product-name h1", "h1.hinfo-title"),
				LDString("ld-name", "name"),
				MetaOf("og-title", "og:title"),
				HeadTitle("head-title", " from ", " | DHgate", " - DHgate"),
			),
			price: StringChain("price",
				TextOf("price", ".productPrice-price", ".product-price .price", "#price-wrap .price"),
				LDPrice("ld-offer"),
				PriceText("text-price"),
			),
			moq: StringChain("moq",
				TextOf("min-order", ".productPrice-minOrder", ".min-order"),
				MOQText("text-moq"),
			),
			store: StringChain("store",
				TextOf("store-name", ".store-name a", ".seller-name a", ".store-name"),
				LDString("ld-seller", "offers", "seller", "name"),
			),
			image: StringChain("image",
				AttrOf("master-image", ".masterMap img, .bimg-list img", imageAttrs...),
				MetaOf("og-image", "og:image"),
			),
			categories: ListChain("categories",
				Crumbs("crumbs", ".crumbs a, .breadcrumb a"),
				LDCategory("ld-category"),
			),
		},
		detail: detailChains{
			attributes: AttributeChain(
				AttributeRows("spec-table", ".prodSpecifications .spec-row", ".spec-label", ".spec-value"),
				AttributeLines("spec-items", ".prodSpecifications li, .specifications-list li, .item-specifics li"),
				LDAttributes("ld-properties"),
				AttributeText("text-lines"),
			),
			priceTiers: TierChain(
				TierRows("wholesale", ".wholesale-list li, .productPrice-wholesale li", ".qty", ".price"),
			),
			gallery: ListChain("gallery",
				ImageList("bimg", ".bimg-list img, .masterMap-thumbs img", imageAttrs...),
				LDImages("ld-image"),
				MetaImages("og-image"),
			),
			supplierName: StringChain("supplier_name",
				TextOf("store-name", ".store-name a", ".seller-name a"),
				LDString("ld-seller", "offers", "seller", "name"),
			),
			supplierURL: StringChain("supplier_url",
				AttrOf("store-link", ".store-name a, .seller-name a", "href"),
			),
			supplierLocation: StringChain("supplier_location",
				TextOf("seller-location", ".seller-location", ".store-location"),
				TextPattern("text-location", addressPattern),
			),
			supplierYears: StringChain("supplier_years",
				TextOf("store-years", ".store-years", ".seller-years"),
			),
			verified: FlagChain("verified",
				Exists("top-merchant", ".top-merchant, .verified-seller"),
				TextMentions("text-top-merchant", "Top Merchant"),
			),
			description: StringChain("description",
				TextOf("description", ".prodDesc", ".product-description", "#productDescription"),
				LDString("ld-description", "description"),
				MetaOf("meta-description", "description"),
			),
		},
		cards: cardSelectors{
			card:  ".gitem, .gallery-item, .product-item",
			link:  "a.pic, h3 a, a[href*=\"/product/\"]",
			title: []string{"h3", ".gtit"},
			price: []string{".price", ".gprice"},
			moq:   []string{".min-order", ".gmin"},
			store: []string{".seller a", ".store-name"},
			image: "img",
		},
		nextPage: StringChain("next_page",
			AttrOf("page-next", ".page-next a, a.next, a[rel=\"next\"]", "href"),
			AttrOf("link-next", "link[rel=\"next\"]", "href"),
		),
	}
}
