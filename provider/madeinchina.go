package provider

import "github.com/aluiziolira/go-catalog-ingest/models"

// NewMadeInChina returns the made-in-china.com adapter. Product pages render
// the attribute table server side and carry a JSON-LD Product block.
func NewMadeInChina() Adapter {
	return &siteAdapter{
		platform: models.PlatformMadeInChina,
		summary: summaryChains{
			title: StringChain("title",
				TextOf("base-info-h1", "h1.sr-proMainInfo-baseInfoH1", ".sr-proMainInfo-baseInfo h1", ".pro-name h1"),
				LDString("ld-name", "name"),
				MetaOf("og-title", "og:title"),
				HeadTitle("head-title", " - China ", " - Made-in-China.com", "| Made-in-China"),
			),
			price: StringChain("price",
				TextOf("price-range", ".sr-proMainInfo-baseInfo-propertyPrice .price", ".only-one-priceNum", ".swiper-money-container"),
				LDPrice("ld-offer"),
				PriceText("text-price"),
			),
			moq: StringChain("moq",
				TextOf("min-order", ".sr-proMainInfo-baseInfo-propertyPrice .min-order", ".only-one-priceNum-td-left", ".swiper-unit-container"),
				MOQText("text-moq"),
			),
			store: StringChain("store",
				TextOf("company-name", ".company-name-wrapper .company-name", ".sr-com-info .company-name a", ".company-name"),
				LDString("ld-seller", "offers", "seller", "name"),
				LDString("ld-brand", "brand", "name"),
			),
			image: StringChain("image",
				AttrOf("slide-main", ".sr-proMainInfo-slide-picItem img, .sr-proMainInfo-slide img", imageAttrs...),
				MetaOf("og-image", "og:image"),
			),
			categories: ListChain("categories",
				Crumbs("crumb", ".sr-crumb a, .crumb a, .bread-crumb a"),
				LDCategory("ld-category"),
			),
		},
		detail: detailChains{
			attributes: AttributeChain(
				AttributeRows("basic-info", ".basic-info-list .bsc-item", ".bac-item-label", ".bac-item-value"),
				AttributeRows("attr-table", ".sr-proMainInfo-attrTable tr, .sr-layout-content table.attr tr", "th", "td"),
				LDAttributes("ld-properties"),
				AttributeText("text-lines"),
			),
			priceTiers: TierChain(
				TierRows("swiper-price", ".sr-proMainInfo-baseInfo-propertyPrice .swiper-slide-div", ".swiper-unit-container", ".swiper-money-container"),
				TierRows("price-table", ".price-table tr", "td.qty", "td.price"),
			),
			gallery: ListChain("gallery",
				ImageList("slide", ".sr-proMainInfo-slide-picItem img, .sr-proMainInfo-slide-pageUl img", imageAttrs...),
				LDImages("ld-image"),
				MetaImages("og-image"),
			),
			supplierName: StringChain("supplier_name",
				TextOf("company-name", ".company-name-wrapper .company-name", ".sr-com-info .company-name a"),
				LDString("ld-seller", "offers", "seller", "name"),
			),
			supplierURL: StringChain("supplier_url",
				AttrOf("company-link", ".company-name-wrapper a, .sr-com-info .company-name a", "href"),
			),
			supplierLocation: StringChain("supplier_location",
				TextOf("company-address", ".company-address-detail", ".sr-com-info .com-address"),
				TextPattern("text-address", addressPattern),
			),
			supplierYears: StringChain("supplier_years",
				TextOf("member-since", ".company-member-since", ".sr-com-info .member-years"),
			),
			verified: FlagChain("verified",
				Exists("audited-icon", ".icon-audited-supplier, .as-logo, .audited-supplier"),
				TextMentions("text-audited", "Audited Supplier"),
			),
			description: StringChain("description",
				TextOf("rich-text", ".sr-txt-container .rich-text", ".product-description", "#prodDetail"),
				LDString("ld-description", "description"),
				MetaOf("meta-description", "description"),
			),
		},
		cards: cardSelectors{
			card:  ".prod-list .list-node, .search-list .prod-info, .list-node",
			link:  "h2.product-name a, .product-name a, a.product-link",
			title: []string{"h2.product-name", ".product-name"},
			price: []string{".price-info .price", ".price"},
			moq:   []string{".info:contains('MOQ')", ".min-order"},
			store: []string{".company-name a", ".company-name"},
			image: ".prod-image img, img",
		},
		nextPage: StringChain("next_page",
			AttrOf("page-next", "a.next, .page-next a, a[rel=\"next\"]", "href"),
			AttrOf("link-next", "link[rel=\"next\"]", "href"),
		),
	}
}
