package imagecache

import (
	"reflect"
	"testing"

	"github.com/aluiziolira/go-catalog-ingest/config"
	"github.com/aluiziolira/go-catalog-ingest/models"
)

func testFilter() *Filter {
	cfg := config.DefaultConfig()
	return NewFilter(FilterConfig{
		Blocklist:       cfg.BlocklistFor(models.PlatformAlibaba),
		Keywords:        cfg.ImageKeywords,
		MinSide:         cfg.MinImageSide,
		BannerRatio:     cfg.BannerRatio,
		BannerMaxSide:   cfg.BannerMaxSide,
		PreferredTokens: cfg.PreferredSizeTokens,
		FallbackTokens:  cfg.FallbackSizeTokens,
	})
}

func TestFilterReject(t *testing.T) {
	f := testFilter()
	tests := []struct {
		name      string
		candidate string
		expected  string
	}{
		{name: "keyword in file name", candidate: "https://img.example.com/bannerAsset.png", expected: ReasonKeyword},
		{name: "logo", candidate: "https://img.example.com/u/shop-logo.jpg", expected: ReasonKeyword},
		{name: "too small", candidate: "https://img.example.com/p/H1_50x50.jpg", expected: ReasonTooSmall},
		{name: "wide banner strip", candidate: "https://img.example.com/p/strip_1200x150.jpg", expected: ReasonBanner},
		{name: "blocklisted path", candidate: "https://img.alicdn.com/tps/i1/product.png", expected: ReasonBlocklist},
		{name: "relative url", candidate: "/images/product.jpg", expected: ReasonInvalid},
		{name: "data uri", candidate: "data:image/png;base64,AAAA", expected: ReasonInvalid},
		{name: "plain product image", candidate: "https://img.example.com/real_largeSize.jpg", expected: ""},
		{name: "large wide image", candidate: "https://img.example.com/p/wide_1600x400.jpg", expected: ""},
		{name: "keyword inside a longer word", candidate: "https://img.example.com/p/silicone-phone-case_800x800.jpg", expected: ""},
		{name: "keyword as word prefix", candidate: "https://img.example.com/p/iconic-lamp.jpg", expected: ""},
		{name: "plural keyword", candidate: "https://img.example.com/u/social-icons.png", expected: ReasonKeyword},
		{name: "keyword after digits", candidate: "https://img.example.com/u/2024Watermark.jpg", expected: ReasonKeyword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Reject(tt.candidate); got != tt.expected {
				t.Errorf("Reject(%q) = %q, want %q", tt.candidate, got, tt.expected)
			}
		})
	}
}

func TestFilterSelectBannerScenario(t *testing.T) {
	selected, rejected := testFilter().Select([]string{
		"https://img.example.com/bannerAsset.png",
		"https://img.example.com/real_largeSize.jpg",
	})
	if len(selected) != 1 || selected[0] != "https://img.example.com/real_largeSize.jpg" {
		t.Fatalf("selected = %v, want only real_largeSize.jpg", selected)
	}
	if len(rejected) != 1 || rejected[0].Reason != ReasonKeyword {
		t.Fatalf("rejected = %+v, want bannerAsset rejected by keyword", rejected)
	}
}

func TestFilterSelectKeepsWordsContainingKeywords(t *testing.T) {
	const photo = "https://img.example.com/p/silicone-phone-case_800x800.jpg"
	selected, rejected := testFilter().Select([]string{photo})
	if len(selected) != 1 || selected[0] != photo {
		t.Fatalf("selected = %v, rejected = %+v", selected, rejected)
	}
}

func TestFilterSizeTokensMatchWholeDimensions(t *testing.T) {
	selected, _ := testFilter().Select([]string{
		"https://img.example.com/p/h_220x220.jpg",
		"https://img.example.com/p/g_1800x800.jpg",
		"https://img.example.com/p/e_960x960.jpg",
	})
	want := []string{
		"https://img.example.com/p/e_960x960.jpg",
		"https://img.example.com/p/g_1800x800.jpg",
		"https://img.example.com/p/h_220x220.jpg",
	}
	if !reflect.DeepEqual(selected, want) {
		t.Fatalf("Select order:\n got %v\nwant %v", selected, want)
	}
}

func TestNameTokens(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"bannerAsset_v2.png", []string{"banner", "asset", "v", "2", "png"}},
		{"silicone-phone-case_800x800.jpg", []string{"silicone", "phone", "case", "800", "x", "800", "jpg"}},
		{"HTMLLogo.gif", []string{"html", "logo", "gif"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := nameTokens(tt.name); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("nameTokens(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFilterSelectOrder(t *testing.T) {
	gallery := []string{
		"https://img.example.com/p/a_350x350.jpg",
		"https://img.example.com/p/b_1000x1000.jpg",
		"https://img.example.com/p/c.jpg",
		"https://img.example.com/p/d_640x640.jpg",
		"https://img.example.com/p/e_960x960.jpg",
		"https://img.example.com/p/f_500x500.jpg",
		"https://img.example.com/p/c.jpg",
	}
	selected, rejected := testFilter().Select(gallery)
	want := []string{
		"https://img.example.com/p/e_960x960.jpg",
		"https://img.example.com/p/d_640x640.jpg",
		"https://img.example.com/p/c.jpg",
		"https://img.example.com/p/b_1000x1000.jpg",
		"https://img.example.com/p/f_500x500.jpg",
		"https://img.example.com/p/a_350x350.jpg",
	}
	if !reflect.DeepEqual(selected, want) {
		t.Fatalf("Select order:\n got %v\nwant %v", selected, want)
	}
	if len(rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", rejected)
	}
}

func TestEncodedDimensions(t *testing.T) {
	tests := []struct {
		raw  string
		w, h int
		ok   bool
	}{
		{raw: "https://x.example.com/a_640x480.jpg", w: 640, h: 480, ok: true},
		{raw: "https://x.example.com/a.jpg_220x220q90.jpg", w: 220, h: 220, ok: true},
		{raw: "https://x.example.com/800x800/a.jpg", w: 800, h: 800, ok: true},
		{raw: "https://x.example.com/a.jpg?size=640x640", ok: false},
		{raw: "https://x.example.com/box.jpg", ok: false},
	}
	for _, tt := range tests {
		w, h, ok := EncodedDimensions(tt.raw)
		if w != tt.w || h != tt.h || ok != tt.ok {
			t.Errorf("EncodedDimensions(%q) = (%d, %d, %v), want (%d, %d, %v)", tt.raw, w, h, ok, tt.w, tt.h, tt.ok)
		}
	}
}
