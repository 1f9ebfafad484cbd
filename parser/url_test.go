package parser

import "testing"

func TestCanonicalURL(t *testing.T) {
	tracking := []string{"spm", "scm", "from"}
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "lower-cases host and drops fragment",
			input:    "HTTPS://WWW.Alibaba.COM/product-detail/Valve_1600.html#reviews",
			expected: "https://www.alibaba.com/product-detail/Valve_1600.html",
		},
		{
			name:     "drops tracking params and sorts the rest",
			input:    "https://www.dhgate.com/product/x/1.html?spm=a.b.c&sku=9&color=red&utm_source=mail",
			expected: "https://www.dhgate.com/product/x/1.html?color=red&sku=9",
		},
		{
			name:     "drops default port and trailing slash",
			input:    "https://www.globalsources.com:443/product/abc/",
			expected: "https://www.globalsources.com/product/abc",
		},
		{
			name:     "keeps non default port",
			input:    "http://localhost:8081/p/1",
			expected: "http://localhost:8081/p/1",
		},
		{
			name:     "protocol relative",
			input:    "//www.made-in-china.com/prod/Valve.html?from=search",
			expected: "https://www.made-in-china.com/prod/Valve.html",
		},
		{
			name:    "missing host",
			input:   "/product-detail/x.html",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "  ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalURL(tt.input, tracking)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CanonicalURL(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("CanonicalURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCanonicalURLIsIdempotent(t *testing.T) {
	first, err := CanonicalURL("https://WWW.Example.com/a/?b=2&a=1&spm=x#frag", []string{"spm"})
	if err != nil {
		t.Fatalf("CanonicalURL: %v", err)
	}
	second, err := CanonicalURL(first, []string{"spm"})
	if err != nil {
		t.Fatalf("CanonicalURL: %v", err)
	}
	if first != second {
		t.Fatalf("canonicalization not idempotent: %q then %q", first, second)
	}
}

func TestResolveURL(t *testing.T) {
	base := "https://www.dhgate.com/product/x/1.html"
	tests := []struct {
		ref      string
		expected string
	}{
		{ref: "//img.dhgate.com/a_640x640.jpg", expected: "https://img.dhgate.com/a_640x640.jpg"},
		{ref: "/store/123", expected: "https://www.dhgate.com/store/123"},
		{ref: "2.html", expected: "https://www.dhgate.com/product/x/2.html"},
		{ref: "https://cdn.example.com/i.png", expected: "https://cdn.example.com/i.png"},
		{ref: "data:image/gif;base64,R0lGOD", expected: ""},
		{ref: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			if got := ResolveURL(base, tt.ref); got != tt.expected {
				t.Errorf("ResolveURL(%q) = %q, want %q", tt.ref, got, tt.expected)
			}
		})
	}
}
