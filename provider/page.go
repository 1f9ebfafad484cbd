package provider

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-catalog-ingest/parser"
)

// Page wraps one fetched HTML document. Structured data blocks and the
// visible text are decoded lazily and memoized, so strategies can ask for
// them freely.
type Page struct {
	Doc     *goquery.Document
	Raw     []byte
	BaseURL string

	ldParsed bool
	ldBlocks []map[string]any
	scripts  map[string]map[string]any
	text     *string
}

// NewPage parses body. It never fails: unparsable input yields an empty document.
func NewPage(body []byte, baseURL string) *Page {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		doc = goquery.NewDocumentFromNode(&html.Node{Type: html.DocumentNode})
	}
	return &Page{Doc: doc, Raw: body, BaseURL: baseURL}
}

// Text returns the normalized text of the first element matching any selector.
func (p *Page) Text(selectors ...string) string {
	for _, sel := range selectors {
		if text := parser.NormalizeSpace(p.Doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// Attr returns the first non-empty attribute value among elements matching selector.
func (p *Page) Attr(selector string, attrs ...string) string {
	var out string
	p.Doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range attrs {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				out = strings.TrimSpace(v)
				return false
			}
		}
		return true
	})
	return out
}

// Meta returns a <meta> content by property or name.
func (p *Page) Meta(key string) string {
	if v := p.Attr(`meta[property="`+key+`"]`, "content"); v != "" {
		return v
	}
	return p.Attr(`meta[name="`+key+`"]`, "content")
}

// Resolve makes ref absolute against the page URL.
func (p *Page) Resolve(ref string) string {
	return parser.ResolveURL(p.BaseURL, ref)
}

// LDProduct returns the first JSON-LD object typed Product, or nil.
func (p *Page) LDProduct() map[string]any {
	for _, block := range p.ldObjects() {
		if ldTypeIs(block["@type"], "Product") {
			return block
		}
	}
	return nil
}

func (p *Page) ldObjects() []map[string]any {
	if p.ldParsed {
		return p.ldBlocks
	}
	p.ldParsed = true
	p.Doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var decoded any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &decoded); err != nil {
			return
		}
		p.ldBlocks = append(p.ldBlocks, flattenLD(decoded)...)
	})
	return p.ldBlocks
}

func flattenLD(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		out := []map[string]any{t}
		if graph, ok := t["@graph"]; ok {
			out = append(out, flattenLD(graph)...)
		}
		return out
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, flattenLD(item)...)
		}
		return out
	default:
		return nil
	}
}

func ldTypeIs(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

// ScriptJSON decodes the object literal assigned after marker inside an
// inline script, e.g. `window.detailData = {...};`. Returns nil when absent
// or malformed.
func (p *Page) ScriptJSON(marker string) map[string]any {
	if cached, ok := p.scripts[marker]; ok {
		return cached
	}
	if p.scripts == nil {
		p.scripts = make(map[string]map[string]any)
	}
	out := decodeScriptObject(p.Raw, marker)
	p.scripts[marker] = out
	return out
}

func decodeScriptObject(raw []byte, marker string) map[string]any {
	idx := bytes.Index(raw, []byte(marker))
	if idx < 0 {
		return nil
	}
	rest := raw[idx+len(marker):]
	start := bytes.IndexByte(rest, '{')
	if start < 0 {
		return nil
	}
	end := matchBrace(rest[start:])
	if end < 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(rest[start:start+end+1], &out); err != nil {
		return nil
	}
	return out
}

// NextData decodes the Next.js __NEXT_DATA__ payload.
func (p *Page) NextData() map[string]any {
	raw := strings.TrimSpace(p.Doc.Find(`script#__NEXT_DATA__`).First().Text())
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// matchBrace returns the index of the brace closing the object that starts at
// b[0], honouring JSON string escapes, or -1.
func matchBrace(b []byte) int {
	depth := 0
	inString := false
	escaped := false
	for i, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "td": true, "th": true,
	"dt": true, "dd": true, "br": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "section": true, "table": true, "ul": true, "ol": true,
}

// VisibleText returns the body text with one line per block element, script
// and style content excluded.
func (p *Page) VisibleText() string {
	if p.text != nil {
		return *p.text
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript" || n.Data == "head") {
			return
		}
		if n.Type == html.TextNode {
			if text := parser.NormalizeSpace(n.Data); text != "" {
				buf.WriteString(text)
				buf.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			buf.WriteByte('\n')
		}
	}
	for _, n := range p.Doc.Nodes {
		walk(n)
	}
	lines := strings.Split(buf.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	text := strings.Join(kept, "\n")
	p.text = &text
	return text
}

// lookup walks nested maps by key; numeric path segments are not supported.
func lookup(v any, path ...string) any {
	cur := v
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func lookupString(v any, path ...string) string {
	return stringify(lookup(v, path...))
}

func lookupSlice(v any, path ...string) []any {
	s, _ := lookup(v, path...).([]any)
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return parser.NormalizeSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
