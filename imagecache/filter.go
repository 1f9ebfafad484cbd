package imagecache

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// dimensionPattern finds "640x640" style size tokens in a URL path segment.
var dimensionPattern = regexp.MustCompile(`(?:^|[_\-./=])(\d{2,4})x(\d{2,4})(?:q\d+)?(?:[_\-./]|$)`)

// Rejection reasons reported by the filter chain.
const (
	ReasonBlocklist = "blocklist"
	ReasonTooSmall  = "too_small"
	ReasonBanner    = "banner"
	ReasonKeyword   = "keyword"
	ReasonInvalid   = "invalid_url"
)

// FilterConfig holds the tuned constants of the candidate filter.
type FilterConfig struct {
	Blocklist       []string
	Keywords        []string
	MinSide         int
	BannerRatio     float64
	BannerMaxSide   int
	PreferredTokens []string
	FallbackTokens  []string
}

// Filter rejects unsuitable gallery candidates and orders the survivors.
type Filter struct {
	cfg             FilterConfig
	keywords        [][]string
	preferred       []*regexp.Regexp
	fallback        []*regexp.Regexp
	maxFallbackArea int
}

// NewFilter returns a filter; matching is case-insensitive.
func NewFilter(cfg FilterConfig) *Filter {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	cfg.Blocklist = lower(cfg.Blocklist)
	cfg.Keywords = lower(cfg.Keywords)
	cfg.PreferredTokens = lower(cfg.PreferredTokens)
	cfg.FallbackTokens = lower(cfg.FallbackTokens)

	f := &Filter{cfg: cfg}
	for _, keyword := range cfg.Keywords {
		if tokens := nameTokens(keyword); len(tokens) > 0 {
			f.keywords = append(f.keywords, tokens)
		}
	}
	f.preferred = sizeMatchers(cfg.PreferredTokens)
	f.fallback = sizeMatchers(cfg.FallbackTokens)
	for _, token := range cfg.FallbackTokens {
		if m := dimensionPattern.FindStringSubmatch(token); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			f.maxFallbackArea = max(f.maxFallbackArea, w*h)
		}
	}
	return f
}

// sizeMatchers compiles size tokens so that "800x800" matches "_800x800q90"
// but not "1800x800".
func sizeMatchers(tokens []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, regexp.MustCompile(`(?:^|[^0-9])`+regexp.QuoteMeta(token)+`(?:[^0-9]|$)`))
	}
	return out
}

// nameTokens splits a file name into lower-case words on punctuation,
// letter/digit changes and camelCase humps: "bannerAsset_v2.png" yields
// banner, asset, v, 2, png.
func nameTokens(name string) []string {
	var (
		tokens []string
		cur    []rune
	)
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if len(cur) > 0 {
			prev := runes[i-1]
			switch {
			case unicode.IsDigit(r) != unicode.IsDigit(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsLower(prev):
				flush()
			case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return tokens
}

// hasKeyword reports whether the keyword's tokens appear as a contiguous run
// of name tokens. The last word may carry a plural "s".
func hasKeyword(tokens, keyword []string) bool {
	for start := 0; start+len(keyword) <= len(tokens); start++ {
		matched := true
		for k, word := range keyword {
			got := tokens[start+k]
			if got != word && (k != len(keyword)-1 || got != word+"s") {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// EncodedDimensions returns the last width x height token found in the URL path.
func EncodedDimensions(raw string) (width, height int, ok bool) {
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}
	matches := dimensionPattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return 0, 0, false
	}
	last := matches[len(matches)-1]
	w, errW := strconv.Atoi(last[1])
	h, errH := strconv.Atoi(last[2])
	if errW != nil || errH != nil {
		return 0, 0, false
	}
	return w, h, true
}

// Reject reports why candidate must not be used, or "" when it survives.
func (f *Filter) Reject(candidate string) string {
	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ReasonInvalid
	}
	lower := strings.ToLower(candidate)
	for _, blocked := range f.cfg.Blocklist {
		if strings.Contains(lower, blocked) {
			return ReasonBlocklist
		}
	}
	if w, h, ok := EncodedDimensions(candidate); ok && w > 0 && h > 0 {
		small, large := w, h
		if small > large {
			small, large = large, small
		}
		if f.cfg.MinSide > 0 && small < f.cfg.MinSide {
			return ReasonTooSmall
		}
		if f.cfg.BannerRatio > 0 && float64(large)/float64(small) >= f.cfg.BannerRatio && small <= f.cfg.BannerMaxSide {
			return ReasonBanner
		}
	}
	file := u.Path
	if idx := strings.LastIndex(file, "/"); idx >= 0 {
		file = file[idx+1:]
	}
	tokens := nameTokens(file)
	for _, keyword := range f.keywords {
		if hasKeyword(tokens, keyword) {
			return ReasonKeyword
		}
	}
	return ""
}

// Rejection pairs a dropped candidate with its reason.
type Rejection struct {
	URL    string
	Reason string
}

// Select filters candidates and orders the survivors: preferred size tokens
// in configured order, then un-sized originals, then other sized URLs larger
// than every fallback size, then fallback size tokens in configured order,
// then the remaining sized URLs. Sized groups sort by decreasing encoded
// area and gallery order breaks ties.
func (f *Filter) Select(candidates []string) ([]string, []Rejection) {
	type ranked struct {
		url   string
		group int
		order int
		area  int
		index int
	}
	var (
		survivors []ranked
		rejected  []Rejection
		seen      = make(map[string]struct{}, len(candidates))
	)
	for i, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if _, dup := seen[candidate]; dup || candidate == "" {
			continue
		}
		seen[candidate] = struct{}{}
		if reason := f.Reject(candidate); reason != "" {
			rejected = append(rejected, Rejection{URL: candidate, Reason: reason})
			continue
		}
		r := ranked{url: candidate, index: i}
		r.group, r.order, r.area = f.classify(candidate)
		survivors = append(survivors, r)
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		a, b := survivors[i], survivors[j]
		if a.group != b.group {
			return a.group < b.group
		}
		if a.order != b.order {
			return a.order < b.order
		}
		if a.area != b.area {
			return a.area > b.area
		}
		return a.index < b.index
	})
	out := make([]string, len(survivors))
	for i, s := range survivors {
		out[i] = s.url
	}
	return out, rejected
}

const (
	groupPreferred = iota
	groupOriginal
	groupLarge
	groupFallback
	groupOther
)

func (f *Filter) classify(candidate string) (group, order, area int) {
	lower := strings.ToLower(candidate)
	if u, err := url.Parse(candidate); err == nil {
		lower = strings.ToLower(u.Path)
	}
	w, h, sized := EncodedDimensions(candidate)
	if sized {
		area = w * h
	}
	for i, token := range f.preferred {
		if token.MatchString(lower) {
			return groupPreferred, i, area
		}
	}
	for i, token := range f.fallback {
		if token.MatchString(lower) {
			return groupFallback, i, area
		}
	}
	switch {
	case !sized:
		return groupOriginal, 0, 0
	case area > f.maxFallbackArea:
		return groupLarge, 0, area
	default:
		return groupOther, 0, area
	}
}
