package parser

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// CanonicalURL turns a listing URL into its dedup key: scheme and host are
// lower-cased, the fragment, default port and tracking parameters are
// dropped, remaining query parameters are sorted and a trailing slash on the
// path is removed.
func CanonicalURL(raw string, trackingParams []string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("canonical url: empty input")
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("canonical url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("canonical url: %q has no host", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if u.RawQuery != "" {
		drop := make(map[string]struct{}, len(trackingParams))
		for _, p := range trackingParams {
			drop[strings.ToLower(p)] = struct{}{}
		}
		query := u.Query()
		for key := range query {
			lower := strings.ToLower(key)
			if _, ok := drop[lower]; ok || strings.HasPrefix(lower, "utm_") {
				query.Del(key)
			}
		}
		u.RawQuery = encodeSorted(query)
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), nil
}

func encodeSorted(query url.Values) string {
	if len(query) == 0 {
		return ""
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		values := append([]string(nil), query[key]...)
		sort.Strings(values)
		for _, value := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}

// ResolveURL resolves ref against base. Protocol-relative references get
// https. An unparsable ref returns "".
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "javascript:") {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

// HostOf returns the lower-cased host of raw, or "" when it cannot be parsed.
func HostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
