package aggregator

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned by Normalize for input that is not an http(s) URL.
var ErrInvalidURL = errors.New("InvalidURL")

// defaultRemoveParams is the baseline tracking-parameter blocklist. Names
// ending in "*" match by prefix (only "utm_*" does today).
var defaultRemoveParams = []string{
	"utm_*", "ref", "source", "via", "fbclid", "gclid",
	"mc_cid", "mc_eid", "_ga", "_gl", "yclid", "msclkid",
}

// NormalizeOptions configures Normalize. A zero value uses the default
// RemoveParams list and leaves trailing slashes in place.
type NormalizeOptions struct {
	RemoveParams        []string
	StripTrailingSlash  bool
}

func (o NormalizeOptions) removeParams() []string {
	if o.RemoveParams == nil {
		return defaultRemoveParams
	}
	return o.RemoveParams
}

func shouldRemoveParam(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		pattern = strings.ToLower(pattern)
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(lower, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if lower == pattern {
			return true
		}
	}
	return false
}

// Normalize canonicalises a URL per the eleven-step algorithm: scheme
// validation and upgrade, host lowercasing and www-stripping, tracking
// parameter removal, query sorting, fragment removal, path-slash collapse,
// path percent-decode/re-encode, optional trailing-slash stripping, and
// empty-query-string removal.
func Normalize(raw string, opts NormalizeOptions) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidURL
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", ErrInvalidURL
	}
	if parsed.Host == "" {
		return "", ErrInvalidURL
	}

	parsed.Scheme = "https"

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := parsed.Port(); port != "" && port != "443" {
		host = host + ":" + port
	}
	parsed.Host = host

	query := parsed.Query()
	removePatterns := opts.removeParams()
	for key := range query {
		if shouldRemoveParam(key, removePatterns) {
			query.Del(key)
		}
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var qb strings.Builder
	for _, key := range keys {
		values := query[key]
		sort.Strings(values)
		for _, value := range values {
			if qb.Len() > 0 {
				qb.WriteByte('&')
			}
			qb.WriteString(url.QueryEscape(key))
			qb.WriteByte('=')
			qb.WriteString(url.QueryEscape(value))
		}
	}
	parsed.RawQuery = qb.String()

	parsed.Fragment = ""
	parsed.RawFragment = ""

	path := collapseSlashes(parsed.Path)
	path = reencodePath(path)
	if opts.StripTrailingSlash && path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}
	parsed.Path = ""
	parsed.RawPath = ""

	var b strings.Builder
	b.WriteString(parsed.Scheme)
	b.WriteString("://")
	b.WriteString(parsed.Host)
	b.WriteString(path)
	if parsed.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(parsed.RawQuery)
	}
	return b.String(), nil
}

func collapseSlashes(path string) string {
	if path == "" {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	lastSlash := false
	for _, r := range path {
		if r == '/' {
			if lastSlash {
				continue
			}
			lastSlash = true
		} else {
			lastSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func reencodePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		decoded, err := url.PathUnescape(segment)
		if err != nil {
			decoded = segment
		}
		segments[i] = encodePathSegment(decoded)
	}
	return strings.Join(segments, "/")
}

func encodePathSegment(segment string) string {
	escaped := url.PathEscape(segment)
	return escaped
}

// ExtractDomain returns the lowercase host of a URL, minus a leading "www.".
func ExtractDomain(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// IsSameDomain reports whether two URLs share a domain per ExtractDomain.
func IsSameDomain(a, b string) bool {
	domainA := ExtractDomain(a)
	domainB := ExtractDomain(b)
	if domainA == "" || domainB == "" {
		return false
	}
	return domainA == domainB
}

// IsValidURL reports whether raw parses as an absolute http/https URL.
func IsValidURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
