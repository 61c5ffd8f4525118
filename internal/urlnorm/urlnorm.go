// Package urlnorm canonicalizes article links into dedup keys.
//
// Two links that differ only by scheme, fragment, a leading "www.", trailing
// slashes or analytics query parameters produce the same key.
package urlnorm

import (
	"net/url"
	"strings"
)

// DefaultTrackingParams are query keys used for attribution only.
var DefaultTrackingParams = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	"ref", "source", "fbclid", "gclid", "mc_cid", "mc_eid",
}

// Normalizer strips a configurable set of tracking parameters.
type Normalizer struct {
	tracking map[string]struct{}
}

// New builds a Normalizer dropping the given query keys (case-insensitive).
func New(trackingParams ...string) *Normalizer {
	n := &Normalizer{tracking: make(map[string]struct{}, len(trackingParams))}
	for _, p := range trackingParams {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			n.tracking[p] = struct{}{}
		}
	}
	return n
}

// Default returns a Normalizer using DefaultTrackingParams.
func Default() *Normalizer {
	return New(DefaultTrackingParams...)
}

var defaultNormalizer = Default()

// Normalize canonicalizes raw with the default tracking set.
func Normalize(raw string) string {
	return defaultNormalizer.Normalize(raw)
}

// Normalize returns the scheme-less canonical form of raw:
// "//host/path?query" when raw has a host, "path?query" otherwise.
func (n *Normalizer) Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimRight(u.EscapedPath(), "/")
	query := n.cleanQuery(u.RawQuery)

	var b strings.Builder
	if host != "" {
		b.WriteString("//")
		b.WriteString(host)
		if path != "" && !strings.HasPrefix(path, "/") {
			b.WriteByte('/')
		}
	}
	b.WriteString(path)
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	return b.String()
}

// cleanQuery drops blank values and tracking keys. Surviving keys keep their
// first-appearance order; repeated keys are grouped under the first one.
func (n *Normalizer) cleanQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var order []string
	values := make(map[string][]string)

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		key = unescape(key)
		value = unescape(value)
		if value == "" {
			continue
		}
		if _, drop := n.tracking[strings.ToLower(key)]; drop {
			continue
		}
		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = append(values[key], value)
	}

	var b strings.Builder
	for _, key := range order {
		for _, v := range values[key] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func unescape(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}
