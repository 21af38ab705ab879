package normalize

import (
	"net/url"
	"sort"
	"strings"
)

// trackingPrefixes are matched case-insensitively against query keys.
var trackingPrefixes = []string{
	"utm_",
	"ref",
	"source",
	"campaign",
	"fbclid",
	"gclid",
	"mc_",
	"trk",
}

// URL canonicalizes a job URL: scheme and host are lowercased, tracking query
// parameters and the fragment are dropped and one trailing slash is removed
// from non-root paths. Unparseable input is returned trimmed.
func URL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	u.RawQuery = stripTracking(u.RawQuery)
	u.ForceQuery = false

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = strings.TrimSuffix(u.RawPath, "/")
	}

	return u.String()
}

// stripTracking drops tracking pairs from a raw query and sorts the rest.
// Remaining pairs are kept byte for byte, including ones url.ParseQuery
// would reject.
func stripTracking(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if isTracking(key) {
			continue
		}
		kept = append(kept, pair)
	}

	// deterministic query
	sort.Strings(kept)
	return strings.Join(kept, "&")
}

func isTracking(key string) bool {
	lk := strings.ToLower(key)
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(lk, prefix) {
			return true
		}
	}
	return false
}
