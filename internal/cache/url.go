package cache

import (
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeURL returns the cache key for a request URL. Scheme and host
// are lowercased, the path is NFC-normalized with any trailing slash
// removed, query parameters are sorted, and the fragment is dropped.
// Unparseable input is returned NFC-normalized as-is.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return norm.NFC.String(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	path := norm.NFC.String(u.Path)
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	u.Path = path
	u.RawPath = ""

	// Encode sorts by key.
	u.RawQuery = u.Query().Encode()

	return u.String()
}
