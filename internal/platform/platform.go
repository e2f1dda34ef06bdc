// Package platform canonicalizes source URLs and maps them to supported sites.
package platform

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

// ErrInvalidURL is returned when a URL cannot be parsed or has no host.
var ErrInvalidURL = errors.New("invalid url")

// Query parameters that only carry click tracking.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"igshid":       {},
}

// Hosts owned by each platform. Subdomains match as well.
var platformHosts = []struct {
	platform model.Platform
	hosts    []string
}{
	{model.PlatformYouTube, []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}},
	{model.PlatformInstagram, []string{"instagram.com", "instagr.am"}},
	{model.PlatformFacebook, []string{"facebook.com", "fb.watch", "fb.com"}},
	{model.PlatformTikTok, []string{"tiktok.com"}},
}

// Normalize returns the canonical form of raw. A missing scheme defaults to
// https, the host is lower-cased without its www. alias, tracking parameters
// and the fragment are dropped, and the remaining query is sorted by key.
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !hasScheme(raw) {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = stripAlias(strings.ToLower(u.Host))
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	u.RawQuery = cleanQuery(u.RawQuery)
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// Classify maps a URL to the platform that serves it.
func Classify(rawURL string) model.Platform {
	host, ok := hostOf(rawURL)
	if !ok {
		return model.PlatformUnknown
	}
	for _, p := range platformHosts {
		if matchesAny(host, p.hosts) {
			return p.platform
		}
	}
	return model.PlatformUnknown
}

// IsAllowed reports whether the URL's host equals, or is a subdomain of, an
// entry in allowList. Entries are canonicalized the same way as the URL host.
func IsAllowed(rawURL string, allowList []string) bool {
	host, ok := hostOf(rawURL)
	if !ok {
		return false
	}
	domains := make([]string, 0, len(allowList))
	for _, d := range allowList {
		if d = CanonicalHost(d); d != "" {
			domains = append(domains, d)
		}
	}
	return matchesAny(host, domains)
}

// CanonicalHost lower-cases a host name and removes a trailing dot and any
// leading www. labels.
func CanonicalHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	return stripAlias(host)
}

func stripAlias(host string) string {
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}

// cleanQuery drops tracking pairs and sorts the rest by key. Pairs are kept
// byte for byte so values url.ParseQuery rejects (a ';' for one) survive.
func cleanQuery(raw string) string {
	type pair struct{ key, raw string }
	var pairs []pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if _, ok := trackingParams[strings.ToLower(key)]; ok {
			continue
		}
		pairs = append(pairs, pair{key: key, raw: part})
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.raw
	}
	return strings.Join(out, "&")
}

// hasScheme reports whether raw starts with "scheme://". A "://" further
// along, inside a path or query value, does not count.
func hasScheme(raw string) bool {
	i := strings.Index(raw, "://")
	if i <= 0 {
		return false
	}
	for n, r := range raw[:i] {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case n > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

func hostOf(rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	if !hasScheme(rawURL) {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := CanonicalHost(u.Hostname())
	return host, host != ""
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
