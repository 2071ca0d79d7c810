package engine

import (
	"net/url"
	"strings"
)

// blacklist matches URL hosts against a crawl's domain_blacklist.
// Matching is case-insensitive: a host is blocked when it equals a
// blacklisted domain or is a subdomain of one (dot-boundary suffix).
type blacklist struct {
	domains []string
}

func newBlacklist(domains []string) *blacklist {
	b := &blacklist{domains: make([]string, 0, len(domains))}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			b.domains = append(b.domains, d)
		}
	}
	return b
}

// BlockedURL reports whether the URL's host is blacklisted. URLs whose
// host cannot be determined are blocked.
func (b *blacklist) BlockedURL(rawURL string) bool {
	if len(b.domains) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	return b.BlockedHost(u.Hostname())
}

// BlockedHost matches a bare host (no port) against the blacklist.
func (b *blacklist) BlockedHost(host string) bool {
	host = strings.ToLower(host)
	for _, d := range b.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
