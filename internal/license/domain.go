package license

import (
	"net"
	"net/url"
	"strings"
)

// Wildcard binds a license to every domain.
const Wildcard = "*"

// NormalizeDomain lowercases a host and drops any scheme, path, port and trailing dot.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))

	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Host
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}

	return strings.TrimSuffix(d, ".")
}

// MatchDomain reports whether domain is allowed by bound, a comma separated
// list of patterns. "*" allows any domain. "*.example.com" allows subdomains
// of example.com at any depth but not example.com itself. Any other pattern
// must equal the domain. Matching is case-insensitive.
func MatchDomain(bound, domain string) bool {
	d := NormalizeDomain(domain)

	for _, raw := range strings.Split(bound, ",") {
		pattern := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
		switch {
		case pattern == "":
			continue
		case pattern == Wildcard:
			return true
		case d == "":
			continue
		case strings.HasPrefix(pattern, "*."):
			suffix := pattern[1:] // ".example.com"
			if len(d) > len(suffix) && strings.HasSuffix(d, suffix) {
				return true
			}
		case pattern == d:
			return true
		}
	}
	return false
}
