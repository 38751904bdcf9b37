package bulwark

import (
	"net/url"
	"strings"
)

// Allowlist is an ordered set of host suffixes defining which origins content
// may be fetched from and cached. A URL's host is permitted iff it equals, or
// is a sub-domain of, some entry (suffix match at a dot boundary). An empty
// allowlist permits nothing.
type Allowlist struct {
	suffixes []string
}

// NewAllowlist builds an allowlist from host suffixes. Entries are lowercased
// and stripped of surrounding whitespace and leading dots; empty entries are
// dropped.
func NewAllowlist(hosts []string) *Allowlist {
	a := &Allowlist{}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, ".")
		if h == "" {
			continue
		}
		a.suffixes = append(a.suffixes, h)
	}
	return a
}

// ContainsHost reports whether the given host matches some allowlist entry.
// Ports are not part of the comparison; callers should pass a bare hostname.
func (a *Allowlist) ContainsHost(host string) bool {
	if a == nil || host == "" {
		return false
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, suffix := range a.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// AllowsURL reports whether rawURL points at a permitted host. Malformed URLs
// are treated as not allowed; this check never panics.
func (a *Allowlist) AllowsURL(rawURL string) bool {
	if a == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return a.ContainsHost(u.Hostname())
}

// Len returns the number of configured suffixes.
func (a *Allowlist) Len() int {
	if a == nil {
		return 0
	}
	return len(a.suffixes)
}
