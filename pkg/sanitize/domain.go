package sanitize

import "strings"

// domainPolicy decides which hosts a navigate command may target.
// A nil allow list admits every host that the block list does not
// reject. Wildcard entries of the form "*.example.com" match any
// subdomain and the bare domain itself.
type domainPolicy struct {
	allowed []string
	blocked []string
}

func newDomainPolicy(allowed, blocked []string) *domainPolicy {
	return &domainPolicy{
		allowed: normalizeDomains(allowed),
		blocked: normalizeDomains(blocked),
	}
}

func normalizeDomains(domains []string) []string {
	if len(domains) == 0 {
		return nil
	}
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func (p *domainPolicy) Allows(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, b := range p.blocked {
		if domainMatch(host, b) {
			return false
		}
	}
	if p.allowed == nil {
		return true
	}
	for _, a := range p.allowed {
		if domainMatch(host, a) {
			return true
		}
	}
	return false
}

// domainMatch requires a label boundary for wildcards, so
// "*.example.com" matches "a.example.com" and "example.com" but
// never "notexample.com".
func domainMatch(host, entry string) bool {
	if base, ok := strings.CutPrefix(entry, "*."); ok {
		return host == base || strings.HasSuffix(host, "."+base)
	}
	return host == entry
}
