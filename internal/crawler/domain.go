package crawler

import "strings"

// NormalizeDomain reduces a domain or URL to its canonical registered name:
// lowercased host without scheme, path or a leading "www.". Every component
// that keys state by domain uses this form so "Example.com",
// "www.example.com" and "https://example.com/" all name the same site.
func NormalizeDomain(domain string) string {
	name := strings.ToLower(strings.TrimSpace(domain))
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "https://")
	if idx := strings.IndexAny(name, "/?"); idx >= 0 {
		name = name[:idx]
	}
	return strings.TrimPrefix(name, "www.")
}
