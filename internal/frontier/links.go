package frontier

import (
	"net/url"
	"strings"

	"github.com/mfalkin/sitefeeder/internal/crawler"
)

var skippedSchemes = []string{"#", "mailto:", "javascript:", "tel:", "data:", "about:"}

// normalizeDomainName lowercases a domain and strips a leading "www.".
func normalizeDomainName(domain string) string {
	return crawler.NormalizeDomain(domain)
}

// baseURLFor turns a registered domain into the crawl seed URL. A scheme,
// if present, is kept; bare names default to https.
func baseURLFor(domain string) string {
	domain = strings.TrimSpace(domain)
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimSuffix(domain, "/")
	}
	return "https://" + normalizeDomainName(domain)
}

// hostOf extracts the normalized host of a URL (port kept), without "www.".
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}

// sameDomain reports whether host belongs to base: either the exact domain
// or any subdomain (blog.example.com matches example.com).
func sameDomain(host, base string) bool {
	if host == "" || base == "" {
		return false
	}
	return host == base || strings.HasSuffix(host, "."+base)
}

// resolveLink turns an href into an absolute, fragment-free URL relative to
// pageURL. It returns false for non-navigable schemes and unparseable hrefs.
func resolveLink(href, pageURL string) (string, bool) {
	for _, prefix := range skippedSchemes {
		if strings.HasPrefix(href, prefix) {
			return "", false
		}
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	return abs.String(), true
}

// canonicalFrontierKey maps a URL to its frontier identity. A bare root
// slash is dropped so "https://host/" and "https://host" are one entry;
// deeper paths keep their trailing slash, which can address a distinct page.
func canonicalFrontierKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
		return u.String()
	}
	return rawURL
}

// followable reports whether a resolved URL may enter the frontier: the
// crawl domain itself, any of its subdomains, or another approved domain.
func followable(absURL, baseDomain string, approved map[string]struct{}) bool {
	host := hostOf(absURL)
	if sameDomain(host, baseDomain) {
		return true
	}
	for dom := range approved {
		if sameDomain(host, dom) {
			return true
		}
	}
	return false
}
