package frontier

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/mfalkin/sitefeeder/internal/crawler"
)

// Probed in order; the first sitemap that answers wins.
var sitemapLocations = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemap-index.xml"}

// robotsDisallowsAll fetches /robots.txt and applies the blanket-disallow
// heuristic: any "Disallow: /" directive blocks the whole crawl. A missing
// or unreachable robots.txt allows crawling.
func robotsDisallowsAll(ctx context.Context, fetcher crawler.Fetcher, baseURL string) bool {
	res, err := fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:     strings.TrimSuffix(baseURL, "/") + "/robots.txt",
		BaseURL: baseURL,
	})
	if err != nil || res.StatusCode != 200 {
		return false
	}
	return strings.Contains(string(res.Body), "Disallow: /")
}

type sitemapXML struct {
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// sitemapURLs probes the well-known sitemap locations and returns the URLs
// of the first one that answers. Nested sitemap references are returned as
// plain URLs; they are crawled like any other page.
func sitemapURLs(ctx context.Context, fetcher crawler.Fetcher, baseURL string) []string {
	base := strings.TrimSuffix(baseURL, "/")
	for _, path := range sitemapLocations {
		res, err := fetcher.Fetch(ctx, crawler.FetchRequest{URL: base + path, BaseURL: baseURL})
		if err != nil || res.StatusCode != 200 {
			continue
		}
		if urls := parseSitemap(res.Body); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

func parseSitemap(body []byte) []string {
	var doc sitemapXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil
	}

	var urls []string
	for _, entry := range append(doc.URLs, doc.Sitemaps...) {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}
	return urls
}
