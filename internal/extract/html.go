// Package extract turns fetched bodies into plain text and outbound links.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Elements removed before text extraction; chrome, not content.
const strippedSelectors = "script, style, nav, footer, header"

// HTMLResult holds the extracted pieces of one HTML document. Anchors and
// FrameSrcs are the raw attribute values; resolution and filtering against
// the crawl's allow-lists is the frontier's job.
type HTMLResult struct {
	Text      string
	Title     string
	Anchors   []string
	FrameSrcs []string
}

// HTML parses an HTML body and returns its visible text, title, anchor
// hrefs, and frame/iframe sources. Whitespace in the text is collapsed
// to single spaces.
func HTML(body []byte) (HTMLResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return HTMLResult{}, fmt.Errorf("parse html: %w", err)
	}

	var res HTMLResult
	res.Title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(strippedSelectors).Remove()
	res.Text = collapseWhitespace(doc.Find("body").Text())
	if res.Text == "" {
		// Fragment documents may lack a body element.
		res.Text = collapseWhitespace(doc.Text())
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			res.Anchors = append(res.Anchors, href)
		}
	})
	doc.Find("frame[src], iframe[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			res.FrameSrcs = append(res.FrameSrcs, src)
		}
	})

	return res, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
