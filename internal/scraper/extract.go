package scraper

import (
	"bytes"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/loomctl/crawlspace/internal/types"
)

// buildRecord parses rendered HTML into an unscored crawl record. Links
// are resolved against finalURL so redirected pages yield correct
// absolute targets; pageURL stays the record's identity.
func buildRecord(pageURL, finalURL string, html []byte) (*types.CrawlRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, &types.ScrapeError{URL: pageURL, Err: err}
	}

	// Links first: extractText prunes noscript blocks from the document.
	links := extractLinks(doc, finalURL)
	content := extractText(doc)

	return &types.CrawlRecord{
		URL:              pageURL,
		PageSource:       string(html),
		ExtractedContent: content,
		Links:            links,
		Scores:           map[string]float64{},
		CompositeScore:   0,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// extractText returns the document's visible text with whitespace
// collapsed to single spaces.
func extractText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// extractLinks finds all <a href> links in the document, resolved to
// absolute http(s) URLs. Duplicates keep their first occurrence.
func extractLinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists {
			return
		}

		href = strings.TrimSpace(href)
		if href == "" ||
			strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") ||
			strings.HasPrefix(href, "data:") {
			return
		}

		parsedHref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(parsedHref)

		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		resolved.Fragment = ""

		absURL := resolved.String()
		if !seen[absURL] {
			seen[absURL] = true
			links = append(links, absURL)
		}
	})

	return links
}
