package seeds

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// engineParser builds a search URL for a query and extracts result
// links from the returned HTML.
type engineParser interface {
	name() string
	searchURL(query string, count int) string
	parse(body []byte) ([]string, error)
}

type googleEngine struct{ baseURL string }

func (e *googleEngine) name() string { return "google" }

func (e *googleEngine) searchURL(query string, count int) string {
	return fmt.Sprintf("%s/search?q=%s&num=%d",
		strings.TrimRight(e.baseURL, "/"), url.QueryEscape(query), count)
}

// parse walks the organic results container; result anchors wrap an h3
// title, which separates them from navigation links.
func (e *googleEngine) parse(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var urls []string
	doc.Find("div#search a").Each(func(i int, sel *goquery.Selection) {
		if sel.Find("h3").Length() == 0 {
			return
		}
		href, exists := sel.Attr("href")
		if !exists {
			return
		}
		if u := cleanResultURL(href); u != "" {
			urls = append(urls, u)
		}
	})
	return urls, nil
}

type bingEngine struct{ baseURL string }

func (e *bingEngine) name() string { return "bing" }

func (e *bingEngine) searchURL(query string, count int) string {
	return fmt.Sprintf("%s/search?q=%s&count=%d",
		strings.TrimRight(e.baseURL, "/"), url.QueryEscape(query), count)
}

func (e *bingEngine) parse(body []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	nodes, err := htmlquery.QueryAll(doc, `//li[contains(@class,"b_algo")]//h2/a`)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, node := range nodes {
		if u := cleanResultURL(htmlquery.SelectAttr(node, "href")); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

type duckduckgoEngine struct{ baseURL string }

func (e *duckduckgoEngine) name() string { return "duckduckgo" }

func (e *duckduckgoEngine) searchURL(query string, count int) string {
	return fmt.Sprintf("%s/html/?q=%s",
		strings.TrimRight(e.baseURL, "/"), url.QueryEscape(query))
}

func (e *duckduckgoEngine) parse(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var urls []string
	doc.Find("a.result__a").Each(func(i int, sel *goquery.Selection) {
		href, exists := sel.Attr("href")
		if !exists {
			return
		}
		if u := cleanDuckURL(href); u != "" {
			urls = append(urls, u)
		}
	})
	return urls, nil
}

// cleanResultURL normalizes a result anchor href to an absolute http(s)
// URL, unwrapping Google's /url?q= redirect form. Returns "" for
// anything else.
func cleanResultURL(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/url?") {
		if u, err := url.Parse(href); err == nil {
			if q := u.Query().Get("q"); q != "" {
				href = q
			}
		}
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	return href
}

// cleanDuckURL unwraps DuckDuckGo's redirect links, which carry the
// target in the uddg query parameter.
func cleanDuckURL(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	if u, err := url.Parse(href); err == nil {
		if uddg := u.Query().Get("uddg"); uddg != "" {
			href = uddg
		}
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	return href
}
