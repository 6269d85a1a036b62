// Package extract turns fetched HTML into clean text for chunking. It is the
// default implementation of the extractor collaborator: readability-based
// boilerplate removal plus title and link collection. Non-HTML content
// passes through unchanged.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Document is the extracted view of one page.
type Document struct {
	Title   string
	Byline  string
	Excerpt string

	// Text is the readable content with boilerplate removed.
	Text string

	// Links are absolute URLs found in the page, in document order,
	// deduplicated.
	Links []string
}

// FromHTML extracts the readable content of an HTML page. pageURL resolves
// relative links and may be empty.
func FromHTML(html []byte, pageURL string) (*Document, error) {
	var base *url.URL
	if pageURL != "" {
		parsed, err := url.Parse(pageURL)
		if err == nil {
			base = parsed
		}
	}

	article, err := readability.FromReader(bytes.NewReader(html), base)
	if err != nil {
		return nil, fmt.Errorf("failed to extract readable content: %w", err)
	}

	doc := &Document{
		Title:   article.Title,
		Byline:  article.Byline,
		Excerpt: article.Excerpt,
		Text:    strings.TrimSpace(article.TextContent),
	}

	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		// Readable text was already extracted; links are best effort.
		return doc, nil
	}

	if doc.Title == "" {
		doc.Title = strings.TrimSpace(parsed.Find("title").First().Text())
	}
	doc.Links = collectLinks(parsed, base)
	return doc, nil
}

// FromResult extracts content based on its type: HTML goes through
// readability, everything else is treated as plain text.
func FromResult(content []byte, contentType, pageURL string) (*Document, error) {
	if strings.Contains(contentType, "html") {
		return FromHTML(content, pageURL)
	}
	return &Document{Text: strings.TrimSpace(string(content))}, nil
}

func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := map[string]bool{}
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			parsed = base.ResolveReference(parsed)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return
		}

		link := parsed.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})

	return links
}
