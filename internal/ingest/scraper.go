package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxPageBytes = 10 << 20

// Scraper fetches an HTML page and lists the images it references.
type Scraper struct {
	guard     *URLGuard
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

func NewScraper(guard *URLGuard, client *http.Client, userAgent string) *Scraper {
	return &Scraper{
		guard:     guard,
		client:    client,
		userAgent: userAgent,
		logger:    slog.With("component", "scraper"),
	}
}

// ScrapeImages returns the absolute URLs of every <img src> on pageURL, in
// document order, without duplicates.
func (s *Scraper) ScrapeImages(ctx context.Context, pageURL string) ([]string, error) {
	safe, err := s.guard.Validate(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, safe, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	// Resolve against the final URL so redirects keep relative srcs correct.
	base := resp.Request.URL
	urls := extractImageURLs(doc, base)

	s.logger.Info("scraped page", "url", safe, "images", len(urls))
	return urls, nil
}

func extractImageURLs(doc *goquery.Document, base *url.URL) []string {
	var urls []string
	seen := make(map[string]bool)

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
			return
		}
		ref, err := url.Parse(src)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		u := abs.String()
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	})
	return urls
}
