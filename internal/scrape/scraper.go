package scrape

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"moqpools/internal/domain"
	applog "moqpools/internal/log"
)

// Error records which platform and stage a scrape failure came from, so a
// caller can tell "zero results because nothing matched" apart from "zero
// results because every source errored".
type Error struct {
	Platform domain.Platform
	Stage    string // fetch | browser
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("scrape %s (%s): %v", e.Platform, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of one search run: whatever listings were collected,
// plus the per-source failures that degraded along the way.
type Result struct {
	Listings []domain.ExternalListing
	Errors   []*Error
}

// Scraper fans a search query out to source platforms: static fetch first,
// headless-browser fallback when a platform under-yields.
type Scraper struct {
	Client    *http.Client
	Browser   BrowserAutomation
	Threshold int // static results below this trigger the fallback
}

func NewScraper(browser BrowserAutomation, threshold int) *Scraper {
	if browser == nil {
		browser = NoopBrowser{}
	}
	return &Scraper{
		Client:    &http.Client{Timeout: 30 * time.Second},
		Browser:   browser,
		Threshold: threshold,
	}
}

// Search scrapes one platform for a query. Failures degrade to whatever was
// already accumulated; they are recorded, not thrown.
func (s *Scraper) Search(ctx context.Context, query string, platform domain.Platform, limit int) Result {
	pageURL, err := SearchURL(platform, query)
	if err != nil {
		return Result{Errors: []*Error{{Platform: platform, Stage: "fetch", Err: err}}}
	}
	var res Result

	html, err := FetchHTML(ctx, s.Client, pageURL, platform)
	if err != nil {
		res.Errors = append(res.Errors, &Error{Platform: platform, Stage: "fetch", Err: err})
	} else {
		res.Listings = ParseListings(html, pageURL, platform, limit)
	}

	if len(res.Listings) < s.Threshold {
		rendered, err := s.Browser.Collect(ctx, pageURL, platform, limit)
		if err != nil {
			res.Errors = append(res.Errors, &Error{Platform: platform, Stage: "browser", Err: err})
		}
		res.Listings = mergeByURL(res.Listings, rendered, limit)
	}

	applog.Info(nil, "scrape.search", map[string]any{
		"platform": string(platform), "query": query,
		"listings": len(res.Listings), "errors": len(res.Errors),
	})
	return res
}

// SearchAll runs a query across several platforms sequentially. A failing
// source is skipped; the others still contribute.
func (s *Scraper) SearchAll(ctx context.Context, query string, platforms []domain.Platform, limit int) Result {
	var res Result
	for _, p := range platforms {
		if len(res.Listings) >= limit {
			break
		}
		pr := s.Search(ctx, query, p, limit-len(res.Listings))
		res.Listings = mergeByURL(res.Listings, pr.Listings, limit)
		res.Errors = append(res.Errors, pr.Errors...)
	}
	return res
}

func mergeByURL(have, more []domain.ExternalListing, limit int) []domain.ExternalListing {
	seen := make(map[string]bool, len(have))
	for _, l := range have {
		seen[l.URL] = true
	}
	for _, l := range more {
		if len(have) >= limit {
			break
		}
		if !seen[l.URL] {
			seen[l.URL] = true
			have = append(have, l)
		}
	}
	return have
}
