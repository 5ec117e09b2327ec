package scrape

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"moqpools/internal/domain"
)

type fakeBrowser struct {
	calls    int
	listings []domain.ExternalListing
	err      error
}

func (b *fakeBrowser) Collect(context.Context, string, domain.Platform, int) ([]domain.ExternalListing, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.listings, nil
}

type staticTransport struct {
	html string
	err  error
}

func (t staticTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.err != nil {
		return nil, t.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(t.html)),
		Header:     make(http.Header),
		Request:    r,
	}, nil
}

func newStaticScraper(browser BrowserAutomation, threshold int, tr staticTransport) *Scraper {
	s := NewScraper(browser, threshold)
	s.Client = &http.Client{Transport: tr}
	return s
}

func rendered(urls ...string) []domain.ExternalListing {
	out := make([]domain.ExternalListing, len(urls))
	for i, u := range urls {
		out[i] = domain.ExternalListing{
			Platform: domain.PlatformAlibaba,
			URL:      u,
			Title:    "Rendered Item",
		}
	}
	return out
}

func TestSearchSkipsBrowserWhenStaticYieldsEnough(t *testing.T) {
	fb := &fakeBrowser{listings: rendered("https://www.alibaba.com/product-detail/never_1.html")}
	s := newStaticScraper(fb, 0, staticTransport{html: alibabaCards})

	res := s.Search(context.Background(), "kettle", domain.PlatformAlibaba, 40)
	if len(res.Listings) != 2 {
		t.Fatalf("want 2 static listings, got %d", len(res.Listings))
	}
	if fb.calls != 0 {
		t.Fatalf("browser fired %d times with fallback disabled", fb.calls)
	}

	// Static yield meeting the threshold also skips the fallback.
	fb2 := &fakeBrowser{listings: fb.listings}
	s2 := newStaticScraper(fb2, 2, staticTransport{html: alibabaCards})
	if res2 := s2.Search(context.Background(), "kettle", domain.PlatformAlibaba, 40); len(res2.Listings) != 2 {
		t.Fatalf("want 2 static listings, got %d", len(res2.Listings))
	}
	if fb2.calls != 0 {
		t.Fatalf("browser fired %d times when static met the threshold", fb2.calls)
	}
}

func TestSearchFallsBackAndMergesByURL(t *testing.T) {
	fb := &fakeBrowser{listings: rendered(
		"https://www.alibaba.com/product-detail/electric-kettle_1600.html", // dup of a static card
		"https://www.alibaba.com/product-detail/lamp_3300.html",
		"https://www.alibaba.com/product-detail/fan_4400.html",
	)}
	s := newStaticScraper(fb, 5, staticTransport{html: alibabaCards})

	res := s.Search(context.Background(), "kettle", domain.PlatformAlibaba, 3)
	if fb.calls != 1 {
		t.Fatalf("browser fired %d times, want 1", fb.calls)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.Listings) != 3 {
		t.Fatalf("want 3 merged listings, got %d", len(res.Listings))
	}
	seen := map[string]int{}
	for _, l := range res.Listings {
		seen[l.URL]++
	}
	if seen["https://www.alibaba.com/product-detail/electric-kettle_1600.html"] != 1 {
		t.Fatalf("duplicate URL not merged: %v", seen)
	}
	if seen["https://www.alibaba.com/product-detail/fan_4400.html"] != 0 {
		t.Fatal("merge ran past the limit")
	}
	// Static results keep their position ahead of rendered ones.
	if res.Listings[0].Title != "Electric Kettle 1.8L Stainless" {
		t.Fatalf("static listing displaced: %+v", res.Listings[0])
	}
}

func TestSearchKeepsStaticWhenBrowserFails(t *testing.T) {
	fb := &fakeBrowser{err: errors.New("chrome exited")}
	s := newStaticScraper(fb, 5, staticTransport{html: alibabaCards})

	res := s.Search(context.Background(), "kettle", domain.PlatformAlibaba, 40)
	if len(res.Listings) != 2 {
		t.Fatalf("static listings lost on browser failure: got %d", len(res.Listings))
	}
	if len(res.Errors) != 1 || res.Errors[0].Stage != "browser" {
		t.Fatalf("want one browser-stage error, got %v", res.Errors)
	}
}

func TestSearchBrowserSalvagesFailedFetch(t *testing.T) {
	fb := &fakeBrowser{listings: rendered("https://www.alibaba.com/product-detail/lamp_3300.html")}
	s := newStaticScraper(fb, 5, staticTransport{err: errors.New("connection reset")})

	res := s.Search(context.Background(), "kettle", domain.PlatformAlibaba, 40)
	if len(res.Listings) != 1 {
		t.Fatalf("want the rendered listing, got %d", len(res.Listings))
	}
	if len(res.Errors) != 1 || res.Errors[0].Stage != "fetch" {
		t.Fatalf("want one fetch-stage error, got %v", res.Errors)
	}
}
