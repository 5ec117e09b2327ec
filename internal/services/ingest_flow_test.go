package services_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"moqpools/internal/domain"
	"moqpools/internal/imagecache"
	"moqpools/internal/repos"
	"moqpools/internal/scrape"
	"moqpools/internal/services"
	"moqpools/internal/snapshot"
)

// pageTransport serves a canned search page for every request, standing in
// for the source platforms.
type pageTransport struct {
	html string
	err  error
	hits int
}

func (t *pageTransport) RoundTrip(*http.Request) (*http.Response, error) {
	t.hits++
	if t.err != nil {
		return nil, t.err
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(t.html)),
		Header:     make(http.Header),
	}, nil
}

func productJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 200))
	for x := 0; x < 200; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 64, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	if len(b) < 4096 {
		b = append(b, make([]byte, 4096-len(b))...)
	}
	return b
}

func newIngestFixture(t *testing.T, page string) (*services.IngestService, *repos.ListingRepo, snapshot.Cache) {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	listings := repos.NewListingRepo(db)

	scraper := scrape.NewScraper(nil, 0) // threshold 0: no browser fallback
	scraper.Client = &http.Client{Transport: &pageTransport{html: page}}

	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(productJPEG(t))
	}))
	t.Cleanup(imgSrv.Close)

	images, err := imagecache.New(imagecache.Options{
		Dir:          t.TempDir(),
		AllowedHosts: []string{"127.0.0.1"},
		Client:       imgSrv.Client(),
	})
	if err != nil {
		t.Fatal(err)
	}

	snaps := snapshot.NewMemoryCache(0, nil)
	// rewrite the canned page so its image points at the test server
	if tr, ok := scraper.Client.Transport.(*pageTransport); ok {
		tr.html = strings.ReplaceAll(tr.html, "IMGHOST", imgSrv.URL)
	}
	return services.NewIngestService(scraper, listings, images, snaps, repos.NewAlertRepo(db), 20), listings, snaps
}

const cannedPage = `<html><body>
<div class="fy23-search-card">
  <a href="/product-detail/mug-100.html" title="Ceramic Travel Mug">x</a>
  <img src="IMGHOST/kf/mug.jpg">
  <span>US $1.80 / piece</span><span>MOQ: 200 pieces</span>
</div>
<div class="fy23-search-card">
  <a href="/product-detail/mug-200.html" title="Steel Travel Mug">x</a>
  <span>US $2.40 / piece</span>
</div>
</body></html>`

func TestIngestRunPersistsAndCaches(t *testing.T) {
	svc, listings, _ := newIngestFixture(t, cannedPage)

	report, err := svc.Run(context.Background(), "travel mug", []domain.Platform{domain.PlatformAlibaba}, []string{"drinkware"})
	if err != nil {
		t.Fatal(err)
	}
	if report.Found != 2 || report.Persisted != 2 || report.Dropped != 0 {
		t.Fatalf("bad report: %+v", report)
	}
	if report.ImageFailures != 0 {
		t.Fatalf("image failures: %d", report.ImageFailures)
	}

	rows, err := listings.Search("travel mug", "", "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("persisted %d rows", len(rows))
	}
	var cached int
	for _, r := range rows {
		if r.CachedImage != "" {
			cached++
			if !strings.HasPrefix(r.CachedImage, "/cache/") {
				t.Errorf("bad cached path %q", r.CachedImage)
			}
		}
	}
	// only the card with an image gets a cached copy
	if cached != 1 {
		t.Fatalf("want 1 cached image, got %d", cached)
	}
}

func TestIngestRunEmptyMatchIsNotAnError(t *testing.T) {
	svc, _, _ := newIngestFixture(t, "<html><body><p>0 results</p></body></html>")

	report, err := svc.Run(context.Background(), "unobtainium", []domain.Platform{domain.PlatformAlibaba}, nil)
	if err != nil {
		t.Fatalf("empty match should not error: %v", err)
	}
	if report.Found != 0 || len(report.Errors) != 0 {
		t.Fatalf("bad report: %+v", report)
	}
}

func TestIngestRunAllSourcesFailing(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	alerts := repos.NewAlertRepo(db)

	scraper := scrape.NewScraper(nil, 0)
	scraper.Client = &http.Client{Transport: &pageTransport{err: fmt.Errorf("connection refused")}}

	images, err := imagecache.New(imagecache.Options{Dir: t.TempDir(), AllowedHosts: []string{"127.0.0.1"}})
	if err != nil {
		t.Fatal(err)
	}
	svc := services.NewIngestService(scraper, repos.NewListingRepo(db), images, snapshot.NewMemoryCache(0, nil), alerts, 20)

	report, err := svc.Run(context.Background(), "kettle", []domain.Platform{domain.PlatformAlibaba}, nil)
	if err == nil {
		t.Fatal("all-sources-failed run should error")
	}
	if len(report.Errors) == 0 {
		t.Fatal("report lost the source errors")
	}

	open, err := alerts.ListOpen(10)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, a := range open {
		if a.Kind == "INGEST_FAILED" {
			found = true
		}
	}
	if !found {
		t.Fatal("no INGEST_FAILED alert raised")
	}
}
