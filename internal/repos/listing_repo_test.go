package repos_test

import (
	"testing"

	"moqpools/internal/domain"
	"moqpools/internal/repos"
)

func openTestDB(t *testing.T) *repos.ListingRepo {
	t.Helper()
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	return repos.NewListingRepo(db)
}

func scraped(url, title string) domain.ExternalListing {
	return domain.ExternalListing{
		Platform:  domain.PlatformAlibaba,
		URL:       url,
		Title:     title,
		PriceText: "US $2.00",
		PriceMin:  2.00,
		Currency:  "USD",
		MOQText:   "MOQ: 100",
		MOQ:       100,
	}
}

func TestUpsertByURLIsIdempotent(t *testing.T) {
	repo := openTestDB(t)
	l := scraped("https://www.alibaba.com/product-detail/widget-1.html", "Widget v1")

	id1, err := repo.UpsertByURL(l, "widget", nil)
	if err != nil {
		t.Fatal(err)
	}

	l.Title = "Widget v2"
	l.Description = "updated copy"
	id2, err := repo.UpsertByURL(l, "gadget", nil)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("re-scrape minted a new row: %s vs %s", id1, id2)
	}

	row, err := repo.Get(id1)
	if err != nil {
		t.Fatal(err)
	}
	if row.Title != "Widget v2" {
		t.Errorf("title not refreshed: %q", row.Title)
	}
	if row.SearchTerms != "widget gadget" {
		t.Errorf("search terms not merged: %q", row.SearchTerms)
	}
}

func TestUpsertKeepsDescriptionWhenRescrapeIsEmpty(t *testing.T) {
	repo := openTestDB(t)
	l := scraped("https://www.alibaba.com/product-detail/widget-2.html", "Widget")
	l.Description = "full spec sheet"
	id, err := repo.UpsertByURL(l, "widget", nil)
	if err != nil {
		t.Fatal(err)
	}

	l.Description = "" // thin card on a later listing page
	if _, err := repo.UpsertByURL(l, "widget", nil); err != nil {
		t.Fatal(err)
	}
	row, _ := repo.Get(id)
	if row.Description != "full spec sheet" {
		t.Errorf("description clobbered: %q", row.Description)
	}
}

func TestUpsertBatchContinuesPastBadRow(t *testing.T) {
	repo := openTestDB(t)
	batch := []domain.ExternalListing{
		scraped("https://www.alibaba.com/product-detail/a.html", "A"),
		scraped("", "broken row"), // fails the non-empty URL constraint
		scraped("https://www.alibaba.com/product-detail/b.html", "B"),
	}

	ids, failed, err := repo.UpsertBatch(batch, "stuff", nil)
	if err != nil {
		t.Fatal(err)
	}
	if failed != 1 {
		t.Fatalf("want 1 dropped row, got %d", failed)
	}
	if len(ids) != 2 {
		t.Fatalf("want 2 persisted rows, got %d", len(ids))
	}
	for _, id := range ids {
		if _, err := repo.Get(id); err != nil {
			t.Errorf("persisted id %s not readable: %v", id, err)
		}
	}
}

func TestSearchFilters(t *testing.T) {
	repo := openTestDB(t)
	k := scraped("https://detail.1688.com/offer/991.html", "Ceramic Mug Set")
	k.Platform = domain.Platform1688
	if _, err := repo.UpsertByURL(k, "mug", []string{"kitchen"}); err != nil {
		t.Fatal(err)
	}

	byQ, err := repo.Search("ceramic", "", "", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(byQ) != 1 {
		t.Fatalf("title search found %d rows", len(byQ))
	}

	byPlatform, err := repo.Search("mug", "1688", "", 10, 0)
	if err != nil || len(byPlatform) != 1 {
		t.Fatalf("platform filter: %v rows=%d", err, len(byPlatform))
	}
	none, err := repo.Search("mug", "INDIAMART", "", 10, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("wrong-platform filter leaked %d rows", len(none))
	}

	byTag, err := repo.Search("mug", "", "kitchen", 10, 0)
	if err != nil || len(byTag) != 1 {
		t.Fatalf("tag filter: %v rows=%d", err, len(byTag))
	}
}

func TestByIDsPreservesOrder(t *testing.T) {
	repo := openTestDB(t)
	idA, _ := repo.UpsertByURL(scraped("https://www.alibaba.com/product-detail/x.html", "X"), "x", nil)
	idB, _ := repo.UpsertByURL(scraped("https://www.alibaba.com/product-detail/y.html", "Y"), "y", nil)

	rows, err := repo.ByIDs([]string{idB, idA})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != idB || rows[1].ID != idA {
		t.Fatalf("order not preserved: %+v", rows)
	}
}

func TestSetCachedImage(t *testing.T) {
	repo := openTestDB(t)
	id, _ := repo.UpsertByURL(scraped("https://www.alibaba.com/product-detail/z.html", "Z"), "z", nil)
	if err := repo.SetCachedImage(id, "/cache/abc123.jpg"); err != nil {
		t.Fatal(err)
	}
	row, _ := repo.Get(id)
	if row.CachedImage != "/cache/abc123.jpg" {
		t.Errorf("cached image not bound: %q", row.CachedImage)
	}
}
