package services_test

import (
	"context"
	"testing"
	"time"

	"moqpools/internal/domain"
	"moqpools/internal/repos"
	"moqpools/internal/services"
	"moqpools/internal/snapshot"
)

func TestCatalogSearchSnapshotKeepsOrderingStable(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	listings := repos.NewListingRepo(db)
	svc := services.NewCatalogService(listings, snapshot.NewMemoryCache(10*time.Minute, nil))
	ctx := context.Background()

	if _, err := listings.UpsertByURL(domain.ExternalListing{
		Platform: domain.PlatformAlibaba,
		URL:      "https://www.alibaba.com/product-detail/lamp-1.html",
		Title:    "Desk Lamp Alpha",
	}, "lamp", nil); err != nil {
		t.Fatal(err)
	}

	first, err := svc.Search(ctx, "lamp", "", "", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("want 1 result, got %d", len(first))
	}

	// new rows landing mid-browse do not reshuffle the frozen result set
	if _, err := listings.UpsertByURL(domain.ExternalListing{
		Platform: domain.PlatformAlibaba,
		URL:      "https://www.alibaba.com/product-detail/lamp-2.html",
		Title:    "Desk Lamp Beta",
	}, "lamp", nil); err != nil {
		t.Fatal(err)
	}

	second, err := svc.Search(ctx, "lamp", "", "", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != len(first) || second[0].ID != first[0].ID {
		t.Fatalf("snapshot did not hold: first=%d second=%d", len(first), len(second))
	}
}

func TestCatalogSearchExpiredSnapshotRefreshes(t *testing.T) {
	db, err := repos.OpenDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	listings := repos.NewListingRepo(db)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc := services.NewCatalogService(listings, snapshot.NewMemoryCache(10*time.Minute, func() time.Time { return now }))
	ctx := context.Background()

	if _, err := listings.UpsertByURL(domain.ExternalListing{
		Platform: domain.PlatformAlibaba,
		URL:      "https://www.alibaba.com/product-detail/chair-1.html",
		Title:    "Folding Chair",
	}, "chair", nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := svc.Search(ctx, "chair", "", "", 1, 10); len(got) != 1 {
		t.Fatalf("want 1 result, got %d", len(got))
	}

	if _, err := listings.UpsertByURL(domain.ExternalListing{
		Platform: domain.PlatformAlibaba,
		URL:      "https://www.alibaba.com/product-detail/chair-2.html",
		Title:    "Camping Chair",
	}, "chair", nil); err != nil {
		t.Fatal(err)
	}

	now = now.Add(11 * time.Minute)
	refreshed, err := svc.Search(ctx, "chair", "", "", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refreshed) != 2 {
		t.Fatalf("expired snapshot should refresh to 2 rows, got %d", len(refreshed))
	}
}
