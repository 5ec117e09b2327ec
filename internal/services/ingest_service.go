package services

import (
	"context"
	"fmt"
	"strings"

	"moqpools/internal/domain"
	"moqpools/internal/imagecache"
	applog "moqpools/internal/log"
	"moqpools/internal/repos"
	"moqpools/internal/scrape"
	"moqpools/internal/snapshot"
)

// RunReport summarizes one ingest run for operators; Errors carries the
// per-source failures so an all-errored run is distinguishable from a query
// that genuinely matched nothing.
type RunReport struct {
	Found         int
	Persisted     int
	Dropped       int
	ImageFailures int
	Errors        []*scrape.Error
}

// IngestService runs the scrape-persist-cache pipeline: search the source
// platforms, upsert what came back, then cache every listing image locally.
type IngestService struct {
	Scraper   *scrape.Scraper
	Listings  *repos.ListingRepo
	Images    *imagecache.Cache
	Snapshots snapshot.Cache
	Alerts    *repos.AlertRepo
	Limit     int
}

func NewIngestService(scraper *scrape.Scraper, listings *repos.ListingRepo, images *imagecache.Cache, snapshots snapshot.Cache, alerts *repos.AlertRepo, limit int) *IngestService {
	return &IngestService{
		Scraper:   scraper,
		Listings:  listings,
		Images:    images,
		Snapshots: snapshots,
		Alerts:    alerts,
		Limit:     limit,
	}
}

// Run scrapes query across platforms and persists the results. Image cache
// failures never drop a listing; the row just keeps an empty cached_image.
func (s *IngestService) Run(ctx context.Context, query string, platforms []domain.Platform, tags []string) (RunReport, error) {
	if len(platforms) == 0 {
		platforms = domain.Platforms
	}
	res := s.Scraper.SearchAll(ctx, query, platforms, s.Limit)

	report := RunReport{Found: len(res.Listings), Errors: res.Errors}
	if len(res.Listings) == 0 {
		if len(res.Errors) > 0 && len(res.Errors) >= len(platforms) {
			// every source errored out: surface it to the back office
			msg := fmt.Sprintf("ingest %q: all %d sources failed (%v)", query, len(platforms), res.Errors[0])
			if err := s.Alerts.Raise("INGEST_FAILED", "", msg); err != nil {
				applog.Error(nil, "ingest.alert", err, nil)
			}
			return report, fmt.Errorf("ingest %q: no source reachable", query)
		}
		return report, nil
	}

	ids, failed, err := s.Listings.UpsertBatch(res.Listings, query, tags)
	if err != nil {
		return report, fmt.Errorf("ingest %q: persist: %w", query, err)
	}
	report.Persisted = len(ids)
	report.Dropped = failed

	// ids line up with the listings that survived the upsert
	kept := res.Listings
	if failed > 0 {
		kept = survivors(res.Listings, ids, s.Listings)
	}
	for i, l := range kept {
		if i >= len(ids) || l.ImageURL == "" {
			continue
		}
		path, err := s.Images.Fetch(ctx, l.ImageURL, scrape.NormalizeJPEG(l.Platform))
		if err != nil {
			report.ImageFailures++
			applog.Info(nil, "ingest.image_skip", map[string]any{
				"url": l.ImageURL, "reason": err.Error(),
			})
			continue
		}
		if err := s.Listings.SetCachedImage(ids[i], path); err != nil {
			applog.Error(nil, "ingest.image_bind", err, map[string]any{"listing": ids[i]})
		}
	}

	key := strings.ToLower(strings.TrimSpace(query)) + "||"
	if err := s.Snapshots.Set(ctx, key, ids); err != nil {
		applog.Error(nil, "ingest.snapshot", err, nil)
	}

	applog.Info(nil, "ingest.run", map[string]any{
		"query": query, "found": report.Found, "persisted": report.Persisted,
		"dropped": report.Dropped, "image_failures": report.ImageFailures,
	})
	return report, nil
}

// survivors re-pairs scraped listings with the ids the batch upsert actually
// returned, skipping rows the sequential fallback gave up on.
func survivors(listings []domain.ExternalListing, ids []string, repo *repos.ListingRepo) []domain.ExternalListing {
	kept := make([]domain.ExternalListing, 0, len(ids))
	for _, id := range ids {
		row, err := repo.Get(id)
		if err != nil {
			continue
		}
		for _, l := range listings {
			if l.URL == row.URL {
				kept = append(kept, l)
				break
			}
		}
	}
	return kept
}
