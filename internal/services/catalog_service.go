package services

import (
	"context"
	"strings"

	"moqpools/internal/domain"
	"moqpools/internal/repos"
	"moqpools/internal/snapshot"
)

// snapshotSpan is how many listing ids one search snapshot freezes; pages
// beyond it fall back to live queries.
const snapshotSpan = 120

// CatalogService serves the persisted listing catalogue. Paginated reads of
// the same query within the snapshot freshness window keep a stable ordering.
type CatalogService struct {
	Listings  *repos.ListingRepo
	Snapshots snapshot.Cache
}

func NewCatalogService(listings *repos.ListingRepo, snapshots snapshot.Cache) *CatalogService {
	return &CatalogService{Listings: listings, Snapshots: snapshots}
}

func snapshotKey(q, platform, tag string) string {
	return strings.ToLower(strings.TrimSpace(q)) + "|" + platform + "|" + tag
}

func (s *CatalogService) Search(ctx context.Context, q, platform, tag string, page, pageSize int) ([]domain.SavedListing, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 12
	}
	offset := (page - 1) * pageSize

	key := snapshotKey(q, platform, tag)
	if ids, ok := s.Snapshots.Get(ctx, key); ok && offset < len(ids) {
		end := offset + pageSize
		if end > len(ids) {
			end = len(ids)
		}
		return s.Listings.ByIDs(ids[offset:end])
	}

	rows, err := s.Listings.Search(q, platform, tag, snapshotSpan, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, l := range rows {
		ids[i] = l.ID
	}
	_ = s.Snapshots.Set(ctx, key, ids) // cache failure never fails a search

	if offset >= len(rows) {
		return s.Listings.Search(q, platform, tag, pageSize, offset)
	}
	end := offset + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end], nil
}

func (s *CatalogService) Get(id string) (domain.SavedListing, error) {
	return s.Listings.Get(id)
}

func (s *CatalogService) Recent(limit int) ([]domain.SavedListing, error) {
	return s.Listings.Recent(limit)
}
