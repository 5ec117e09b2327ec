package repos

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"moqpools/internal/domain"
	applog "moqpools/internal/log"
)

type ListingRepo struct{ db *sqlx.DB }

func NewListingRepo(db *sqlx.DB) *ListingRepo { return &ListingRepo{db: db} }

const (
	upsertBatchSize  = 10
	batchRetries     = 3
	rowRetries       = 2
	retryBaseBackoff = 100 * time.Millisecond
)

// UpsertByURL persists one scraped listing idempotently: re-scrapes of the
// same source URL update the existing row. Returns the row id.
func (r *ListingRepo) UpsertByURL(l domain.ExternalListing, searchTerm string, tags []string) (string, error) {
	return upsertOne(r.db, l, searchTerm, tags)
}

func upsertOne(q sqlx.Ext, l domain.ExternalListing, searchTerm string, tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	_, err := q.Exec(`
		INSERT INTO saved_listings
		  (id, url, platform, title, image_url, price_text, price_min, currency,
		   moq_text, moq, store_name, description, rating, order_count, tags_json, search_terms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(url) DO UPDATE SET
		  title        = excluded.title,
		  image_url    = excluded.image_url,
		  price_text   = excluded.price_text,
		  price_min    = excluded.price_min,
		  currency     = excluded.currency,
		  moq_text     = excluded.moq_text,
		  moq          = excluded.moq,
		  store_name   = excluded.store_name,
		  description  = CASE WHEN excluded.description <> '' THEN excluded.description
		                      ELSE saved_listings.description END,
		  rating       = excluded.rating,
		  order_count  = excluded.order_count,
		  search_terms = CASE WHEN instr(saved_listings.search_terms, excluded.search_terms) = 0
		                      THEN trim(saved_listings.search_terms || ' ' || excluded.search_terms)
		                      ELSE saved_listings.search_terms END,
		  updated_at   = CURRENT_TIMESTAMP
	`, uuid.NewString(), l.URL, string(l.Platform), l.Title, l.ImageURL, l.PriceText, l.PriceMin,
		l.Currency, l.MOQText, l.MOQ, l.StoreName, l.Description, l.Rating, l.OrderCount,
		string(tagsJSON), strings.TrimSpace(searchTerm))
	if err != nil {
		return "", err
	}
	var id string
	err = sqlx.Get(q, &id, `SELECT id FROM saved_listings WHERE url = ?`, l.URL)
	return id, err
}

// UpsertBatch persists listings in small retry-wrapped transactions. A batch
// hit by a transient database error is retried whole with exponential
// backoff; if it still fails, rows are applied one by one with their own
// retry budget, continuing past permanently-failed rows. Returns ids of
// persisted rows (in input order) and the count of dropped rows.
func (r *ListingRepo) UpsertBatch(listings []domain.ExternalListing, searchTerm string, tags []string) ([]string, int, error) {
	var ids []string
	failed := 0
	for start := 0; start < len(listings); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(listings) {
			end = len(listings)
		}
		batch := listings[start:end]

		batchIDs, err := r.upsertBatchTx(batch, searchTerm, tags)
		if err == nil {
			ids = append(ids, batchIDs...)
			continue
		}
		applog.Error(nil, "listings.batch.fallback", err, map[string]any{"size": len(batch)})

		// Sequential fallback: one row at a time, skipping permanent failures.
		for _, l := range batch {
			id, rowErr := r.upsertWithRetry(l, searchTerm, tags)
			if rowErr != nil {
				applog.Error(nil, "listings.row.drop", rowErr, map[string]any{"url": l.URL})
				failed++
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, failed, nil
}

func (r *ListingRepo) upsertBatchTx(batch []domain.ExternalListing, searchTerm string, tags []string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < batchRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseBackoff << uint(attempt-1))
		}
		ids, err := func() ([]string, error) {
			tx, err := r.db.Beginx()
			if err != nil {
				return nil, err
			}
			defer func() { _ = tx.Rollback() }()
			ids := make([]string, 0, len(batch))
			for _, l := range batch {
				id, err := upsertOne(tx, l, searchTerm, tags)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
			return ids, tx.Commit()
		}()
		if err == nil {
			return ids, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}
	return nil, lastErr
}

func (r *ListingRepo) upsertWithRetry(l domain.ExternalListing, searchTerm string, tags []string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= rowRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBaseBackoff << uint(attempt-1))
		}
		id, err := upsertOne(r.db, l, searchTerm, tags)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
	}
	return "", lastErr
}

// isTransient classifies the "connection closed / database busy" family of
// errors worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "busy", "connection", "broken pipe", "i/o timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (r *ListingRepo) SetCachedImage(id, path string) error {
	_, err := r.db.Exec(`UPDATE saved_listings SET cached_image = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, path, id)
	return err
}

func (r *ListingRepo) Get(id string) (domain.SavedListing, error) {
	var l domain.SavedListing
	err := r.db.Get(&l, `
	  SELECT id, url, platform, title, image_url, cached_image, price_text, price_min, currency,
	         moq_text, moq, store_name, description, rating, order_count, tags_json, search_terms,
	         created_at, COALESCE(updated_at,'') AS updated_at
	  FROM saved_listings WHERE id = ?
	`, id)
	return l, err
}

// ByIDs fetches listings preserving the order of ids (snapshot reads).
func (r *ListingRepo) ByIDs(ids []string) ([]domain.SavedListing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
	  SELECT id, url, platform, title, image_url, cached_image, price_text, price_min, currency,
	         moq_text, moq, store_name, description, rating, order_count, tags_json, search_terms,
	         created_at, COALESCE(updated_at,'') AS updated_at
	  FROM saved_listings WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	var rows []domain.SavedListing
	if err := r.db.Select(&rows, query, args...); err != nil {
		return nil, err
	}
	byID := make(map[string]domain.SavedListing, len(rows))
	for _, l := range rows {
		byID[l.ID] = l
	}
	out := make([]domain.SavedListing, 0, len(ids))
	for _, id := range ids {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// Search runs a free-text contains query with optional platform and tag
// filters, paginated by offset/limit.
func (r *ListingRepo) Search(q, platform, tag string, limit, offset int) ([]domain.SavedListing, error) {
	where := `1=1`
	args := []any{}
	if q != "" {
		where += ` AND (LOWER(title) LIKE ? OR LOWER(search_terms) LIKE ? OR LOWER(description) LIKE ?)`
		like := "%" + strings.ToLower(q) + "%"
		args = append(args, like, like, like)
	}
	if platform != "" {
		where += ` AND platform = ?`
		args = append(args, platform)
	}
	if tag != "" {
		where += ` AND tags_json LIKE ?`
		args = append(args, `%"`+tag+`"%`)
	}
	sql := `
	  SELECT id, url, platform, title, image_url, cached_image, price_text, price_min, currency,
	         moq_text, moq, store_name, description, rating, order_count, tags_json, search_terms,
	         created_at, COALESCE(updated_at,'') AS updated_at
	  FROM saved_listings
	  WHERE ` + where + `
	  ORDER BY datetime(created_at) DESC
	  LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	var out []domain.SavedListing
	err := r.db.Select(&out, sql, args...)
	return out, err
}

func (r *ListingRepo) Recent(limit int) ([]domain.SavedListing, error) {
	return r.Search("", "", "", limit, 0)
}
