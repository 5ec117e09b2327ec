package repos

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// WatchlistRepo tracks listings a session is keeping an eye on.
type WatchlistRepo struct{ db *sqlx.DB }

func NewWatchlistRepo(db *sqlx.DB) *WatchlistRepo { return &WatchlistRepo{db: db} }

type WatchRow struct {
	ListingID string  `db:"listing_id"`
	Title     string  `db:"title"`
	Platform  string  `db:"platform"`
	Image     string  `db:"image"`
	PriceMin  float64 `db:"price_min"`
	MOQ       int     `db:"moq"`
}

func (r *WatchlistRepo) ensure(sessionID string) (string, error) {
	var id string
	if err := r.db.Get(&id, `SELECT id FROM watchlists WHERE session_id = ?`, sessionID); err == nil {
		return id, nil
	}
	_, err := r.db.Exec(`INSERT INTO watchlists(id,session_id,updated_at) VALUES(?,?,?)`,
		sessionID, sessionID, time.Now().Format(time.RFC3339))
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (r *WatchlistRepo) Add(sessionID, listingID string) error {
	wid, err := r.ensure(sessionID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
	  INSERT INTO watchlist_items(watchlist_id, listing_id, created_at)
	  VALUES(?,?,CURRENT_TIMESTAMP)
	  ON CONFLICT(watchlist_id, listing_id) DO NOTHING
	`, wid, listingID)
	return err
}

func (r *WatchlistRepo) Remove(sessionID, listingID string) error {
	_, err := r.db.Exec(`
	  DELETE FROM watchlist_items WHERE watchlist_id = ? AND listing_id = ?
	`, sessionID, listingID)
	return err
}

func (r *WatchlistRepo) List(sessionID string) ([]WatchRow, error) {
	rows := []WatchRow{}
	err := r.db.Select(&rows, `
	  SELECT l.id AS listing_id, l.title, l.platform,
	         CASE WHEN l.cached_image <> '' THEN l.cached_image ELSE l.image_url END AS image,
	         l.price_min, l.moq
	  FROM watchlist_items wi
	  JOIN saved_listings l ON l.id = wi.listing_id
	  WHERE wi.watchlist_id = ?
	  ORDER BY wi.created_at DESC
	`, sessionID)
	return rows, err
}
