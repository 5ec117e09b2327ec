package repos

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"moqpools/internal/domain"
)

var ErrStaleStatus = errors.New("pool status changed underneath the update")

type PoolRepo struct{ db *sqlx.DB }

func NewPoolRepo(db *sqlx.DB) *PoolRepo { return &PoolRepo{db: db} }

// ---------- Pool rows ----------

// PoolView joins a pool with its listing for detail/browse pages.
type PoolView struct {
	domain.Pool
	ListingTitle string  `db:"listing_title"`
	ListingImage string  `db:"listing_image"`
	ListingURL   string  `db:"listing_url"`
	Platform     string  `db:"listing_platform"`
	MOQ          int     `db:"listing_moq"`
	PriceMin     float64 `db:"listing_price_min"`
}

const poolViewCols = `
  p.id, p.listing_id, p.target_qty, p.pledged_qty, p.unit_price, p.currency,
  p.deadline, p.status, p.created_at, COALESCE(p.updated_at,'') AS updated_at,
  l.title AS listing_title,
  CASE WHEN l.cached_image <> '' THEN l.cached_image ELSE l.image_url END AS listing_image,
  l.url AS listing_url, l.platform AS listing_platform,
  l.moq AS listing_moq, l.price_min AS listing_price_min`

func (r *PoolRepo) Create(p domain.Pool) error {
	_, err := r.db.Exec(`
	  INSERT INTO pools(id, listing_id, target_qty, pledged_qty, unit_price, currency, deadline, status)
	  VALUES (?,?,?,?,?,?,?,?)
	`, p.ID, p.ListingID, p.TargetQty, p.PledgedQty, p.UnitPrice, p.Currency, p.Deadline, p.Status)
	return err
}

func (r *PoolRepo) Get(id string) (domain.Pool, error) {
	var p domain.Pool
	err := r.db.Get(&p, `
	  SELECT id, listing_id, target_qty, pledged_qty, unit_price, currency, deadline, status,
	         created_at, COALESCE(updated_at,'') AS updated_at
	  FROM pools WHERE id = ?
	`, id)
	return p, err
}

func (r *PoolRepo) View(id string) (PoolView, error) {
	var v PoolView
	err := r.db.Get(&v, `
	  SELECT `+poolViewCols+`
	  FROM pools p JOIN saved_listings l ON l.id = p.listing_id
	  WHERE p.id = ?
	`, id)
	return v, err
}

func (r *PoolRepo) ListByStatus(status string, limit int) ([]PoolView, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []PoolView
	err := r.db.Select(&out, `
	  SELECT `+poolViewCols+`
	  FROM pools p JOIN saved_listings l ON l.id = p.listing_id
	  WHERE p.status = ?
	  ORDER BY datetime(p.created_at) DESC
	  LIMIT ?
	`, status, limit)
	return out, err
}

func (r *PoolRepo) ListLatest(limit int) ([]PoolView, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []PoolView
	err := r.db.Select(&out, `
	  SELECT `+poolViewCols+`
	  FROM pools p JOIN saved_listings l ON l.id = p.listing_id
	  ORDER BY datetime(p.created_at) DESC
	  LIMIT ?
	`, limit)
	return out, err
}

func (r *PoolRepo) ByListing(listingID string) ([]PoolView, error) {
	var out []PoolView
	err := r.db.Select(&out, `
	  SELECT `+poolViewCols+`
	  FROM pools p JOIN saved_listings l ON l.id = p.listing_id
	  WHERE p.listing_id = ?
	  ORDER BY datetime(p.created_at) DESC
	`, listingID)
	return out, err
}

// UpdateStatus moves a pool from one status to another. The WHERE guard keeps
// transitions one-directional even under concurrent writers.
func (r *PoolRepo) UpdateStatus(id, from, to string) error {
	res, err := r.db.Exec(`
	  UPDATE pools SET status = ?, updated_at = CURRENT_TIMESTAMP
	  WHERE id = ? AND status = ?
	`, to, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s not in %s", ErrStaleStatus, id, from)
	}
	return nil
}

// IncrementPledged adds a confirmed pledge. Only OPEN pools accept pledges.
func (r *PoolRepo) IncrementPledged(id string, qty int) error {
	res, err := r.db.Exec(`
	  UPDATE pools SET pledged_qty = pledged_qty + ?, updated_at = CURRENT_TIMESTAMP
	  WHERE id = ? AND status = 'OPEN'
	`, qty, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s not OPEN", ErrStaleStatus, id)
	}
	return nil
}

// OpenPastDeadline returns OPEN pools whose deadline has passed (sweep input).
func (r *PoolRepo) OpenPastDeadline() ([]domain.Pool, error) {
	var out []domain.Pool
	err := r.db.Select(&out, `
	  SELECT id, listing_id, target_qty, pledged_qty, unit_price, currency, deadline, status,
	         created_at, COALESCE(updated_at,'') AS updated_at
	  FROM pools
	  WHERE status = 'OPEN' AND datetime(deadline) < datetime('now')
	`)
	return out, err
}

// ---------- Pool items ----------

func (r *PoolRepo) InsertItem(it domain.PoolItem) error {
	_, err := r.db.Exec(`
	  INSERT INTO pool_items(id, pool_id, session_id, user_id, qty, unit_price, currency, ship_name, ship_address)
	  VALUES (?,?,?,?,?,?,?,?,?)
	`, it.ID, it.PoolID, it.SessionID, it.UserID, it.Qty, it.UnitPrice, it.Currency, it.ShipName, it.ShipAddress)
	return err
}

func (r *PoolRepo) GetItem(id string) (domain.PoolItem, error) {
	var it domain.PoolItem
	err := r.db.Get(&it, `
	  SELECT id, pool_id, session_id, COALESCE(user_id,'') AS user_id, qty, unit_price, currency,
	         ship_name, ship_address, created_at
	  FROM pool_items WHERE id = ?
	`, id)
	return it, err
}

// ItemView is a buyer's commitment joined with payment and pool context
// (the "order" shown on tracking pages).
type ItemView struct {
	domain.PoolItem
	PoolStatus    string  `db:"pool_status"`
	ListingTitle  string  `db:"listing_title"`
	PaymentID     string  `db:"payment_id"`
	PaymentStatus string  `db:"payment_status"`
	Amount        float64 `db:"amount"`
}

const itemViewQuery = `
  SELECT i.id, i.pool_id, i.session_id, COALESCE(i.user_id,'') AS user_id, i.qty, i.unit_price,
         i.currency, i.ship_name, i.ship_address, i.created_at,
         p.status AS pool_status, l.title AS listing_title,
         pay.id AS payment_id, pay.status AS payment_status, pay.amount AS amount
  FROM pool_items i
  JOIN pools p ON p.id = i.pool_id
  JOIN saved_listings l ON l.id = p.listing_id
  JOIN payments pay ON pay.pool_item_id = i.id`

func (r *PoolRepo) ItemView(id string) (ItemView, error) {
	var v ItemView
	err := r.db.Get(&v, itemViewQuery+` WHERE i.id = ?`, id)
	return v, err
}

func (r *PoolRepo) ItemsByPool(poolID string) ([]ItemView, error) {
	var out []ItemView
	err := r.db.Select(&out, itemViewQuery+` WHERE i.pool_id = ? ORDER BY datetime(i.created_at)`, poolID)
	return out, err
}

func (r *PoolRepo) ItemsBySession(sessionID string) ([]ItemView, error) {
	var out []ItemView
	err := r.db.Select(&out, itemViewQuery+` WHERE i.session_id = ? ORDER BY datetime(i.created_at) DESC`, sessionID)
	return out, err
}

func (r *PoolRepo) ItemsByUser(userID string) ([]ItemView, error) {
	var out []ItemView
	err := r.db.Select(&out, itemViewQuery+` WHERE i.user_id = ? ORDER BY datetime(i.created_at) DESC`, userID)
	return out, err
}

// ---------- Payments ----------

func (r *PoolRepo) InsertPayment(p domain.Payment) error {
	_, err := r.db.Exec(`
	  INSERT INTO payments(id, pool_item_id, provider_ref, method, amount, currency, status)
	  VALUES (?,?,?,?,?,?,?)
	`, p.ID, p.PoolItemID, p.ProviderRef, p.Method, p.Amount, p.Currency, p.Status)
	return err
}

func (r *PoolRepo) GetPayment(id string) (domain.Payment, error) {
	var p domain.Payment
	err := r.db.Get(&p, `
	  SELECT id, pool_item_id, provider_ref, method, amount, currency, status,
	         created_at, COALESCE(updated_at,'') AS updated_at
	  FROM payments WHERE id = ?
	`, id)
	return p, err
}

// UpdatePaymentStatus is guarded by the expected current status so a payment
// cannot be confirmed twice.
func (r *PoolRepo) UpdatePaymentStatus(id, from, to string) error {
	res, err := r.db.Exec(`
	  UPDATE payments SET status = ?, updated_at = CURRENT_TIMESTAMP
	  WHERE id = ? AND status = ?
	`, to, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: payment %s not in %s", ErrStaleStatus, id, from)
	}
	return nil
}

func (r *PoolRepo) PaymentsByPool(poolID string) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.db.Select(&out, `
	  SELECT pay.id, pay.pool_item_id, pay.provider_ref, pay.method, pay.amount, pay.currency,
	         pay.status, pay.created_at, COALESCE(pay.updated_at,'') AS updated_at
	  FROM payments pay JOIN pool_items i ON i.id = pay.pool_item_id
	  WHERE i.pool_id = ?
	`, poolID)
	return out, err
}

// ---------- Shipment tracking ----------

func (r *PoolRepo) InsertShipmentEvent(e domain.ShipmentEvent) error {
	_, err := r.db.Exec(`
	  INSERT INTO shipment_events(id, pool_id, status, note) VALUES (?,?,?,?)
	`, e.ID, e.PoolID, e.Status, e.Note)
	return err
}

func (r *PoolRepo) ShipmentEvents(poolID string) ([]domain.ShipmentEvent, error) {
	var out []domain.ShipmentEvent
	err := r.db.Select(&out, `
	  SELECT id, pool_id, status, COALESCE(note,'') AS note, created_at
	  FROM shipment_events WHERE pool_id = ?
	  ORDER BY datetime(created_at)
	`, poolID)
	return out, err
}
