package repos

import (
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"moqpools/internal/domain"
)

type AlertRepo struct{ db *sqlx.DB }

func NewAlertRepo(db *sqlx.DB) *AlertRepo { return &AlertRepo{db: db} }

func (r *AlertRepo) Raise(kind, poolID, message string) error {
	_, err := r.db.Exec(`
	  INSERT INTO alerts(id, kind, pool_id, message) VALUES (?,?,?,?)
	`, uuid.NewString(), kind, poolID, message)
	return err
}

func (r *AlertRepo) ListOpen(limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.Alert
	err := r.db.Select(&out, `
	  SELECT id, kind, COALESCE(pool_id,'') AS pool_id, message, resolved, created_at
	  FROM alerts WHERE resolved = 0
	  ORDER BY datetime(created_at) DESC
	  LIMIT ?
	`, limit)
	return out, err
}

func (r *AlertRepo) Resolve(id string) error {
	_, err := r.db.Exec(`UPDATE alerts SET resolved = 1 WHERE id = ?`, id)
	return err
}
