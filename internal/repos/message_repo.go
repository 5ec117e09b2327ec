package repos

import (
	"github.com/jmoiron/sqlx"

	"moqpools/internal/domain"
)

type MessageRepo struct{ db *sqlx.DB }

func NewMessageRepo(db *sqlx.DB) *MessageRepo { return &MessageRepo{db: db} }

func (r *MessageRepo) CreateConversation(c domain.Conversation) error {
	_, err := r.db.Exec(`
	  INSERT INTO conversations(id, pool_id, user_id, subject) VALUES (?,?,?,?)
	`, c.ID, c.PoolID, c.UserID, c.Subject)
	return err
}

func (r *MessageRepo) GetConversation(id string) (domain.Conversation, error) {
	var c domain.Conversation
	err := r.db.Get(&c, `
	  SELECT id, pool_id, user_id, subject, created_at FROM conversations WHERE id = ?
	`, id)
	return c, err
}

func (r *MessageRepo) ConversationsByPool(poolID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := r.db.Select(&out, `
	  SELECT id, pool_id, user_id, subject, created_at
	  FROM conversations WHERE pool_id = ?
	  ORDER BY datetime(created_at) DESC
	`, poolID)
	return out, err
}

func (r *MessageRepo) ConversationsByUser(userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := r.db.Select(&out, `
	  SELECT id, pool_id, user_id, subject, created_at
	  FROM conversations WHERE user_id = ?
	  ORDER BY datetime(created_at) DESC
	`, userID)
	return out, err
}

func (r *MessageRepo) InsertMessage(m domain.Message) error {
	_, err := r.db.Exec(`
	  INSERT INTO messages(id, conversation_id, sender_id, sender_role, body)
	  VALUES (?,?,?,?,?)
	`, m.ID, m.ConversationID, m.SenderID, m.SenderRole, m.Body)
	return err
}

func (r *MessageRepo) Messages(conversationID string) ([]domain.Message, error) {
	var out []domain.Message
	err := r.db.Select(&out, `
	  SELECT id, conversation_id, sender_id, sender_role, body, created_at
	  FROM messages WHERE conversation_id = ?
	  ORDER BY datetime(created_at)
	`, conversationID)
	return out, err
}
