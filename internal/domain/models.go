package domain

// Conversation is a support thread attached to a pool.
type Conversation struct {
	ID        string `db:"id"`
	PoolID    string `db:"pool_id"`
	UserID    string `db:"user_id"`
	Subject   string `db:"subject"`
	CreatedAt string `db:"created_at"`
}

type Message struct {
	ID             string `db:"id"`
	ConversationID string `db:"conversation_id"`
	SenderID       string `db:"sender_id"`
	SenderRole     string `db:"sender_role"` // USER | ADMIN
	Body           string `db:"body"`
	CreatedAt      string `db:"created_at"`
}

// Alert is an admin back-office notification (pool milestones, ingest failures).
type Alert struct {
	ID        string `db:"id"`
	Kind      string `db:"kind"`
	PoolID    string `db:"pool_id"`
	Message   string `db:"message"`
	Resolved  bool   `db:"resolved"`
	CreatedAt string `db:"created_at"`
}

// ShipmentEvent is one tracking update for a fulfilling pool.
type ShipmentEvent struct {
	ID        string `db:"id"`
	PoolID    string `db:"pool_id"`
	Status    string `db:"status"`
	Note      string `db:"note"`
	CreatedAt string `db:"created_at"`
}
