package domain

// Pool statuses. Transitions are one-directional except explicit cancellation.
const (
	PoolOpen        = "OPEN"
	PoolLocked      = "LOCKED"
	PoolOrderPlaced = "ORDER_PLACED"
	PoolFulfilling  = "FULFILLING"
	PoolFulfilled   = "FULFILLED"
	PoolFailed      = "FAILED"
	PoolCancelled   = "CANCELLED"
)

var poolTransitions = map[string][]string{
	PoolOpen:        {PoolLocked, PoolFailed, PoolCancelled},
	PoolLocked:      {PoolOrderPlaced, PoolCancelled},
	PoolOrderPlaced: {PoolFulfilling},
	PoolFulfilling:  {PoolFulfilled},
}

// CanTransition reports whether a pool may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range poolTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PoolTerminal reports whether a status admits no further transitions.
func PoolTerminal(status string) bool {
	return len(poolTransitions[status]) == 0
}

type Pool struct {
	ID         string  `db:"id"`
	ListingID  string  `db:"listing_id"`
	TargetQty  int     `db:"target_qty"`
	PledgedQty int     `db:"pledged_qty"`
	UnitPrice  float64 `db:"unit_price"`
	Currency   string  `db:"currency"`
	Deadline   string  `db:"deadline"`
	Status     string  `db:"status"`
	CreatedAt  string  `db:"created_at"`
	UpdatedAt  string  `db:"updated_at"`
}

// PoolItem is one buyer's commitment into a pool. It owns exactly one Payment.
type PoolItem struct {
	ID          string  `db:"id"`
	PoolID      string  `db:"pool_id"`
	SessionID   string  `db:"session_id"`
	UserID      string  `db:"user_id"`
	Qty         int     `db:"qty"`
	UnitPrice   float64 `db:"unit_price"`
	Currency    string  `db:"currency"`
	ShipName    string  `db:"ship_name"`
	ShipAddress string  `db:"ship_address"`
	CreatedAt   string  `db:"created_at"`
}

// Payment statuses.
const (
	PayAuthorized     = "AUTHORIZED"
	PayRequiresAction = "REQUIRES_ACTION"
	PayCaptured       = "CAPTURED"
	PayReleased       = "RELEASED"
	PayFailed         = "FAILED"
)

type Payment struct {
	ID          string  `db:"id"`
	PoolItemID  string  `db:"pool_item_id"`
	ProviderRef string  `db:"provider_ref"`
	Method      string  `db:"method"`
	Amount      float64 `db:"amount"`
	Currency    string  `db:"currency"`
	Status      string  `db:"status"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}
