package repos

import (
	"log"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

func OpenDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	// Seed baseline catalogue and demo pool if DB is empty
	if err := seedIfEmpty(db); err != nil {
		return nil, err
	}
	// Ensure users exist (idempotent; safe to run every start)
	if err := seedUsers(db); err != nil {
		return nil, err
	}

	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

-- Scraped catalogue, unique on source URL
CREATE TABLE IF NOT EXISTS saved_listings(
  id TEXT PRIMARY KEY,
  url TEXT NOT NULL UNIQUE CHECK (url <> ''),
  platform TEXT NOT NULL CHECK (platform IN ('ALIBABA','1688','MADE_IN_CHINA','INDIAMART')),
  title TEXT NOT NULL,
  image_url TEXT DEFAULT '',
  cached_image TEXT DEFAULT '',
  price_text TEXT DEFAULT '',
  price_min NUMERIC NOT NULL DEFAULT 0,
  currency TEXT DEFAULT '',
  moq_text TEXT DEFAULT '',
  moq INTEGER NOT NULL DEFAULT 0 CHECK (moq >= 0),
  store_name TEXT DEFAULT '',
  description TEXT DEFAULT '',
  rating NUMERIC NOT NULL DEFAULT 0,
  order_count INTEGER NOT NULL DEFAULT 0,
  tags_json TEXT NOT NULL DEFAULT '[]',
  search_terms TEXT NOT NULL DEFAULT '',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_listings_platform ON saved_listings(platform);
CREATE INDEX IF NOT EXISTS idx_listings_title    ON saved_listings(LOWER(title));
CREATE INDEX IF NOT EXISTS idx_listings_created  ON saved_listings(created_at);

-- Pools
CREATE TABLE IF NOT EXISTS pools(
  id TEXT PRIMARY KEY,
  listing_id TEXT NOT NULL REFERENCES saved_listings(id) ON DELETE RESTRICT,
  target_qty INTEGER NOT NULL CHECK (target_qty > 0),
  pledged_qty INTEGER NOT NULL DEFAULT 0 CHECK (pledged_qty >= 0),
  unit_price NUMERIC NOT NULL CHECK (unit_price >= 0),
  currency TEXT NOT NULL DEFAULT 'USD',
  deadline TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'OPEN'
    CHECK (status IN ('OPEN','LOCKED','ORDER_PLACED','FULFILLING','FULFILLED','FAILED','CANCELLED')),
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_pools_status   ON pools(status);
CREATE INDEX IF NOT EXISTS idx_pools_deadline ON pools(deadline);

CREATE TABLE IF NOT EXISTS pool_items(
  id TEXT PRIMARY KEY,
  pool_id TEXT NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
  session_id TEXT NOT NULL,
  user_id TEXT DEFAULT '',
  qty INTEGER NOT NULL CHECK (qty >= 1),
  unit_price NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  ship_name TEXT NOT NULL,
  ship_address TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_pool_items_pool    ON pool_items(pool_id);
CREATE INDEX IF NOT EXISTS idx_pool_items_session ON pool_items(session_id);

-- One payment per pool item (escrow-style authorize then capture)
CREATE TABLE IF NOT EXISTS payments(
  id TEXT PRIMARY KEY,
  pool_item_id TEXT NOT NULL UNIQUE REFERENCES pool_items(id) ON DELETE CASCADE,
  provider_ref TEXT DEFAULT '',
  method TEXT NOT NULL DEFAULT 'card',
  amount NUMERIC NOT NULL CHECK (amount >= 0),
  currency TEXT NOT NULL,
  status TEXT NOT NULL
    CHECK (status IN ('AUTHORIZED','REQUIRES_ACTION','CAPTURED','RELEASED','FAILED')),
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);

-- Support threads per pool
CREATE TABLE IF NOT EXISTS conversations(
  id TEXT PRIMARY KEY,
  pool_id TEXT NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  subject TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversations_pool ON conversations(pool_id);

CREATE TABLE IF NOT EXISTS messages(
  id TEXT PRIMARY KEY,
  conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
  sender_id TEXT NOT NULL,
  sender_role TEXT NOT NULL CHECK (sender_role IN ('USER','ADMIN')),
  body TEXT NOT NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);

-- Admin alerts
CREATE TABLE IF NOT EXISTS alerts(
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  pool_id TEXT DEFAULT '',
  message TEXT NOT NULL,
  resolved INTEGER NOT NULL DEFAULT 0,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_alerts_resolved ON alerts(resolved);

-- Shipment tracking per pool
CREATE TABLE IF NOT EXISTS shipment_events(
  id TEXT PRIMARY KEY,
  pool_id TEXT NOT NULL REFERENCES pools(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  note TEXT DEFAULT '',
  created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_shipments_pool ON shipment_events(pool_id);

-- Watchlists (saved listings per session)
CREATE TABLE IF NOT EXISTS watchlists(
  id TEXT PRIMARY KEY,
  session_id TEXT UNIQUE NOT NULL,
  updated_at TEXT
);

CREATE TABLE IF NOT EXISTS watchlist_items(
  watchlist_id TEXT NOT NULL REFERENCES watchlists(id) ON DELETE CASCADE,
  listing_id TEXT NOT NULL REFERENCES saved_listings(id) ON DELETE RESTRICT,
  created_at TEXT,
  PRIMARY KEY (watchlist_id, listing_id)
);

-- Users & Sessions
CREATE TABLE IF NOT EXISTS users(
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL CHECK (role IN ('USER','ADMIN')),
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS sessions(
  id TEXT PRIMARY KEY,               -- same value as the 'sid' cookie
  user_id TEXT NULL REFERENCES users(id) ON DELETE SET NULL,
  created_at TEXT DEFAULT CURRENT_TIMESTAMP,
  last_seen  TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
`
	_, err := db.Exec(schema)
	return err
}

func seedIfEmpty(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM saved_listings`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	log.Println("[seed] inserting demo listings and pool")

	tx := db.MustBegin()
	tx.MustExec(`INSERT INTO saved_listings
	  (id,url,platform,title,image_url,price_text,price_min,currency,moq_text,moq,store_name,tags_json,search_terms) VALUES
	  ('lst-kettle','https://www.alibaba.com/product-detail/electric-kettle-1001.html','ALIBABA',
	   'Stainless Steel Electric Kettle 1.8L','', 'US $4.20-6.80 / piece',4.20,'USD','MOQ: 500 pieces',500,
	   'Foshan Kitchenware Co.','["kitchen"]','kettle'),
	  ('lst-socks','https://detail.1688.com/offer/73311001.html','1688',
	   'Combed Cotton Crew Socks Wholesale','', '¥ 2.10',2.10,'CNY','2000 pairs',2000,
	   'Yiwu Textile Trading','["apparel"]','socks'),
	  ('lst-led','https://www.made-in-china.com/factory/product/led-strip-5m.html','MADE_IN_CHINA',
	   'Flexible LED Strip Light 5m RGB','', 'US $1.90',1.90,'USD','Min. Order: 1000 units',1000,
	   'Shenzhen Lighting Ltd','["electronics"]','led strip')`)

	tx.MustExec(`INSERT INTO pools(id,listing_id,target_qty,pledged_qty,unit_price,currency,deadline,status)
	  VALUES ('pool-kettle','lst-kettle',500,0,5.10,'USD',datetime('now','+14 days'),'OPEN')`)

	return tx.Commit()
}

// seedUsers ensures two USERs and one ADMIN exist (idempotent).
func seedUsers(db *sqlx.DB) error {
	type u struct {
		ID, Email, Name, Role, Hash string
	}
	mk := func(id, email, name, role, raw string) u {
		h, _ := bcrypt.GenerateFromPassword([]byte(raw), 12)
		return u{ID: id, Email: email, Name: name, Role: role, Hash: string(h)}
	}

	users := []u{
		mk("u-mei", "mei@moqpools.test", "Mei", "USER", "Passw0rd!"),
		mk("u-omar", "omar@moqpools.test", "Omar", "USER", "Passw0rd!"),
		mk("u-admin", "admin@moqpools.test", "Admin", "ADMIN", "Passw0rd!"),
	}

	tx := db.MustBegin()
	defer func() { _ = tx.Rollback() }()

	for _, x := range users {
		if _, err := tx.Exec(`
			INSERT INTO users(id,email,name,password_hash,role)
			VALUES(?,?,?,?,?)
			ON CONFLICT(email) DO NOTHING
		`, x.ID, x.Email, x.Name, x.Hash, x.Role); err != nil {
			return err
		}
	}

	return tx.Commit()
}
