package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	DBDSN    string
	LogFile  string
	CacheDir string

	// Scraping
	ScrapeLimit      int  // max listings per search run
	BrowserThreshold int  // static results below this trigger the headless fallback
	BrowserEnabled   bool
	ScrapeProxy      string // forwarded to the headless browser
	ScrapeCookies    string // "k=v; k2=v2" injected for session-gated sites
	NavTimeout       time.Duration

	// Snapshots
	RedisAddr   string // empty = in-memory snapshot cache
	SnapshotTTL time.Duration

	// Payments
	StripeKey string // empty = in-process fake provider

	// Notifications
	NATSURL  string
	SMTPHost string
	SMTPPort int
	SMTPFrom string
	SMTPPass string
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] no .env file, using environment variables")
	}

	cfg := Config{
		Port:             getEnv("PORT", "8080"),
		DBDSN:            getEnv("DB_DSN", "moqpools.db"),
		LogFile:          getEnv("LOG_FILE", "./moqpools.log"),
		CacheDir:         getEnv("CACHE_DIR", "./web/cache"),
		ScrapeLimit:      getEnvInt("SCRAPE_LIMIT", 40),
		BrowserThreshold: getEnvInt("BROWSER_THRESHOLD", 8),
		BrowserEnabled:   getEnvBool("BROWSER_ENABLED", false),
		ScrapeProxy:      getEnv("SCRAPE_PROXY", ""),
		ScrapeCookies:    getEnv("SCRAPE_COOKIES", ""),
		NavTimeout:       getEnvDuration("NAV_TIMEOUT", 45*time.Second),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		SnapshotTTL:      getEnvDuration("SNAPSHOT_TTL", 10*time.Minute),
		StripeKey:        getEnv("STRIPE_KEY", ""),
		NATSURL:          getEnv("NATS_URL", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnvInt("SMTP_PORT", 587),
		SMTPFrom:         getEnv("SMTP_EMAIL", ""),
		SMTPPass:         getEnv("SMTP_PASSWORD", ""),
	}

	log.Printf("[config] PORT=%s DB_DSN=%s CACHE_DIR=%s browser=%v redis=%q",
		cfg.Port, cfg.DBDSN, cfg.CacheDir, cfg.BrowserEnabled, cfg.RedisAddr)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
