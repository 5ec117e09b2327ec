package domain

// Platform identifies the B2B source site a listing was scraped from.
type Platform string

const (
	PlatformAlibaba     Platform = "ALIBABA"
	Platform1688        Platform = "1688"
	PlatformMadeInChina Platform = "MADE_IN_CHINA"
	PlatformIndiaMART   Platform = "INDIAMART"
)

var Platforms = []Platform{PlatformAlibaba, Platform1688, PlatformMadeInChina, PlatformIndiaMART}

func ValidPlatform(s string) bool {
	for _, p := range Platforms {
		if string(p) == s {
			return true
		}
	}
	return false
}

// ExternalListing is the ephemeral record produced by one scrape pass.
// It is upserted into a SavedListing row keyed by source URL.
type ExternalListing struct {
	Platform    Platform
	URL         string
	Title       string
	ImageURL    string
	PriceText   string  // free text, e.g. "US $1.20-4.50 / piece"
	PriceMin    float64 // parsed numeric minimum, 0 when unparsed
	Currency    string
	MOQText     string // free text, e.g. "MOQ: 500 pieces"
	MOQ         int    // parsed, 0 when unparsed or rejected as noise
	StoreName   string
	Description string
	Rating      float64
	OrderCount  int
}

// SavedListing is the persisted catalogue row, unique on source URL.
type SavedListing struct {
	ID          string  `db:"id"`
	URL         string  `db:"url"`
	Platform    string  `db:"platform"`
	Title       string  `db:"title"`
	ImageURL    string  `db:"image_url"`
	CachedImage string  `db:"cached_image"` // local /cache path, empty when uncached
	PriceText   string  `db:"price_text"`
	PriceMin    float64 `db:"price_min"`
	Currency    string  `db:"currency"`
	MOQText     string  `db:"moq_text"`
	MOQ         int     `db:"moq"`
	StoreName   string  `db:"store_name"`
	Description string  `db:"description"`
	Rating      float64 `db:"rating"`
	OrderCount  int     `db:"order_count"`
	TagsJSON    string  `db:"tags_json"`
	SearchTerms string  `db:"search_terms"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}
