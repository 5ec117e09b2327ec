package scrape

import (
	"net/url"
	"regexp"
	"strings"

	"moqpools/internal/domain"
)

// profile captures the per-site heuristics: where listing cards live, what a
// product link looks like, and which image URLs are known placeholder junk.
type profile struct {
	Platform      domain.Platform
	SearchURL     func(query string) string
	Referer       string
	UserAgent     string
	CardSelectors []string // tried in priority order
	ProductPath   *regexp.Regexp
	StoreSels     []string
	LoadMoreSels  []string // rendered-DOM controls for the browser fallback
	NormalizeJPEG bool     // platform whose CDN mixes formats; cache as JPEG
}

const desktopUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var profiles = map[domain.Platform]*profile{
	domain.PlatformAlibaba: {
		Platform: domain.PlatformAlibaba,
		SearchURL: func(q string) string {
			return "https://www.alibaba.com/trade/search?SearchText=" + url.QueryEscape(q)
		},
		Referer:   "https://www.alibaba.com/",
		UserAgent: desktopUA,
		CardSelectors: []string{
			".fy23-search-card",
			".J-search-card",
			".organic-offer-wrapper",
			".organic-gallery-offer-outter",
		},
		ProductPath:  regexp.MustCompile(`(?i)/product-detail/|/p-detail/`),
		StoreSels:    []string{".search-card-e-company", ".supplier-name", ".company-name"},
		LoadMoreSels: []string{`a[rel="next"]`, `.pagination-next`, `button.load-more`},
	},
	domain.Platform1688: {
		Platform: domain.Platform1688,
		SearchURL: func(q string) string {
			return "https://s.1688.com/selloffer/offer_search.htm?keywords=" + url.QueryEscape(q)
		},
		Referer:   "https://www.1688.com/",
		UserAgent: desktopUA,
		CardSelectors: []string{
			".space-offer-card-box",
			".offer-card-wrapper",
			".card-container",
		},
		ProductPath:   regexp.MustCompile(`(?i)detail\.1688\.com/offer/\d+`),
		StoreSels:     []string{".company-name", ".shop-name", ".seller-name"},
		LoadMoreSels:  []string{`.fui-next`, `a.next`, `button.load-more`},
		NormalizeJPEG: true,
	},
	domain.PlatformMadeInChina: {
		Platform: domain.PlatformMadeInChina,
		SearchURL: func(q string) string {
			return "https://www.made-in-china.com/productdirectory.do?word=" + url.QueryEscape(q)
		},
		Referer:   "https://www.made-in-china.com/",
		UserAgent: desktopUA,
		CardSelectors: []string{
			".prod-item",
			".list-node",
			".product-item",
		},
		ProductPath:  regexp.MustCompile(`(?i)(?:made-in-china\.com)?/(?:[a-z0-9-]+/)?product/`),
		StoreSels:    []string{".company-name", ".compnay-name", ".supplier"},
		LoadMoreSels: []string{`a.next`, `.pagination a[rel="next"]`},
	},
	domain.PlatformIndiaMART: {
		Platform: domain.PlatformIndiaMART,
		SearchURL: func(q string) string {
			return "https://dir.indiamart.com/search.mp?ss=" + url.QueryEscape(q)
		},
		Referer:   "https://www.indiamart.com/",
		UserAgent: desktopUA,
		CardSelectors: []string{
			".card",
			".prd-card",
			".lst-cl",
		},
		ProductPath:  regexp.MustCompile(`(?i)/proddetail/`),
		StoreSels:    []string{".companyname", ".cmpny-name", ".lcname"},
		LoadMoreSels: []string{`.showmoreresultsdiv`, `a.next`, `button.load-more`},
	},
}

func profileFor(p domain.Platform) *profile {
	return profiles[p]
}

// placeholderPatterns match stock "no image" graphics by host and path so they
// never reach the catalogue or the image cache.
var placeholderPatterns = []string{
	"/common/img/space.png",
	"spaceball.gif",
	"/imgextra/blank",
	"noimage",
	"img-not-found",
	"default-product",
}

// IsPlaceholderImage reports whether an image URL matches a known placeholder path.
func IsPlaceholderImage(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, pat := range placeholderPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

// imageHosts is the CDN allow-list shared with the image cache.
var imageHosts = []string{
	"alicdn.com",
	"made-in-china.com",
	"micstatic.com",
	"imimg.com",
}

// ImageHosts returns the allow-listed CDN host suffixes for cached images.
func ImageHosts() []string { return append([]string(nil), imageHosts...) }

// ImagePlaceholders returns the placeholder URL patterns for the image cache.
func ImagePlaceholders() []string { return append([]string(nil), placeholderPatterns...) }

// ImageHeaders returns browser-mimicking fetch headers for an image host.
// Some CDNs reject requests without a plausible referer.
func ImageHeaders(host string) map[string]string {
	h := map[string]string{
		"User-Agent":      desktopUA,
		"Accept":          "image/avif,image/webp,image/png,image/jpeg,*/*",
		"Accept-Language": "en-US,en;q=0.9",
	}
	switch {
	case strings.HasSuffix(host, "alicdn.com"):
		h["Referer"] = "https://www.alibaba.com/"
	case strings.HasSuffix(host, "made-in-china.com"), strings.HasSuffix(host, "micstatic.com"):
		h["Referer"] = "https://www.made-in-china.com/"
	case strings.HasSuffix(host, "imimg.com"):
		h["Referer"] = "https://www.indiamart.com/"
	}
	return h
}

// NormalizeJPEG reports whether a platform's images should be cached as JPEG.
func NormalizeJPEG(p domain.Platform) bool {
	if prof := profiles[p]; prof != nil {
		return prof.NormalizeJPEG
	}
	return false
}
