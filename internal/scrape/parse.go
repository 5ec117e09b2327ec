package scrape

import (
	"bytes"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"moqpools/internal/domain"
)

var (
	rePrice = regexp.MustCompile(`(US\s*\$|\$|¥|￥|₹|€|£|RMB\s*|Rs\.?\s*)\s*([\d,]+(?:\.\d+)?)`)
	reMOQ   = regexp.MustCompile(`(?i)(?:MOQ|Min\.?\s*Order(?:\s*Quantity)?)\s*[:\-]?\s*([\d,]+)`)
	// Bare quantity followed by a unit noun, e.g. "500 pieces (Min. Order)".
	reMOQUnit  = regexp.MustCompile(`(?i)([\d,]+)\s*(?:pieces?|pcs|sets?|units?|pairs?|bags?|boxes|cartons?)`)
	reRating   = regexp.MustCompile(`([0-5]\.\d{1,2})\s*(?:/\s*5)?`)
	reOrders   = regexp.MustCompile(`(?i)([\d,]+)\+?\s*(?:orders?|sold)`)
	reSpace    = regexp.MustCompile(`\s+`)
	lazyAttrs  = []string{"data-src", "data-lazy-src", "data-original", "data-image", "data-lazyload-src"}
	titleAttrs = []string{"title", "data-title", "aria-label"}
)

// MOQ values outside this window are treated as mis-parsed noise (dates,
// item numbers) rather than real minimum order quantities.
const maxSaneMOQ = 100000

// ParseMOQ extracts a minimum order quantity from free text. The boolean is
// false when nothing plausible was found or the value fails the sanity bound.
func ParseMOQ(text string) (int, bool) {
	m := reMOQ.FindStringSubmatch(text)
	if m == nil {
		m = reMOQUnit.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil || n <= 0 || n > maxSaneMOQ {
		return 0, false
	}
	return n, true
}

// ParsePrice extracts the minimum currency-prefixed price from free text.
func ParsePrice(text string) (float64, string) {
	matches := rePrice.FindAllStringSubmatch(text, -1)
	min, currency := 0.0, ""
	for _, m := range matches {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil || v <= 0 {
			continue
		}
		if min == 0 || v < min {
			min = v
			currency = currencyFor(m[1])
		}
	}
	return min, currency
}

func currencyFor(symbol string) string {
	switch strings.TrimSpace(symbol) {
	case "¥", "￥", "RMB":
		return "CNY"
	case "₹", "Rs", "Rs.":
		return "INR"
	case "€":
		return "EUR"
	case "£":
		return "GBP"
	default:
		return "USD"
	}
}

// ParseListings extracts up to limit listings from a raw HTML document.
// It is a best-effort extractor: an unrecognized page yields an empty slice,
// never an error.
func ParseListings(html []byte, baseURL string, platform domain.Platform, limit int) []domain.ExternalListing {
	prof := profileFor(platform)
	if prof == nil || limit <= 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]bool)
	var out []domain.ExternalListing

	for _, sel := range prof.CardSelectors {
		doc.Find(sel).EachWithBreak(func(_ int, card *goquery.Selection) bool {
			if l, ok := extractCard(card, base, prof); ok && !seen[l.URL] {
				seen[l.URL] = true
				out = append(out, l)
			}
			return len(out) < limit
		})
		if len(out) > 0 {
			return out
		}
	}

	// No card selector matched anything: scan product-path anchors and derive
	// the same fields from each anchor's containing block.
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !prof.ProductPath.MatchString(href) || strings.TrimSpace(a.Text()) == "" {
			return true
		}
		block := a.Closest("li,article,div")
		if block.Length() == 0 {
			block = a
		}
		if l, ok := extractCard(block, base, prof); ok && !seen[l.URL] {
			seen[l.URL] = true
			out = append(out, l)
		}
		return len(out) < limit
	})
	return out
}

func extractCard(card *goquery.Selection, base *url.URL, prof *profile) (domain.ExternalListing, bool) {
	link := card.Find("a[href]").FilterFunction(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		return prof.ProductPath.MatchString(href)
	}).First()
	if link.Length() == 0 {
		if card.Is("a[href]") {
			link = card
		} else {
			link = card.Find("a[href]").First()
		}
	}
	href, _ := link.Attr("href")
	productURL := resolveURL(base, href)
	if productURL == "" {
		return domain.ExternalListing{}, false
	}

	title := extractTitle(card, link)
	if title == "" {
		return domain.ExternalListing{}, false
	}

	text := flattenText(card)
	priceText, moqText := sliceAround(text, rePrice), sliceAround(text, reMOQ)
	priceMin, currency := ParsePrice(text)
	moq, _ := ParseMOQ(text)

	l := domain.ExternalListing{
		Platform:  prof.Platform,
		URL:       productURL,
		Title:     title,
		ImageURL:  extractImage(card, base),
		PriceText: priceText,
		PriceMin:  priceMin,
		Currency:  currency,
		MOQText:   moqText,
		MOQ:       moq,
		StoreName: extractStore(card, prof),
	}
	if m := reRating.FindStringSubmatch(text); m != nil {
		l.Rating, _ = strconv.ParseFloat(m[1], 64)
	}
	if m := reOrders.FindStringSubmatch(text); m != nil {
		l.OrderCount, _ = strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	}
	return l, true
}

// extractTitle tries, in order: a title-like attribute, a heading, link text.
func extractTitle(card, link *goquery.Selection) string {
	for _, attr := range titleAttrs {
		if v, ok := link.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if h := card.Find("h1,h2,h3,h4").First(); h.Length() > 0 {
		if t := strings.TrimSpace(h.Text()); t != "" {
			return reSpace.ReplaceAllString(t, " ")
		}
	}
	return reSpace.ReplaceAllString(strings.TrimSpace(link.Text()), " ")
}

// extractImage prefers lazy-load attributes over src, resolves relative URLs,
// and drops data: URIs and known placeholder graphics.
func extractImage(card *goquery.Selection, base *url.URL) string {
	var found string
	card.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		for _, attr := range lazyAttrs {
			if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
				found = v
				return false
			}
		}
		if v, ok := img.Attr("src"); ok && strings.TrimSpace(v) != "" {
			found = v
			return false
		}
		return true
	})
	if found == "" || strings.HasPrefix(found, "data:") || IsPlaceholderImage(found) {
		return ""
	}
	return resolveURL(base, found)
}

func extractStore(card *goquery.Selection, prof *profile) string {
	for _, sel := range prof.StoreSels {
		if s := strings.TrimSpace(card.Find(sel).First().Text()); s != "" {
			return reSpace.ReplaceAllString(s, " ")
		}
	}
	return ""
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "data:") {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.IsAbs() {
		return u.String()
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func flattenText(s *goquery.Selection) string {
	return reSpace.ReplaceAllString(strings.TrimSpace(s.Text()), " ")
}

// sliceAround keeps a short free-text window around the first regex match so
// the original wording survives alongside the parsed number.
func sliceAround(text string, re *regexp.Regexp) string {
	loc := re.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	start, end := loc[0], loc[1]
	if end-start > 60 {
		end = start + 60
	}
	return strings.TrimSpace(text[start:end])
}
