package scrape

import (
	"testing"

	"moqpools/internal/domain"
)

func TestParseMOQ(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"MOQ: 500 pieces", 500, true},
		{"Min. Order: 2 sets", 2, true},
		{"100 pieces (Min. Order)", 100, true},
		{"MOQ: 1,000", 1000, true},
		{"MOQ 999999", 0, false},     // beyond the sanity bound
		{"Item no. 20240501", 0, false}, // bare number, no unit
		{"great quality product", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseMOQ(c.in)
		if got != c.want || ok != c.ok {
			t.Errorf("ParseMOQ(%q) = %d,%v want %d,%v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestParsePrice(t *testing.T) {
	cases := []struct {
		in       string
		want     float64
		currency string
	}{
		{"US $1.20-4.50 / piece", 1.20, "USD"},
		{"$12.99", 12.99, "USD"},
		{"¥ 3.50", 3.50, "CNY"},
		{"₹ 1,200 per unit", 1200, "INR"},
		{"contact supplier", 0, ""},
	}
	for _, c := range cases {
		got, cur := ParsePrice(c.in)
		if got != c.want || cur != c.currency {
			t.Errorf("ParsePrice(%q) = %v,%q want %v,%q", c.in, got, cur, c.want, c.currency)
		}
	}
}

const alibabaCards = `<html><body>
<div class="fy23-search-card">
  <a href="/product-detail/electric-kettle_1600.html" title="Electric Kettle 1.8L Stainless">link</a>
  <img src="data:image/gif;base64,R0lGOD" data-src="//sc04.alicdn.com/kf/kettle.jpg">
  <span>US $4.20 - 6.80 / piece</span>
  <span>MOQ: 500 pieces</span>
  <span>4.8/5</span>
  <span>1,214 orders</span>
  <span class="search-card-e-company">Foshan Kettle Co.</span>
</div>
<div class="fy23-search-card">
  <a href="/product-detail/electric-kettle_1600.html" title="Electric Kettle 1.8L Stainless">duplicate</a>
</div>
<div class="fy23-search-card">
  <a href="/product-detail/solar-lamp_2200.html" title="Solar Garden Lamp">link</a>
  <img src="https://s.alicdn.com/imgextra/blank.gif">
  <span>US $2.00 / piece</span>
</div>
</body></html>`

func TestParseListingsCards(t *testing.T) {
	got := ParseListings([]byte(alibabaCards), "https://www.alibaba.com/trade/search?SearchText=kettle", domain.PlatformAlibaba, 40)
	if len(got) != 2 {
		t.Fatalf("want 2 listings after dedupe, got %d", len(got))
	}

	k := got[0]
	if k.URL != "https://www.alibaba.com/product-detail/electric-kettle_1600.html" {
		t.Errorf("bad url %q", k.URL)
	}
	if k.Title != "Electric Kettle 1.8L Stainless" {
		t.Errorf("bad title %q", k.Title)
	}
	// lazy attr wins over the data: URI in src, protocol-relative resolved
	if k.ImageURL != "https://sc04.alicdn.com/kf/kettle.jpg" {
		t.Errorf("bad image %q", k.ImageURL)
	}
	if k.MOQ != 500 {
		t.Errorf("want MOQ 500, got %d", k.MOQ)
	}
	if k.PriceMin != 4.20 || k.Currency != "USD" {
		t.Errorf("want 4.20 USD, got %v %s", k.PriceMin, k.Currency)
	}
	if k.StoreName != "Foshan Kettle Co." {
		t.Errorf("bad store %q", k.StoreName)
	}
	if k.Rating != 4.8 {
		t.Errorf("want rating 4.8, got %v", k.Rating)
	}
	if k.OrderCount != 1214 {
		t.Errorf("want 1214 orders, got %d", k.OrderCount)
	}

	// placeholder graphic must not survive as an image URL
	if got[1].ImageURL != "" {
		t.Errorf("placeholder image kept: %q", got[1].ImageURL)
	}
}

func TestParseListingsAnchorFallback(t *testing.T) {
	html := `<html><body><ul>
	  <li><a href="https://www.alibaba.com/product-detail/usb-fan_1.html">Mini USB Fan</a><span>US $0.90</span></li>
	  <li><a href="/about-us">About us</a></li>
	</ul></body></html>`
	got := ParseListings([]byte(html), "https://www.alibaba.com/trade/search?SearchText=fan", domain.PlatformAlibaba, 40)
	if len(got) != 1 {
		t.Fatalf("want exactly 1 listing from fallback, got %d", len(got))
	}
	if got[0].Title != "Mini USB Fan" || got[0].PriceMin != 0.90 {
		t.Errorf("bad fallback listing: %+v", got[0])
	}
}

func TestParseListingsLimit(t *testing.T) {
	html := `<html><body>
	<div class="prod-item"><a href="/china-widget/product/one.html" title="Widget One">x</a></div>
	<div class="prod-item"><a href="/china-widget/product/two.html" title="Widget Two">x</a></div>
	<div class="prod-item"><a href="/china-widget/product/three.html" title="Widget Three">x</a></div>
	</body></html>`
	got := ParseListings([]byte(html), "https://www.made-in-china.com/productdirectory.do?word=widget", domain.PlatformMadeInChina, 2)
	if len(got) != 2 {
		t.Fatalf("want limit of 2, got %d", len(got))
	}
}

func TestParseListingsUnknownPage(t *testing.T) {
	got := ParseListings([]byte("<html><body><p>captcha</p></body></html>"), "https://x.test", domain.Platform1688, 10)
	if len(got) != 0 {
		t.Fatalf("want no listings from unrecognized page, got %d", len(got))
	}
}

func TestIsPlaceholderImage(t *testing.T) {
	if !IsPlaceholderImage("https://s.alicdn.com/common/img/space.png") {
		t.Error("space.png should be a placeholder")
	}
	if IsPlaceholderImage("https://sc04.alicdn.com/kf/kettle.jpg") {
		t.Error("real product image flagged as placeholder")
	}
}
