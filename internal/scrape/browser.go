package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"moqpools/internal/domain"
	applog "moqpools/internal/log"
)

// BrowserAutomation renders JS-heavy search pages when the static fetch
// under-yields. Injected at startup; NoopBrowser stands in when headless
// scraping is disabled.
type BrowserAutomation interface {
	Collect(ctx context.Context, pageURL string, platform domain.Platform, limit int) ([]domain.ExternalListing, error)
}

type NoopBrowser struct{}

func (NoopBrowser) Collect(context.Context, string, domain.Platform, int) ([]domain.ExternalListing, error) {
	return nil, nil
}

// ChromeBrowser drives headless Chrome through chromedp.
type ChromeBrowser struct {
	Proxy      string        // optional proxy server
	Cookies    string        // optional "k=v; k2=v2" session cookies
	NavTimeout time.Duration // whole-run budget per context
}

const (
	maxScrollSteps = 10
	idleLimit      = 3 // consecutive steps with no new URLs before giving up
	settleDelay    = 2 * time.Second
	mobileUA       = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

// newContext creates a fresh chromedp context (one browser, one tab at a time).
func (b *ChromeBrowser) newContext(parent context.Context, mobile bool) (context.Context, context.CancelFunc) {
	ua, w, h := desktopUA, 1280, 900
	if mobile {
		ua, w, h = mobileUA, 390, 844
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("log-level", "3"),
		chromedp.UserAgent(ua),
		chromedp.WindowSize(w, h),
	)
	if b.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(b.Proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	return ctx, func() {
		cancelCtx()
		cancelAlloc()
	}
}

// Collect renders pageURL, scrolls and pages through results, and re-parses
// the live DOM after each step. A mobile-viewport pass is attempted when the
// desktop context under-yields.
func (b *ChromeBrowser) Collect(ctx context.Context, pageURL string, platform domain.Platform, limit int) ([]domain.ExternalListing, error) {
	listings, err := b.collectWith(ctx, pageURL, platform, limit, false)
	if err != nil {
		applog.Error(nil, "scrape.browser.desktop", err, map[string]any{"url": pageURL})
	}
	if len(listings) < limit/2 {
		more, merr := b.collectWith(ctx, pageURL, platform, limit, true)
		if merr != nil {
			applog.Error(nil, "scrape.browser.mobile", merr, map[string]any{"url": pageURL})
		}
		seen := make(map[string]bool, len(listings))
		for _, l := range listings {
			seen[l.URL] = true
		}
		for _, l := range more {
			if len(listings) >= limit {
				break
			}
			if !seen[l.URL] {
				seen[l.URL] = true
				listings = append(listings, l)
			}
		}
	}
	if len(listings) == 0 && err != nil {
		return nil, err
	}
	return listings, nil
}

func (b *ChromeBrowser) collectWith(parent context.Context, pageURL string, platform domain.Platform, limit int, mobile bool) ([]domain.ExternalListing, error) {
	prof := profileFor(platform)
	if prof == nil {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}

	ctx, cancel := b.newContext(parent, mobile)
	defer cancel()
	timeout := b.NavTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	if err := b.navigate(ctx, pageURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	seen := make(map[string]bool)
	var listings []domain.ExternalListing
	idle := 0

	for step := 0; step < maxScrollSteps && len(listings) < limit; step++ {
		var html string
		if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
			// Treat as "this attempt produced nothing"; keep what we have.
			break
		}
		added := 0
		for _, l := range ParseListings([]byte(html), pageURL, platform, limit) {
			if len(listings) >= limit {
				break
			}
			if !seen[l.URL] {
				seen[l.URL] = true
				listings = append(listings, l)
				added++
			}
		}
		if added == 0 {
			idle++
			if idle >= idleLimit {
				break
			}
		} else {
			idle = 0
		}

		b.advance(ctx, prof)
	}
	return listings, nil
}

// navigate opens the page, first seeding session cookies on the site origin
// when configured (session-gated sites).
func (b *ChromeBrowser) navigate(ctx context.Context, pageURL string) error {
	if b.Cookies != "" {
		if origin := originOf(pageURL); origin != "" {
			if err := chromedp.Run(ctx,
				chromedp.Navigate(origin),
				chromedp.Evaluate(cookieScript(b.Cookies), nil),
			); err != nil {
				return err
			}
		}
	}
	return chromedp.Run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(settleDelay),
	)
}

// advance scrolls to the bottom and clicks the first visible load-more/next
// control. The target pages settle via fixed delays, not DOM-ready signals.
func (b *ChromeBrowser) advance(ctx context.Context, prof *profile) {
	_ = chromedp.Run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(settleDelay),
	)
	for _, sel := range prof.LoadMoreSels {
		var clicked bool
		err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(`
			(function() {
				var el = document.querySelector(%q);
				if (el) { el.click(); return true; }
				return false;
			})()
		`, sel), &clicked))
		if err == nil && clicked {
			_ = chromedp.Run(ctx, chromedp.Sleep(settleDelay))
			return
		}
	}
}

func cookieScript(cookies string) string {
	var sb strings.Builder
	sb.WriteString("(function(){")
	for _, pair := range strings.Split(cookies, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		fmt.Fprintf(&sb, "document.cookie = %q;", pair+"; path=/")
	}
	sb.WriteString("})()")
	return sb.String()
}

func originOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}
