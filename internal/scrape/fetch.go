package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"moqpools/internal/domain"
)

// maxBodyBytes bounds how much of a search page is read into memory.
const maxBodyBytes = 4 << 20

// FetchHTML GETs a source-site page with browser-mimicking headers.
func FetchHTML(ctx context.Context, client *http.Client, pageURL string, platform domain.Platform) ([]byte, error) {
	prof := profileFor(platform)
	if prof == nil {
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", prof.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", prof.Referer)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return body, nil
}

// SearchURL builds the platform's search page URL for a query.
func SearchURL(platform domain.Platform, query string) (string, error) {
	prof := profileFor(platform)
	if prof == nil {
		return "", fmt.Errorf("unknown platform %q", platform)
	}
	return prof.SearchURL(query), nil
}
