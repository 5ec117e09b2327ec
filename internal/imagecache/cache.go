// Package imagecache stores external product images in a content-addressed
// on-disk cache keyed by the SHA-1 of the normalized source URL. It either
// returns a verified local path to genuine image bytes or a typed rejection.
package imagecache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	applog "moqpools/internal/log"
)

// Typed rejection reasons. Callers use these to pick a fallback image rather
// than failing a whole page.
var (
	ErrBadProtocol    = errors.New("imagecache: unsupported protocol")
	ErrBadHost        = errors.New("imagecache: host not allow-listed")
	ErrPlaceholder    = errors.New("imagecache: known placeholder image")
	ErrTooSmall       = errors.New("imagecache: payload below byte-size floor")
	ErrTinyImage      = errors.New("imagecache: decoded dimensions below minimum")
	ErrBlockedContent = errors.New("imagecache: content hash block-listed")
	ErrNotAnImage     = errors.New("imagecache: bytes are not a supported image format")
	ErrTooLarge       = errors.New("imagecache: payload exceeds byte-size ceiling")
)

const (
	defaultMinBytes = 2048
	defaultMinSide  = 120
	maxImageBytes   = 8 << 20
)

type Options struct {
	Dir           string
	AllowedHosts  []string // host suffixes, e.g. "alicdn.com"
	Placeholders  []string // URL substrings of known placeholder graphics
	HeadersFor    func(host string) map[string]string
	Transcoder    Transcoder
	Client        *http.Client
	MinBytes      int
	MinSide       int
	BlockedHashes []string // SHA-1 hex of placeholder/logo bytes served from varying URLs
}

type Cache struct {
	dir          string
	allowedHosts []string
	placeholders []string
	headersFor   func(host string) map[string]string
	transcoder   Transcoder
	client       *http.Client
	minBytes     int
	minSide      int
	blocked      map[string]bool
}

func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("imagecache: dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagecache: create dir: %w", err)
	}
	c := &Cache{
		dir:          opts.Dir,
		allowedHosts: opts.AllowedHosts,
		placeholders: opts.Placeholders,
		headersFor:   opts.HeadersFor,
		transcoder:   opts.Transcoder,
		client:       opts.Client,
		minBytes:     opts.MinBytes,
		minSide:      opts.MinSide,
		blocked:      make(map[string]bool, len(opts.BlockedHashes)),
	}
	if c.transcoder == nil {
		c.transcoder = NoopTranscoder{}
	}
	if c.client == nil {
		c.client = http.DefaultClient
	}
	if c.minBytes <= 0 {
		c.minBytes = defaultMinBytes
	}
	if c.minSide <= 0 {
		c.minSide = defaultMinSide
	}
	for _, h := range opts.BlockedHashes {
		c.blocked[strings.ToLower(h)] = true
	}
	return c, nil
}

// Dir returns the backing directory, for the static file route.
func (c *Cache) Dir() string { return c.dir }

// BlockContentHash adds a SHA-1 hex digest to the content block-list.
func (c *Cache) BlockContentHash(hash string) {
	c.blocked[strings.ToLower(hash)] = true
}

// Fetch returns the public /cache path for an external image URL, fetching
// and persisting it on first use. normalizeJPEG forces JPEG storage for
// platforms whose CDNs mix formats.
//
// Two concurrent fetches of the same uncached URL may race to write the same
// hash path; both produce equivalent bytes, so last writer wins.
func (c *Cache) Fetch(ctx context.Context, rawURL string, normalizeJPEG bool) (string, error) {
	u, err := c.admit(rawURL)
	if err != nil {
		return "", err
	}
	key := urlKey(u)

	if path, ok := c.reuse(key, normalizeJPEG); ok {
		return path, nil
	}

	body, err := c.download(ctx, u)
	if err != nil {
		return "", err
	}
	return c.store(key, body, normalizeJPEG)
}

// admit applies the pre-network rejections: protocol, host allow-list,
// placeholder URL patterns.
func (c *Cache) admit(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadProtocol, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrBadProtocol, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	allowed := false
	for _, suffix := range c.allowedHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %q", ErrBadHost, host)
	}
	lower := strings.ToLower(u.String())
	for _, pat := range c.placeholders {
		if strings.Contains(lower, pat) {
			return nil, fmt.Errorf("%w: %s", ErrPlaceholder, rawURL)
		}
	}
	return u, nil
}

// reuse returns an existing cache entry when its header bytes still match its
// extension. A corrupted entry is deleted so the caller re-fetches.
func (c *Cache) reuse(key string, normalizeJPEG bool) (string, bool) {
	for _, ext := range supportedExts {
		name := key + "." + ext
		full := filepath.Join(c.dir, name)
		b, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		if DetectImageExt(b) != ext {
			applog.Security(nil, "imagecache.corrupt", map[string]any{"file": name})
			_ = os.Remove(full)
			continue
		}
		if normalizeJPEG && ext != "jpg" {
			if out, err := transcodeWithTimeout(c.transcoder, b); err == nil && DetectImageExt(out) == "jpg" {
				jpgName := key + ".jpg"
				if err := os.WriteFile(filepath.Join(c.dir, jpgName), out, 0o644); err == nil {
					_ = os.Remove(full)
					return "/cache/" + jpgName, true
				}
			}
			// Transcode failed; the valid original still serves.
		}
		return "/cache/" + name, true
	}
	return "", false
}

func (c *Cache) download(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.headersFor != nil {
		for k, v := range c.headersFor(u.Hostname()) {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagecache: fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagecache: fetch %s: status %d", u, resp.StatusCode)
	}
	// Read one byte past the ceiling so a capped read is detectable: a
	// truncated image would pass header checks and persist corrupt.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxImageBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, maxImageBytes)
	}
	return body, nil
}

// store validates payload bytes and writes the content-addressed file.
func (c *Cache) store(key string, body []byte, normalizeJPEG bool) (string, error) {
	if len(body) < c.minBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooSmall, len(body))
	}
	sum := sha1.Sum(body)
	if c.blocked[hex.EncodeToString(sum[:])] {
		return "", ErrBlockedContent
	}
	ext := DetectImageExt(body)
	if ext == "" {
		return "", ErrNotAnImage
	}
	// UI icons and badges masquerade as product photos; reject by decoded size.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(body)); err == nil {
		if cfg.Width < c.minSide || cfg.Height < c.minSide {
			return "", fmt.Errorf("%w: %dx%d", ErrTinyImage, cfg.Width, cfg.Height)
		}
	}

	if normalizeJPEG && ext != "jpg" {
		out, err := transcodeWithTimeout(c.transcoder, body)
		if err == nil && DetectImageExt(out) == "jpg" {
			body, ext = out, "jpg"
		} else if err != nil {
			applog.Error(nil, "imagecache.transcode", err, map[string]any{"key": key})
		}
	}

	name := key + "." + ext
	if err := os.WriteFile(filepath.Join(c.dir, name), body, 0o644); err != nil {
		return "", fmt.Errorf("imagecache: write: %w", err)
	}
	return "/cache/" + name, nil
}

// urlKey hashes the normalized source URL: fragment dropped, host lowercased.
func urlKey(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.Host = strings.ToLower(n.Host)
	sum := sha1.Sum([]byte(n.String()))
	return hex.EncodeToString(sum[:])
}
