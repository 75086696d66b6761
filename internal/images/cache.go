package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/wpowiertowski/posse/internal/post"
	"github.com/wpowiertowski/posse/internal/social"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

const (
	defaultMaxPerPost   = 4
	defaultFetchTimeout = 20 * time.Second
	maxImageBytes       = 20 << 20
)

// Cache downloads images into a directory keyed by the SHA-256 of the source
// URL. A second dispatch of the same post, or a split sequence reusing the
// same image, hits the cached file instead of the network.
type Cache struct {
	dir     string
	max     int
	timeout time.Duration
	http    *http.Client
	desc    *Describer
	log     logx.Logger
}

// Options configures a Cache. Zero values fall back to defaults.
type Options struct {
	Dir          string
	MaxPerPost   int
	FetchTimeout time.Duration
	Describer    *Describer
}

func NewCache(opt Options, log logx.Logger) (*Cache, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	dir := opt.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "posse-images")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image cache dir: %w", err)
	}
	max := opt.MaxPerPost
	if max <= 0 {
		max = defaultMaxPerPost
	}
	timeout := opt.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Cache{
		dir:     dir,
		max:     max,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		desc:    opt.Describer,
		log:     log,
	}, nil
}

// Materialize downloads a post's eligible images and returns them as local
// media, capped at the per-post maximum. A failed download drops that image
// and keeps the rest; an image without alt text is offered to the describer
// when one is configured. The returned media reference cache files; release
// them with Evict after the dispatch completes.
func (c *Cache) Materialize(ctx context.Context, imgs []post.Image) []social.Media {
	var out []social.Media
	for _, img := range imgs {
		if len(out) >= c.max {
			break
		}
		p, err := c.fetch(ctx, img.URL)
		if err != nil {
			c.log.Warn("image download failed",
				logx.String("url", img.URL), logx.Err(err))
			continue
		}
		alt := img.Alt
		if alt == "" && c.desc != nil {
			alt = c.desc.Describe(ctx, p)
		}
		out = append(out, social.Media{Path: p, Alt: alt})
	}
	return out
}

// Evict removes the cache files behind a dispatch's media. Safe to call with
// media that were already evicted.
func (c *Cache) Evict(media []social.Media) {
	for _, m := range media {
		if m.Path == "" || filepath.Dir(m.Path) != c.dir {
			continue
		}
		if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
			c.log.Warn("image cache eviction failed",
				logx.String("path", m.Path), logx.Err(err))
		}
	}
}

func (c *Cache) fetch(ctx context.Context, rawURL string) (string, error) {
	dst := filepath.Join(c.dir, cacheKey(rawURL))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("fetch %s: http=%d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return "", err
	}
	_, err = io.Copy(tmp, io.LimitReader(resp.Body, maxImageBytes))
	cerr := tmp.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dst, nil
}

// cacheKey derives the cache file name from the source URL: SHA-256 of the
// full URL plus the URL path's extension, so platform uploads keep a usable
// file name.
func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	name := hex.EncodeToString(sum[:])
	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			name += ext
		}
	}
	return name
}
