// Package origin is a thin read-only client for the CMS content API. The
// relay uses it for catch-up dispatches, where the canonical post data has
// to be fetched instead of arriving on a webhook.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wpowiertowski/posse/internal/config"
	"github.com/wpowiertowski/posse/internal/post"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// ErrNotFound reports that the origin has no post with the requested id.
var ErrNotFound = errors.New("origin: post not found")

const defaultTimeout = 10 * time.Second

// Client reads published posts from the origin site's content API.
type Client struct {
	base string
	key  string
	http *http.Client
	log  logx.Logger
}

// New builds the client from the origin section of the config. The API key
// is read from the configured secret file at startup.
func New(cfg config.OriginConfig, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	key, err := readKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	timeout, err := config.ParseDurationOrDefault("origin.timeout", cfg.Timeout, defaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("origin timeout: %w", err)
	}
	return &Client{
		base: strings.TrimRight(cfg.SiteURL, "/"),
		key:  key,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// PostByID fetches one post with its tags and normalizes it into the same
// inbound shape the webhook produces.
func (c *Client) PostByID(ctx context.Context, id string) (*post.Inbound, error) {
	q := url.Values{}
	q.Set("key", c.key)
	q.Set("include", "tags")

	u := c.base + "/ghost/api/content/posts/" + url.PathEscape(id) + "/?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("origin: http=%d", resp.StatusCode)
	}

	var out struct {
		Posts []json.RawMessage `json:"posts"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("origin decode: %w", err)
	}
	if len(out.Posts) == 0 {
		return nil, ErrNotFound
	}

	// The content API returns a flat post object, which the webhook
	// normalizer already understands.
	return post.Normalize(out.Posts[0])
}

func readKey(path string) (string, error) {
	if path == "" {
		return "", errors.New("origin: key_file is not configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("origin: read key file: %w", err)
	}
	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("origin: key file %s is empty", path)
	}
	return key, nil
}
