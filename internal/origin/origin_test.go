package origin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/wpowiertowski/posse/internal/config"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

func newTestClient(t *testing.T, siteURL string) *Client {
	t.Helper()
	keyFile := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(keyFile, []byte("contentkey\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	c, err := New(config.OriginConfig{SiteURL: siteURL, KeyFile: keyFile, Timeout: "5s"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestPostByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "contentkey" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/ghost/api/content/posts/68b1c2d3e4f5a6b7c8d9e0f1/":
			w.Write([]byte(`{"posts":[{
				"id": "68b1c2d3e4f5a6b7c8d9e0f1",
				"title": "Caught up",
				"url": "https://blog.example.com/caught-up/",
				"custom_excerpt": "late but here",
				"tags": [{"name": "#golang", "slug": "golang"}]
			}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	p, err := c.PostByID(context.Background(), "68b1c2d3e4f5a6b7c8d9e0f1")
	if err != nil {
		t.Fatalf("PostByID: %v", err)
	}
	if p.Title != "Caught up" || p.Text() != "late but here" {
		t.Fatalf("unexpected post: %+v", p)
	}
	if len(p.Tags) != 1 || p.Tags[0].Slug != "golang" {
		t.Fatalf("tags not included: %+v", p.Tags)
	}

	if _, err := c.PostByID(context.Background(), "ffffffffffffffffffffffff"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing post: got %v, want ErrNotFound", err)
	}
}
