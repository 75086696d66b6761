package post

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/net/html"
)

// wirePost mirrors the origin's post object. Both the nested
// {"post": {"current": {...}}} envelope and a flat object decode into it.
type wirePost struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	CustomExcerpt   *string `json:"custom_excerpt"`
	Excerpt         *string `json:"excerpt"`
	HTML            *string `json:"html"`
	FeatureImage    *string `json:"feature_image"`
	FeatureImageAlt *string `json:"feature_image_alt"`
	Visibility      string  `json:"visibility"`
	Status          string  `json:"status"`
	PublishedAt     *string `json:"published_at"`
	UpdatedAt       *string `json:"updated_at"`
	Tags            []Tag   `json:"tags"`
}

type wireEnvelope struct {
	Post *struct {
		Current *wirePost `json:"current"`
	} `json:"post"`
}

// Normalize turns a schema-valid webhook body into one Inbound. Image
// candidates are the featured image first (with its alt text), then the
// body's <img> tags in document order, kept same-origin with the post's
// canonical URL and deduplicated.
func Normalize(payload []byte) (*Inbound, error) {
	var env wireEnvelope
	_ = json.Unmarshal(payload, &env)

	var wp wirePost
	if env.Post != nil && env.Post.Current != nil {
		wp = *env.Post.Current
	} else if err := json.Unmarshal(payload, &wp); err != nil {
		return nil, fmt.Errorf("decode post: %w", err)
	}
	if strings.TrimSpace(wp.ID) == "" {
		return nil, fmt.Errorf("decode post: missing id")
	}

	in := &Inbound{
		ID:           strings.TrimSpace(wp.ID),
		Title:        strings.TrimSpace(wp.Title),
		Excerpt:      pickExcerpt(wp),
		CanonicalURL: strings.TrimSpace(wp.URL),
		Tags:         wp.Tags,
		Visibility:   wp.Visibility,
		Status:       wp.Status,
		PublishedAt:  parseTime(wp.PublishedAt),
		UpdatedAt:    parseTime(wp.UpdatedAt),
	}
	in.Images = selectImages(wp, in.CanonicalURL)
	return in, nil
}

func pickExcerpt(wp wirePost) string {
	if wp.CustomExcerpt != nil && strings.TrimSpace(*wp.CustomExcerpt) != "" {
		return strings.TrimSpace(*wp.CustomExcerpt)
	}
	if wp.Excerpt != nil {
		return strings.TrimSpace(*wp.Excerpt)
	}
	return ""
}

func parseTime(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
		if t, err := time.Parse(layout, strings.TrimSpace(*s)); err == nil {
			return t
		}
	}
	return time.Time{}
}

// selectImages builds the candidate list: featured first, then body images in
// document order. Cross-origin URLs are dropped when the post has a
// canonical URL; without one there is nothing to compare against and every
// image passes.
func selectImages(wp wirePost, canonicalURL string) []Image {
	host := hostOf(canonicalURL)

	var out []Image
	seen := map[string]struct{}{}
	add := func(img Image) {
		u := strings.TrimSpace(img.URL)
		if u == "" {
			return
		}
		if host != "" && !sameHost(u, host) {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		img.URL = u
		out = append(out, img)
	}

	if wp.FeatureImage != nil {
		feat := Image{URL: *wp.FeatureImage}
		if wp.FeatureImageAlt != nil {
			feat.Alt = strings.TrimSpace(*wp.FeatureImageAlt)
		}
		add(feat)
	}
	if wp.HTML != nil {
		for _, img := range bodyImages(*wp.HTML) {
			add(img)
		}
	}
	return out
}

// bodyImages extracts <img> tags in document order. The tokenizer tolerates
// the fragment soup CMS editors produce; a parse hiccup just ends the scan.
func bodyImages(body string) []Image {
	var out []Image
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "img" || !hasAttr {
			continue
		}
		var img Image
		for {
			k, v, more := z.TagAttr()
			switch string(k) {
			case "src":
				img.URL = string(v)
			case "alt":
				img.Alt = string(v)
			}
			if !more {
				break
			}
		}
		if img.URL != "" {
			out = append(out, img)
		}
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

func sameHost(raw, host string) bool {
	return hostOf(raw) == host
}
