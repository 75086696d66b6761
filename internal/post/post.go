// Package post holds the normalized inbound post model. One Inbound is built
// per webhook call and is immutable from then on; the queue owns it until
// dispatch completes.
package post

import (
	"strings"
	"time"
)

// Tag is a content tag. Names beginning with "#" become outgoing hashtags;
// slugs drive account filtering.
type Tag struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Image is a syndication candidate extracted from the post body.
type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// Inbound is the normalized post event.
type Inbound struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Excerpt      string    `json:"excerpt,omitempty"`
	CanonicalURL string    `json:"canonical_url"`
	Tags         []Tag     `json:"tags,omitempty"`
	Images       []Image   `json:"images,omitempty"`
	Visibility   string    `json:"visibility,omitempty"`
	Status       string    `json:"status,omitempty"`
	PublishedAt  time.Time `json:"published_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Text returns the message body candidate: the excerpt, else the title.
func (p *Inbound) Text() string {
	if s := strings.TrimSpace(p.Excerpt); s != "" {
		return s
	}
	return strings.TrimSpace(p.Title)
}

// TagSlugs returns the post's tag slugs, lowercased, for filter evaluation.
// Tags without a slug fall back to their lowercased name.
func (p *Inbound) TagSlugs() []string {
	if len(p.Tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.Tags))
	for _, t := range p.Tags {
		s := strings.ToLower(strings.TrimSpace(t.Slug))
		if s == "" {
			s = strings.ToLower(strings.TrimSpace(t.Name))
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasTag reports whether the post carries the given tag name, compared
// case-insensitively and exactly (service-tag semantics).
func (p *Inbound) HasTag(name string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(strings.TrimSpace(t.Name), name) {
			return true
		}
	}
	return false
}
