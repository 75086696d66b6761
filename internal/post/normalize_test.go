package post

import (
	"testing"
)

const nestedPayload = `{"post":{"current":{
	"id":"65a1b2c3d4e5f6a7b8c9d0e1",
	"title":"Morning Light",
	"url":"https://blog.example/morning-light/",
	"custom_excerpt":"Chasing the first light.",
	"feature_image":"https://blog.example/content/images/feature.jpg",
	"feature_image_alt":"Sunrise over the bay",
	"html":"<p>intro</p><img src=\"https://blog.example/content/images/one.jpg\" alt=\"One\"><img src=\"https://cdn.elsewhere.example/two.jpg\" alt=\"Two\">",
	"visibility":"public",
	"status":"published",
	"published_at":"2026-08-30T06:15:00.000Z",
	"tags":[{"name":"#photography","slug":"hash-photography"},{"name":"Travel","slug":"travel"}]
}}}`

const flatPayload = `{
	"id":"65a1b2c3d4e5f6a7b8c9d0e1",
	"title":"Morning Light",
	"url":"https://blog.example/morning-light/",
	"custom_excerpt":"Chasing the first light.",
	"feature_image":"https://blog.example/content/images/feature.jpg",
	"feature_image_alt":"Sunrise over the bay",
	"html":"<p>intro</p><img src=\"https://blog.example/content/images/one.jpg\" alt=\"One\"><img src=\"https://cdn.elsewhere.example/two.jpg\" alt=\"Two\">",
	"visibility":"public",
	"status":"published",
	"published_at":"2026-08-30T06:15:00.000Z",
	"tags":[{"name":"#photography","slug":"hash-photography"},{"name":"Travel","slug":"travel"}]
}`

func TestNormalizeNestedAndFlatAgree(t *testing.T) {
	nested, err := Normalize([]byte(nestedPayload))
	if err != nil {
		t.Fatalf("normalize nested: %v", err)
	}
	flat, err := Normalize([]byte(flatPayload))
	if err != nil {
		t.Fatalf("normalize flat: %v", err)
	}

	if nested.ID != flat.ID || nested.Title != flat.Title ||
		nested.Excerpt != flat.Excerpt || nested.CanonicalURL != flat.CanonicalURL {
		t.Fatalf("nested and flat disagree:\n  nested=%+v\n  flat=%+v", nested, flat)
	}
	if len(nested.Images) != len(flat.Images) {
		t.Fatalf("image counts differ: %d vs %d", len(nested.Images), len(flat.Images))
	}
	for i := range nested.Images {
		if nested.Images[i] != flat.Images[i] {
			t.Fatalf("image %d differs: %v vs %v", i, nested.Images[i], flat.Images[i])
		}
	}
}

func TestNormalizeImageSelection(t *testing.T) {
	p, err := Normalize([]byte(nestedPayload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	// Featured first with its alt text; cross-origin body image dropped.
	if len(p.Images) != 2 {
		t.Fatalf("got %d images, want 2: %v", len(p.Images), p.Images)
	}
	if p.Images[0].URL != "https://blog.example/content/images/feature.jpg" {
		t.Fatalf("images[0] = %q, want the featured image first", p.Images[0].URL)
	}
	if p.Images[0].Alt != "Sunrise over the bay" {
		t.Fatalf("featured alt = %q, want feature_image_alt", p.Images[0].Alt)
	}
	if p.Images[1].URL != "https://blog.example/content/images/one.jpg" || p.Images[1].Alt != "One" {
		t.Fatalf("images[1] = %+v, want the same-origin body image", p.Images[1])
	}
}

func TestNormalizeFeaturedDeduped(t *testing.T) {
	payload := `{
		"id":"65a1b2c3d4e5f6a7b8c9d0e1","title":"T","url":"https://b.example/p/",
		"feature_image":"https://b.example/i/a.jpg",
		"html":"<img src=\"https://b.example/i/a.jpg\" alt=\"dup\"><img src=\"https://b.example/i/b.jpg\">"
	}`
	p, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(p.Images) != 2 {
		t.Fatalf("got %d images, want 2 (featured deduped): %v", len(p.Images), p.Images)
	}
	if p.Images[0].URL != "https://b.example/i/a.jpg" || p.Images[1].URL != "https://b.example/i/b.jpg" {
		t.Fatalf("unexpected image order: %v", p.Images)
	}
}

func TestNormalizeNoCanonicalURLKeepsAllImages(t *testing.T) {
	payload := `{
		"id":"65a1b2c3d4e5f6a7b8c9d0e1","title":"T","url":"",
		"feature_image":"https://b.example/i/a.jpg",
		"html":"<img src=\"https://elsewhere.example/i/b.jpg\">"
	}`
	p, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(p.Images) != 2 {
		t.Fatalf("got %d images, want 2 when no canonical URL to compare", len(p.Images))
	}
}

func TestNormalizePortMatters(t *testing.T) {
	payload := `{
		"id":"65a1b2c3d4e5f6a7b8c9d0e1","title":"T","url":"https://b.example:8080/p/",
		"html":"<img src=\"https://b.example:8080/i/a.jpg\"><img src=\"https://b.example/i/b.jpg\">"
	}`
	p, err := Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(p.Images) != 1 || p.Images[0].URL != "https://b.example:8080/i/a.jpg" {
		t.Fatalf("host:port must match exactly, got %v", p.Images)
	}
}

func TestTextFallsBackToTitle(t *testing.T) {
	p := &Inbound{Title: "Only Title"}
	if got := p.Text(); got != "Only Title" {
		t.Fatalf("Text() = %q, want title fallback", got)
	}
	p.Excerpt = "An excerpt."
	if got := p.Text(); got != "An excerpt." {
		t.Fatalf("Text() = %q, want excerpt", got)
	}
}

func TestHasTagExactCaseInsensitive(t *testing.T) {
	p := &Inbound{Tags: []Tag{
		{Name: "#NoSplit", Slug: "hash-nosplit"},
		{Name: "#nosplitter", Slug: "hash-nosplitter"},
	}}
	if !p.HasTag("#nosplit") {
		t.Fatalf("HasTag(#nosplit) = false, want case-insensitive match")
	}
	if p.HasTag("#nosplit-extra") {
		t.Fatalf("HasTag(#nosplit-extra) = true, want exact-only matching")
	}
}
