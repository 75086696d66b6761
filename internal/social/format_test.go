package social

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/wpowiertowski/posse/internal/post"
)

func TestHashtags(t *testing.T) {
	cases := []struct {
		name string
		tags []post.Tag
		want string
	}{
		{
			name: "only hash-prefixed names become hashtags",
			tags: []post.Tag{{Name: "#golang", Slug: "golang"}, {Name: "travel", Slug: "travel"}},
			want: "#golang #posse",
		},
		{
			name: "service tags dropped case-insensitively",
			tags: []post.Tag{{Name: "#NoSplit"}, {Name: "#Dont-Duplicate-Feature"}, {Name: "#photos"}},
			want: "#photos #posse",
		},
		{
			name: "near-miss tags survive",
			tags: []post.Tag{{Name: "#nosplitter"}},
			want: "#nosplitter #posse",
		},
		{
			name: "no tags still yields attribution",
			tags: nil,
			want: "#posse",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Hashtags(tc.tags); got != tc.want {
				t.Fatalf("Hashtags = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestComposeLayout(t *testing.T) {
	got := Compose("hello world", "#x #posse", "https://example.com/p", 0)
	want := "hello world\n#x #posse\nhttps://example.com/p"
	if got != want {
		t.Fatalf("Compose = %q, want %q", got, want)
	}
	if line := strings.Split(got, "\n")[1]; line != "#x #posse" {
		t.Fatalf("hashtag line = %q", line)
	}
}

func TestComposeTruncation(t *testing.T) {
	text := strings.Repeat("a", 520)
	hashtags := "#posse"
	link := "https://example.com/post"

	got := Compose(text, hashtags, link, 500)

	if n := utf8.RuneCountInString(got); n > 500 {
		t.Fatalf("composed length = %d runes, want <= 500", n)
	}
	tail := "\n" + hashtags + "\n" + link
	if !strings.HasSuffix(got, tail) {
		t.Fatalf("hashtags and link not preserved: %q", got)
	}
	textBlock := strings.TrimSuffix(got, tail)
	if !strings.HasSuffix(textBlock, "…") {
		t.Fatalf("truncated text does not end with ellipsis: %q", textBlock)
	}

	// Zero limit means unlimited.
	if got := Compose(text, hashtags, link, 0); utf8.RuneCountInString(got) < 520 {
		t.Fatalf("limit 0 must not truncate")
	}
	// A fitting message passes through untouched.
	if got := Compose("short", hashtags, link, 500); got != "short"+tail {
		t.Fatalf("short message altered: %q", got)
	}
}

func TestPlanSplit(t *testing.T) {
	p := &post.Inbound{
		ID:           "68b1c2d3e4f5a6b7c8d9e0f1",
		Title:        "Three photos",
		Excerpt:      "A walk in the park",
		CanonicalURL: "https://blog.example.com/walk/",
		Tags:         []post.Tag{{Name: "#photos", Slug: "photos"}},
	}
	media := []Media{{Path: "/tmp/1.jpg"}, {Path: "/tmp/2.jpg"}, {Path: "/tmp/3.jpg"}}
	acct := Account{Platform: PlatformMastodon, Name: "main", Split: true}

	msgs := Plan(p, acct, media)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if len(m.Media) != 1 {
			t.Fatalf("message %d carries %d media, want 1", i, len(m.Media))
		}
	}
	if !strings.HasPrefix(msgs[0].Text, "A walk in the park") {
		t.Fatalf("first message lost the text: %q", msgs[0].Text)
	}
	if !strings.HasPrefix(msgs[1].Text, "(2/3)") || !strings.HasPrefix(msgs[2].Text, "(3/3)") {
		t.Fatalf("continuations missing markers: %q / %q", msgs[1].Text, msgs[2].Text)
	}
}

func TestPlanNoSplit(t *testing.T) {
	media := []Media{{Path: "/tmp/1.jpg"}, {Path: "/tmp/2.jpg"}, {Path: "/tmp/3.jpg"}}

	t.Run("opt-out tag wins over split_enabled", func(t *testing.T) {
		p := &post.Inbound{
			Title:        "Opted out",
			CanonicalURL: "https://blog.example.com/x/",
			Tags:         []post.Tag{{Name: "#NoSplit", Slug: "nosplit"}},
		}
		msgs := Plan(p, Account{Split: true}, media)
		if len(msgs) != 1 || len(msgs[0].Media) != 3 {
			t.Fatalf("got %d messages (media %d), want 1 with all media", len(msgs), len(msgs[0].Media))
		}
	})

	t.Run("split disabled", func(t *testing.T) {
		p := &post.Inbound{Title: "Plain", CanonicalURL: "https://blog.example.com/y/"}
		msgs := Plan(p, Account{Split: false}, media)
		if len(msgs) != 1 {
			t.Fatalf("got %d messages, want 1", len(msgs))
		}
	})

	t.Run("single image never splits", func(t *testing.T) {
		p := &post.Inbound{Title: "One", CanonicalURL: "https://blog.example.com/z/"}
		msgs := Plan(p, Account{Split: true}, media[:1])
		if len(msgs) != 1 {
			t.Fatalf("got %d messages, want 1", len(msgs))
		}
	})
}
