package social

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wpowiertowski/posse/internal/post"
)

// Service tags steer the pipeline and never appear in outgoing hashtags.
const (
	// TagNoSplit suppresses multi-image splitting for one post.
	TagNoSplit = "#nosplit"
	// TagNoFeatureDup marks posts whose featured image already appears in
	// the body.
	TagNoFeatureDup = "#dont-duplicate-feature"

	// attributionTag is appended to every outgoing message.
	attributionTag = "#posse"
)

func isServiceTag(name string) bool {
	return strings.EqualFold(name, TagNoSplit) || strings.EqualFold(name, TagNoFeatureDup)
}

// Hashtags builds the hashtag line for a post. Only tag names that already
// start with '#' become hashtags; service tags are dropped by exact
// case-insensitive match, so near misses like #nosplitter survive. The
// attribution tag always closes the line.
func Hashtags(tags []post.Tag) string {
	var parts []string
	for _, t := range tags {
		if !strings.HasPrefix(t.Name, "#") {
			continue
		}
		if isServiceTag(t.Name) {
			continue
		}
		parts = append(parts, t.Name)
	}
	parts = append(parts, attributionTag)
	return strings.Join(parts, " ")
}

// Compose lays out one message as three newline-separated blocks: text,
// hashtag line, link. When limit is positive and the whole message would
// exceed it, only the text block is truncated, ending with an ellipsis; the
// hashtag line and link are always kept whole. Limit 0 means unlimited.
// Lengths are counted in runes, matching how the platforms count.
func Compose(text, hashtags, link string, limit int) string {
	tail := "\n" + hashtags + "\n" + link
	if limit <= 0 || utf8.RuneCountInString(text+tail) <= limit {
		return text + tail
	}
	budget := limit - utf8.RuneCountInString(tail) - 1
	if budget < 0 {
		budget = 0
	}
	r := []rune(text)
	if budget > len(r) {
		budget = len(r)
	}
	return strings.TrimRight(string(r[:budget]), " ") + "…" + tail
}

// Plan formats a post for one account. With splitting enabled, more than one
// image, and no opt-out tag, it yields one message per image: the first
// carries the full text, continuations carry an (n/N) marker in its place.
// Otherwise it yields a single message with all media attached.
func Plan(p *post.Inbound, acct Account, media []Media) []Message {
	hashtags := Hashtags(p.Tags)
	text := p.Text()

	if acct.Split && len(media) > 1 && !p.HasTag(TagNoSplit) {
		n := len(media)
		msgs := make([]Message, 0, n)
		msgs = append(msgs, Message{
			Text:  Compose(text, hashtags, p.CanonicalURL, acct.Limit),
			Media: []Media{media[0]},
		})
		for i := 1; i < n; i++ {
			marker := fmt.Sprintf("(%d/%d)", i+1, n)
			msgs = append(msgs, Message{
				Text:  Compose(marker, hashtags, p.CanonicalURL, acct.Limit),
				Media: []Media{media[i]},
			})
		}
		return msgs
	}

	return []Message{{
		Text:  Compose(text, hashtags, p.CanonicalURL, acct.Limit),
		Media: media,
	}}
}
