package social

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotSupported is returned by optional capabilities a platform does not
// implement, e.g. engagement fetch on Telegram.
var ErrNotSupported = errors.New("social: operation not supported")

// Platform keys. These appear in config, storage rows, and API responses.
const (
	PlatformMastodon = "mastodon"
	PlatformBluesky  = "bluesky"
	PlatformTelegram = "telegram"
)

// Media is one image attachment, already downloaded to the local cache.
type Media struct {
	Path string
	Alt  string
}

// Message is one outgoing unit of a dispatch, formatted for an account.
// A multi-image split produces several messages for the same post.
type Message struct {
	Text  string
	Media []Media
}

// Result identifies the remote object created by a publish.
type Result struct {
	RemoteID  string
	RemoteURL string
	// CID carries the record content hash on platforms that need it for
	// reply threading. Empty elsewhere.
	CID string
}

// ReplyPreview is a trimmed view of one direct reply to a syndicated post.
type ReplyPreview struct {
	Author    string `json:"author"`
	AuthorURL string `json:"author_url"`
	AvatarURL string `json:"author_avatar,omitempty"`
	Text      string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Engagement aggregates the interaction counts for one remote post.
type Engagement struct {
	Likes         int            `json:"likes"`
	Reposts       int            `json:"reposts"`
	Replies       int            `json:"replies"`
	ReplyPreviews []ReplyPreview `json:"reply_previews"`
}

// Client publishes formatted messages to one account on one platform.
type Client interface {
	// Platform returns the platform key ("mastodon", "bluesky", "telegram").
	Platform() string
	// Name returns the configured account name, unique within the platform.
	Name() string
	// Verify checks that the stored credentials are usable.
	Verify(ctx context.Context) error
	// Publish posts one message. ReplyTo, when non-nil, threads the message
	// onto an earlier result from the same split sequence.
	Publish(ctx context.Context, msg Message, replyTo *Result) (*Result, error)
}

// InteractionSource is implemented by clients that can read engagement back
// for a previously published post.
type InteractionSource interface {
	Engagement(ctx context.Context, remoteID string, previewLimit int) (*Engagement, error)
}

// Account is the platform-independent slice of one configured account that
// the dispatch pipeline needs.
type Account struct {
	Platform string
	Name     string
	Filter   Filter
	// Limit is the per-message character limit. Zero means unlimited.
	Limit int
	// Split enables one-image-per-message sequences for multi-image posts.
	Split bool
}

// Key returns the stable "platform/name" identity used by the registry and
// the mapping store.
func (a Account) Key() string {
	return a.Platform + "/" + strings.ToLower(a.Name)
}

// readSecret loads a credential from a secret file, trimming the trailing
// newline that Docker secrets and most editors leave behind.
func readSecret(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("secret %s is empty", path)
	}
	return s, nil
}
