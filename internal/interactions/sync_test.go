package interactions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wpowiertowski/posse/internal/social"
	"github.com/wpowiertowski/posse/internal/storage"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

type fakeSource struct {
	platform string
	name     string
	eng      *social.Engagement
	err      error
}

func (f *fakeSource) Platform() string                 { return f.platform }
func (f *fakeSource) Name() string                     { return f.name }
func (f *fakeSource) Verify(ctx context.Context) error { return nil }
func (f *fakeSource) Publish(ctx context.Context, msg social.Message, replyTo *social.Result) (*social.Result, error) {
	return nil, errors.New("not used")
}
func (f *fakeSource) Engagement(ctx context.Context, remoteID string, previewLimit int) (*social.Engagement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.eng, nil
}

type fakeLookup map[string]social.Client

func (l fakeLookup) Lookup(platform, name string) (social.Client, bool) {
	c, ok := l[platform+"/"+name]
	return c, ok
}

func seedMappings(t *testing.T, store storage.Store, postID string, accounts ...[2]string) {
	t.Helper()
	for _, a := range accounts {
		err := store.UpsertMapping(context.Background(), storage.Mapping{
			PostID: postID, Platform: a[0], Account: a[1],
			RemoteID: a[1] + "-id", RemoteURL: "https://" + a[0] + ".example/" + a[1],
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("seed mapping: %v", err)
		}
	}
}

func TestSyncPostSliceRetention(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()
	postID := "68b1c2d3e4f5a6b7c8d9e0a1"
	seedMappings(t, store, postID, [2]string{"mastodon", "a"}, [2]string{"bluesky", "b"})

	healthy := &fakeSource{platform: "mastodon", name: "a",
		eng: &social.Engagement{Likes: 7, Reposts: 2, Replies: 1, ReplyPreviews: []social.ReplyPreview{}}}
	broken := &fakeSource{platform: "bluesky", name: "b", err: errors.New("connection refused")}
	svc := NewService(fakeLookup{"mastodon/a": healthy, "bluesky/b": broken}, store, time.Second, 5, logx.Nop())

	ctx := context.Background()

	// First sync: bluesky is still healthy.
	broken.err, broken.eng = nil, &social.Engagement{Likes: 3, ReplyPreviews: []social.ReplyPreview{}}
	if _, err := svc.SyncPost(ctx, postID); err != nil {
		t.Fatalf("first SyncPost: %v", err)
	}

	// Second sync: bluesky fails; its slice must keep the stored values
	// while mastodon refreshes.
	broken.err = errors.New("connection refused")
	healthy.eng.Likes = 9

	snap, err := svc.SyncPost(ctx, postID)
	if err != nil {
		t.Fatalf("second SyncPost: %v", err)
	}
	if got := snap.Platforms["mastodon"]["a"].Likes; got != 9 {
		t.Fatalf("mastodon slice not refreshed: likes=%d", got)
	}
	if got := snap.Platforms["bluesky"]["b"].Likes; got != 3 {
		t.Fatalf("failed slice lost previous values: likes=%d", got)
	}

	// Stored reads back the merged snapshot.
	stored, found, err := svc.Stored(ctx, postID)
	if err != nil || !found {
		t.Fatalf("Stored: found=%v err=%v", found, err)
	}
	if stored.Platforms["bluesky"]["b"].Likes != 3 {
		t.Fatalf("stored snapshot diverges from returned one")
	}
}

func TestSyncPostNoMappings(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()
	svc := NewService(fakeLookup{}, store, time.Second, 5, logx.Nop())
	if _, err := svc.SyncPost(context.Background(), "68b1c2d3e4f5a6b7c8d9e0a2"); !errors.Is(err, ErrNoMappings) {
		t.Fatalf("got %v, want ErrNoMappings", err)
	}
}

func TestSyncPostPreviewClamp(t *testing.T) {
	store := storage.NewMemory()
	defer store.Close()
	postID := "68b1c2d3e4f5a6b7c8d9e0a3"
	seedMappings(t, store, postID, [2]string{"mastodon", "a"})

	previews := make([]social.ReplyPreview, 12)
	for i := range previews {
		previews[i] = social.ReplyPreview{Author: "@r", Text: "hi"}
	}
	src := &fakeSource{platform: "mastodon", name: "a",
		eng: &social.Engagement{Replies: 12, ReplyPreviews: previews}}
	svc := NewService(fakeLookup{"mastodon/a": src}, store, time.Second, 5, logx.Nop())

	snap, err := svc.SyncPost(context.Background(), postID)
	if err != nil {
		t.Fatalf("SyncPost: %v", err)
	}
	slice := snap.Platforms["mastodon"]["a"]
	if len(slice.ReplyPreviews) != 5 {
		t.Fatalf("previews not clamped: %d", len(slice.ReplyPreviews))
	}
	if slice.Replies != 12 {
		t.Fatalf("reply count must keep the real total, got %d", slice.Replies)
	}
}

func TestDueThisCycle(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		name   string
		age    time.Duration
		maxAge time.Duration
		due    []uint64
		notDue []uint64
	}{
		{"fresh syncs every cycle", 12 * time.Hour, 30 * day, []uint64{0, 1, 2, 3, 4}, nil},
		{"under a week every second", 3 * day, 30 * day, []uint64{0, 2, 4}, []uint64{1, 3}},
		{"under a month every fourth", 10 * day, 30 * day, []uint64{0, 4, 8}, []uint64{1, 2, 3, 5}},
		{"terminal", 31 * day, 30 * day, nil, []uint64{0, 1, 2, 3, 4, 8}},
		{"wider horizon keeps old posts on every fourth", 40 * day, 60 * day, []uint64{0, 4, 8}, []uint64{1, 2, 3, 5}},
		{"terminal past wider horizon", 61 * day, 60 * day, nil, []uint64{0, 1, 2, 3, 4, 8}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, c := range tc.due {
				if !dueThisCycle(tc.age, c, tc.maxAge) {
					t.Fatalf("age %v cycle %d: want due", tc.age, c)
				}
			}
			for _, c := range tc.notDue {
				if dueThisCycle(tc.age, c, tc.maxAge) {
					t.Fatalf("age %v cycle %d: want skipped", tc.age, c)
				}
			}
		})
	}
}

// Every post the store still tracks must land in some cadence bracket, or it
// would be polled forever without ever syncing.
func TestTrackedAgeAlwaysHasCadence(t *testing.T) {
	day := 24 * time.Hour
	for _, maxAge := range []time.Duration{30 * day, 60 * day, 90 * day} {
		for age := time.Duration(0); age <= maxAge; age += 6 * time.Hour {
			due := false
			for c := uint64(0); c < 4; c++ {
				if dueThisCycle(age, c, maxAge) {
					due = true
					break
				}
			}
			if !due {
				t.Fatalf("age %v under horizon %v is never due", age, maxAge)
			}
		}
	}
}
