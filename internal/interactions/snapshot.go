package interactions

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/wpowiertowski/posse/internal/social"
	"github.com/wpowiertowski/posse/internal/storage"
)

// AccountEngagement is the synced state for one (platform, account) slice of
// a post's snapshot.
type AccountEngagement struct {
	RemoteID      string                `json:"remote_id"`
	RemoteURL     string                `json:"remote_url"`
	Likes         int                   `json:"likes"`
	Reposts       int                   `json:"reposts"`
	Replies       int                   `json:"replies"`
	ReplyPreviews []social.ReplyPreview `json:"reply_previews"`
	SyncedAt      time.Time             `json:"synced_at"`
}

// Snapshot is the aggregated engagement for one post across every mapped
// account, keyed platform then account name.
type Snapshot struct {
	PostID    string                                  `json:"post_id"`
	UpdatedAt time.Time                               `json:"updated_at"`
	Platforms map[string]map[string]AccountEngagement `json:"platforms"`
}

func newSnapshot(postID string) *Snapshot {
	return &Snapshot{
		PostID:    postID,
		Platforms: map[string]map[string]AccountEngagement{},
	}
}

func (s *Snapshot) set(platform, account string, e AccountEngagement) {
	if s.Platforms[platform] == nil {
		s.Platforms[platform] = map[string]AccountEngagement{}
	}
	s.Platforms[platform][account] = e
}

func (s *Snapshot) get(platform, account string) (AccountEngagement, bool) {
	e, ok := s.Platforms[platform][account]
	return e, ok
}

// decodeSnapshot tolerates a missing or corrupt stored row by returning an
// empty snapshot; a bad row must not block future syncs.
func decodeSnapshot(postID string, row storage.Snapshot, found bool) *Snapshot {
	if !found || len(row.Data) == 0 {
		return newSnapshot(postID)
	}
	var snap Snapshot
	if err := json.Unmarshal(row.Data, &snap); err != nil {
		return newSnapshot(postID)
	}
	if snap.Platforms == nil {
		snap.Platforms = map[string]map[string]AccountEngagement{}
	}
	snap.PostID = postID
	return &snap
}

func (s *Snapshot) encode() ([]byte, error) {
	return json.Marshal(s)
}
