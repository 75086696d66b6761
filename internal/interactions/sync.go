package interactions

import (
	"context"
	"errors"
	"time"

	"github.com/wpowiertowski/posse/internal/social"
	"github.com/wpowiertowski/posse/internal/storage"
	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// ErrNoMappings reports a sync request for a post that was never syndicated.
var ErrNoMappings = errors.New("interactions: post has no mappings")

const (
	defaultFetchTimeout = 15 * time.Second
	defaultPreviewLimit = 5
)

// Lookup resolves a live client by platform and account name.
// *social.Registry implements it.
type Lookup interface {
	Lookup(platform, name string) (social.Client, bool)
}

// Service syncs one post's engagement across all of its mappings.
type Service struct {
	reg          Lookup
	store        storage.Store
	fetchTimeout time.Duration
	previewLimit int
	log          logx.Logger
}

func NewService(reg Lookup, store storage.Store, fetchTimeout time.Duration, previewLimit int, log logx.Logger) *Service {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	if previewLimit <= 0 {
		previewLimit = defaultPreviewLimit
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{reg: reg, store: store, fetchTimeout: fetchTimeout, previewLimit: previewLimit, log: log}
}

// SyncPost refreshes the post's snapshot. Each mapping is one slice: a slice
// whose fetch fails keeps its previously stored values, so one platform
// outage never wipes data that another sync already gathered. The merged
// snapshot is stored and returned.
func (s *Service) SyncPost(ctx context.Context, postID string) (*Snapshot, error) {
	mappings, err := s.store.MappingsForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, ErrNoMappings
	}

	row, found, err := s.store.GetSnapshot(ctx, postID)
	if err != nil {
		return nil, err
	}
	prev := decodeSnapshot(postID, row, found)

	snap := newSnapshot(postID)
	snap.UpdatedAt = time.Now().UTC()

	for _, m := range mappings {
		eng, err := s.fetch(ctx, m)
		if err != nil {
			if errors.Is(err, social.ErrNotSupported) {
				continue
			}
			s.log.Warn("engagement fetch failed, keeping previous values",
				logx.String("post", postID),
				logx.String("platform", m.Platform),
				logx.String("account", m.Account),
				logx.Err(err))
			if old, ok := prev.get(m.Platform, m.Account); ok {
				snap.set(m.Platform, m.Account, old)
			}
			continue
		}
		snap.set(m.Platform, m.Account, AccountEngagement{
			RemoteID:      m.RemoteID,
			RemoteURL:     m.RemoteURL,
			Likes:         eng.Likes,
			Reposts:       eng.Reposts,
			Replies:       eng.Replies,
			ReplyPreviews: eng.ReplyPreviews,
			SyncedAt:      snap.UpdatedAt,
		})
	}

	data, err := snap.encode()
	if err != nil {
		return nil, err
	}
	if err := s.store.PutSnapshot(ctx, storage.Snapshot{
		PostID:       postID,
		Data:         data,
		LastSyncedAt: snap.UpdatedAt,
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// Stored returns the snapshot as last synced, without touching the
// platforms. The read API serves from here.
func (s *Service) Stored(ctx context.Context, postID string) (*Snapshot, bool, error) {
	row, found, err := s.store.GetSnapshot(ctx, postID)
	if err != nil || !found {
		return nil, false, err
	}
	return decodeSnapshot(postID, row, true), true, nil
}

func (s *Service) fetch(ctx context.Context, m storage.Mapping) (*social.Engagement, error) {
	client, ok := s.reg.Lookup(m.Platform, m.Account)
	if !ok {
		return nil, errors.New("account no longer configured")
	}
	src, ok := client.(social.InteractionSource)
	if !ok {
		return nil, social.ErrNotSupported
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	eng, err := src.Engagement(ctx, m.RemoteID, s.previewLimit)
	if err != nil {
		return nil, err
	}
	if len(eng.ReplyPreviews) > s.previewLimit {
		eng.ReplyPreviews = eng.ReplyPreviews[:s.previewLimit]
	}
	return eng, nil
}
