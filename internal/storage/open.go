package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "github.com/wpowiertowski/posse/pkg/logx"
)

// Store is the persistence API shared by the dispatcher, the sync scheduler,
// and the read API.
type Store interface {
	// UpsertMapping is idempotent; last write wins for the remote identity,
	// the original CreatedAt is kept.
	UpsertMapping(ctx context.Context, m Mapping) error
	MappingsForPost(ctx context.Context, postID string) ([]Mapping, error)
	// MissingAccounts returns the candidates with no mapping row for postID.
	MissingAccounts(ctx context.Context, postID string, candidates []AccountRef) ([]AccountRef, error)
	// TrackedPosts returns posts with at least one mapping younger than maxAge.
	TrackedPosts(ctx context.Context, maxAge time.Duration) ([]TrackedPost, error)

	GetSnapshot(ctx context.Context, postID string) (Snapshot, bool, error)
	PutSnapshot(ctx context.Context, s Snapshot) error

	Close() error
}

// Open initializes the configured store. An empty driver falls back to the
// in-memory store so the relay can run without a storage section.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// missingSet computes candidates minus the accounts present in rows.
// Shared by both drivers so the set semantics can't drift.
func missingSet(candidates []AccountRef, rows []Mapping) []AccountRef {
	have := make(map[AccountRef]struct{}, len(rows))
	for _, m := range rows {
		have[AccountRef{Platform: m.Platform, Account: m.Account}] = struct{}{}
	}
	out := make([]AccountRef, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := have[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}
