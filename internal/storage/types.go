package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (WAL)
//   - "memory": in-process map store (tests, ephemeral runs)
//
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AccountRef identifies a configured destination account.
type AccountRef struct {
	Platform string
	Account  string
}

// Mapping is the durable link between an origin post and the remote post
// created for it on one destination account. Unique per
// (post_id, platform, account); never deleted by the relay.
type Mapping struct {
	PostID    string
	Platform  string
	Account   string
	RemoteID  string
	RemoteURL string
	CreatedAt time.Time
}

// TrackedPost is a post with at least one live mapping, annotated with its
// earliest mapping time (the sync scheduler keys polling cadence off it).
type TrackedPost struct {
	PostID        string
	FirstMappedAt time.Time
}

// Snapshot is the stored aggregated engagement row for one post. Data is the
// interactions payload as JSON; storage treats it as opaque.
type Snapshot struct {
	PostID       string
	Data         []byte
	LastSyncedAt time.Time
}
