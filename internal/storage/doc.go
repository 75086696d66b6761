package storage

// Package storage persists the relay's durable state:
//   - Syndication mappings: (post, platform, account) -> remote post identity
//   - Interaction snapshots: one aggregated engagement row per post
//
// Drivers: "sqlite" (single file, WAL) and "memory" (tests/ephemeral runs).
// The dispatcher writes mappings, the sync scheduler writes snapshots, and
// the read API only reads; every operation is a single statement so no
// cross-component transactions are needed.
