package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/wpowiertowski/posse/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertMapping(ctx context.Context, m Mapping) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	// created_at is intentionally not touched on conflict: mapping age stays
	// anchored at the first successful dispatch.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mappings(post_id, platform, account, remote_id, remote_url, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(post_id, platform, account) DO UPDATE SET
		   remote_id=excluded.remote_id,
		   remote_url=excluded.remote_url`,
		m.PostID, m.Platform, m.Account, m.RemoteID, nullStr(m.RemoteURL), m.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) MappingsForPost(ctx context.Context, postID string) ([]Mapping, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, platform, account, remote_id, COALESCE(remote_url, ''), created_at
		 FROM mappings WHERE post_id = ? ORDER BY platform, account`,
		postID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Mapping
	for rows.Next() {
		var m Mapping
		var ms int64
		if err := rows.Scan(&m.PostID, &m.Platform, &m.Account, &m.RemoteID, &m.RemoteURL, &ms); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(ms)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MissingAccounts(ctx context.Context, postID string, candidates []AccountRef) ([]AccountRef, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	rows, err := s.MappingsForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	return missingSet(candidates, rows), nil
}

func (s *sqliteStore) TrackedPosts(ctx context.Context, maxAge time.Duration) ([]TrackedPost, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT post_id, MIN(created_at)
		 FROM mappings
		 GROUP BY post_id
		 HAVING MAX(created_at) >= ?
		 ORDER BY MIN(created_at)`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackedPost
	for rows.Next() {
		var tp TrackedPost
		var ms int64
		if err := rows.Scan(&tp.PostID, &ms); err != nil {
			return nil, err
		}
		tp.FirstMappedAt = time.UnixMilli(ms)
		out = append(out, tp)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetSnapshot(ctx context.Context, postID string) (Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return Snapshot{}, false, ErrDisabled
	}
	var snap Snapshot
	var data string
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT post_id, data, last_synced_at FROM snapshots WHERE post_id = ?`,
		postID,
	).Scan(&snap.PostID, &data, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	snap.Data = []byte(data)
	snap.LastSyncedAt = time.UnixMilli(ms)
	return snap, true, nil
}

func (s *sqliteStore) PutSnapshot(ctx context.Context, snap Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if snap.LastSyncedAt.IsZero() {
		snap.LastSyncedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots(post_id, data, last_synced_at) VALUES(?,?,?)
		 ON CONFLICT(post_id) DO UPDATE SET
		   data=excluded.data,
		   last_synced_at=excluded.last_synced_at`,
		snap.PostID, string(snap.Data), snap.LastSyncedAt.UnixMilli(),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
