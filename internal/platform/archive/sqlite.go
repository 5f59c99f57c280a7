package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLite stores snapshots in a single table of JSON payloads.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "periop-archive.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := newSQLite(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		facility TEXT NOT NULL,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload BLOB NOT NULL,
		sha256 TEXT NOT NULL,
		archived_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Put(ctx context.Context, snap Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO snapshots
		(id, facility, kind, key, version, payload, sha256, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		snap.ID, snap.Facility, snap.Kind, snap.Key, snap.Version,
		[]byte(snap.Payload), snap.SHA256, snap.ArchivedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

const snapshotColumns = `id, facility, kind, key, version, payload, sha256, archived_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (Snapshot, error) {
	var snap Snapshot
	var payload []byte
	var at string
	if err := row.Scan(&snap.ID, &snap.Facility, &snap.Kind, &snap.Key, &snap.Version, &payload, &snap.SHA256, &at); err != nil {
		return Snapshot{}, err
	}
	snap.Payload = payload
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse archived_at of %s: %w", snap.ID, err)
	}
	snap.ArchivedAt = t
	return snap, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

func (s *SQLite) List(ctx context.Context, q Query) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE substr(id, 1, ?) = ? ORDER BY id`,
		len(q.prefix()), q.prefix())
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }
