// Package archive keeps immutable JSON snapshots of roster aggregates. A
// snapshot is written once; a second Put with the same id fails with
// ErrExists.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrExists   = errors.New("snapshot already archived")
	ErrNotFound = errors.New("snapshot not found")
)

type Snapshot struct {
	ID         string          `json:"id"`
	Facility   string          `json:"facility"`
	Kind       string          `json:"kind"`
	Key        string          `json:"key"`
	Version    int             `json:"version"`
	Payload    json.RawMessage `json:"payload"`
	SHA256     string          `json:"sha256"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Query selects snapshots of one aggregate. Key may be empty to list every
// key of the kind.
type Query struct {
	Facility string
	Kind     string
	Key      string
}

type Store interface {
	Put(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, id string) (Snapshot, error)
	List(ctx context.Context, q Query) ([]Snapshot, error)
	Close() error
}

// SnapshotID is the storage id of one version of an aggregate. Versions are
// zero-padded so lexical order is version order.
func SnapshotID(facility, kind, key string, version int) string {
	return fmt.Sprintf("%s/%s/%s/v%08d", facility, kind, key, version)
}

func (q Query) prefix() string {
	p := q.Facility + "/" + q.Kind + "/"
	if q.Key != "" {
		p += q.Key + "/"
	}
	return p
}

// New builds a snapshot of payload with its id and checksum filled in.
func New(facility, kind, key string, version int, payload interface{}, at time.Time) (Snapshot, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal snapshot payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return Snapshot{
		ID:         SnapshotID(facility, kind, key, version),
		Facility:   facility,
		Kind:       kind,
		Key:        key,
		Version:    version,
		Payload:    raw,
		SHA256:     hex.EncodeToString(sum[:]),
		ArchivedAt: at.UTC(),
	}, nil
}

func validate(s Snapshot) error {
	if s.ID == "" || s.Kind == "" || s.Facility == "" {
		return fmt.Errorf("snapshot id, facility and kind are required")
	}
	if strings.Contains(s.ID, "..") {
		return fmt.Errorf("invalid snapshot id %q", s.ID)
	}
	if !json.Valid(s.Payload) {
		return fmt.Errorf("snapshot %s payload is not valid JSON", s.ID)
	}
	return nil
}

func sortByID(list []Snapshot) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

// Config selects and configures a driver.
type Config struct {
	Driver     string // memory, sqlite or s3
	SQLitePath string
	S3         S3Config
}

func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "s3":
		return OpenS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
