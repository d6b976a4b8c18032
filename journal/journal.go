// Package journal keeps an audit log of SMS submissions and calls in
// SQLite. It records outcomes only; nothing is ever replayed from it.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

type Kind string

const (
	KindSMS          Kind = "sms"
	KindCall         Kind = "call"
	KindNotification Kind = "notification"
)

type Status string

const (
	StatusAccepted Status = "accepted"
	StatusFailed   Status = "failed"
	StatusReceived Status = "received"
)

var ErrInvalidEntry = errors.New("journal: invalid entry")

// Entry is one journal row. Reference is -1 when the modem reported none.
type Entry struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Reference int       `json:"reference"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ListParams struct {
	Kind  Kind
	Limit int
}

type Journal struct {
	db *sql.DB

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{
		db:      db,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
	CREATE TABLE IF NOT EXISTS entries (
		id          TEXT PRIMARY KEY,
		kind        TEXT NOT NULL,
		recipient   TEXT NOT NULL DEFAULT '',
		mode        TEXT NOT NULL DEFAULT '',
		reference   INTEGER NOT NULL DEFAULT -1,
		status      TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		detail      TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_kind_created ON entries(kind, created_at DESC);
	`)
	return err
}

func (j *Journal) newID(t time.Time) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), j.entropy).String()
}

// Record stores e and returns it with ID and CreatedAt filled in.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Kind == "" || e.Status == "" {
		return Entry{}, fmt.Errorf("%w: kind and status are required", ErrInvalidEntry)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.ID = j.newID(e.CreatedAt)

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO entries (id, kind, recipient, mode, reference, status, error, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.To, e.Mode, e.Reference, string(e.Status), e.Error, e.Detail,
		e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

// List returns the newest entries first; ids are monotonic so they sort
// in insertion order. Limit defaults to 50.
func (j *Journal) List(ctx context.Context, p ListParams) ([]Entry, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 50
	}

	var where []string
	var args []any
	if p.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(p.Kind))
	}
	query := `SELECT id, kind, recipient, mode, reference, status, error, detail, created_at FROM entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			kind    string
			status  string
			created string
		)
		if err := rows.Scan(&e.ID, &kind, &e.To, &e.Mode, &e.Reference, &status, &e.Error, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.Status = Status(status)
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
