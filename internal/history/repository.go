// Package history keeps an audit trail of sent notifications in Postgres.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/park285/ccrl-live-notifier/internal/ccrlpgn"
	"github.com/park285/ccrl-live-notifier/internal/notify"
)

var ErrNoDatabaseURL = errf("DATABASE_URL is required")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

const schema = `CREATE TABLE IF NOT EXISTS ccrl_notifications (
    id           UUID PRIMARY KEY,
    fingerprint  TEXT NOT NULL UNIQUE,
    room         TEXT NOT NULL,
    white        TEXT NOT NULL,
    black        TEXT NOT NULL,
    event        TEXT NOT NULL,
    opening_code TEXT NOT NULL DEFAULT '',
    recipients   TEXT[] NOT NULL,
    notified_at  TIMESTAMPTZ NOT NULL
)`

// Entry is one stored notification.
type Entry struct {
	ID          uuid.UUID
	Fingerprint ccrlpgn.Fingerprint
	Room        string
	White       string
	Black       string
	Event       string
	OpeningCode string
	Recipients  []string
	NotifiedAt  time.Time
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, ErrNoDatabaseURL
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Record stores n under fp. A fingerprint is stored once; later records for
// the same game are ignored.
func (r *Repository) Record(ctx context.Context, n notify.Notification, fp ccrlpgn.Fingerprint) error {
	if r == nil || r.db == nil {
		return nil
	}
	const q = `INSERT INTO ccrl_notifications (
        id, fingerprint, room, white, black, event, opening_code, recipients, notified_at
      ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
      ON CONFLICT (fingerprint) DO NOTHING`
	_, err := r.db.ExecContext(ctx, q,
		uuid.New(), fp.String(), n.Room,
		n.White, n.Black, n.Event, n.OpeningCode,
		pq.Array(n.Recipients), r.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return nil
}

// Lookup returns the entry for fp, or nil when the game was never notified.
func (r *Repository) Lookup(ctx context.Context, fp ccrlpgn.Fingerprint) (*Entry, error) {
	const q = `SELECT id, fingerprint, room, white, black, event, opening_code, recipients, notified_at
      FROM ccrl_notifications WHERE fingerprint = $1`
	var (
		e       Entry
		rawFP   string
		rawRcpt pq.StringArray
	)
	err := r.db.QueryRowContext(ctx, q, fp.String()).Scan(
		&e.ID, &rawFP, &e.Room, &e.White, &e.Black, &e.Event, &e.OpeningCode, &rawRcpt, &e.NotifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup notification: %w", err)
	}
	e.Fingerprint = ccrlpgn.Fingerprint(rawFP)
	e.Recipients = []string(rawRcpt)
	return &e, nil
}
