package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/timecat/dbopen"
	"github.com/hazyhaar/timecat/record"
)

// Schema creates the records table. Pass it to dbopen.WithSchema or let
// NewSQLite apply it.
const Schema = `
CREATE TABLE IF NOT EXISTS records (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT    NOT NULL,
	type       TEXT    NOT NULL,
	time       TEXT    NOT NULL,
	data       TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS records_session ON records(session_id, seq);
`

// SQLite is a Store backed by the records table, scoped to one session.
type SQLite struct {
	db      *sql.DB
	session string
	now     func() time.Time
}

// NewSQLite applies Schema and returns the store for session.
func NewSQLite(ctx context.Context, db *sql.DB, session string) (*SQLite, error) {
	if session == "" {
		return nil, fmt.Errorf("store: empty session id")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	return &SQLite{db: db, session: session, now: time.Now}, nil
}

// Session returns the session id the store is scoped to.
func (s *SQLite) Session() string { return s.session }

// WithSession returns a store sharing the database, scoped to session.
func (s *SQLite) WithSession(session string) *SQLite {
	return &SQLite{db: s.db, session: session, now: s.now}
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM records WHERE session_id = ?`, s.session); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

func (s *SQLite) Add(ctx context.Context, r record.Record) error {
	data := string(r.Data)
	if data == "" {
		data = "null"
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO records (session_id, type, time, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.session, string(r.Type), r.Time, data, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: add: %w", err)
	}
	return nil
}

func (s *SQLite) ReadAllRecords(ctx context.Context) ([]record.Record, error) {
	rows, err := s.readSince(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Record
	}
	return out, nil
}

// Row is a stored record with its sequence number.
type Row struct {
	Seq int64
	record.Record
}

func (s *SQLite) readSince(ctx context.Context, after int64) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, type, time, data FROM records WHERE session_id = ? AND seq > ? ORDER BY seq`,
		s.session, after)
	if err != nil {
		return nil, fmt.Errorf("store: read: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r    Row
			typ  string
			data string
		)
		if err := rows.Scan(&r.Seq, &typ, &r.Time, &data); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		r.Type = record.Type(typ)
		r.Data = json.RawMessage(data)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: read: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest sequence number of the session, 0 when empty.
func (s *SQLite) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM records WHERE session_id = ?`, s.session).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("store: last seq: %w", err)
	}
	return seq.Int64, nil
}

// FollowOptions tunes Follow.
type FollowOptions struct {
	// Interval is the polling frequency. Default: 200ms.
	Interval time.Duration
	Logger   *slog.Logger
}

func (o *FollowOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Follow hands every record with seq > after to fn, in order, then keeps
// polling for new ones until ctx is cancelled. If fn fails the same row is
// retried on the next poll. Follow returns nil on cancellation.
func (s *SQLite) Follow(ctx context.Context, after int64, opts FollowOptions, fn func(Row) error) error {
	opts.defaults()
	log := opts.Logger.With("session", s.session)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	log.Info("store: follow started", "after", after, "interval", opts.Interval)
	for {
		last, err := s.LastSeq(ctx)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			log.Warn("store: follow check failed", "error", err)
		case last > after:
			rows, err := s.readSince(ctx, after)
			if err != nil {
				log.Warn("store: follow read failed", "error", err)
				break
			}
			for _, r := range rows {
				if err := fn(r); err != nil {
					log.Error("store: follow handler failed", "seq", r.Seq, "error", err)
					break
				}
				after = r.Seq
			}
		}

		select {
		case <-ctx.Done():
			log.Info("store: follow stopped", "after", after)
			return nil
		case <-ticker.C:
		}
	}
}

// Follower is a Store that can be tailed for records appended after a
// sequence number.
type Follower interface {
	Store
	Follow(ctx context.Context, after int64, opts FollowOptions, fn func(Row) error) error
}

// Stream follows f from the first record and delivers every record on the
// returned channel, which closes once ctx is cancelled.
func Stream(ctx context.Context, f Follower, opts FollowOptions) <-chan record.Record {
	ch := make(chan record.Record)
	go func() {
		defer close(ch)
		f.Follow(ctx, 0, opts, func(r Row) error {
			select {
			case ch <- r.Record:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return ch
}
