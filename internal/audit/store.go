package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("audit: record not found")

// Record is one audited invocation. ID is unique per run; RequestID is the
// caller's correlation id and repeats across retries.
type Record struct {
	ID        string
	RequestID string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   string
	Tools     []string
	// Statuses holds one payload status per routed tool, in queue order.
	Statuses []string
	Error    string
}

type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, r Record) error {
	tools, err := json.Marshal(nonNil(r.Tools))
	if err != nil {
		return err
	}
	statuses, err := json.Marshal(nonNil(r.Statuses))
	if err != nil {
		return err
	}
	_, err = s.db.db.ExecContext(ctx, s.db.rebind(
		`INSERT INTO invocations (id, request_id, started_at, duration_ms, outcome, tools, statuses, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.RequestID, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(), r.Outcome, string(tools), string(statuses), r.Error)
	if err != nil {
		return fmt.Errorf("audit: insert %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.db.QueryRowContext(ctx, s.db.rebind(
		`SELECT id, request_id, started_at, duration_ms, outcome, tools, statuses, error FROM invocations WHERE id = ?`), id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(
		`SELECT id, request_id, started_at, duration_ms, outcome, tools, statuses, error FROM invocations
		 ORDER BY started_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()
	var out []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes records started before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.db.ExecContext(ctx, s.db.rebind(`DELETE FROM invocations WHERE started_at < ?`), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r                 Record
		started, duration int64
		tools, statuses   string
	)
	if err := sc.Scan(&r.ID, &r.RequestID, &started, &duration, &r.Outcome, &tools, &statuses, &r.Error); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started)
	r.Duration = time.Duration(duration) * time.Millisecond
	if err := json.Unmarshal([]byte(tools), &r.Tools); err != nil {
		return nil, fmt.Errorf("audit: decode tools of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(statuses), &r.Statuses); err != nil {
		return nil, fmt.Errorf("audit: decode statuses of %s: %w", r.ID, err)
	}
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
