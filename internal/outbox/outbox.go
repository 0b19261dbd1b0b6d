// Package outbox implements the transactional outbox for cross-boundary
// events: an envelope is appended to event_log inside the same local
// transaction as the state change it describes, and a relay forwards
// pending rows to the learning service afterwards. Publish failure after
// commit therefore only delays delivery, never loses it.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/darrenak403/beyond8-server-sub001/internal/event"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Entry is one outbound event_log row.
type Entry struct {
	Offset      int64
	Envelope    event.Envelope
	CreatedAt   int64
	PublishedAt *int64
	Attempts    int
	LastError   string
}

type Repo struct{ db *sql.DB }

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// AppendTx appends an envelope within the caller's transaction.
func AppendTx(ctx context.Context, tx Execer, env event.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_log (event_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		env.ID, string(env.Type), env.Key, string(payload), time.Now().Unix())
	return err
}

// Append appends outside any transaction; used by producers whose state
// change and event are the same row.
func (r *Repo) Append(ctx context.Context, env event.Envelope) error {
	return AppendTx(ctx, r.db, env)
}

// ListPending returns unpublished entries in append order.
func (r *Repo) ListPending(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT offset_id, data, created_at, attempts, last_error
		 FROM event_log WHERE published_at IS NULL
		 ORDER BY offset_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var data string
		if err := rows.Scan(&e.Offset, &data, &e.CreatedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &e.Envelope); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished stamps a delivered entry.
func (r *Repo) MarkPublished(ctx context.Context, offset int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE event_log SET published_at=$1 WHERE offset_id=$2`,
		time.Now().Unix(), offset)
	return err
}

// MarkFailed records a delivery failure; the entry stays pending for the
// next relay tick.
func (r *Repo) MarkFailed(ctx context.Context, offset int64, cause string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE event_log SET attempts=attempts+1, last_error=$1 WHERE offset_id=$2`,
		cause, offset)
	return err
}
