// Package journal persists the status event stream to sqlite. It is a sink
// only: engine state is always rebuilt from exchange queries, never read back
// from here.
package journal

import (
	"context"
	"database/sql"
	"time"

	"bn-grid-bot/internal/events"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

type Journal struct {
	db *sql.DB
}

func New(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		fields BLOB
	)`)
	return err
}

func (j *Journal) Append(ctx context.Context, ev events.Event) error {
	var payload []byte
	if len(ev.Fields) > 0 {
		var err error
		payload, err = msgpack.Marshal(ev.Fields)
		if err != nil {
			return err
		}
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, message, fields) VALUES (?, ?, ?, ?)`,
		ev.Time.UnixMilli(), string(ev.Kind), ev.Message, payload,
	)
	return err
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]events.Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT ts, kind, message, fields FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []events.Event
	for rows.Next() {
		var (
			ts      int64
			kind    string
			message string
			payload []byte
		)
		if err := rows.Scan(&ts, &kind, &message, &payload); err != nil {
			return nil, err
		}
		ev := events.Event{
			Time:    time.UnixMilli(ts).UTC(),
			Kind:    events.Kind(kind),
			Message: message,
		}
		if len(payload) > 0 {
			if err := msgpack.Unmarshal(payload, &ev.Fields); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
