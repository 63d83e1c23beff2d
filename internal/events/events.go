// Package events records analytics events as rows in the events table.
// Recording is best effort: a failed append is logged and swallowed, never
// surfaced to the request that produced it.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"heartmend/internal/domain"
)

type Writer struct {
	DB      *sql.DB
	Enabled bool
	Now     func() time.Time
	Logger  *log.Logger
}

func NewWriter(db *sql.DB, enabled bool) *Writer {
	return &Writer{DB: db, Enabled: enabled, Now: time.Now}
}

// Append records one event. Payload may be nil. Errors are logged and
// dropped; analytics must never fail a user request.
func (w *Writer) Append(ctx context.Context, eventType, userID string, payload map[string]any) {
	if w == nil || !w.Enabled || w.DB == nil {
		return
	}
	var payloadJSON string
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			w.logf("events: marshal payload for %s: %v", eventType, err)
			return
		}
		payloadJSON = string(data)
	}
	_, err := w.DB.ExecContext(ctx,
		`INSERT INTO events (ts, type, user_id, payload_json) VALUES (?, ?, ?, ?)`,
		w.Now().UTC().Format(time.RFC3339), eventType, userID, payloadJSON)
	if err != nil {
		w.logf("events: append %s: %v", eventType, err)
	}
}

// Recent returns the newest recorded events, newest first. Reading ignores
// the Enabled switch: it reports whatever was written while recording was on.
func (w *Writer) Recent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := w.DB.QueryContext(ctx,
		`SELECT id, ts, type, user_id, payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var userID sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &userID, &ev.Payload); err != nil {
			return nil, err
		}
		if userID.Valid {
			ev.UserID = userID.String
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (w *Writer) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}
