package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rbright/pulselink/internal/alert"
)

const defaultRecentLimit = 50

// Record appends event and returns it with its assigned ID and timestamp.
func (db *DB) Record(ctx context.Context, event alert.Event) (alert.Event, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = db.now()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO alert_events (timestamp, triggered_by, tier, contact_count, sent_sms, shared_location) VALUES (?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UnixMilli(),
		event.TriggeredBy,
		string(event.Tier),
		event.ContactCount,
		boolInt(event.SentSMS),
		boolInt(event.SharedLocation),
	)
	if err != nil {
		return alert.Event{}, fmt.Errorf("record alert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return alert.Event{}, fmt.Errorf("record alert event id: %w", err)
	}
	event.ID = id
	return event, nil
}

// Recent returns up to limit events, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]alert.Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, timestamp, triggered_by, tier, contact_count, sent_sms, shared_location
		 FROM alert_events ORDER BY timestamp DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query alert events: %w", err)
	}
	defer rows.Close()

	events := make([]alert.Event, 0, limit)
	for rows.Next() {
		var (
			e       alert.Event
			stamp   int64
			tierRaw string
		)
		if err := rows.Scan(&e.ID, &stamp, &e.TriggeredBy, &tierRaw, &e.ContactCount, &e.SentSMS, &e.SharedLocation); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		e.Timestamp = time.UnixMilli(stamp)
		e.Tier = alert.Tier(tierRaw)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert events: %w", err)
	}
	return events, nil
}
