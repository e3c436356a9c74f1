package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rbright/pulselink/internal/alert"
)

const (
	keyPrimaryPhrase      = "primary_phrase"
	keySecondaryPhrase    = "secondary_phrase"
	keyListeningEnabled   = "listening_enabled"
	keyIncludeLocation    = "include_location"
	keyEmergencyProfile   = "emergency_profile"
	keyCheckInProfile     = "check_in_profile"
	keyAutoCallAfterAlert = "auto_call_after_alert"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Snapshot returns stored settings merged over the seed defaults.
func (db *DB) Snapshot(ctx context.Context) (alert.Settings, error) {
	return db.snapshot(ctx, db.conn)
}

// ListeningEnabled reports the current listening toggle.
func (db *DB) ListeningEnabled(ctx context.Context) (bool, error) {
	settings, err := db.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	return settings.ListeningEnabled, nil
}

// SetListening persists the listening toggle.
func (db *DB) SetListening(ctx context.Context, enabled bool) (alert.Settings, error) {
	return db.Update(ctx, func(s *alert.Settings) { s.ListeningEnabled = enabled })
}

// Update applies fn to the current snapshot and writes the keys it changed in
// one transaction. Keys never written keep following the seed.
func (db *DB) Update(ctx context.Context, fn func(*alert.Settings)) (alert.Settings, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return alert.Settings{}, fmt.Errorf("begin settings update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	settings, err := db.snapshot(ctx, tx)
	if err != nil {
		return alert.Settings{}, err
	}
	before, err := encodeSettings(settings)
	if err != nil {
		return alert.Settings{}, err
	}
	fn(&settings)

	after, err := encodeSettings(settings)
	if err != nil {
		return alert.Settings{}, err
	}
	for i, kv := range after {
		if kv == before[i] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			kv[0], kv[1],
		); err != nil {
			return alert.Settings{}, fmt.Errorf("write setting %s: %w", kv[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return alert.Settings{}, fmt.Errorf("commit settings update: %w", err)
	}
	return settings, nil
}

func (db *DB) snapshot(ctx context.Context, q querier) (alert.Settings, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return alert.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	settings := db.seed
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return alert.Settings{}, fmt.Errorf("scan setting: %w", err)
		}
		if err := applySetting(&settings, key, value); err != nil {
			return alert.Settings{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return alert.Settings{}, fmt.Errorf("iterate settings: %w", err)
	}
	return settings, nil
}

// applySetting decodes one stored key. Unknown keys are ignored.
func applySetting(s *alert.Settings, key string, value string) error {
	var err error
	switch key {
	case keyPrimaryPhrase:
		s.PrimaryPhrase = value
	case keySecondaryPhrase:
		s.SecondaryPhrase = value
	case keyListeningEnabled:
		s.ListeningEnabled, err = strconv.ParseBool(value)
	case keyIncludeLocation:
		s.IncludeLocation, err = strconv.ParseBool(value)
	case keyAutoCallAfterAlert:
		s.AutoCallAfterAlert, err = strconv.ParseBool(value)
	case keyEmergencyProfile:
		err = json.Unmarshal([]byte(value), &s.EmergencyProfile)
	case keyCheckInProfile:
		err = json.Unmarshal([]byte(value), &s.CheckInProfile)
	}
	if err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

func encodeSettings(s alert.Settings) ([][2]string, error) {
	emergency, err := json.Marshal(s.EmergencyProfile)
	if err != nil {
		return nil, fmt.Errorf("encode emergency profile: %w", err)
	}
	checkIn, err := json.Marshal(s.CheckInProfile)
	if err != nil {
		return nil, fmt.Errorf("encode check-in profile: %w", err)
	}
	return [][2]string{
		{keyPrimaryPhrase, s.PrimaryPhrase},
		{keySecondaryPhrase, s.SecondaryPhrase},
		{keyListeningEnabled, strconv.FormatBool(s.ListeningEnabled)},
		{keyIncludeLocation, strconv.FormatBool(s.IncludeLocation)},
		{keyEmergencyProfile, string(emergency)},
		{keyCheckInProfile, string(checkIn)},
		{keyAutoCallAfterAlert, strconv.FormatBool(s.AutoCallAfterAlert)},
	}, nil
}
