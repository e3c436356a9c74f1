package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rbright/pulselink/internal/alert"
	"github.com/rbright/pulselink/internal/store"
)

const contactColumns = `id, display_name, phone_number, escalation_tier, include_location, auto_call`

// ContactsByTier returns the contacts assigned to tier ordered by display name.
func (db *DB) ContactsByTier(ctx context.Context, tier alert.Tier) ([]alert.Contact, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE escalation_tier = ? ORDER BY display_name COLLATE NOCASE, id`,
		string(tier),
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts for %s: %w", tier, err)
	}
	return scanContacts(rows)
}

// ListContacts returns every contact grouped by tier then name.
func (db *DB) ListContacts(ctx context.Context) ([]alert.Contact, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts ORDER BY escalation_tier, display_name COLLATE NOCASE, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	return scanContacts(rows)
}

// UpsertContact inserts c when its ID is zero and updates it otherwise.
func (db *DB) UpsertContact(ctx context.Context, c alert.Contact) (alert.Contact, error) {
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	c.PhoneNumber = strings.TrimSpace(c.PhoneNumber)
	if c.DisplayName == "" {
		return alert.Contact{}, errors.New("contact display name is empty")
	}
	if c.PhoneNumber == "" {
		return alert.Contact{}, errors.New("contact phone number is empty")
	}
	if !c.Tier.Valid() {
		return alert.Contact{}, fmt.Errorf("contact tier: %w: %q", alert.ErrUnknownTier, c.Tier)
	}

	if c.ID == 0 {
		res, err := db.conn.ExecContext(ctx,
			`INSERT INTO contacts (display_name, phone_number, escalation_tier, include_location, auto_call) VALUES (?, ?, ?, ?, ?)`,
			c.DisplayName, c.PhoneNumber, string(c.Tier), boolInt(c.IncludeLocation), boolInt(c.AutoCall),
		)
		if err != nil {
			return alert.Contact{}, fmt.Errorf("insert contact: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return alert.Contact{}, fmt.Errorf("insert contact id: %w", err)
		}
		c.ID = id
		return c, nil
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE contacts SET display_name = ?, phone_number = ?, escalation_tier = ?, include_location = ?, auto_call = ? WHERE id = ?`,
		c.DisplayName, c.PhoneNumber, string(c.Tier), boolInt(c.IncludeLocation), boolInt(c.AutoCall), c.ID,
	)
	if err != nil {
		return alert.Contact{}, fmt.Errorf("update contact %d: %w", c.ID, err)
	}
	if err := expectAffected(res, c.ID); err != nil {
		return alert.Contact{}, err
	}
	return c, nil
}

// DeleteContact removes the contact with id.
func (db *DB) DeleteContact(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM contacts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete contact %d: %w", id, err)
	}
	return expectAffected(res, id)
}

func expectAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("contact %d rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("contact %d: %w", id, store.ErrNotFound)
	}
	return nil
}

func scanContacts(rows *sql.Rows) ([]alert.Contact, error) {
	defer rows.Close()

	contacts := make([]alert.Contact, 0)
	for rows.Next() {
		var (
			c    alert.Contact
			tier string
		)
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.PhoneNumber, &tier, &c.IncludeLocation, &c.AutoCall); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Tier = alert.Tier(tier)
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}
