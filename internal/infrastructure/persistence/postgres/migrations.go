package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMigrationFailed wraps any error raised while applying a migration.
var ErrMigrationFailed = errors.New("postgres: migration failed")

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrations returns the notification schema in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_whatsapp_notifications", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_notification_indexes", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// Migrator applies Migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator for the embedded notification schema.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

// Migrate applies every migration not yet recorded, each in its own
// transaction. It returns the versions it applied.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var done []int
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		done = append(done, mig.Version)
	}
	return done, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// The tickets, users, contractors and qa_risk_acceptances tables belong to
// the ticketing module and are not migrated here.

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE WHATSAPP NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create whatsapp_notifications table
-- Version: 001

CREATE TABLE IF NOT EXISTS whatsapp_notifications (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    ticket_id UUID,
    recipient_type VARCHAR(20) NOT NULL,
    recipient_phone VARCHAR(32) NOT NULL,
    recipient_name VARCHAR(255),
    message_template VARCHAR(64),
    message_content TEXT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    waha_message_id VARCHAR(255),
    sent_at TIMESTAMP WITH TIME ZONE,
    delivered_at TIMESTAMP WITH TIME ZONE,
    read_at TIMESTAMP WITH TIME ZONE,
    error_message TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_recipient_type CHECK (recipient_type IN ('contractor', 'technician', 'client', 'team')),
    CONSTRAINT valid_status CHECK (status IN ('pending', 'sent', 'delivered', 'read', 'failed')),
    CONSTRAINT valid_retry_count CHECK (retry_count >= 0)
);

-- created_at is immutable
CREATE OR REPLACE FUNCTION whatsapp_notifications_touch()
RETURNS TRIGGER AS $$
BEGIN
    NEW.created_at = OLD.created_at;
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_whatsapp_notifications_touch ON whatsapp_notifications;
CREATE TRIGGER trg_whatsapp_notifications_touch
    BEFORE UPDATE ON whatsapp_notifications
    FOR EACH ROW EXECUTE FUNCTION whatsapp_notifications_touch();
`

const migration001Down = `
DROP TRIGGER IF EXISTS trg_whatsapp_notifications_touch ON whatsapp_notifications;
DROP FUNCTION IF EXISTS whatsapp_notifications_touch();
DROP TABLE IF EXISTS whatsapp_notifications;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: NOTIFICATION INDEXES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Indexes for webhook lookups, dedup checks and listings
-- Version: 002

CREATE UNIQUE INDEX IF NOT EXISTS idx_whatsapp_notifications_waha_message_id
    ON whatsapp_notifications(waha_message_id) WHERE waha_message_id IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_whatsapp_notifications_dedup
    ON whatsapp_notifications(ticket_id, message_template, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_whatsapp_notifications_status
    ON whatsapp_notifications(status);

CREATE INDEX IF NOT EXISTS idx_whatsapp_notifications_created_at
    ON whatsapp_notifications(created_at DESC);

CREATE INDEX IF NOT EXISTS idx_whatsapp_notifications_sent_at
    ON whatsapp_notifications(sent_at) WHERE sent_at IS NOT NULL;
`

const migration002Down = `
DROP INDEX IF EXISTS idx_whatsapp_notifications_sent_at;
DROP INDEX IF EXISTS idx_whatsapp_notifications_created_at;
DROP INDEX IF EXISTS idx_whatsapp_notifications_status;
DROP INDEX IF EXISTS idx_whatsapp_notifications_dedup;
DROP INDEX IF EXISTS idx_whatsapp_notifications_waha_message_id;
`
