package repository

import (
	"context"
	"strings"

	"entgo.io/ent/dialect"
)

const (
	tablePrescriptions = "prescriptions"
	tableCredentials   = "gmail_credentials"
)

// schema is written once with postgres types; sqlite gets a textual rewrite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS prescriptions (
		id                UUID PRIMARY KEY,
		user_id           UUID NOT NULL,
		pdf_url           TEXT NOT NULL DEFAULT '',
		pdf_object_key    TEXT NOT NULL DEFAULT '',
		pdf_original_name TEXT NOT NULL DEFAULT '',
		physician         TEXT,
		specialty         TEXT,
		issued_on         TEXT,
		studies           TEXT NOT NULL DEFAULT '[]',
		diagnosis         TEXT,
		state             TEXT NOT NULL CHECK (state IN ('processing', 'pending', 'ocr_error')),
		message_id        TEXT,
		link_index        INTEGER NOT NULL DEFAULT 0,
		appointment_id    UUID,
		error_message     TEXT,
		extracted_json    TEXT,
		version           INTEGER NOT NULL DEFAULT 1,
		created_at        TIMESTAMPTZ NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL
	)`,
	// one record per (owner, message, link); NULL message ids (direct uploads) never collide
	`CREATE UNIQUE INDEX IF NOT EXISTS prescriptions_user_message_link
		ON prescriptions (user_id, message_id, link_index)`,
	`CREATE INDEX IF NOT EXISTS prescriptions_user_created
		ON prescriptions (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS gmail_credentials (
		user_id              UUID PRIMARY KEY,
		refresh_token_sealed TEXT NOT NULL,
		connected_at         TIMESTAMPTZ NOT NULL
	)`,
}

func statementsFor(d string) []string {
	if d != dialect.SQLite {
		return schema
	}
	r := strings.NewReplacer("TIMESTAMPTZ", "DATETIME", "UUID", "TEXT")
	out := make([]string, len(schema))
	for i, s := range schema {
		out[i] = r.Replace(s)
	}
	return out
}

// Migrate creates tables and indexes when missing. It is idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range statementsFor(d.Dialect()) {
		if err := d.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			d.logger.Error("migration failed", "error", err)
			return err
		}
	}
	d.logger.Info("database schema up to date", "dialect", d.Dialect())
	return nil
}
