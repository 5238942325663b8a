// internal/billing/schema.go
package billing

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema for the four ledger tables. The partial unique index on completed
// payments is the storage-level last line of defense against a
// double-approval race; it must exist regardless of application logic.
const schema = `
CREATE TABLE IF NOT EXISTS members (
	id                UUID PRIMARY KEY,
	member_no         BIGINT NOT NULL UNIQUE,
	business_id       TEXT UNIQUE,
	previous_ids      JSONB NOT NULL DEFAULT '[]'::jsonb,
	name              TEXT NOT NULL,
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	subscription_type TEXT NOT NULL DEFAULT '',
	membership_fee    TEXT NOT NULL DEFAULT '',
	janaza_fee        TEXT NOT NULL DEFAULT '',
	lifetime_fee_paid BOOLEAN NOT NULL DEFAULT FALSE,
	payment_status    TEXT NOT NULL DEFAULT 'Pending',
	balance           TEXT NOT NULL DEFAULT '',
	last_payment_at   TIMESTAMPTZ,
	next_due_at       TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS invoices (
	id                UUID PRIMARY KEY,
	invoice_no        BIGINT NOT NULL UNIQUE,
	display_id        TEXT NOT NULL UNIQUE,
	member_ref        UUID REFERENCES members (id),
	member_id         TEXT NOT NULL,
	amount            TEXT NOT NULL DEFAULT '',
	membership_fee    TEXT NOT NULL DEFAULT '',
	janaza_fee        TEXT NOT NULL DEFAULT '',
	period            TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'Unpaid',
	due_date          TIMESTAMPTZ NOT NULL,
	receipt_number    TEXT,
	payment_method    TEXT,
	payment_reference TEXT,
	screenshot        TEXT,
	received_by       TEXT,
	last_payment_at   TIMESTAMPTZ,
	archived          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payments (
	id               UUID PRIMARY KEY,
	payment_no       BIGINT UNIQUE,
	invoice_ref      UUID REFERENCES invoices (id),
	invoice_id       TEXT NOT NULL DEFAULT '',
	member_ref       UUID REFERENCES members (id),
	member_id        TEXT NOT NULL DEFAULT '',
	amount           TEXT NOT NULL DEFAULT '',
	method           TEXT NOT NULL DEFAULT '',
	reference        TEXT NOT NULL DEFAULT '',
	screenshot       TEXT,
	status           TEXT NOT NULL DEFAULT 'Pending',
	approved_by      TEXT,
	approved_at      TIMESTAMPTZ,
	rejected_by      TEXT,
	rejected_at      TIMESTAMPTZ,
	rejection_reason TEXT,
	receipt_number   TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_one_completed_per_invoice
	ON payments (invoice_ref)
	WHERE status = 'Completed';

CREATE INDEX IF NOT EXISTS ix_invoices_member_id ON invoices (member_id);
CREATE INDEX IF NOT EXISTS ix_invoices_status ON invoices (status);
CREATE INDEX IF NOT EXISTS ix_payments_invoice_ref ON payments (invoice_ref);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);
`

// EnsureSchema creates the ledger tables and indexes if missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
