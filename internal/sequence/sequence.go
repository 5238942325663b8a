// Package sequence hands out monotonically increasing integers per named
// counter. The read and the write are a single atomic upsert-increment
// statement, so no two concurrent callers ever observe the same value and
// first use seeds the counter row without racing. Gaps (a caller crashing
// between increment and use) are tolerated; duplicates are not.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Allowed sequence names. Display-id counters are namespaced under the
// "display:" prefix, one counter per prefix (e.g. "display:INV-2026").
const (
	MemberNo  = "memberNo"
	InvoiceNo = "invoiceNo"
	PaymentNo = "paymentNo"

	displayNamespace = "display:"

	// receiptName is the singleton human-facing receipt counter. Seeded at
	// 2000, so the first receipt issued is "2001".
	receiptName = "receiptNo"
	receiptSeed = 2000
)

// ErrInvalidSequence is returned when a caller requests a counter outside
// the closed set of allowed names.
var ErrInvalidSequence = errors.New("invalid sequence name")

// Store allocates counter values against the counters table.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("memberledger/sequence"),
	}
}

// DisplayCounter returns the sequence name for a display-id prefix.
func DisplayCounter(prefix string) string {
	return displayNamespace + prefix
}

func validName(name string) bool {
	switch name {
	case MemberNo, InvoiceNo, PaymentNo:
		return true
	}
	return len(name) > len(displayNamespace) && name[:len(displayNamespace)] == displayNamespace
}

// Next atomically increments the named counter and returns the new value.
// The counter row is created on first use with seed 0, so the first value
// issued is 1. Never emulate this with read-then-write.
func (s *Store) Next(ctx context.Context, name string) (int64, error) {
	if !validName(name) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSequence, name)
	}

	ctx, span := s.tracer.Start(ctx, "sequence.next",
		trace.WithAttributes(attribute.String("sequence.name", name)),
	)
	defer span.End()

	value, err := s.increment(ctx, name, 0)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", name, err)
	}

	span.SetAttributes(attribute.Int64("sequence.value", value))
	return value, nil
}

// NextReceipt allocates the next human-facing receipt number as a decimal
// string with no fixed width. In strict mode any failure propagates: inside
// a financial transaction a silently fabricated number would corrupt the
// ledger. In non-strict mode a clearly non-sequential timestamp-derived
// fallback is returned instead; the approval path must never use it.
func (s *Store) NextReceipt(ctx context.Context, strict bool) (string, error) {
	ctx, span := s.tracer.Start(ctx, "sequence.next_receipt",
		trace.WithAttributes(attribute.Bool("receipt.strict", strict)),
	)
	defer span.End()

	value, err := s.increment(ctx, receiptName, receiptSeed)
	if err != nil {
		if strict {
			return "", fmt.Errorf("next receipt: %w", err)
		}
		fallback := "TMP-" + strconv.FormatInt(time.Now().UnixNano(), 10)
		span.SetAttributes(
			attribute.Bool("receipt.fallback", true),
			attribute.String("receipt.error", err.Error()),
		)
		return fallback, nil
	}

	span.SetAttributes(attribute.Int64("receipt.value", value))
	return strconv.FormatInt(value, 10), nil
}

// increment is the single atomic increment-and-return primitive. The
// insert seeds the row on first use; concurrent first callers collapse
// into the ON CONFLICT branch rather than creating two rows.
func (s *Store) increment(ctx context.Context, name string, seed int64) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET value = counters.value + 1
		RETURNING value
	`, name, seed+1).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}
