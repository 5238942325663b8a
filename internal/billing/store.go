// internal/billing/store.go
package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so every read and
// write path in this package runs identically inside or outside the
// approval transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const memberColumns = `id, member_no, business_id, previous_ids, name, email, phone,
	subscription_type, membership_fee, janaza_fee, lifetime_fee_paid,
	payment_status, balance, last_payment_at, next_due_at, created_at, updated_at`

const invoiceColumns = `id, invoice_no, display_id, member_ref, member_id, amount,
	membership_fee, janaza_fee, period, status, due_date, receipt_number,
	payment_method, payment_reference, screenshot, received_by,
	last_payment_at, archived, created_at, updated_at`

const paymentColumns = `id, payment_no, invoice_ref, invoice_id, member_ref, member_id,
	amount, method, reference, screenshot, status, approved_by, approved_at,
	rejected_by, rejected_at, rejection_reason, receipt_number, created_at, updated_at`

func scanMember(row rowScanner) (*Member, error) {
	var (
		m           Member
		businessID  sql.NullString
		previousIDs []byte
		lastPayment sql.NullTime
		nextDue     sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.MemberNo, &businessID, &previousIDs, &m.Name, &m.Email, &m.Phone,
		&m.SubscriptionType, &m.MembershipFee, &m.JanazaFee, &m.LifetimeFeePaid,
		&m.PaymentStatus, &m.Balance, &lastPayment, &nextDue, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.BusinessID = businessID.String
	if len(previousIDs) > 0 {
		if err := json.Unmarshal(previousIDs, &m.PreviousIDs); err != nil {
			return nil, fmt.Errorf("decode previous ids: %w", err)
		}
	}
	m.LastPaymentAt = nullTimePtr(lastPayment)
	m.NextDueAt = nullTimePtr(nextDue)
	return &m, nil
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var (
		inv         Invoice
		memberRef   uuid.NullUUID
		receipt     sql.NullString
		method      sql.NullString
		reference   sql.NullString
		screenshot  sql.NullString
		receivedBy  sql.NullString
		lastPayment sql.NullTime
	)
	err := row.Scan(
		&inv.ID, &inv.InvoiceNo, &inv.DisplayID, &memberRef, &inv.MemberID, &inv.Amount,
		&inv.MembershipFee, &inv.JanazaFee, &inv.Period, &inv.Status, &inv.DueDate, &receipt,
		&method, &reference, &screenshot, &receivedBy,
		&lastPayment, &inv.Archived, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.MemberRef = memberRef.UUID
	inv.ReceiptNumber = receipt.String
	inv.PaymentMethod = method.String
	inv.PaymentReference = reference.String
	inv.Screenshot = screenshot.String
	inv.ReceivedBy = receivedBy.String
	inv.LastPaymentAt = nullTimePtr(lastPayment)
	return &inv, nil
}

func scanPayment(row rowScanner) (*Payment, error) {
	var (
		p          Payment
		paymentNo  sql.NullInt64
		invoiceRef uuid.NullUUID
		memberRef  uuid.NullUUID
		approvedBy sql.NullString
		approvedAt sql.NullTime
		rejectedBy sql.NullString
		rejectedAt sql.NullTime
		reason     sql.NullString
		screenshot sql.NullString
		receipt    sql.NullString
	)
	err := row.Scan(
		&p.ID, &paymentNo, &invoiceRef, &p.InvoiceID, &memberRef, &p.MemberID,
		&p.Amount, &p.Method, &p.Reference, &screenshot, &p.Status, &approvedBy, &approvedAt,
		&rejectedBy, &rejectedAt, &reason, &receipt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PaymentNo = paymentNo.Int64
	p.InvoiceRef = invoiceRef.UUID
	p.MemberRef = memberRef.UUID
	p.Screenshot = screenshot.String
	p.ApprovedBy = approvedBy.String
	p.ApprovedAt = nullTimePtr(approvedAt)
	p.RejectedBy = rejectedBy.String
	p.RejectedAt = nullTimePtr(rejectedAt)
	p.RejectionReason = reason.String
	p.ReceiptNumber = receipt.String
	return &p, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}
