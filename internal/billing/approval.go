// internal/billing/approval.go
//
// The payment approval transaction: the only path that moves an invoice
// into a paid status. Everything between BeginTx and Commit is
// all-or-nothing; counter allocations happen on the pool because they are
// single atomic statements (an aborted approval leaves a gap in the
// sequence, which is tolerated — a duplicate is not).
package billing

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"memberledger/internal/sequence"
)

var periodYear = regexp.MustCompile(`(19|20)[0-9]{2}`)

// extractPeriodYear pulls a 4-digit year out of a free-text period label
// such as "Membership 2026" or "2025/26 Annual".
func extractPeriodYear(period string) (int, bool) {
	match := periodYear.FindString(period)
	if match == "" {
		return 0, false
	}
	year := 0
	for _, r := range match {
		year = year*10 + int(r-'0')
	}
	return year, true
}

// nextDueDate derives the member's next renewal date from the invoice
// period: January 1 of the year after the invoiced year. Labels with no
// year assume yearly semantics from now.
func nextDueDate(period string, now time.Time) time.Time {
	year, ok := extractPeriodYear(period)
	if !ok {
		year = now.Year()
	}
	return time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// qualifiesLifetimeFee reports whether this invoice settles the one-time
// lifetime membership fee. The amount threshold is a heuristic inherited
// from the production data: invoices of the lifetime subscription types at
// or above the threshold are the lifetime fee even without an explicit tag.
func qualifiesLifetimeFee(member *Member, invoice *Invoice, cfg Config) bool {
	if !isLifetimeType(member.SubscriptionType) || member.LifetimeFeePaid {
		return false
	}
	return parseAmount(invoice.MembershipFee).GreaterThanOrEqual(cfg.LifetimeFeeThreshold) ||
		parseAmount(invoice.Amount).GreaterThanOrEqual(cfg.LifetimeFeeThreshold)
}

// ApprovePayment moves a pending payment to Completed and its invoice to
// Paid, allocates the receipt number, refreshes the member's balance and
// renewal date, and flips the lifetime-fee flag when the invoice settles
// it. Two concurrent approvals for the same invoice yield exactly one
// success: the loser hits either the Pending precondition or the partial
// unique index on completed payments, both surfacing as ErrConflict.
func (s *service) ApprovePayment(ctx context.Context, paymentRef, approverID, approverName string) (*ApprovalResult, error) {
	ctx, span := s.tracer.Start(ctx, "billing.approve_payment",
		trace.WithAttributes(
			attribute.String("payment.ref", paymentRef),
			attribute.String("approver.id", approverID),
		),
	)
	defer span.End()

	located, err := s.resolver.Payment(ctx, paymentRef)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	defer tx.Rollback()

	// Re-read under a row lock so concurrent approvals of the same payment
	// serialize here.
	payment, err := scanPayment(tx.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE
	`, located.ID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "payment", Ref: paymentRef}
	}
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	if payment.Status == PaymentCompleted {
		return nil, fmt.Errorf("%w: payment %s already completed", ErrConflict, payment.ID)
	}
	if payment.Status != PaymentPending {
		return nil, &InvariantError{Field: "status", Reason: "only a pending payment can be approved"}
	}

	resolver := NewResolver(tx)
	member, invoice, err := s.resolveApprovalRefs(ctx, resolver, payment)
	if err != nil {
		return nil, err
	}

	// Counter allocations are atomic single statements against the pool;
	// strict mode so an allocator failure aborts the approval rather than
	// fabricating a number.
	if payment.PaymentNo == 0 {
		paymentNo, err := s.sequences.Next(ctx, sequence.PaymentNo)
		if err != nil {
			return nil, fmt.Errorf("allocate payment number: %w", err)
		}
		payment.PaymentNo = paymentNo
	}
	receipt, err := s.sequences.NextReceipt(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("allocate receipt number: %w", err)
	}

	now := time.Now().UTC()
	payment.Status = PaymentCompleted
	payment.ApprovedBy = approverID
	payment.ApprovedAt = &now
	payment.ReceiptNumber = receipt
	payment.MemberRef = member.ID
	payment.InvoiceRef = invoice.ID
	if payment.MemberID == "" {
		payment.MemberID = invoice.MemberID
	}
	if payment.InvoiceID == "" {
		payment.InvoiceID = invoice.DisplayID
	}

	// The partial unique index on completed payments fires here if another
	// payment already settled this invoice.
	_, err = tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, payment_no = $2, approved_by = $3, approved_at = $4,
		    receipt_number = $5, member_ref = $6, member_id = $7,
		    invoice_ref = $8, invoice_id = $9, updated_at = NOW()
		WHERE id = $10
	`, payment.Status, payment.PaymentNo, payment.ApprovedBy, now,
		payment.ReceiptNumber, payment.MemberRef, payment.MemberID,
		payment.InvoiceRef, payment.InvoiceID, payment.ID)
	if err != nil {
		return nil, classifyStoreErr(err)
	}

	memberID := member.BusinessID
	if memberID == "" {
		memberID = invoice.MemberID
	}
	memberRef := member.ID.String()
	paid := InvoicePaid
	updatedInvoice, err := saveInvoice(ctx, tx, invoice, InvoicePatch{
		Status:           &paid,
		ReceiptNumber:    &receipt,
		MemberRef:        &memberRef,
		MemberID:         &memberID,
		PaymentMethod:    &payment.Method,
		PaymentReference: &payment.Reference,
		Screenshot:       &payment.Screenshot,
		ReceivedBy:       &approverName,
		LastPaymentAt:    &now,
	}, true)
	if err != nil {
		return nil, err
	}

	// Balance is recomputed against the post-update invoice set inside the
	// same transaction: no reader ever observes a half-updated balance.
	if _, err := recalcBalance(ctx, tx, member, s.cfg.CurrencySymbol); err != nil {
		return nil, fmt.Errorf("recalculate balance: %w", err)
	}

	nextDue := nextDueDate(invoice.Period, now)
	lifetimePaid := member.LifetimeFeePaid || qualifiesLifetimeFee(member, invoice, s.cfg)
	_, err = tx.ExecContext(ctx, `
		UPDATE members
		SET payment_status = $1, last_payment_at = $2, next_due_at = $3,
		    lifetime_fee_paid = $4, updated_at = NOW()
		WHERE id = $5
	`, InvoicePaid, now, nextDue, lifetimePaid, member.ID)
	if err != nil {
		return nil, classifyStoreErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyStoreErr(err)
	}

	member.PaymentStatus = InvoicePaid
	member.LastPaymentAt = &now
	member.NextDueAt = &nextDue
	member.LifetimeFeePaid = lifetimePaid

	span.SetAttributes(
		attribute.String("receipt.number", receipt),
		attribute.String("invoice.display_id", updatedInvoice.DisplayID),
	)
	s.logger.Info("payment approved",
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", updatedInvoice.DisplayID),
		zap.String("receipt_number", receipt),
		zap.String("approved_by", approverID),
		zap.String("approver_name", approverName),
	)

	return &ApprovalResult{Payment: payment, Invoice: updatedInvoice, Member: member}, nil
}

// resolveApprovalRefs locates the payment's member and invoice through the
// resolver, preferring normalized surrogate links and falling back to the
// loose business identifiers the payer supplied.
func (s *service) resolveApprovalRefs(ctx context.Context, r *Resolver, payment *Payment) (*Member, *Invoice, error) {
	invoiceRef := payment.InvoiceID
	if payment.InvoiceRef != uuid.Nil {
		invoiceRef = payment.InvoiceRef.String()
	}
	if invoiceRef == "" {
		return nil, nil, fmt.Errorf("%w: payment %s has no invoice reference", ErrInvalidReference, payment.ID)
	}
	invoice, err := r.Invoice(ctx, invoiceRef)
	if err != nil {
		return nil, nil, err
	}

	memberRef := payment.MemberID
	if payment.MemberRef != uuid.Nil {
		memberRef = payment.MemberRef.String()
	}
	if memberRef == "" {
		memberRef = invoice.MemberID
		if invoice.MemberRef != uuid.Nil {
			memberRef = invoice.MemberRef.String()
		}
	}
	if memberRef == "" {
		return nil, nil, fmt.Errorf("%w: payment %s has no member reference", ErrInvalidReference, payment.ID)
	}
	member, err := r.Member(ctx, memberRef)
	if err != nil {
		return nil, nil, err
	}

	return member, invoice, nil
}
