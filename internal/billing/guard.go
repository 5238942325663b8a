// internal/billing/guard.go
//
// Write guards for the invoices table. Every create and update, whatever
// the caller, funnels through saveInvoice, which applies checkInvoiceWrite
// before touching the store. There is no other invoice write path in this
// package.
package billing

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var numericReceipt = regexp.MustCompile(`^[0-9]+$`)

// isNumericReceipt reports whether a receipt number is a non-empty decimal
// string. Fallback identifiers from the non-strict allocator do not count.
func isNumericReceipt(s string) bool {
	return numericReceipt.MatchString(s)
}

// InvoicePatch is a partial update to an invoice. Nil fields are left
// untouched. The patch deliberately has no member-name or member-email
// fields: member identity is never cached on the invoice beyond the
// business-id mirror, so no write path can introduce it.
type InvoicePatch struct {
	MemberRef        *string
	MemberID         *string
	InvoiceNo        *int64
	Amount           *string
	MembershipFee    *string
	JanazaFee        *string
	Period           *string
	Status           *string
	DueDate          *time.Time
	ReceiptNumber    *string
	PaymentMethod    *string
	PaymentReference *string
	Screenshot       *string
	ReceivedBy       *string
	LastPaymentAt    *time.Time
	Archived         *bool
}

// checkInvoiceWrite validates a write against the current row (nil for a
// create). approval is the capability flag held only by the payment
// approval transaction; it gates the transition into a paid status.
// The checks run in a fixed order so rejections are deterministic.
func checkInvoiceWrite(current *Invoice, patch InvoicePatch, approval bool) error {
	// Resulting status and receipt number after the patch would apply.
	status := ""
	receipt := ""
	if current != nil {
		status = current.Status
		receipt = current.ReceiptNumber
	}
	if patch.Status != nil {
		status = *patch.Status
	}
	if patch.ReceiptNumber != nil {
		receipt = *patch.ReceiptNumber
	}

	// The member identifier on an invoice is the business identifier,
	// never the internal surrogate key.
	if patch.MemberID != nil && looksLikeSurrogate(*patch.MemberID) {
		return fmt.Errorf("%w: invoice memberId must be a business identifier, got surrogate key %q",
			ErrInvalidReference, *patch.MemberID)
	}

	// invoiceNo is immutable after creation.
	if current != nil && patch.InvoiceNo != nil && *patch.InvoiceNo != current.InvoiceNo {
		return fmt.Errorf("%w: invoiceNo is immutable", ErrForbidden)
	}

	// Once a real receipt number is on the invoice it never changes and
	// never goes away. A write may omit it or resend the same value.
	if current != nil && isNumericReceipt(current.ReceiptNumber) &&
		patch.ReceiptNumber != nil && *patch.ReceiptNumber != current.ReceiptNumber {
		return fmt.Errorf("%w: receiptNumber is immutable once assigned", ErrForbidden)
	}

	// A paid invoice must carry a numeric receipt number at all times.
	if isPaidStatus(status) && !isNumericReceipt(receipt) {
		return &InvariantError{
			Field:  "receiptNumber",
			Reason: "a paid invoice requires a numeric receipt number",
		}
	}

	// Only the approval transaction moves an invoice into a paid status.
	// Resending the identical status on an already-paid row is permitted;
	// admin edits of non-financial fields do that.
	if patch.Status != nil && isPaidStatus(*patch.Status) && !approval {
		if current == nil || current.Status != *patch.Status {
			return fmt.Errorf("%w: paid status is reserved for the payment approval transaction", ErrForbidden)
		}
	}

	// Paid invoices stay attached to the member they were paid by.
	if current != nil && isPaidStatus(current.Status) {
		if patch.MemberID != nil && *patch.MemberID != current.MemberID {
			return &InvariantError{
				Field:  "memberId",
				Reason: "cannot change the member on a paid invoice",
			}
		}
		if patch.MemberRef != nil && *patch.MemberRef != current.MemberRef.String() {
			return &InvariantError{
				Field:  "memberRef",
				Reason: "cannot change the member on a paid invoice",
			}
		}
	}

	// The due date is set once at creation.
	if current != nil && patch.DueDate != nil && !patch.DueDate.Equal(current.DueDate) {
		return fmt.Errorf("%w: dueDate is immutable after creation", ErrForbidden)
	}

	return nil
}

// applyInvoicePatch returns a copy of current with the patch applied.
// Call only after checkInvoiceWrite has passed.
func applyInvoicePatch(current Invoice, patch InvoicePatch) Invoice {
	inv := current
	if patch.MemberID != nil {
		inv.MemberID = *patch.MemberID
	}
	if patch.Amount != nil {
		inv.Amount = *patch.Amount
	}
	if patch.MembershipFee != nil {
		inv.MembershipFee = *patch.MembershipFee
	}
	if patch.JanazaFee != nil {
		inv.JanazaFee = *patch.JanazaFee
	}
	if patch.Period != nil {
		inv.Period = *patch.Period
	}
	if patch.Status != nil {
		inv.Status = *patch.Status
	}
	if patch.ReceiptNumber != nil {
		inv.ReceiptNumber = *patch.ReceiptNumber
	}
	if patch.PaymentMethod != nil {
		inv.PaymentMethod = *patch.PaymentMethod
	}
	if patch.PaymentReference != nil {
		inv.PaymentReference = *patch.PaymentReference
	}
	if patch.Screenshot != nil {
		inv.Screenshot = *patch.Screenshot
	}
	if patch.ReceivedBy != nil {
		inv.ReceivedBy = *patch.ReceivedBy
	}
	if patch.LastPaymentAt != nil {
		t := *patch.LastPaymentAt
		inv.LastPaymentAt = &t
	}
	if patch.Archived != nil {
		inv.Archived = *patch.Archived
	}
	return inv
}

// saveInvoice is the single choke point for invoice updates. It runs the
// guards against the current row, applies the patch and persists the
// result.
func saveInvoice(ctx context.Context, q querier, current *Invoice, patch InvoicePatch, approval bool) (*Invoice, error) {
	if current == nil {
		return nil, fmt.Errorf("saveInvoice: nil current row")
	}
	if err := checkInvoiceWrite(current, patch, approval); err != nil {
		return nil, err
	}

	inv := applyInvoicePatch(*current, patch)
	if patch.MemberRef != nil {
		ref, err := uuid.Parse(*patch.MemberRef)
		if err != nil {
			return nil, fmt.Errorf("%w: member ref %q", ErrInvalidReference, *patch.MemberRef)
		}
		inv.MemberRef = ref
	}

	_, err := q.ExecContext(ctx, `
		UPDATE invoices
		SET member_ref = $1, member_id = $2, amount = $3, membership_fee = $4,
		    janaza_fee = $5, period = $6, status = $7, receipt_number = $8,
		    payment_method = $9, payment_reference = $10, screenshot = $11,
		    received_by = $12, last_payment_at = $13, archived = $14,
		    updated_at = NOW()
		WHERE id = $15
	`,
		nullUUID(inv.MemberRef), inv.MemberID, inv.Amount, inv.MembershipFee,
		inv.JanazaFee, inv.Period, inv.Status, nullString(inv.ReceiptNumber),
		nullString(inv.PaymentMethod), nullString(inv.PaymentReference), nullString(inv.Screenshot),
		nullString(inv.ReceivedBy), nullTime(inv.LastPaymentAt), inv.Archived,
		inv.ID,
	)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return &inv, nil
}
