// internal/billing/resolver.go
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// legacyHexRef matches the surrogate-key shape of the system this ledger
// was migrated from. Identifiers of that shape are still surrogate keys,
// never business identifiers.
var legacyHexRef = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

var numericRef = regexp.MustCompile(`^[0-9]+$`)

// looksLikeSurrogate reports whether an identifier has a surrogate-key
// shape: a parseable UUID or a 24-hex legacy key. This is the only place
// identifier shape-sniffing lives.
func looksLikeSurrogate(ref string) bool {
	if _, err := uuid.Parse(ref); err == nil {
		return true
	}
	return legacyHexRef.MatchString(ref)
}

// Resolver turns an ambiguous caller-supplied identifier into exactly one
// canonical record. It dispatches on identifier shape: surrogate keys are
// looked up directly, anything else is treated as a business identifier,
// with historical identifiers and (for invoices) receipt numbers as
// fallbacks. Pure read, no side effects.
type Resolver struct {
	q querier
}

func NewResolver(q querier) *Resolver {
	return &Resolver{q: q}
}

// Member resolves a member by surrogate key, current business identifier,
// or any business identifier the member previously held.
func (r *Resolver) Member(ctx context.Context, ref string) (*Member, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty member reference", ErrInvalidReference)
	}

	if id, err := uuid.Parse(ref); err == nil {
		return r.memberBy(ctx, `SELECT `+memberColumns+` FROM members WHERE id = $1`, ref, id)
	}
	if legacyHexRef.MatchString(ref) {
		// Legacy surrogate keys were not carried over; only business
		// identifiers survive in previous_ids.
		return nil, &NotFoundError{Kind: "member", Ref: ref}
	}

	return r.memberBy(ctx, `
		SELECT `+memberColumns+`
		FROM members
		WHERE business_id = $1
		   OR EXISTS (
			SELECT 1 FROM jsonb_array_elements(previous_ids) AS prev
			WHERE prev->>'id' = $1
		   )
	`, ref, ref)
}

func (r *Resolver) memberBy(ctx context.Context, query, ref string, arg any) (*Member, error) {
	m, err := scanMember(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "member", Ref: ref}
	}
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return m, nil
}

// Invoice resolves an invoice by surrogate key or display identifier.
// Purely numeric references fall back to receipt-number lookup; support
// staff use receipts as an ad-hoc invoice locator.
func (r *Resolver) Invoice(ctx context.Context, ref string) (*Invoice, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty invoice reference", ErrInvalidReference)
	}

	if id, err := uuid.Parse(ref); err == nil {
		return r.invoiceBy(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, ref, id)
	}

	inv, err := r.invoiceBy(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE display_id = $1`, ref, ref)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return inv, err
	}

	if numericRef.MatchString(ref) {
		return r.invoiceBy(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE receipt_number = $1`, ref, ref)
	}
	return nil, &NotFoundError{Kind: "invoice", Ref: ref}
}

func (r *Resolver) invoiceBy(ctx context.Context, query, ref string, arg any) (*Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "invoice", Ref: ref}
	}
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return inv, nil
}

// Payment resolves a payment by surrogate key or, for purely numeric
// references, by payment number.
func (r *Resolver) Payment(ctx context.Context, ref string) (*Payment, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty payment reference", ErrInvalidReference)
	}

	var (
		query = `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
		arg   any
	)
	if id, err := uuid.Parse(ref); err == nil {
		arg = id
	} else if numericRef.MatchString(ref) {
		query = `SELECT ` + paymentColumns + ` FROM payments WHERE payment_no = $1`
		arg = ref
	} else {
		return nil, &NotFoundError{Kind: "payment", Ref: ref}
	}

	p, err := scanPayment(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "payment", Ref: ref}
	}
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	return p, nil
}
