// internal/billing/service.go
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries the few knobs the ledger needs. The currency symbol is a
// display concern only; every computation happens on parsed decimals.
type Config struct {
	CurrencySymbol string

	// LifetimeFeeThreshold is the amount at or above which an invoice under
	// a lifetime subscription type counts as the one-time lifetime fee when
	// no explicit type tag is present.
	LifetimeFeeThreshold decimal.Decimal
}

// DefaultConfig matches the production ledger.
func DefaultConfig() Config {
	return Config{
		CurrencySymbol:       "£",
		LifetimeFeeThreshold: decimal.NewFromInt(5000),
	}
}

// NewMember is the input for member creation. The business identifier may
// be assigned later via AssignBusinessID.
type NewMember struct {
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	BusinessID       string `json:"business_id"`
	SubscriptionType string `json:"subscription_type"`
	MembershipFee    string `json:"membership_fee"`
	JanazaFee        string `json:"janaza_fee"`
}

// NewInvoice is the input for invoice creation. MemberRef accepts any
// identifier the resolver understands.
type NewInvoice struct {
	MemberRef     string    `json:"member_ref"`
	Amount        string    `json:"amount"`
	MembershipFee string    `json:"membership_fee"`
	JanazaFee     string    `json:"janaza_fee"`
	Period        string    `json:"period"`
	DueDate       time.Time `json:"due_date"`
}

// Service is the financial ledger core. It is consumed as a library by the
// surrounding application; the HTTP handler in this package is a thin
// reference surface over it.
type Service interface {
	// ApprovePayment atomically moves a pending payment and its invoice and
	// member to a consistent paid state. All-or-nothing: any failure aborts
	// with no partial state observable.
	ApprovePayment(ctx context.Context, paymentRef, approverID, approverName string) (*ApprovalResult, error)

	// RejectPayment moves a pending payment to Rejected.
	RejectPayment(ctx context.Context, paymentRef, rejectorID, reason string) (*Payment, error)

	// SubmitPayment records payer-submitted evidence of payment as Pending.
	SubmitPayment(ctx context.Context, invoiceRef, amount, method, reference, screenshot string) (*Payment, error)

	CreateMember(ctx context.Context, in NewMember) (*Member, error)

	// AssignBusinessID sets or reassigns a member's business identifier.
	// A previously held identifier is pushed onto the append-only history
	// and remains a valid lookup key forever.
	AssignBusinessID(ctx context.Context, memberRef, newID string) (*Member, error)

	CreateInvoice(ctx context.Context, in NewInvoice) (*Invoice, error)

	// UpdateInvoice applies an admin patch through the write guards.
	UpdateInvoice(ctx context.Context, invoiceRef string, patch InvoicePatch) (*Invoice, error)

	// ArchiveInvoice soft-archives an invoice (dedup tooling) and refreshes
	// the member balance.
	ArchiveInvoice(ctx context.Context, invoiceRef string) error

	// MarkOverdue sweeps unpaid invoices past their due date to Overdue and
	// refreshes every affected member's balance. Returns the count swept.
	MarkOverdue(ctx context.Context, asOf time.Time) (int, error)

	// RecalculateBalance recomputes and persists a member's balance string.
	RecalculateBalance(ctx context.Context, memberRef string) (string, error)

	GetMember(ctx context.Context, ref string) (*Member, error)
	GetInvoice(ctx context.Context, ref string) (*Invoice, error)
	GetPayment(ctx context.Context, ref string) (*Payment, error)
}
