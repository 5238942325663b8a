// internal/billing/domain.go
package billing

import (
	"time"

	"github.com/google/uuid"
)

// Invoice and payment statuses. Paid and Completed are treated identically
// by the write guards; Completed exists for records migrated from the old
// system.
const (
	InvoiceUnpaid    = "Unpaid"
	InvoiceOverdue   = "Overdue"
	InvoicePaid      = "Paid"
	InvoiceCompleted = "Completed"
	InvoiceRejected  = "Rejected"

	PaymentPending   = "Pending"
	PaymentCompleted = "Completed"
	PaymentRejected  = "Rejected"
)

// Subscription types. "Lifetime" is the legacy spelling still present on
// older member records.
const (
	SubAnnual         = "Annual Member"
	SubLifetimeJanaza = "Lifetime Janaza Fund Member"
	SubLifetime       = "Lifetime Membership"
	SubLifetimeLegacy = "Lifetime"
)

// isPaidStatus reports whether a status counts as settled for the
// receipt-pairing and transition guards.
func isPaidStatus(status string) bool {
	return status == InvoicePaid || status == InvoiceCompleted
}

// isLifetimeType reports whether a subscription type participates in the
// one-time lifetime-fee flow.
func isLifetimeType(sub string) bool {
	return sub == SubLifetimeJanaza || sub == SubLifetime || sub == SubLifetimeLegacy
}

// PreviousID is one entry in a member's append-only history of business
// identifiers. Entries are immutable once recorded; old invoices and
// receipts keep resolving through them forever.
type PreviousID struct {
	ID               string    `json:"id"`
	SubscriptionType string    `json:"subscription_type"`
	RecordedAt       time.Time `json:"recorded_at"`
}

// Member is a billed subscriber. ID is the internal surrogate key;
// BusinessID is the human-facing code (e.g. "AM702") used on receipts.
// Balance is derived display state owned by the balance calculator and is
// never hand-edited.
type Member struct {
	ID               uuid.UUID    `json:"id"`
	MemberNo         int64        `json:"member_no"`
	BusinessID       string       `json:"business_id,omitempty"`
	PreviousIDs      []PreviousID `json:"previous_ids,omitempty"`
	Name             string       `json:"name"`
	Email            string       `json:"email"`
	Phone            string       `json:"phone"`
	SubscriptionType string       `json:"subscription_type"`
	MembershipFee    string       `json:"membership_fee"`
	JanazaFee        string       `json:"janaza_fee"`
	LifetimeFeePaid  bool         `json:"lifetime_fee_paid"`
	PaymentStatus    string       `json:"payment_status"`
	Balance          string       `json:"balance"`
	LastPaymentAt    *time.Time   `json:"last_payment_at,omitempty"`
	NextDueAt        *time.Time   `json:"next_due_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Invoice is a single billing line against a member. MemberID mirrors the
// member's business identifier and must never hold a surrogate key;
// MemberRef is the normalized surrogate link. Amount fields are display
// text ("£50.00") and are parsed, not trusted, when summed.
type Invoice struct {
	ID               uuid.UUID  `json:"id"`
	InvoiceNo        int64      `json:"invoice_no"`
	DisplayID        string     `json:"display_id"`
	MemberRef        uuid.UUID  `json:"member_ref"`
	MemberID         string     `json:"member_id"`
	Amount           string     `json:"amount"`
	MembershipFee    string     `json:"membership_fee"`
	JanazaFee        string     `json:"janaza_fee"`
	Period           string     `json:"period"`
	Status           string     `json:"status"`
	DueDate          time.Time  `json:"due_date"`
	ReceiptNumber    string     `json:"receipt_number,omitempty"`
	PaymentMethod    string     `json:"payment_method,omitempty"`
	PaymentReference string     `json:"payment_reference,omitempty"`
	Screenshot       string     `json:"screenshot,omitempty"`
	ReceivedBy       string     `json:"received_by,omitempty"`
	LastPaymentAt    *time.Time `json:"last_payment_at,omitempty"`
	Archived         bool       `json:"archived"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Payment is submitted evidence of payment against an invoice. At most one
// Completed payment may exist per invoice; a partial unique index enforces
// this underneath the application logic.
type Payment struct {
	ID              uuid.UUID  `json:"id"`
	PaymentNo       int64      `json:"payment_no"`
	InvoiceRef      uuid.UUID  `json:"invoice_ref"`
	InvoiceID       string     `json:"invoice_id"`
	MemberRef       uuid.UUID  `json:"member_ref"`
	MemberID        string     `json:"member_id"`
	Amount          string     `json:"amount"`
	Method          string     `json:"method"`
	Reference       string     `json:"reference"`
	Screenshot      string     `json:"screenshot,omitempty"`
	Status          string     `json:"status"`
	ApprovedBy      string     `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      string     `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	ReceiptNumber   string     `json:"receipt_number,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ApprovalResult is the consistent triple returned by a successful payment
// approval, handed to the (external) notification layer.
type ApprovalResult struct {
	Payment *Payment `json:"payment"`
	Invoice *Invoice `json:"invoice"`
	Member  *Member  `json:"member"`
}
