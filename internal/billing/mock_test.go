package billing

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"memberledger/internal/sequence"
)

func setupMockService(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *service) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	svc := NewService(db, sequence.NewStore(db), zap.NewNop(), DefaultConfig()).(*service)
	return db, mock, svc
}

var memberRowColumns = []string{
	"id", "member_no", "business_id", "previous_ids", "name", "email", "phone",
	"subscription_type", "membership_fee", "janaza_fee", "lifetime_fee_paid",
	"payment_status", "balance", "last_payment_at", "next_due_at", "created_at", "updated_at",
}

var invoiceRowColumns = []string{
	"id", "invoice_no", "display_id", "member_ref", "member_id", "amount",
	"membership_fee", "janaza_fee", "period", "status", "due_date", "receipt_number",
	"payment_method", "payment_reference", "screenshot", "received_by",
	"last_payment_at", "archived", "created_at", "updated_at",
}

var paymentRowColumns = []string{
	"id", "payment_no", "invoice_ref", "invoice_id", "member_ref", "member_id",
	"amount", "method", "reference", "screenshot", "status", "approved_by", "approved_at",
	"rejected_by", "rejected_at", "rejection_reason", "receipt_number", "created_at", "updated_at",
}

func memberRows(m *Member) *sqlmock.Rows {
	var businessID any
	if m.BusinessID != "" {
		businessID = m.BusinessID
	}
	return sqlmock.NewRows(memberRowColumns).AddRow(
		m.ID, m.MemberNo, businessID, []byte(`[]`), m.Name, m.Email, m.Phone,
		m.SubscriptionType, m.MembershipFee, m.JanazaFee, m.LifetimeFeePaid,
		m.PaymentStatus, m.Balance, nil, nil, time.Now(), time.Now(),
	)
}

func invoiceRows(inv *Invoice) *sqlmock.Rows {
	var receipt any
	if inv.ReceiptNumber != "" {
		receipt = inv.ReceiptNumber
	}
	return sqlmock.NewRows(invoiceRowColumns).AddRow(
		inv.ID, inv.InvoiceNo, inv.DisplayID, inv.MemberRef, inv.MemberID, inv.Amount,
		inv.MembershipFee, inv.JanazaFee, inv.Period, inv.Status, inv.DueDate, receipt,
		nil, nil, nil, nil,
		nil, inv.Archived, time.Now(), time.Now(),
	)
}

func paymentRows(p *Payment) *sqlmock.Rows {
	return sqlmock.NewRows(paymentRowColumns).AddRow(
		p.ID, p.PaymentNo, p.InvoiceRef, p.InvoiceID, p.MemberRef, p.MemberID,
		p.Amount, p.Method, p.Reference, nil, p.Status, nil, nil,
		nil, nil, nil, nil, time.Now(), time.Now(),
	)
}

func testMember() *Member {
	return &Member{
		ID:               uuid.New(),
		MemberNo:         42,
		BusinessID:       "AM702",
		Name:             "Test Member",
		SubscriptionType: SubAnnual,
		PaymentStatus:    PaymentPending,
		Balance:          "£100.00 Outstanding",
	}
}

func testInvoice(memberRef uuid.UUID) *Invoice {
	return &Invoice{
		ID:        uuid.New(),
		InvoiceNo: 7,
		DisplayID: "INV-2026-0007",
		MemberRef: memberRef,
		MemberID:  "AM702",
		Amount:    "£100.00",
		Period:    "Membership 2026",
		Status:    InvoiceUnpaid,
		DueDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testPayment(invoiceRef, memberRef uuid.UUID) *Payment {
	return &Payment{
		ID:         uuid.New(),
		PaymentNo:  9,
		InvoiceRef: invoiceRef,
		InvoiceID:  "INV-2026-0007",
		MemberRef:  memberRef,
		MemberID:   "AM702",
		Amount:     "£100.00",
		Method:     "bank transfer",
		Reference:  "TXN-123",
		Status:     PaymentPending,
	}
}
