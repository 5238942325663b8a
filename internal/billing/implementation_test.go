package billing

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateMemberRejectsSurrogateShapedBusinessID(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	_, err := svc.CreateMember(context.Background(), NewMember{
		Name:       "Test",
		BusinessID: "507f1f77bcf86cd799439011",
	})
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.NoError(t, mock.ExpectationsWereMet(), "nothing may be written")
}

func TestCreateMemberStartsWithZeroBalance(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO counters").
		WithArgs("memberNo", int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(43)))
	mock.ExpectExec("INSERT INTO members").
		WillReturnResult(sqlmock.NewResult(0, 1))

	member, err := svc.CreateMember(context.Background(), NewMember{
		Name:             "New Member",
		BusinessID:       "AM703",
		SubscriptionType: SubAnnual,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(43), member.MemberNo)
	assert.Equal(t, "£0.00", member.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The guards run on the service's update path exactly as on the approval
// path; an admin cannot blank a receipt through an edit.
func TestUpdateInvoiceCannotBlankReceipt(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	inv := testInvoice(uuid.New())
	inv.Status = InvoicePaid
	inv.ReceiptNumber = "2001"

	mock.ExpectQuery("FROM invoices WHERE display_id").
		WithArgs(inv.DisplayID).
		WillReturnRows(invoiceRows(inv))

	empty := ""
	_, err := svc.UpdateInvoice(context.Background(), inv.DisplayID, InvoicePatch{ReceiptNumber: &empty})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet(), "the write must be rejected before reaching the store")
}

func TestUpdateInvoiceCannotSetPaidStatus(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	inv := testInvoice(uuid.New())
	mock.ExpectQuery("FROM invoices WHERE display_id").
		WithArgs(inv.DisplayID).
		WillReturnRows(invoiceRows(inv))

	paid := InvoicePaid
	receipt := "2001"
	_, err := svc.UpdateInvoice(context.Background(), inv.DisplayID, InvoicePatch{
		Status:        &paid,
		ReceiptNumber: &receipt,
	})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Moving an unpaid invoice to another member must re-resolve the surrogate
// link so member_ref and member_id never disagree, and both the new and the
// previous owner get their balance recomputed.
func TestUpdateInvoiceMoveSyncsMemberLinkage(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	oldMember := testMember() // AM702
	inv := testInvoice(oldMember.ID)

	newMember := testMember()
	newMember.MemberNo = 77
	newMember.BusinessID = "AM999"
	newMember.Balance = "£0.00"

	mock.ExpectQuery("FROM invoices WHERE display_id").
		WithArgs(inv.DisplayID).
		WillReturnRows(invoiceRows(inv))
	mock.ExpectQuery("WHERE business_id").
		WithArgs("AM999").
		WillReturnRows(memberRows(newMember))
	mock.ExpectExec("UPDATE invoices").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The new owner picks the invoice up.
	mock.ExpectQuery("SELECT amount, status").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}).
			AddRow(inv.Amount, InvoiceUnpaid))
	mock.ExpectExec("UPDATE members SET balance").
		WithArgs("£100.00 Outstanding", newMember.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// The previous owner drops it.
	mock.ExpectQuery("FROM members WHERE id").
		WithArgs(oldMember.ID).
		WillReturnRows(memberRows(oldMember))
	mock.ExpectQuery("SELECT amount, status").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}))
	mock.ExpectExec("UPDATE members SET balance").
		WithArgs("£0.00", oldMember.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	newID := "AM999"
	updated, err := svc.UpdateInvoice(context.Background(), inv.DisplayID, InvoicePatch{MemberID: &newID})
	require.NoError(t, err)
	assert.Equal(t, "AM999", updated.MemberID)
	assert.Equal(t, newMember.ID, updated.MemberRef, "member_ref follows member_id")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectPaymentOnlyWhenPending(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	p := testPayment(uuid.New(), uuid.New())
	p.Status = PaymentCompleted

	mock.ExpectQuery("FROM payments WHERE id").
		WithArgs(p.ID).
		WillReturnRows(paymentRows(p))

	_, err := svc.RejectPayment(context.Background(), p.ID.String(), "admin-1", "duplicate")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A rejection that loses the race against a concurrent approval updates no
// row; the caller must see a conflict, not a rejected payment.
func TestRejectPaymentLosesRaceWithApproval(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	p := testPayment(uuid.New(), uuid.New())

	mock.ExpectQuery("FROM payments WHERE id").
		WithArgs(p.ID).
		WillReturnRows(paymentRows(p))
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.RejectPayment(context.Background(), p.ID.String(), "admin-1", "duplicate")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectPaymentStampsRejection(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	p := testPayment(uuid.New(), uuid.New())

	mock.ExpectQuery("FROM payments WHERE id").
		WithArgs(p.ID).
		WillReturnRows(paymentRows(p))
	mock.ExpectExec("UPDATE payments").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rejected, err := svc.RejectPayment(context.Background(), p.ID.String(), "admin-1", "illegible screenshot")
	require.NoError(t, err)
	assert.Equal(t, PaymentRejected, rejected.Status)
	assert.Equal(t, "admin-1", rejected.RejectedBy)
	assert.Equal(t, "illegible screenshot", rejected.RejectionReason)
	assert.NotNil(t, rejected.RejectedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignBusinessIDKeepsHistory(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	member := testMember() // currently AM702

	mock.ExpectQuery("FROM members WHERE id").
		WithArgs(member.ID).
		WillReturnRows(memberRows(member))
	mock.ExpectExec("UPDATE members").
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := svc.AssignBusinessID(context.Background(), member.ID.String(), "LM015")
	require.NoError(t, err)
	assert.Equal(t, "LM015", updated.BusinessID)
	require.Len(t, updated.PreviousIDs, 1)
	assert.Equal(t, "AM702", updated.PreviousIDs[0].ID, "the old id stays a valid lookup key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignBusinessIDRejectsSurrogateShape(t *testing.T) {
	db, _, svc := setupMockService(t)
	defer db.Close()

	_, err := svc.AssignBusinessID(context.Background(), uuid.New().String(), uuid.New().String())
	assert.ErrorIs(t, err, ErrInvalidReference)
}
