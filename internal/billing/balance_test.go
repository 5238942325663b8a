package billing

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"£100.00", "100"},
		{"£1,250.50", "1250.5"},
		{"50", "50"},
		{"75.00 Outstanding", "75"},
		{"", "0"},
		{"n/a", "0"},
		{"-20.00", "-20"},
	}
	for _, tc := range cases {
		got := parseAmount(tc.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"parseAmount(%q) = %s, want %s", tc.in, got, tc.want)
	}
}

func TestFormatBalance(t *testing.T) {
	assert.Equal(t, "£0.00", formatBalance("£", decimal.Zero, false))
	assert.Equal(t, "£0.00", formatBalance("£", decimal.Zero, true), "zero never carries a suffix")
	assert.Equal(t, "£125.00 Outstanding", formatBalance("£", decimal.NewFromInt(125), false))
	assert.Equal(t, "£125.00 Overdue", formatBalance("£", decimal.NewFromInt(125), true))
	assert.Equal(t, "£99.90 Outstanding", formatBalance("£", decimal.RequireFromString("99.9"), false))
}

// The formatted balance must parse back to the exact total: the display
// string is derived state, and anything that rounds or loses digits would
// break the balance-correctness invariant.
func TestBalanceFormatRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cents := rapid.Int64Range(0, 1_000_000_000_000).Draw(t, "cents")
		total := decimal.New(cents, -2)
		overdue := rapid.Bool().Draw(t, "overdue")

		formatted := formatBalance("£", total, overdue)
		parsed := parseAmount(formatted)

		if !parsed.Equal(total) {
			t.Fatalf("round trip lost value: %s -> %q -> %s", total, formatted, parsed)
		}
	})
}

func TestParseAmountNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		_ = parseAmount(rapid.String().Draw(t, "input"))
	})
}

func TestRecalcBalanceSumsUnpaidAndOverdue(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	member := testMember()

	rows := sqlmock.NewRows([]string{"amount", "status"}).
		AddRow("£50.00", InvoiceUnpaid).
		AddRow("£75.00", InvoiceUnpaid)
	mock.ExpectQuery("SELECT amount, status").WillReturnRows(rows)
	mock.ExpectExec("UPDATE members SET balance").
		WithArgs("£125.00 Outstanding", member.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	balance, err := recalcBalance(context.Background(), svc.db, member, "£")
	require.NoError(t, err)
	assert.Equal(t, "£125.00 Outstanding", balance)
	assert.Equal(t, balance, member.Balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalcBalanceOverdueSuffix(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	member := testMember()

	rows := sqlmock.NewRows([]string{"amount", "status"}).
		AddRow("£50.00", InvoiceUnpaid).
		AddRow("£75.00", InvoiceOverdue)
	mock.ExpectQuery("SELECT amount, status").WillReturnRows(rows)
	mock.ExpectExec("UPDATE members SET balance").
		WithArgs("£125.00 Overdue", member.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	balance, err := recalcBalance(context.Background(), svc.db, member, "£")
	require.NoError(t, err)
	assert.Equal(t, "£125.00 Overdue", balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecalcBalanceZeroIsBare(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	member := testMember()

	mock.ExpectQuery("SELECT amount, status").
		WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}))
	mock.ExpectExec("UPDATE members SET balance").
		WithArgs("£0.00", member.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	balance, err := recalcBalance(context.Background(), svc.db, member, "£")
	require.NoError(t, err)
	assert.Equal(t, "£0.00", balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Two recomputations over the same invoice set must yield the same string.
func TestRecalcBalanceIdempotent(t *testing.T) {
	db, mock, svc := setupMockService(t)
	defer db.Close()

	member := testMember()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT amount, status").
			WillReturnRows(sqlmock.NewRows([]string{"amount", "status"}).
				AddRow("£50.00", InvoiceUnpaid))
		mock.ExpectExec("UPDATE members SET balance").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	first, err := recalcBalance(context.Background(), svc.db, member, "£")
	require.NoError(t, err)
	second, err := recalcBalance(context.Background(), svc.db, member, "£")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}
