// internal/billing/balance.go
package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// parseAmount extracts a decimal value from a display amount such as
// "£1,250.00". Currency symbols and separators are stripped; anything that
// still fails to parse counts as zero, matching how the ledger has always
// treated hand-entered amounts.
func parseAmount(s string) decimal.Decimal {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

// formatBalance renders the member's display balance. A zero total is the
// bare zero amount; otherwise the suffix states whether anything in the
// total is overdue.
func formatBalance(symbol string, total decimal.Decimal, anyOverdue bool) string {
	if total.IsZero() {
		return symbol + "0.00"
	}
	suffix := " Outstanding"
	if anyOverdue {
		suffix = " Overdue"
	}
	return symbol + total.StringFixed(2) + suffix
}

// recalcBalance recomputes a member's balance as the sum of their Unpaid
// and Overdue invoices, persists the display string onto the member row
// and returns it. Invoices are matched by surrogate reference, by the
// legacy numeric member number, and by every business identifier the
// member currently or previously held, so invoices issued against an old
// identifier keep counting. Idempotent: with no intervening invoice change
// two successive calls produce the same string.
func recalcBalance(ctx context.Context, q querier, member *Member, symbol string) (string, error) {
	ids := make([]string, 0, len(member.PreviousIDs)+2)
	if member.BusinessID != "" {
		ids = append(ids, member.BusinessID)
	}
	ids = append(ids, strconv.FormatInt(member.MemberNo, 10))
	for _, prev := range member.PreviousIDs {
		ids = append(ids, prev.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT amount, status
		FROM invoices
		WHERE archived = FALSE
		  AND status IN ($1, $2)
		  AND (member_ref = $3 OR member_id = ANY($4))
	`, InvoiceUnpaid, InvoiceOverdue, member.ID, pq.Array(ids))
	if err != nil {
		return "", classifyStoreErr(err)
	}
	defer rows.Close()

	total := decimal.Zero
	anyOverdue := false
	for rows.Next() {
		var amount, status string
		if err := rows.Scan(&amount, &status); err != nil {
			return "", fmt.Errorf("scan invoice amount: %w", err)
		}
		total = total.Add(parseAmount(amount))
		if status == InvoiceOverdue {
			anyOverdue = true
		}
	}
	if err := rows.Err(); err != nil {
		return "", classifyStoreErr(err)
	}

	balance := formatBalance(symbol, total, anyOverdue)
	if _, err := q.ExecContext(ctx, `
		UPDATE members SET balance = $1, updated_at = NOW() WHERE id = $2
	`, balance, member.ID); err != nil {
		return "", classifyStoreErr(err)
	}

	member.Balance = balance
	return balance, nil
}
