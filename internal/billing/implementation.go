// internal/billing/implementation.go
package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"memberledger/internal/sequence"
)

// service implements the Service interface.
type service struct {
	db            *sql.DB
	sequences     *sequence.Store
	resolver      *Resolver
	logger        *zap.Logger
	cfg           Config
	tracer        trace.Tracer
	createLimiter *rate.Limiter
}

// NewService creates the ledger service. Member creation is rate limited;
// everything financial is not.
func NewService(db *sql.DB, sequences *sequence.Store, logger *zap.Logger, cfg Config) Service {
	if cfg.LifetimeFeeThreshold.IsZero() {
		cfg.LifetimeFeeThreshold = DefaultConfig().LifetimeFeeThreshold
	}
	return &service{
		db:            db,
		sequences:     sequences,
		resolver:      NewResolver(db),
		logger:        logger,
		cfg:           cfg,
		tracer:        otel.Tracer("memberledger/billing"),
		createLimiter: rate.NewLimiter(rate.Every(time.Second), 20),
	}
}

func (s *service) CreateMember(ctx context.Context, in NewMember) (*Member, error) {
	if !s.createLimiter.Allow() {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if in.BusinessID != "" && looksLikeSurrogate(in.BusinessID) {
		return nil, fmt.Errorf("%w: business id %q has a surrogate-key shape", ErrInvalidReference, in.BusinessID)
	}

	memberNo, err := s.sequences.Next(ctx, sequence.MemberNo)
	if err != nil {
		return nil, fmt.Errorf("allocate member number: %w", err)
	}

	m := &Member{
		ID:               uuid.New(),
		MemberNo:         memberNo,
		BusinessID:       in.BusinessID,
		Name:             in.Name,
		Email:            in.Email,
		Phone:            in.Phone,
		SubscriptionType: in.SubscriptionType,
		MembershipFee:    in.MembershipFee,
		JanazaFee:        in.JanazaFee,
		PaymentStatus:    PaymentPending,
		Balance:          s.cfg.CurrencySymbol + "0.00",
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO members (id, member_no, business_id, previous_ids, name, email, phone,
			subscription_type, membership_fee, janaza_fee, lifetime_fee_paid,
			payment_status, balance)
		VALUES ($1, $2, $3, '[]'::jsonb, $4, $5, $6, $7, $8, $9, FALSE, $10, $11)
	`, m.ID, m.MemberNo, nullString(m.BusinessID), m.Name, m.Email, m.Phone,
		m.SubscriptionType, m.MembershipFee, m.JanazaFee, m.PaymentStatus, m.Balance)
	if err != nil {
		return nil, classifyStoreErr(err)
	}

	s.logger.Info("member created",
		zap.String("member_id", m.ID.String()),
		zap.Int64("member_no", m.MemberNo),
		zap.String("business_id", m.BusinessID),
	)
	return m, nil
}

// AssignBusinessID reassigns a member's business identifier. The old
// identifier, if any, is appended to the immutable history so invoices and
// receipts issued against it keep resolving.
func (s *service) AssignBusinessID(ctx context.Context, memberRef, newID string) (*Member, error) {
	if newID == "" || looksLikeSurrogate(newID) {
		return nil, fmt.Errorf("%w: business id %q", ErrInvalidReference, newID)
	}

	member, err := s.resolver.Member(ctx, memberRef)
	if err != nil {
		return nil, err
	}
	if member.BusinessID == newID {
		return member, nil
	}

	if member.BusinessID != "" {
		entry := PreviousID{
			ID:               member.BusinessID,
			SubscriptionType: member.SubscriptionType,
			RecordedAt:       time.Now().UTC(),
		}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encode previous id: %w", err)
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE members
			SET business_id = $1,
			    previous_ids = previous_ids || $2::jsonb,
			    updated_at = NOW()
			WHERE id = $3
		`, newID, string(encoded), member.ID)
		if err != nil {
			return nil, classifyStoreErr(err)
		}
		member.PreviousIDs = append(member.PreviousIDs, entry)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE members SET business_id = $1, updated_at = NOW() WHERE id = $2
		`, newID, member.ID)
		if err != nil {
			return nil, classifyStoreErr(err)
		}
	}

	member.BusinessID = newID
	s.logger.Info("business id assigned",
		zap.String("member_id", member.ID.String()),
		zap.String("business_id", newID),
	)
	return member, nil
}

func (s *service) CreateInvoice(ctx context.Context, in NewInvoice) (*Invoice, error) {
	member, err := s.resolver.Member(ctx, in.MemberRef)
	if err != nil {
		return nil, err
	}

	memberID := member.BusinessID
	if memberID == "" {
		memberID = strconv.FormatInt(member.MemberNo, 10)
	}

	status := InvoiceUnpaid
	patch := InvoicePatch{
		MemberID:      &memberID,
		Amount:        &in.Amount,
		MembershipFee: &in.MembershipFee,
		JanazaFee:     &in.JanazaFee,
		Period:        &in.Period,
		Status:        &status,
		DueDate:       &in.DueDate,
	}
	if err := checkInvoiceWrite(nil, patch, false); err != nil {
		return nil, err
	}

	invoiceNo, err := s.sequences.Next(ctx, sequence.InvoiceNo)
	if err != nil {
		return nil, fmt.Errorf("allocate invoice number: %w", err)
	}
	prefix := fmt.Sprintf("INV-%d", in.DueDate.Year())
	displaySeq, err := s.sequences.Next(ctx, sequence.DisplayCounter(prefix))
	if err != nil {
		return nil, fmt.Errorf("allocate display id: %w", err)
	}

	inv := &Invoice{
		ID:            uuid.New(),
		InvoiceNo:     invoiceNo,
		DisplayID:     fmt.Sprintf("%s-%04d", prefix, displaySeq),
		MemberRef:     member.ID,
		MemberID:      memberID,
		Amount:        in.Amount,
		MembershipFee: in.MembershipFee,
		JanazaFee:     in.JanazaFee,
		Period:        in.Period,
		Status:        status,
		DueDate:       in.DueDate,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_no, display_id, member_ref, member_id, amount,
			membership_fee, janaza_fee, period, status, due_date, archived)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE)
	`, inv.ID, inv.InvoiceNo, inv.DisplayID, inv.MemberRef, inv.MemberID, inv.Amount,
		inv.MembershipFee, inv.JanazaFee, inv.Period, inv.Status, inv.DueDate)
	if err != nil {
		return nil, classifyStoreErr(err)
	}

	if _, err := recalcBalance(ctx, s.db, member, s.cfg.CurrencySymbol); err != nil {
		return nil, fmt.Errorf("recalculate balance: %w", err)
	}

	s.logger.Info("invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("display_id", inv.DisplayID),
		zap.String("member_id", inv.MemberID),
	)
	return inv, nil
}

func (s *service) UpdateInvoice(ctx context.Context, invoiceRef string, patch InvoicePatch) (*Invoice, error) {
	current, err := s.resolver.Invoice(ctx, invoiceRef)
	if err != nil {
		return nil, err
	}

	// member_id mirrors the surrogate link. Moving the invoice to another
	// member re-resolves the link in the same patch so the two fields
	// never disagree.
	// Surrogate-shaped identifiers fall through to the guard's rejection.
	var newMember *Member
	if patch.MemberID != nil && *patch.MemberID != current.MemberID && !looksLikeSurrogate(*patch.MemberID) {
		newMember, err = s.resolver.Member(ctx, *patch.MemberID)
		if err != nil {
			return nil, err
		}
		if patch.MemberRef == nil {
			ref := newMember.ID.String()
			patch.MemberRef = &ref
		}
	}

	updated, err := saveInvoice(ctx, s.db, current, patch, false)
	if err != nil {
		return nil, err
	}

	// Refresh the balance of every member the edit touched: the owner
	// after the write and, when the linkage moved, the previous one.
	if newMember != nil {
		if _, err := recalcBalance(ctx, s.db, newMember, s.cfg.CurrencySymbol); err != nil {
			return nil, fmt.Errorf("recalculate balance: %w", err)
		}
		if err := s.recalcForInvoice(ctx, s.db, current); err != nil {
			return nil, err
		}
		return updated, nil
	}
	if err := s.recalcForInvoice(ctx, s.db, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) ArchiveInvoice(ctx context.Context, invoiceRef string) error {
	current, err := s.resolver.Invoice(ctx, invoiceRef)
	if err != nil {
		return err
	}

	archived := true
	updated, err := saveInvoice(ctx, s.db, current, InvoicePatch{Archived: &archived}, false)
	if err != nil {
		return err
	}
	return s.recalcForInvoice(ctx, s.db, updated)
}

func (s *service) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE archived = FALSE AND status = $1 AND due_date < $2
	`, InvoiceUnpaid, asOf)
	if err != nil {
		return 0, classifyStoreErr(err)
	}
	defer rows.Close()

	var due []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return 0, fmt.Errorf("scan invoice: %w", err)
		}
		due = append(due, inv)
	}
	if err := rows.Err(); err != nil {
		return 0, classifyStoreErr(err)
	}

	// Each invoice goes through the same guarded save path as any other
	// write; the sweep has no shortcut around the invariants.
	overdue := InvoiceOverdue
	touched := map[string]*Invoice{}
	for _, inv := range due {
		if _, err := saveInvoice(ctx, s.db, inv, InvoicePatch{Status: &overdue}, false); err != nil {
			return 0, fmt.Errorf("mark invoice %s overdue: %w", inv.DisplayID, err)
		}
		touched[inv.MemberID] = inv
	}
	for _, inv := range touched {
		if err := s.recalcForInvoice(ctx, s.db, inv); err != nil {
			return 0, err
		}
	}

	if len(due) > 0 {
		s.logger.Info("overdue sweep", zap.Int("invoices", len(due)))
	}
	return len(due), nil
}

func (s *service) RecalculateBalance(ctx context.Context, memberRef string) (string, error) {
	member, err := s.resolver.Member(ctx, memberRef)
	if err != nil {
		return "", err
	}
	return recalcBalance(ctx, s.db, member, s.cfg.CurrencySymbol)
}

func (s *service) SubmitPayment(ctx context.Context, invoiceRef, amount, method, reference, screenshot string) (*Payment, error) {
	invoice, err := s.resolver.Invoice(ctx, invoiceRef)
	if err != nil {
		return nil, err
	}

	paymentNo, err := s.sequences.Next(ctx, sequence.PaymentNo)
	if err != nil {
		return nil, fmt.Errorf("allocate payment number: %w", err)
	}

	p := &Payment{
		ID:         uuid.New(),
		PaymentNo:  paymentNo,
		InvoiceRef: invoice.ID,
		InvoiceID:  invoice.DisplayID,
		MemberRef:  invoice.MemberRef,
		MemberID:   invoice.MemberID,
		Amount:     amount,
		Method:     method,
		Reference:  reference,
		Screenshot: screenshot,
		Status:     PaymentPending,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payments (id, payment_no, invoice_ref, invoice_id, member_ref, member_id,
			amount, method, reference, screenshot, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.PaymentNo, nullUUID(p.InvoiceRef), p.InvoiceID, nullUUID(p.MemberRef), p.MemberID,
		p.Amount, p.Method, p.Reference, nullString(p.Screenshot), p.Status)
	if err != nil {
		return nil, classifyStoreErr(err)
	}

	s.logger.Info("payment submitted",
		zap.String("payment_id", p.ID.String()),
		zap.String("invoice_id", p.InvoiceID),
	)
	return p, nil
}

func (s *service) RejectPayment(ctx context.Context, paymentRef, rejectorID, reason string) (*Payment, error) {
	payment, err := s.resolver.Payment(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if payment.Status != PaymentPending {
		return nil, fmt.Errorf("%w: payment %s is %s", ErrConflict, payment.ID, payment.Status)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, rejected_by = $2, rejected_at = $3, rejection_reason = $4, updated_at = NOW()
		WHERE id = $5 AND status = $6
	`, PaymentRejected, rejectorID, now, reason, payment.ID, PaymentPending)
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, classifyStoreErr(err)
	}
	if affected == 0 {
		// The row moved off Pending between the read and the write; a
		// concurrent approval won.
		return nil, fmt.Errorf("%w: payment %s is no longer pending", ErrConflict, payment.ID)
	}

	payment.Status = PaymentRejected
	payment.RejectedBy = rejectorID
	payment.RejectedAt = &now
	payment.RejectionReason = reason

	s.logger.Info("payment rejected",
		zap.String("payment_id", payment.ID.String()),
		zap.String("rejected_by", rejectorID),
	)
	return payment, nil
}

func (s *service) GetMember(ctx context.Context, ref string) (*Member, error) {
	return s.resolver.Member(ctx, ref)
}

func (s *service) GetInvoice(ctx context.Context, ref string) (*Invoice, error) {
	return s.resolver.Invoice(ctx, ref)
}

func (s *service) GetPayment(ctx context.Context, ref string) (*Payment, error) {
	return s.resolver.Payment(ctx, ref)
}

// recalcForInvoice refreshes the balance of the member an invoice belongs
// to, resolving through whichever linkage the invoice carries.
func (s *service) recalcForInvoice(ctx context.Context, q querier, inv *Invoice) error {
	ref := inv.MemberID
	if inv.MemberRef != uuid.Nil {
		ref = inv.MemberRef.String()
	}
	member, err := NewResolver(q).Member(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Orphaned invoice; nothing to refresh.
			return nil
		}
		return err
	}
	_, err = recalcBalance(ctx, q, member, s.cfg.CurrencySymbol)
	return err
}
