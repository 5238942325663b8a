// internal/billing/errors.go
package billing

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Sentinel errors. Use with errors.Is().
var (
	// ErrNotFound is returned when a referenced member, invoice or payment
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReference is returned when a supplied identifier is
	// syntactically wrong for its role, e.g. a surrogate key where a
	// business identifier is required.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrForbidden is returned when a write attempts a transition reserved
	// for the approval transaction, or tries to mutate an immutable field.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when the store rejects a second completed
	// payment for the same invoice, or a payment that is already processed.
	ErrConflict = errors.New("conflict: already processed")

	// ErrTransientStore is returned for timeouts and connectivity failures;
	// the enclosing transaction is fully aborted and may be retried.
	ErrTransientStore = errors.New("transient store failure")

	// ErrInvariant is the base of InvariantError, a data-shape rejection
	// distinct from ErrForbidden.
	ErrInvariant = errors.New("invariant violation")
)

// NotFoundError carries what kind of record was missing and the reference
// that failed to resolve.
type NotFoundError struct {
	Kind string
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvariantError reports a write rejected by the invoice guards for
// violating a ledger invariant.
type InvariantError struct {
	Field  string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.Field, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// IsClientError reports whether the error is the caller's fault and must
// not be retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvariant)
}

// IsRetryable reports whether retrying the whole operation from scratch
// might succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// classifyStoreErr maps a database/sql or pq error onto the taxonomy.
// Unique violations become ErrConflict (the storage-level last line of
// defense against double approval); connection-class and cancellation
// failures become ErrTransientStore.
func classifyStoreErr(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case pqErr.Code.Class() == "08", // connection exceptions
			pqErr.Code.Class() == "53", // insufficient resources
			pqErr.Code.Class() == "57": // operator intervention / cancel
			return fmt.Errorf("%w: %v", ErrTransientStore, err)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrTransientStore, err)
	}

	return err
}
