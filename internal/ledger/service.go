package ledger

import (
	"time"

	"faturo.org/internal/billing"
)

// Service implements the billing-cycle and installment ledger on top of a
// Store. Each public operation runs inside one unit of work; helpers taking a
// Tx exist so the importer can compose several steps into a single batch
// transaction.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store so collaborators (the importer) can open
// their own batch transaction.
func (s *Service) Store() Store { return s.store }

func validID(id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}
	return nil
}

// schedule places installment k of a plan anchored at base. For configured
// accounts installment 1 keeps the true purchase date and later installments
// are dated at their own period's window start, which avoids drift when
// billing periods have unequal day counts. Without billing configuration the
// period degrades to the calendar month and the due date to the purchase
// date.
func schedule(acc Account, base time.Time, k int) (purchaseDate time.Time, period billing.Period, dueDate time.Time) {
	if acc.Configured() {
		first := billing.PeriodOf(base, acc.Billing.ClosingDay)
		period = first.AddMonths(k - 1)
		if k == 1 {
			purchaseDate = base
		} else {
			purchaseDate = billing.WindowStart(period, acc.Billing.ClosingDay)
		}
		dueDate = billing.DueDate(period, acc.Billing.DueDay)
		return purchaseDate, period, dueDate
	}
	purchaseDate = base.AddDate(0, k-1, 0)
	return purchaseDate, billing.PeriodFor(purchaseDate), purchaseDate
}

// statementDueDate picks the due date for a fresh statement. Unconfigured
// accounts fall back to the last day of the period month.
func statementDueDate(acc Account, period billing.Period) time.Time {
	if acc.Configured() {
		return billing.DueDate(period, acc.Billing.DueDay)
	}
	next := period.Next()
	return time.Date(next.Year, next.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
}
