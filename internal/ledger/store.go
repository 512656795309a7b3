package ledger

import (
	"context"
	"time"

	"faturo.org/internal/billing"
)

// Store opens unit-of-work transactions. Every logical operation (a payment,
// a conversion, one import batch) runs its reads and writes inside a single
// InTx call: if fn returns an error, nothing it wrote survives.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the record store visible inside one unit of work. Writes performed
// through it are visible to subsequent reads in the same transaction.
//
// All Sum* aggregates skip ignored records (an entry counts as ignored when
// its owning purchase is).
type Tx interface {
	// Accounts.
	Account(id int64) (Account, error)
	SetAccountBalance(id int64, balance int64, at time.Time) error

	// Purchases. DeletePurchase cascades to the purchase's entries.
	Purchase(id int64) (Purchase, error)
	PurchasesByUser(userID int64) ([]Purchase, error)
	InsertPurchase(p *Purchase) error
	UpdatePurchase(p Purchase) error
	DeletePurchase(id int64) error

	// Entries.
	Entry(id int64) (Entry, error)
	EntriesByPurchase(purchaseID int64) ([]Entry, error)
	InsertEntry(e *Entry) error
	UpdateEntry(e Entry) error
	SetEntriesPaid(accountID int64, period billing.Period, paidAt *time.Time) error
	SumEntries(accountID int64) (int64, error)
	SumPeriodEntries(accountID int64, period billing.Period) (int64, error)

	// Statements, addressed by id or by their (account, period) key.
	Statement(id int64) (Statement, error)
	StatementFor(accountID int64, period billing.Period) (Statement, error)
	InsertStatement(s *Statement) error
	UpdateStatement(s Statement) error

	// Transfers.
	InsertTransfer(t *Transfer) error
	SumTransfersIn(accountID int64) (int64, error)
	SumTransfersOut(accountID int64) (int64, error)

	// Income.
	InsertIncome(in *Income) error
	IncomesByAccount(accountID int64) ([]Income, error)
	SumIncome(accountID int64) (int64, error)

	// ExternalIDsInUse reports which of the given external ids are already
	// consumed by a purchase, an income, or a statement-payment transfer of
	// this user. Used for import idempotency.
	ExternalIDsInUse(userID int64, ids []string) (map[string]bool, error)
}
