package ledger

import (
	"time"

	"faturo.org/internal/billing"
)

// Amounts are minor units (e.g., cents). No floats.

// AccountType classifies an account. Only credit-card accounts carry a billing
// configuration.
type AccountType string

const (
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCash       AccountType = "cash"
	AccountCreditCard AccountType = "credit-card"
)

// BillingConfig is the closing/due-day pair of a credit-card account. Both
// days are 1..28 so every month has them.
type BillingConfig struct {
	ClosingDay int `json:"closing_day"`
	DueDay     int `json:"due_day"`
}

// Account holds a cached balance derived from the ledger. The balance is only
// ever rewritten wholesale by RecomputeBalance, never incremented in place.
type Account struct {
	ID                int64          `json:"id"`
	UserID            int64          `json:"user_id"`
	Name              string         `json:"name"`
	Type              AccountType    `json:"type"`
	Billing           *BillingConfig `json:"billing,omitempty"`
	CurrentBalance    int64          `json:"current_balance"`
	LastBalanceUpdate time.Time      `json:"last_balance_update"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Configured reports whether the account has a usable billing configuration.
func (a Account) Configured() bool {
	return a.Type == AccountCreditCard && a.Billing != nil &&
		a.Billing.ClosingDay >= 1 && a.Billing.ClosingDay <= 28 &&
		a.Billing.DueDay >= 1 && a.Billing.DueDay <= 28
}

// Purchase is one transaction, owning 1..N installment entries.
type Purchase struct {
	ID                int64     `json:"id"`
	UserID            int64     `json:"user_id"`
	Description       string    `json:"description"`
	TotalAmount       int64     `json:"total_amount"`
	TotalInstallments int       `json:"total_installments"`
	CategoryID        int64     `json:"category_id"`
	ExternalID        string    `json:"external_id,omitempty"`
	BankTxID          string    `json:"bank_tx_id,omitempty"`
	Ignored           bool      `json:"ignored"`
	CreatedAt         time.Time `json:"created_at"`
}

// Entry is one installment line item of a purchase, tied to one account and
// one billing period.
type Entry struct {
	ID                int64          `json:"id"`
	PurchaseID        int64          `json:"purchase_id"`
	AccountID         int64          `json:"account_id"`
	Amount            int64          `json:"amount"`
	PurchaseDate      time.Time      `json:"purchase_date"`
	BillingPeriod     billing.Period `json:"billing_period"`
	DueDate           time.Time      `json:"due_date"`
	InstallmentNumber int            `json:"installment_number"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
}

// Statement aggregates one credit-card account's entries for one billing
// period. One row per (account, period), created lazily on first entry.
type Statement struct {
	ID                int64          `json:"id"`
	AccountID         int64          `json:"account_id"`
	Period            billing.Period `json:"period"`
	TotalAmount       int64          `json:"total_amount"`
	DueDate           time.Time      `json:"due_date"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	PaidFromAccountID *int64         `json:"paid_from_account_id,omitempty"`
}

// Paid reports whether the statement has been settled.
func (s Statement) Paid() bool { return s.PaidAt != nil }

// TransferType classifies a money movement.
type TransferType string

const (
	TransferInternal         TransferType = "internal"
	TransferDeposit          TransferType = "deposit"
	TransferWithdrawal       TransferType = "withdrawal"
	TransferStatementPayment TransferType = "statement-payment"
)

// Transfer moves money between accounts (or in/out of the ledger for deposits
// and withdrawals). A statement-payment transfer is the audit record of
// settling a statement; reversals insert a compensating transfer rather than
// deleting the original.
type Transfer struct {
	ID            int64        `json:"id"`
	UserID        int64        `json:"user_id"`
	FromAccountID *int64       `json:"from_account_id,omitempty"`
	ToAccountID   *int64       `json:"to_account_id,omitempty"`
	Amount        int64        `json:"amount"`
	Date          time.Time    `json:"date"`
	Type          TransferType `json:"type"`
	StatementID   *int64       `json:"statement_id,omitempty"`
	ExternalID    string       `json:"external_id,omitempty"`
	Ignored       bool         `json:"ignored"`
}

// Income is money received into an account.
type Income struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	AccountID    int64     `json:"account_id"`
	Description  string    `json:"description"`
	Amount       int64     `json:"amount"`
	ReceivedDate time.Time `json:"received_date"`
	CategoryID   int64     `json:"category_id"`
	ExternalID   string    `json:"external_id,omitempty"`
	Ignored      bool      `json:"ignored"`
}
