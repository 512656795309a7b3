package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"faturo.org/internal/audit"
	"faturo.org/internal/billing"
	"faturo.org/internal/obs"
)

// EnsureStatement returns the statement for (account, period), creating it
// with a zero total when it does not exist yet.
func (s *Service) EnsureStatement(ctx context.Context, accountID int64, period billing.Period) (Statement, error) {
	started := time.Now()
	var st Statement
	err := validID(accountID)
	if err == nil {
		err = s.store.InTx(ctx, func(tx Tx) error {
			acc, txErr := tx.Account(accountID)
			if txErr != nil {
				return txErr
			}
			st, txErr = s.ensureStatement(tx, acc, period)
			return txErr
		})
	}
	obs.ObserveOp("statement.ensure", err, started)
	return st, err
}

func (s *Service) ensureStatement(tx Tx, acc Account, period billing.Period) (Statement, error) {
	st, err := tx.StatementFor(acc.ID, period)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Statement{}, err
	}
	st = Statement{
		AccountID: acc.ID,
		Period:    period,
		DueDate:   statementDueDate(acc, period),
	}
	if err := tx.InsertStatement(&st); err != nil {
		return Statement{}, err
	}
	return st, nil
}

// requireOpenPeriod rejects ledger writes into a period whose statement is
// already settled. A paid statement's total must keep matching what its
// payment transfer moved; the statement has to be unpaid before the period
// accepts new or changed entries.
func requireOpenPeriod(tx Tx, accountID int64, period billing.Period) error {
	st, err := tx.StatementFor(accountID, period)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.Paid() {
		return fmt.Errorf("ledger: period %s already settled: %w", period, ErrAlreadyPaid)
	}
	return nil
}

// RecomputeStatementTotal rebuilds the cached statement total from the
// entries currently in its (account, period) pair, creating the statement
// when needed. A paid statement's total is frozen: recomputing it to a
// different value fails with ErrAlreadyPaid.
func (s *Service) RecomputeStatementTotal(ctx context.Context, accountID int64, period billing.Period) (Statement, error) {
	started := time.Now()
	var st Statement
	err := validID(accountID)
	if err == nil {
		err = s.store.InTx(ctx, func(tx Tx) error {
			acc, txErr := tx.Account(accountID)
			if txErr != nil {
				return txErr
			}
			st, txErr = s.recomputeStatementTotal(tx, acc, period)
			return txErr
		})
	}
	obs.ObserveOp("statement.recompute", err, started)
	return st, err
}

func (s *Service) recomputeStatementTotal(tx Tx, acc Account, period billing.Period) (Statement, error) {
	st, err := s.ensureStatement(tx, acc, period)
	if err != nil {
		return Statement{}, err
	}
	sum, err := tx.SumPeriodEntries(acc.ID, period)
	if err != nil {
		return Statement{}, err
	}
	if st.Paid() {
		if sum != st.TotalAmount {
			return Statement{}, fmt.Errorf("ledger: period %s already settled: %w", period, ErrAlreadyPaid)
		}
		return st, nil
	}
	st.TotalAmount = sum
	if err := tx.UpdateStatement(st); err != nil {
		return Statement{}, err
	}
	return st, nil
}

// PayStatement settles a statement from another account: it records the
// statement-payment transfer, marks the statement and every entry in its
// period paid, and resyncs both balances. All of it happens in one unit of
// work.
func (s *Service) PayStatement(ctx context.Context, statementID, fromAccountID int64) (Statement, error) {
	started := time.Now()
	var st Statement
	err := validID(statementID)
	if err == nil {
		err = validID(fromAccountID)
	}
	if err == nil {
		err = s.store.InTx(ctx, func(tx Tx) error {
			var txErr error
			st, txErr = s.payStatement(tx, statementID, fromAccountID)
			return txErr
		})
	}
	obs.ObserveOp("statement.pay", err, started)
	if err == nil {
		_ = audit.LogEvent(ctx, "statement.pay", map[string]any{
			"statement_id":    st.ID,
			"from_account_id": fromAccountID,
			"amount":          st.TotalAmount,
		})
	}
	return st, err
}

func (s *Service) payStatement(tx Tx, statementID, fromAccountID int64) (Statement, error) {
	st, err := tx.Statement(statementID)
	if err != nil {
		return Statement{}, err
	}
	if st.Paid() {
		return Statement{}, ErrAlreadyPaid
	}
	from, err := tx.Account(fromAccountID)
	if err != nil {
		return Statement{}, err
	}
	if from.Type == AccountCreditCard {
		return Statement{}, ErrPayFromCard
	}
	card, err := tx.Account(st.AccountID)
	if err != nil {
		return Statement{}, err
	}

	now := s.now().UTC()
	tr := Transfer{
		UserID:        card.UserID,
		FromAccountID: &fromAccountID,
		ToAccountID:   &st.AccountID,
		Amount:        st.TotalAmount,
		Date:          now,
		Type:          TransferStatementPayment,
		StatementID:   &st.ID,
	}
	if err := tx.InsertTransfer(&tr); err != nil {
		return Statement{}, err
	}

	st.PaidAt = &now
	st.PaidFromAccountID = &fromAccountID
	if err := tx.UpdateStatement(st); err != nil {
		return Statement{}, err
	}
	if err := tx.SetEntriesPaid(st.AccountID, st.Period, &now); err != nil {
		return Statement{}, err
	}
	if _, err := s.recomputeBalance(tx, st.AccountID); err != nil {
		return Statement{}, err
	}
	if _, err := s.recomputeBalance(tx, fromAccountID); err != nil {
		return Statement{}, err
	}
	return st, nil
}

// UnpayStatement reverts a payment. The original transfer stays as audit
// trail; a compensating transfer in the opposite direction is inserted
// instead, then the paid markers are cleared and both balances resynced.
func (s *Service) UnpayStatement(ctx context.Context, statementID int64) (Statement, error) {
	started := time.Now()
	var st Statement
	err := validID(statementID)
	if err == nil {
		err = s.store.InTx(ctx, func(tx Tx) error {
			var txErr error
			st, txErr = s.unpayStatement(tx, statementID)
			return txErr
		})
	}
	obs.ObserveOp("statement.unpay", err, started)
	if err == nil {
		_ = audit.LogEvent(ctx, "statement.unpay", map[string]any{"statement_id": st.ID})
	}
	return st, err
}

func (s *Service) unpayStatement(tx Tx, statementID int64) (Statement, error) {
	st, err := tx.Statement(statementID)
	if err != nil {
		return Statement{}, err
	}
	payer := st.PaidFromAccountID

	if st.Paid() {
		card, err := tx.Account(st.AccountID)
		if err != nil {
			return Statement{}, err
		}
		reversal := Transfer{
			UserID:        card.UserID,
			FromAccountID: &st.AccountID,
			ToAccountID:   payer,
			Amount:        st.TotalAmount,
			Date:          s.now().UTC(),
			Type:          TransferStatementPayment,
			StatementID:   &st.ID,
		}
		if err := tx.InsertTransfer(&reversal); err != nil {
			return Statement{}, err
		}
	}

	st.PaidAt = nil
	st.PaidFromAccountID = nil
	if err := tx.UpdateStatement(st); err != nil {
		return Statement{}, err
	}
	if err := tx.SetEntriesPaid(st.AccountID, st.Period, nil); err != nil {
		return Statement{}, err
	}
	if _, err := s.recomputeBalance(tx, st.AccountID); err != nil {
		return Statement{}, err
	}
	if payer != nil {
		if _, err := s.recomputeBalance(tx, *payer); err != nil {
			return Statement{}, err
		}
	}
	return st, nil
}

// ConvertExpenseToPayment collapses a manually entered "paid my card" expense
// into the proper statement payment: the purchase is replaced by a
// statement-payment transfer carrying its external id, so a reimport of the
// same bank record is still recognized as consumed.
func (s *Service) ConvertExpenseToPayment(ctx context.Context, entryID, statementID int64) (Statement, error) {
	started := time.Now()
	var st Statement
	err := validID(entryID)
	if err == nil {
		err = validID(statementID)
	}
	if err == nil {
		err = s.store.InTx(ctx, func(tx Tx) error {
			var txErr error
			st, txErr = s.convertExpenseToPayment(tx, entryID, statementID)
			return txErr
		})
	}
	obs.ObserveOp("statement.convert", err, started)
	if err == nil {
		_ = audit.LogEvent(ctx, "statement.convert", map[string]any{
			"statement_id": st.ID,
			"entry_id":     entryID,
		})
	}
	return st, err
}

func (s *Service) convertExpenseToPayment(tx Tx, entryID, statementID int64) (Statement, error) {
	entry, err := tx.Entry(entryID)
	if err != nil {
		return Statement{}, err
	}
	from, err := tx.Account(entry.AccountID)
	if err != nil {
		return Statement{}, err
	}
	if from.Type == AccountCreditCard {
		return Statement{}, ErrNotConvertible
	}
	purchase, err := tx.Purchase(entry.PurchaseID)
	if err != nil {
		return Statement{}, err
	}
	if purchase.TotalInstallments != 1 {
		return Statement{}, ErrNotConvertible
	}
	st, err := tx.Statement(statementID)
	if err != nil {
		return Statement{}, err
	}
	if st.Paid() {
		return Statement{}, ErrAlreadyPaid
	}
	if entry.Amount != st.TotalAmount {
		return Statement{}, ErrAmountMismatch
	}

	tr := Transfer{
		UserID:        purchase.UserID,
		FromAccountID: &entry.AccountID,
		ToAccountID:   &st.AccountID,
		Amount:        st.TotalAmount,
		Date:          entry.PurchaseDate,
		Type:          TransferStatementPayment,
		StatementID:   &st.ID,
		ExternalID:    purchase.ExternalID,
	}
	if err := tx.InsertTransfer(&tr); err != nil {
		return Statement{}, err
	}

	now := s.now().UTC()
	st.PaidAt = &now
	st.PaidFromAccountID = &entry.AccountID
	if err := tx.UpdateStatement(st); err != nil {
		return Statement{}, err
	}
	if err := tx.SetEntriesPaid(st.AccountID, st.Period, &now); err != nil {
		return Statement{}, err
	}
	if err := tx.DeletePurchase(purchase.ID); err != nil {
		return Statement{}, err
	}
	if _, err := s.recomputeBalance(tx, entry.AccountID); err != nil {
		return Statement{}, err
	}
	if _, err := s.recomputeBalance(tx, st.AccountID); err != nil {
		return Statement{}, err
	}
	return st, nil
}
