package ledger

import (
	"context"
	"time"

	"faturo.org/internal/obs"
)

// RecomputeBalance rebuilds one account's cached balance from the ledger and
// stamps it. The balance is always derived from zero state, never adjusted in
// place, so a missed or doubly-run resync self-heals on the next call.
func (s *Service) RecomputeBalance(ctx context.Context, accountID int64) (Account, error) {
	started := time.Now()
	var acc Account
	err := validID(accountID)
	if err == nil {
		err = s.store.InTx(ctx, func(tx Tx) error {
			var txErr error
			acc, txErr = s.recomputeBalance(tx, accountID)
			return txErr
		})
	}
	obs.ObserveOp("balance.recompute", err, started)
	return acc, err
}

// RecomputeBalanceInTx is RecomputeBalance for callers already inside a unit
// of work, such as the importer's batch transaction.
func (s *Service) RecomputeBalanceInTx(tx Tx, accountID int64) (Account, error) {
	if err := validID(accountID); err != nil {
		return Account{}, err
	}
	return s.recomputeBalance(tx, accountID)
}

func (s *Service) recomputeBalance(tx Tx, accountID int64) (Account, error) {
	acc, err := tx.Account(accountID)
	if err != nil {
		return Account{}, err
	}
	income, err := tx.SumIncome(accountID)
	if err != nil {
		return Account{}, err
	}
	entries, err := tx.SumEntries(accountID)
	if err != nil {
		return Account{}, err
	}
	in, err := tx.SumTransfersIn(accountID)
	if err != nil {
		return Account{}, err
	}
	out, err := tx.SumTransfersOut(accountID)
	if err != nil {
		return Account{}, err
	}

	balance := income - entries + in - out
	at := s.now().UTC()
	if err := tx.SetAccountBalance(accountID, balance, at); err != nil {
		return Account{}, err
	}
	acc.CurrentBalance = balance
	acc.LastBalanceUpdate = at
	return acc, nil
}
