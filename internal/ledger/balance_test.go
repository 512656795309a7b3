package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecomputeBalanceDerivesFromScratch(t *testing.T) {
	// A stale cached balance is not an input to the resync: the result is
	// rebuilt from the records alone.
	svc, store := newTestService()
	checking := store.PutAccount(Account{
		UserID: 1, Name: "Checking", Type: AccountChecking,
		CurrentBalance: 100000,
	})
	ctx := context.Background()

	plan(t, svc, PlanRequest{
		AccountID: checking.ID, BaseDescription: "Rent", TotalInstallments: 1,
		Observed: []ObservedInstallment{{Number: 1, Amount: 25000, Date: date(2025, time.February, 1)}},
	})

	acc, err := svc.RecomputeBalance(ctx, checking.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if acc.CurrentBalance != -25000 {
		t.Fatalf("balance = %d, want -25000 (stale cache must not leak in)", acc.CurrentBalance)
	}
	if !acc.LastBalanceUpdate.Equal(testNow) {
		t.Fatalf("last update = %s, want %s", acc.LastBalanceUpdate, testNow)
	}

	// Running it again changes nothing.
	again, err := svc.RecomputeBalance(ctx, checking.ID)
	if err != nil {
		t.Fatalf("recompute again: %v", err)
	}
	if again.CurrentBalance != -25000 {
		t.Fatalf("second recompute drifted to %d", again.CurrentBalance)
	}
}

func TestRecomputeBalanceSumsAllSources(t *testing.T) {
	svc, store := newTestService()
	checking := seedChecking(store)
	savings := store.PutAccount(Account{UserID: 1, Name: "Savings", Type: AccountSavings})
	ctx := context.Background()

	err := store.InTx(ctx, func(tx Tx) error {
		if txErr := tx.InsertIncome(&Income{
			UserID: 1, AccountID: checking.ID, Amount: 300000,
			Description: "Salary", ReceivedDate: date(2025, time.February, 5),
		}); txErr != nil {
			return txErr
		}
		out := Transfer{
			UserID: 1, FromAccountID: &checking.ID, ToAccountID: &savings.ID,
			Amount: 50000, Date: date(2025, time.February, 6), Type: TransferInternal,
		}
		return tx.InsertTransfer(&out)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	plan(t, svc, PlanRequest{
		AccountID: checking.ID, BaseDescription: "Groceries", TotalInstallments: 1,
		Observed: []ObservedInstallment{{Number: 1, Amount: 12000, Date: date(2025, time.February, 8)}},
	})

	acc, err := svc.RecomputeBalance(ctx, checking.ID)
	if err != nil {
		t.Fatalf("recompute checking: %v", err)
	}
	// 300000 income - 12000 entries - 50000 out.
	if acc.CurrentBalance != 238000 {
		t.Fatalf("checking = %d, want 238000", acc.CurrentBalance)
	}

	sav, err := svc.RecomputeBalance(ctx, savings.ID)
	if err != nil {
		t.Fatalf("recompute savings: %v", err)
	}
	if sav.CurrentBalance != 50000 {
		t.Fatalf("savings = %d, want 50000", sav.CurrentBalance)
	}
}

func TestRecomputeBalanceSkipsIgnoredRecords(t *testing.T) {
	svc, store := newTestService()
	checking := seedChecking(store)
	ctx := context.Background()

	res := plan(t, svc, PlanRequest{
		AccountID: checking.ID, BaseDescription: "Duplicate charge", TotalInstallments: 1,
		Observed: []ObservedInstallment{{Number: 1, Amount: 7000, Date: date(2025, time.February, 8)}},
	})

	err := store.InTx(ctx, func(tx Tx) error {
		p, txErr := tx.Purchase(res.Purchase.ID)
		if txErr != nil {
			return txErr
		}
		p.Ignored = true
		return tx.UpdatePurchase(p)
	})
	if err != nil {
		t.Fatalf("ignore purchase: %v", err)
	}

	acc, err := svc.RecomputeBalance(ctx, checking.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if acc.CurrentBalance != 0 {
		t.Fatalf("balance = %d, want 0 (ignored purchase must not count)", acc.CurrentBalance)
	}
}

func TestRecomputeBalanceErrors(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.RecomputeBalance(ctx, 0); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("zero id: got %v, want ErrInvalidID", err)
	}
	if _, err := svc.RecomputeBalance(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing account: got %v, want ErrNotFound", err)
	}
}
