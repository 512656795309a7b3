package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryInTxRollsBackOnError(t *testing.T) {
	store := NewInMemory()
	checking := store.PutAccount(Account{UserID: 1, Name: "Checking", Type: AccountChecking})
	boom := errors.New("boom")

	err := store.InTx(context.Background(), func(tx Tx) error {
		if txErr := tx.InsertIncome(&Income{
			UserID: 1, AccountID: checking.ID, Amount: 1000,
			ReceivedDate: date(2025, time.February, 1),
		}); txErr != nil {
			return txErr
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx returned %v, want the callback error", err)
	}

	err = store.InTx(context.Background(), func(tx Tx) error {
		sum, txErr := tx.SumIncome(checking.ID)
		if txErr != nil {
			return txErr
		}
		if sum != 0 {
			t.Fatalf("income survived a rolled-back transaction: %d", sum)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}

func TestInMemoryInTxHonorsContext(t *testing.T) {
	store := NewInMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.InTx(ctx, func(tx Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestDeletePurchaseCascadesToEntries(t *testing.T) {
	store := NewInMemory()

	err := store.InTx(context.Background(), func(tx Tx) error {
		p := Purchase{UserID: 1, Description: "Notebook", TotalAmount: 2400, TotalInstallments: 2, CreatedAt: time.Now()}
		if txErr := tx.InsertPurchase(&p); txErr != nil {
			return txErr
		}
		for n := 1; n <= 2; n++ {
			e := Entry{PurchaseID: p.ID, AccountID: 1, Amount: 1200, InstallmentNumber: n}
			if txErr := tx.InsertEntry(&e); txErr != nil {
				return txErr
			}
		}
		if txErr := tx.DeletePurchase(p.ID); txErr != nil {
			return txErr
		}
		entries, txErr := tx.EntriesByPurchase(p.ID)
		if txErr != nil {
			return txErr
		}
		if len(entries) != 0 {
			t.Fatalf("entries survived purchase deletion: %d", len(entries))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
}
