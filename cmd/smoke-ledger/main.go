package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"faturo.org/internal/billing"
	"faturo.org/internal/importer"
	"faturo.org/internal/ledger"
)

// Exercises the whole pipeline against the in-memory store: import an
// installment batch, pay the resulting statement, revert it, and check the
// derived balances at every step.
func main() {
	log.SetFlags(0)
	store := ledger.NewInMemory()
	svc := ledger.NewService(store)
	rec := importer.NewReconciler(svc, nil)

	card := store.PutAccount(ledger.Account{
		UserID: 1, Name: "Visa", Type: ledger.AccountCreditCard,
		Billing: &ledger.BillingConfig{ClosingDay: 15, DueDay: 5},
	})
	checking := store.PutAccount(ledger.Account{
		UserID: 1, Name: "Checking", Type: ledger.AccountChecking,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := rec.ImportRows(ctx, card.ID, []importer.Row{
		{
			Date:        time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
			Description: "Notebook - installment 2/3",
			Amount:      decimal.NewFromInt(-12),
			ExternalID:  "bank-row-1",
			Installment: &importer.InstallmentMeta{Number: 2, Count: 3, BaseDescription: "Notebook"},
		},
	})
	if err != nil {
		log.Fatalf("import: %v", err)
	}
	if res.Imported != 1 || len(res.Errors) != 0 {
		log.Fatalf("unexpected import result: %+v", res)
	}

	period := billing.Period{Year: 2025, Month: time.February}
	st, err := svc.RecomputeStatementTotal(ctx, card.ID, period)
	if err != nil {
		log.Fatalf("statement: %v", err)
	}
	if st.TotalAmount != 1200 {
		log.Fatalf("statement total = %d, want 1200", st.TotalAmount)
	}

	if _, err := rec.ImportRows(ctx, card.ID, []importer.Row{{
		Date:        time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
		Description: "Notebook - installment 2/3",
		Amount:      decimal.NewFromInt(-12),
		ExternalID:  "bank-row-1",
		Installment: &importer.InstallmentMeta{Number: 2, Count: 3, BaseDescription: "Notebook"},
	}}); err != nil {
		log.Fatalf("reimport: %v", err)
	}

	paid, err := svc.PayStatement(ctx, st.ID, checking.ID)
	if err != nil {
		log.Fatalf("pay: %v", err)
	}
	if !paid.Paid() {
		log.Fatal("statement not marked paid")
	}

	before, err := svc.RecomputeBalance(ctx, checking.ID)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	if before.CurrentBalance != -1200 {
		log.Fatalf("checking balance = %d, want -1200", before.CurrentBalance)
	}

	if _, err := svc.UnpayStatement(ctx, st.ID); err != nil {
		log.Fatalf("unpay: %v", err)
	}
	after, err := svc.RecomputeBalance(ctx, checking.ID)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	if after.CurrentBalance != 0 {
		log.Fatalf("checking balance after unpay = %d, want 0", after.CurrentBalance)
	}

	fmt.Println("✅ ledger smoke test passed")
}
