package importer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faturo.org/internal/billing"
	"faturo.org/internal/ledger"
)

var testNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeCounter struct {
	bumps []int64
}

func (f *fakeCounter) Bump(_ context.Context, categoryID int64) {
	f.bumps = append(f.bumps, categoryID)
}

func newTestReconciler() (*Reconciler, *ledger.Service, *ledger.InMemory, *fakeCounter) {
	store := ledger.NewInMemory()
	svc := ledger.NewService(store, ledger.WithNow(func() time.Time { return testNow }))
	counter := &fakeCounter{}
	return NewReconciler(svc, counter), svc, store, counter
}

func seedCard(store *ledger.InMemory) ledger.Account {
	return store.PutAccount(ledger.Account{
		UserID: 1, Name: "Visa", Type: ledger.AccountCreditCard,
		Billing: &ledger.BillingConfig{ClosingDay: 15, DueDay: 5},
	})
}

func seedChecking(store *ledger.InMemory) ledger.Account {
	return store.PutAccount(ledger.Account{UserID: 1, Name: "Checking", Type: ledger.AccountChecking})
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func purchasesOf(t *testing.T, store *ledger.InMemory, userID int64) []ledger.Purchase {
	t.Helper()
	var out []ledger.Purchase
	err := store.InTx(context.Background(), func(tx ledger.Tx) error {
		var txErr error
		out, txErr = tx.PurchasesByUser(userID)
		return txErr
	})
	require.NoError(t, err)
	return out
}

func TestImportRowsBasicExpenseAndIncome(t *testing.T) {
	rec, svc, store, counter := newTestReconciler()
	checking := seedChecking(store)
	ctx := context.Background()

	res, err := rec.ImportRows(ctx, checking.ID, []Row{
		{Date: date(2025, time.February, 5), Description: "Salary", Amount: amount("3000"), ExternalID: "row-1", CategoryID: 10},
		{Date: date(2025, time.February, 8), Description: "Groceries", Amount: amount("-120.50"), ExternalID: "row-2", CategoryID: 20},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Equal(t, 0, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.BatchID)

	acc, err := svc.RecomputeBalance(ctx, checking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300000-12050), acc.CurrentBalance)

	assert.ElementsMatch(t, []int64{10, 20}, counter.bumps)
}

func TestImportRowsDedupAcrossRecordKinds(t *testing.T) {
	rec, svc, store, _ := newTestReconciler()
	card := seedCard(store)
	checking := seedChecking(store)
	ctx := context.Background()

	// Seed every kind of consumer of an external id: a purchase, an income
	// and a statement-payment transfer.
	res, err := rec.ImportRows(ctx, card.ID, []Row{
		{Date: date(2025, time.January, 10), Description: "Groceries", Amount: amount("-50"), ExternalID: "ext-purchase"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)

	res, err = rec.ImportRows(ctx, checking.ID, []Row{
		{Date: date(2025, time.February, 5), Description: "Salary", Amount: amount("3000"), ExternalID: "ext-income"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)

	res, err = rec.ImportRows(ctx, checking.ID, []Row{
		{Date: date(2025, time.February, 6), Description: "Visa payment", Amount: amount("-50"), ExternalID: "ext-payment"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)

	// Converting the payment expense deletes its purchase and moves the
	// external id onto the statement-payment transfer.
	st, err := svc.RecomputeStatementTotal(ctx, card.ID, billing.Period{Year: 2025, Month: time.January})
	require.NoError(t, err)
	var paymentEntry ledger.Entry
	err = store.InTx(ctx, func(tx ledger.Tx) error {
		purchases, txErr := tx.PurchasesByUser(1)
		if txErr != nil {
			return txErr
		}
		for _, p := range purchases {
			if p.ExternalID == "ext-payment" {
				entries, txErr := tx.EntriesByPurchase(p.ID)
				if txErr != nil {
					return txErr
				}
				paymentEntry = entries[0]
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.NotZero(t, paymentEntry.ID)
	_, err = svc.ConvertExpenseToPayment(ctx, paymentEntry.ID, st.ID)
	require.NoError(t, err)

	// Reimporting all three ids skips all three.
	res, err = rec.ImportRows(ctx, checking.ID, []Row{
		{Date: date(2025, time.January, 10), Description: "Groceries", Amount: amount("-50"), ExternalID: "ext-purchase"},
		{Date: date(2025, time.February, 5), Description: "Salary", Amount: amount("3000"), ExternalID: "ext-income"},
		{Date: date(2025, time.February, 6), Description: "Visa payment", Amount: amount("-50"), ExternalID: "ext-payment"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 3, res.Skipped)
}

func TestImportRowsSameBatchDuplicate(t *testing.T) {
	rec, _, store, _ := newTestReconciler()
	checking := seedChecking(store)

	res, err := rec.ImportRows(context.Background(), checking.ID, []Row{
		{Date: date(2025, time.February, 8), Description: "Groceries", Amount: amount("-120"), ExternalID: "dup-1"},
		{Date: date(2025, time.February, 8), Description: "Groceries", Amount: amount("-120"), ExternalID: "dup-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
}

func TestImportRowsSettledPeriodRowFailsAlone(t *testing.T) {
	rec, svc, store, _ := newTestReconciler()
	card := seedCard(store)
	checking := seedChecking(store)
	ctx := context.Background()

	res, err := rec.ImportRows(ctx, card.ID, []Row{
		{Date: date(2025, time.January, 10), Description: "Groceries", Amount: amount("-40"), ExternalID: "p-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)

	st, err := svc.RecomputeStatementTotal(ctx, card.ID, billing.Period{Year: 2025, Month: time.January})
	require.NoError(t, err)
	_, err = svc.PayStatement(ctx, st.ID, checking.ID)
	require.NoError(t, err)

	// A straggler dated into the settled period fails as a row error while
	// the rest of the batch lands.
	res, err = rec.ImportRows(ctx, card.ID, []Row{
		{Date: date(2025, time.January, 12), Description: "Pharmacy", Amount: amount("-9"), ExternalID: "p-2"},
		{Date: date(2025, time.February, 5), Description: "Cashback", Amount: amount("1"), ExternalID: "p-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Row)
	assert.Equal(t, "period", res.Errors[0].Field)

	// The settled statement total still matches the payment transfer.
	var frozen ledger.Statement
	err = store.InTx(ctx, func(tx ledger.Tx) error {
		var txErr error
		frozen, txErr = tx.Statement(st.ID)
		return txErr
	})
	require.NoError(t, err)
	assert.True(t, frozen.Paid())
	assert.Equal(t, int64(4000), frozen.TotalAmount)
}

func TestImportRowsSameBatchInstallmentDuplicate(t *testing.T) {
	rec, _, store, _ := newTestReconciler()
	card := seedCard(store)

	// Two copies of the same installment row in one file: the duplicate is
	// skipped on its external id instead of entering the plan twice.
	res, err := rec.ImportRows(context.Background(), card.ID, []Row{
		{Date: date(2025, time.January, 20), Description: "Sofa - 1/2", Amount: amount("-60"), ExternalID: "dup-inst",
			Installment: &InstallmentMeta{Number: 1, Count: 2, BaseDescription: "Sofa"}},
		{Date: date(2025, time.January, 20), Description: "Sofa - 1/2", Amount: amount("-60"), ExternalID: "dup-inst",
			Installment: &InstallmentMeta{Number: 1, Count: 2, BaseDescription: "Sofa"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Errors)

	purchases := purchasesOf(t, store, 1)
	require.Len(t, purchases, 1)
	assert.Equal(t, 2, purchases[0].TotalInstallments)
}

func TestImportRowsInstallmentGrouping(t *testing.T) {
	rec, _, store, _ := newTestReconciler()
	card := seedCard(store)

	// Whitespace and case differences in the base description land in the
	// same group; a different count does not.
	res, err := rec.ImportRows(context.Background(), card.ID, []Row{
		{Date: date(2025, time.January, 20), Description: "NOTEBOOK - 1/3", Amount: amount("-12"), ExternalID: "n-1",
			Installment: &InstallmentMeta{Number: 1, Count: 3, BaseDescription: "NOTEBOOK  Pro"}},
		{Date: date(2025, time.February, 20), Description: "notebook - 2/3", Amount: amount("-12"), ExternalID: "n-2",
			Installment: &InstallmentMeta{Number: 2, Count: 3, BaseDescription: "notebook pro"}},
		{Date: date(2025, time.January, 22), Description: "notebook - 1/2", Amount: amount("-30"), ExternalID: "n-3",
			Installment: &InstallmentMeta{Number: 1, Count: 2, BaseDescription: "notebook pro"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported)
	assert.Empty(t, res.Errors)

	purchases := purchasesOf(t, store, 1)
	require.Len(t, purchases, 2)
	counts := []int{purchases[0].TotalInstallments, purchases[1].TotalInstallments}
	assert.ElementsMatch(t, []int{3, 2}, counts)
}

func TestImportRowsSplitAcrossBatchesMerges(t *testing.T) {
	rec, svc, store, _ := newTestReconciler()
	card := seedCard(store)
	ctx := context.Background()

	meta := func(n int) *InstallmentMeta {
		return &InstallmentMeta{Number: n, Count: 3, BaseDescription: "Gym annual"}
	}
	_, err := rec.ImportRows(ctx, card.ID, []Row{
		{Date: date(2025, time.February, 20), Description: "Gym annual - 2/3", Amount: amount("-40"), ExternalID: "g-2", Installment: meta(2)},
	})
	require.NoError(t, err)
	_, err = rec.ImportRows(ctx, card.ID, []Row{
		{Date: date(2025, time.January, 20), Description: "Gym annual - 1/3", Amount: amount("-40"), ExternalID: "g-1", Installment: meta(1)},
		{Date: date(2025, time.March, 20), Description: "Gym annual - 3/3", Amount: amount("-40"), ExternalID: "g-3", Installment: meta(3)},
	})
	require.NoError(t, err)

	purchases := purchasesOf(t, store, 1)
	require.Len(t, purchases, 1)
	assert.Equal(t, int64(12000), purchases[0].TotalAmount)

	// Every affected period carries exactly its own installment.
	for _, period := range []billing.Period{
		{Year: 2025, Month: time.February},
		{Year: 2025, Month: time.March},
		{Year: 2025, Month: time.April},
	} {
		st, err := svc.RecomputeStatementTotal(ctx, card.ID, period)
		require.NoError(t, err)
		assert.Equal(t, int64(4000), st.TotalAmount, "period %s", period)
	}
}

func TestImportRowsRowErrors(t *testing.T) {
	rec, _, store, _ := newTestReconciler()
	checking := seedChecking(store)

	res, err := rec.ImportRows(context.Background(), checking.ID, []Row{
		{Date: date(2025, time.February, 8), Description: "Zero", Amount: amount("0")},
		{Date: date(2025, time.February, 8), Description: "Sub-cent", Amount: amount("-1.005")},
		{Date: date(2025, time.February, 8), Description: "Bad meta", Amount: amount("-10"),
			Installment: &InstallmentMeta{Number: 4, Count: 3, BaseDescription: "x"}},
		{Date: date(2025, time.February, 8), Description: "Fine", Amount: amount("-10"), ExternalID: "ok-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, 0, res.Errors[0].Row)
	assert.Equal(t, "amount", res.Errors[0].Field)
	assert.Equal(t, 1, res.Errors[1].Row)
	assert.Equal(t, "amount", res.Errors[1].Field)
	assert.Equal(t, 2, res.Errors[2].Row)
	assert.Equal(t, "installment", res.Errors[2].Field)
}

func TestImportRowsUnknownAccount(t *testing.T) {
	rec, _, _, _ := newTestReconciler()

	_, err := rec.ImportRows(context.Background(), 99, []Row{
		{Date: date(2025, time.February, 8), Description: "Groceries", Amount: amount("-10")},
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = rec.ImportRows(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidID)
}

func TestImportRowsCounterSkipsFailedRows(t *testing.T) {
	rec, _, store, counter := newTestReconciler()
	checking := seedChecking(store)

	_, err := rec.ImportRows(context.Background(), checking.ID, []Row{
		{Date: date(2025, time.February, 8), Description: "Bad", Amount: amount("0"), CategoryID: 7},
		{Date: date(2025, time.February, 8), Description: "Fine", Amount: amount("-10"), CategoryID: 8},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, counter.bumps)
}
