package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"faturo.org/internal/billing"
	"faturo.org/internal/obs"
)

// ObservedInstallment is one installment row as seen by the import front-end
// or a manual create: its 1-based number within the plan, its amount in minor
// units, and the date it was observed on.
type ObservedInstallment struct {
	Number int
	Amount int64
	Date   time.Time
}

// PlanRequest describes one purchase to create or merge: either a plain
// single-installment purchase (TotalInstallments 1) or an installment group.
type PlanRequest struct {
	AccountID         int64
	BaseDescription   string
	CategoryID        int64
	TotalInstallments int
	ExternalID        string
	BankTxID          string
	Observed          []ObservedInstallment
}

// PlanResult reports what planning did.
type PlanResult struct {
	Purchase Purchase
	Entries  []Entry
	Created  int
	Updated  int
	Merged   bool
}

type accountPeriod struct {
	accountID int64
	period    billing.Period
}

// PlanInstallments runs Plan in its own unit of work. The importer instead
// calls Plan directly so a whole batch shares one transaction.
func (s *Service) PlanInstallments(ctx context.Context, req PlanRequest) (PlanResult, error) {
	started := time.Now()
	var res PlanResult
	err := s.store.InTx(ctx, func(tx Tx) error {
		var txErr error
		res, txErr = s.Plan(tx, req)
		return txErr
	})
	obs.ObserveOp("installment.plan", err, started)
	return res, err
}

// Plan splits one purchase into dated installment entries, or merges newly
// observed installments into an existing open plan. Every affected
// (account, period) pair gets its statement ensured and its total recomputed,
// and every touched account is resynced, before Plan returns. Entries cannot
// land in a period whose statement is already paid: the plan fails with
// ErrAlreadyPaid before anything is written.
func (s *Service) Plan(tx Tx, req PlanRequest) (PlanResult, error) {
	if err := validatePlan(req); err != nil {
		return PlanResult{}, err
	}
	acc, err := tx.Account(req.AccountID)
	if err != nil {
		return PlanResult{}, err
	}

	// Row order is preserved for the default-amount heuristic; number order
	// drives scheduling.
	defaultAmount := req.Observed[0].Amount
	observed := make([]ObservedInstallment, len(req.Observed))
	copy(observed, req.Observed)
	sort.Slice(observed, func(i, j int) bool { return observed[i].Number < observed[j].Number })

	earliest := observed[0]
	base := earliest.Date.AddDate(0, -(earliest.Number - 1), 0)

	affected := make(map[accountPeriod]struct{})
	var res PlanResult

	existing, found, err := findOpenPlan(tx, acc.UserID, req.BaseDescription, req.TotalInstallments)
	if err != nil {
		return PlanResult{}, err
	}
	if found {
		res, err = s.mergePlan(tx, acc, existing, observed, defaultAmount, affected)
	} else {
		res, err = s.createPlan(tx, acc, req, observed, defaultAmount, base, affected)
	}
	if err != nil {
		return PlanResult{}, err
	}

	touched := make(map[int64]struct{})
	for ap := range affected {
		apAcc := acc
		if ap.accountID != acc.ID {
			if apAcc, err = tx.Account(ap.accountID); err != nil {
				return PlanResult{}, err
			}
		}
		if _, err := s.recomputeStatementTotal(tx, apAcc, ap.period); err != nil {
			return PlanResult{}, err
		}
		touched[ap.accountID] = struct{}{}
	}
	touched[acc.ID] = struct{}{}
	for id := range touched {
		if _, err := s.recomputeBalance(tx, id); err != nil {
			return PlanResult{}, err
		}
	}
	return res, nil
}

func validatePlan(req PlanRequest) error {
	if req.AccountID <= 0 {
		return ErrInvalidID
	}
	if req.TotalInstallments < 1 || len(req.Observed) == 0 {
		return ErrInvalidAmount
	}
	seen := make(map[int]bool, len(req.Observed))
	for _, o := range req.Observed {
		if o.Number < 1 || o.Number > req.TotalInstallments || seen[o.Number] {
			return fmt.Errorf("%w: installment number %d of %d", ErrInvalidID, o.Number, req.TotalInstallments)
		}
		if o.Amount <= 0 {
			return ErrInvalidAmount
		}
		seen[o.Number] = true
	}
	return nil
}

// findOpenPlan locates an existing plan by installment count and a
// case-insensitive substring match over the user's purchase descriptions,
// most recently created first. Single purchases never merge. The substring
// match is a deliberate heuristic carried over from how imports have always
// grouped; it can in principle latch onto an unrelated purchase that shares
// text and count.
func findOpenPlan(tx Tx, userID int64, baseDescription string, totalInstallments int) (Purchase, bool, error) {
	if totalInstallments <= 1 {
		return Purchase{}, false, nil
	}
	needle := strings.ToLower(strings.TrimSpace(baseDescription))
	if needle == "" {
		return Purchase{}, false, nil
	}
	purchases, err := tx.PurchasesByUser(userID)
	if err != nil {
		return Purchase{}, false, err
	}
	for _, p := range purchases {
		if p.TotalInstallments == totalInstallments &&
			strings.Contains(strings.ToLower(p.Description), needle) {
			return p, true, nil
		}
	}
	return Purchase{}, false, nil
}

func (s *Service) createPlan(tx Tx, acc Account, req PlanRequest, observed []ObservedInstallment, defaultAmount int64, base time.Time, affected map[accountPeriod]struct{}) (PlanResult, error) {
	byNumber := make(map[int]ObservedInstallment, len(observed))
	for _, o := range observed {
		byNumber[o.Number] = o
	}
	amountFor := func(k int) int64 {
		if o, ok := byNumber[k]; ok {
			return o.Amount
		}
		return defaultAmount
	}

	// The total always covers all N slots, unobserved ones at the default
	// amount, even when earlier installments are never materialized.
	var total int64
	for k := 1; k <= req.TotalInstallments; k++ {
		total += amountFor(k)
	}

	// Installments before the earliest observed one are assumed already
	// recorded elsewhere or permanently missing. Plan all entries and check
	// their periods are still open before writing anything, so a rejection
	// leaves the batch transaction clean.
	start := observed[0].Number
	planned := make([]Entry, 0, req.TotalInstallments-start+1)
	for k := start; k <= req.TotalInstallments; k++ {
		purchaseDate, period, dueDate := schedule(acc, base, k)
		if err := requireOpenPeriod(tx, acc.ID, period); err != nil {
			return PlanResult{}, err
		}
		planned = append(planned, Entry{
			AccountID:         acc.ID,
			Amount:            amountFor(k),
			PurchaseDate:      purchaseDate,
			BillingPeriod:     period,
			DueDate:           dueDate,
			InstallmentNumber: k,
		})
	}

	purchase := Purchase{
		UserID:            acc.UserID,
		Description:       strings.TrimSpace(req.BaseDescription),
		TotalAmount:       total,
		TotalInstallments: req.TotalInstallments,
		CategoryID:        req.CategoryID,
		ExternalID:        req.ExternalID,
		BankTxID:          req.BankTxID,
		CreatedAt:         s.now().UTC(),
	}
	if err := tx.InsertPurchase(&purchase); err != nil {
		return PlanResult{}, err
	}

	res := PlanResult{Purchase: purchase}
	for i := range planned {
		planned[i].PurchaseID = purchase.ID
		if err := tx.InsertEntry(&planned[i]); err != nil {
			return PlanResult{}, err
		}
		affected[accountPeriod{acc.ID, planned[i].BillingPeriod}] = struct{}{}
		res.Entries = append(res.Entries, planned[i])
		res.Created++
	}
	return res, nil
}

func (s *Service) mergePlan(tx Tx, acc Account, purchase Purchase, observed []ObservedInstallment, defaultAmount int64, affected map[accountPeriod]struct{}) (PlanResult, error) {
	entries, err := tx.EntriesByPurchase(purchase.ID)
	if err != nil {
		return PlanResult{}, err
	}
	if len(entries) == 0 {
		return PlanResult{}, fmt.Errorf("ledger: purchase %d has no entries: %w", purchase.ID, ErrNotFound)
	}
	known := make(map[int]Entry, len(entries))
	for _, e := range entries {
		known[e.InstallmentNumber] = e
	}

	// The lowest-numbered existing entry anchors dating for new entries, so
	// installments merged out of order land on the same cadence.
	anchor := entries[0]
	anchorBase := anchor.PurchaseDate.AddDate(0, -(anchor.InstallmentNumber - 1), 0)
	var anchorFirst billing.Period
	if acc.Configured() {
		anchorFirst = anchor.BillingPeriod.AddMonths(-(anchor.InstallmentNumber - 1))
	}

	// First pass plans every write and checks the target periods are still
	// open; nothing is written until all checks pass, so a settled period
	// rejects the merge without dirtying the batch transaction.
	var updates, creations []Entry
	for _, o := range observed {
		if e, ok := known[o.Number]; ok {
			if e.Amount != o.Amount {
				if err := requireOpenPeriod(tx, e.AccountID, e.BillingPeriod); err != nil {
					return PlanResult{}, err
				}
				e.Amount = o.Amount
				updates = append(updates, e)
				known[o.Number] = e
			}
			continue
		}

		var purchaseDate, dueDate time.Time
		var period billing.Period
		if acc.Configured() {
			period = anchorFirst.AddMonths(o.Number - 1)
			if o.Number == 1 {
				purchaseDate = o.Date
			} else {
				purchaseDate = billing.WindowStart(period, acc.Billing.ClosingDay)
			}
			dueDate = billing.DueDate(period, acc.Billing.DueDay)
		} else {
			if o.Number == 1 {
				purchaseDate = o.Date
			} else {
				purchaseDate = anchorBase.AddDate(0, o.Number-1, 0)
			}
			period = billing.PeriodFor(purchaseDate)
			dueDate = purchaseDate
		}
		if err := requireOpenPeriod(tx, acc.ID, period); err != nil {
			return PlanResult{}, err
		}

		entry := Entry{
			PurchaseID:        purchase.ID,
			AccountID:         acc.ID,
			Amount:            o.Amount,
			PurchaseDate:      purchaseDate,
			BillingPeriod:     period,
			DueDate:           dueDate,
			InstallmentNumber: o.Number,
		}
		known[o.Number] = entry
		creations = append(creations, entry)
	}

	res := PlanResult{Merged: true}
	for _, e := range updates {
		if err := tx.UpdateEntry(e); err != nil {
			return PlanResult{}, err
		}
		affected[accountPeriod{e.AccountID, e.BillingPeriod}] = struct{}{}
		res.Updated++
	}
	for _, entry := range creations {
		if err := tx.InsertEntry(&entry); err != nil {
			return PlanResult{}, err
		}
		known[entry.InstallmentNumber] = entry
		affected[accountPeriod{acc.ID, entry.BillingPeriod}] = struct{}{}
		res.Entries = append(res.Entries, entry)
		res.Created++
	}

	// Recompute the plan total over all N slots: known installments by their
	// entry amount, still-unobserved ones at the first row's amount.
	var total int64
	for k := 1; k <= purchase.TotalInstallments; k++ {
		if e, ok := known[k]; ok {
			total += e.Amount
		} else {
			total += defaultAmount
		}
	}
	purchase.TotalAmount = total
	if err := tx.UpdatePurchase(purchase); err != nil {
		return PlanResult{}, err
	}
	res.Purchase = purchase
	return res, nil
}
