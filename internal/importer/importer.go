package importer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"faturo.org/internal/audit"
	"faturo.org/internal/ids"
	"faturo.org/internal/ledger"
	"faturo.org/internal/obs"
)

// InstallmentMeta is the installment metadata a parsed bank row may carry:
// "Notebook - installment 2/3" arrives as {2, 3, "Notebook"}.
type InstallmentMeta struct {
	Number          int
	Count           int
	BaseDescription string
}

// Row is one already-parsed bank record. File-format parsing (CSV/OFX) lives
// in the import front-ends; the reconciler only sees rows. Amounts are signed
// currency units: negative for money out, positive for money in.
type Row struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	ExternalID  string
	BankTxID    string
	CategoryID  int64
	Installment *InstallmentMeta
	Refund      bool
}

// Result summarizes one import batch.
type Result struct {
	BatchID  string            `json:"batch_id"`
	Imported int               `json:"imported"`
	Skipped  int               `json:"skipped"`
	Errors   []ledger.RowError `json:"errors,omitempty"`
}

// CategoryCounter receives frequency feedback for categories that imported
// successfully. Category bookkeeping itself lives outside the ledger core.
type CategoryCounter interface {
	Bump(ctx context.Context, categoryID int64)
}

// Reconciler deduplicates incoming rows, groups installment sequences and
// drives the planner. One ImportRows call is one unit of work: either the
// whole batch's writes land or none do, though individual bad rows are
// reported and skipped rather than failing the batch.
type Reconciler struct {
	svc  *ledger.Service
	cats CategoryCounter
}

// NewReconciler constructs a Reconciler. counter may be nil.
func NewReconciler(svc *ledger.Service, counter CategoryCounter) *Reconciler {
	return &Reconciler{svc: svc, cats: counter}
}

type groupKey string

type pendingGroup struct {
	firstRow int
	base     string
	count    int
	rows     []indexedRow
}

type indexedRow struct {
	idx   int
	row   Row
	minor int64 // absolute minor units
}

// ImportRows imports one batch of parsed rows into accountID's ledger.
func (r *Reconciler) ImportRows(ctx context.Context, accountID int64, rows []Row) (Result, error) {
	started := time.Now()
	res := Result{BatchID: ids.New()}

	if accountID <= 0 {
		return Result{}, ledger.ErrInvalidID
	}

	var bumped []int64
	err := r.svc.Store().InTx(ctx, func(tx ledger.Tx) error {
		acc, err := tx.Account(accountID)
		if err != nil {
			return err
		}

		var extIDs []string
		for _, row := range rows {
			if row.ExternalID != "" {
				extIDs = append(extIDs, row.ExternalID)
			}
		}
		used, err := tx.ExternalIDsInUse(acc.UserID, extIDs)
		if err != nil {
			return err
		}

		groups := make(map[groupKey]*pendingGroup)
		var groupOrder []groupKey
		var refunds []indexedRow

		for i, row := range rows {
			if row.ExternalID != "" && used[row.ExternalID] {
				res.Skipped++
				continue
			}
			minor, rowErr := minorUnits(i, row.Amount)
			if rowErr != nil {
				res.Errors = append(res.Errors, *rowErr)
				continue
			}

			ir := indexedRow{idx: i, row: row, minor: abs(minor)}
			switch {
			case row.Installment != nil:
				if rowErr := validMeta(i, row.Installment); rowErr != nil {
					res.Errors = append(res.Errors, *rowErr)
					continue
				}
				key := groupKey(fmt.Sprintf("%s|%d", normalize(row.Installment.BaseDescription), row.Installment.Count))
				g, ok := groups[key]
				if !ok {
					g = &pendingGroup{
						firstRow: i,
						base:     row.Installment.BaseDescription,
						count:    row.Installment.Count,
					}
					groups[key] = g
					groupOrder = append(groupOrder, key)
				}
				g.rows = append(g.rows, ir)
				// Consumed at grouping time, so a same-batch duplicate of the
				// id is skipped instead of entering the plan twice.
				consume(used, row.ExternalID)
			case row.Refund && minor > 0:
				refunds = append(refunds, ir)
			case minor > 0:
				if err := r.importIncome(tx, acc, ir, 0); err != nil {
					return err
				}
				res.Imported++
				consume(used, row.ExternalID)
				bumped = append(bumped, row.CategoryID)
			default:
				if _, err := r.svc.Plan(tx, ledger.PlanRequest{
					AccountID:         acc.ID,
					BaseDescription:   row.Description,
					CategoryID:        row.CategoryID,
					TotalInstallments: 1,
					ExternalID:        row.ExternalID,
					BankTxID:          row.BankTxID,
					Observed:          []ledger.ObservedInstallment{{Number: 1, Amount: ir.minor, Date: row.Date}},
				}); err != nil {
					// Typically a row dated into an already-settled period.
					// Plan rejects before writing, so the row can fail alone.
					if ledger.IsValidation(err) || ledger.IsConflict(err) {
						res.Errors = append(res.Errors, ledger.RowError{
							Row:     i,
							Field:   "period",
							Message: err.Error(),
						})
						continue
					}
					return err
				}
				res.Imported++
				consume(used, row.ExternalID)
				bumped = append(bumped, row.CategoryID)
			}
		}

		for _, key := range groupOrder {
			g := groups[key]
			req := ledger.PlanRequest{
				AccountID:         acc.ID,
				BaseDescription:   g.base,
				CategoryID:        g.rows[0].row.CategoryID,
				TotalInstallments: g.count,
				ExternalID:        g.rows[0].row.ExternalID,
				BankTxID:          g.rows[0].row.BankTxID,
			}
			for _, ir := range g.rows {
				req.Observed = append(req.Observed, ledger.ObservedInstallment{
					Number: ir.row.Installment.Number,
					Amount: ir.minor,
					Date:   ir.row.Date,
				})
			}
			if _, err := r.svc.Plan(tx, req); err != nil {
				if ledger.IsValidation(err) || ledger.IsConflict(err) {
					res.Errors = append(res.Errors, ledger.RowError{
						Row:     g.firstRow,
						Field:   "installment",
						Message: err.Error(),
						Value:   string(key),
					})
					continue
				}
				return err
			}
			res.Imported += len(g.rows)
			for _, ir := range g.rows {
				bumped = append(bumped, ir.row.CategoryID)
			}
		}

		// Refunds last, so a purchase imported earlier in this batch is
		// already visible to matching.
		for _, ir := range refunds {
			match, err := matchRefund(tx, acc.UserID, ir)
			if err != nil {
				return err
			}
			categoryID := ir.row.CategoryID
			if match != nil {
				categoryID = match.purchase.CategoryID
			}
			if err := r.importIncome(tx, acc, ir, categoryID); err != nil {
				return err
			}
			res.Imported++
			consume(used, ir.row.ExternalID)
			bumped = append(bumped, categoryID)
		}
		return nil
	})
	if err != nil {
		obs.ObserveOp("import.batch", err, started)
		return Result{}, err
	}

	if r.cats != nil {
		for _, id := range bumped {
			if id > 0 {
				r.cats.Bump(ctx, id)
			}
		}
	}

	obs.ObserveOp("import.batch", nil, started)
	obs.CountImportRows(res.Imported, res.Skipped, len(res.Errors))
	_ = audit.LogEvent(ctx, "import.batch", map[string]any{
		"batch_id":   res.BatchID,
		"account_id": accountID,
		"imported":   res.Imported,
		"skipped":    res.Skipped,
		"failed":     len(res.Errors),
	})
	return res, nil
}

func (r *Reconciler) importIncome(tx ledger.Tx, acc ledger.Account, ir indexedRow, categoryID int64) error {
	if categoryID == 0 {
		categoryID = ir.row.CategoryID
	}
	in := ledger.Income{
		UserID:       acc.UserID,
		AccountID:    acc.ID,
		Description:  ir.row.Description,
		Amount:       ir.minor,
		ReceivedDate: ir.row.Date,
		CategoryID:   categoryID,
		ExternalID:   ir.row.ExternalID,
	}
	if err := tx.InsertIncome(&in); err != nil {
		return err
	}
	_, err := r.svc.RecomputeBalanceInTx(tx, acc.ID)
	return err
}

func consume(used map[string]bool, extID string) {
	if extID != "" {
		used[extID] = true
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// minorUnits converts a signed currency-unit amount to minor units. Amounts
// with fractional minor units (more than two decimal places) are row errors.
func minorUnits(rowIdx int, d decimal.Decimal) (int64, *ledger.RowError) {
	if d.IsZero() {
		return 0, &ledger.RowError{Row: rowIdx, Field: "amount", Message: "amount must be non-zero", Value: d.String()}
	}
	m := d.Mul(decimal.NewFromInt(100))
	if !m.IsInteger() {
		return 0, &ledger.RowError{Row: rowIdx, Field: "amount", Message: "amount has sub-cent precision", Value: d.String()}
	}
	return m.IntPart(), nil
}

func validMeta(rowIdx int, meta *InstallmentMeta) *ledger.RowError {
	if meta.Count < 1 || meta.Number < 1 || meta.Number > meta.Count {
		return &ledger.RowError{
			Row:     rowIdx,
			Field:   "installment",
			Message: fmt.Sprintf("installment %d/%d out of range", meta.Number, meta.Count),
		}
	}
	if strings.TrimSpace(meta.BaseDescription) == "" {
		return &ledger.RowError{Row: rowIdx, Field: "installment", Message: "missing base description"}
	}
	return nil
}

// normalize lowercases and collapses runs of whitespace so descriptions from
// different statements compare equal.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
