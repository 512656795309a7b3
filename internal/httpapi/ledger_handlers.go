package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"faturo.org/internal/importer"
	"faturo.org/internal/ledger"
)

type payRequest struct {
	FromAccountID int64 `json:"from_account_id"`
}

type convertRequest struct {
	EntryID int64 `json:"entry_id"`
}

type importRowRequest struct {
	Date            string          `json:"date"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	ExternalID      string          `json:"external_id,omitempty"`
	BankTxID        string          `json:"bank_tx_id,omitempty"`
	CategoryID      int64           `json:"category_id,omitempty"`
	Refund          bool            `json:"refund,omitempty"`
	InstallmentNum  int             `json:"installment_number,omitempty"`
	InstallmentOf   int             `json:"installment_count,omitempty"`
	InstallmentBase string          `json:"installment_base,omitempty"`
}

type importRequest struct {
	AccountID int64              `json:"account_id"`
	Rows      []importRowRequest `json:"rows"`
}

func (a *API) handleStatementResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/statements/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	idPart, action, _ := strings.Cut(path, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid statement id")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getStatement(w, r, id)
	case "pay":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.payStatement(w, r, id)
	case "unpay":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.unpayStatement(w, r, id)
	case "convert":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.convertExpense(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getStatement(w http.ResponseWriter, r *http.Request, id int64) {
	var st ledger.Statement
	err := a.svc.Store().InTx(r.Context(), func(tx ledger.Tx) error {
		var txErr error
		st, txErr = tx.Statement(id)
		return txErr
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) payStatement(w http.ResponseWriter, r *http.Request, id int64) {
	var req payRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := a.svc.PayStatement(r.Context(), id, req.FromAccountID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) unpayStatement(w http.ResponseWriter, r *http.Request, id int64) {
	st, err := a.svc.UnpayStatement(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) convertExpense(w http.ResponseWriter, r *http.Request, id int64) {
	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	st, err := a.svc.ConvertExpenseToPayment(r.Context(), req.EntryID, id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleImports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rows := make([]importer.Row, 0, len(req.Rows))
	for i, rr := range req.Rows {
		date, err := parseRowDate(rr.Date)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "row "+strconv.Itoa(i)+": invalid date")
			return
		}
		row := importer.Row{
			Date:        date,
			Description: rr.Description,
			Amount:      rr.Amount,
			ExternalID:  rr.ExternalID,
			BankTxID:    rr.BankTxID,
			CategoryID:  rr.CategoryID,
			Refund:      rr.Refund,
		}
		if rr.InstallmentOf > 0 {
			row.Installment = &importer.InstallmentMeta{
				Number:          rr.InstallmentNum,
				Count:           rr.InstallmentOf,
				BaseDescription: rr.InstallmentBase,
			}
		}
		rows = append(rows, row)
	}

	res, err := a.rec.ImportRows(r.Context(), req.AccountID, rows)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	idPart, action, _ := strings.Cut(path, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid account id")
		return
	}

	switch action {
	case "balance":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getBalance(w, r, id)
	case "resync":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.resyncBalance(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getBalance(w http.ResponseWriter, r *http.Request, id int64) {
	var acc ledger.Account
	err := a.svc.Store().InTx(r.Context(), func(tx ledger.Tx) error {
		var txErr error
		acc, txErr = tx.Account(id)
		return txErr
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":          acc.ID,
		"current_balance":     acc.CurrentBalance,
		"last_balance_update": acc.LastBalanceUpdate,
	})
}

func (a *API) resyncBalance(w http.ResponseWriter, r *http.Request, id int64) {
	acc, err := a.svc.RecomputeBalance(r.Context(), id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":          acc.ID,
		"current_balance":     acc.CurrentBalance,
		"last_balance_update": acc.LastBalanceUpdate,
	})
}

func parseRowDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
