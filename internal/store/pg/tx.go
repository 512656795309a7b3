package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"faturo.org/internal/billing"
	"faturo.org/internal/ledger"
)

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

var _ ledger.Tx = (*pgTx)(nil)

func (t *pgTx) Account(id int64) (ledger.Account, error) {
	var (
		a          ledger.Account
		closingDay sql.NullInt64
		dueDay     sql.NullInt64
		balanceAt  sql.NullTime
	)
	err := t.tx.QueryRowContext(t.ctx, `
		select id, user_id, name, type, closing_day, due_day, current_balance, last_balance_update, created_at
		from accounts where id=$1
	`, id).Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &closingDay, &dueDay, &a.CurrentBalance, &balanceAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}
	if closingDay.Valid && dueDay.Valid {
		a.Billing = &ledger.BillingConfig{ClosingDay: int(closingDay.Int64), DueDay: int(dueDay.Int64)}
	}
	if balanceAt.Valid {
		a.LastBalanceUpdate = balanceAt.Time
	}
	return a, nil
}

func (t *pgTx) SetAccountBalance(id int64, balance int64, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx, `
		update accounts set current_balance=$2, last_balance_update=$3 where id=$1
	`, id, balance, at)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) Purchase(id int64) (ledger.Purchase, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		select id, user_id, description, total_amount, total_installments, category_id,
		       coalesce(external_id,''), coalesce(bank_tx_id,''), ignored, created_at
		from purchases where id=$1
	`, id)
	return scanPurchase(row)
}

func (t *pgTx) PurchasesByUser(userID int64) ([]ledger.Purchase, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		select id, user_id, description, total_amount, total_installments, category_id,
		       coalesce(external_id,''), coalesce(bank_tx_id,''), ignored, created_at
		from purchases where user_id=$1
		order by created_at desc, id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertPurchase(p *ledger.Purchase) error {
	return t.tx.QueryRowContext(t.ctx, `
		insert into purchases(user_id, description, total_amount, total_installments, category_id,
		                      external_id, bank_tx_id, ignored, created_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),$8,$9)
		returning id
	`, p.UserID, p.Description, p.TotalAmount, p.TotalInstallments, p.CategoryID,
		p.ExternalID, p.BankTxID, p.Ignored, p.CreatedAt).Scan(&p.ID)
}

func (t *pgTx) UpdatePurchase(p ledger.Purchase) error {
	res, err := t.tx.ExecContext(t.ctx, `
		update purchases set description=$2, total_amount=$3, total_installments=$4,
		       category_id=$5, external_id=nullif($6,''), bank_tx_id=nullif($7,''), ignored=$8
		where id=$1
	`, p.ID, p.Description, p.TotalAmount, p.TotalInstallments, p.CategoryID, p.ExternalID, p.BankTxID, p.Ignored)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) DeletePurchase(id int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `delete from entries where purchase_id=$1`, id); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx, `delete from purchases where id=$1`, id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) Entry(id int64) (ledger.Entry, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		select id, purchase_id, account_id, amount, purchase_date, billing_period,
		       due_date, installment_number, paid_at
		from entries where id=$1
	`, id)
	return scanEntry(row)
}

func (t *pgTx) EntriesByPurchase(purchaseID int64) ([]ledger.Entry, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		select id, purchase_id, account_id, amount, purchase_date, billing_period,
		       due_date, installment_number, paid_at
		from entries where purchase_id=$1
		order by installment_number asc
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertEntry(e *ledger.Entry) error {
	return t.tx.QueryRowContext(t.ctx, `
		insert into entries(purchase_id, account_id, amount, purchase_date, billing_period,
		                    due_date, installment_number, paid_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
		returning id
	`, e.PurchaseID, e.AccountID, e.Amount, e.PurchaseDate, e.BillingPeriod.String(),
		e.DueDate, e.InstallmentNumber, e.PaidAt).Scan(&e.ID)
}

func (t *pgTx) UpdateEntry(e ledger.Entry) error {
	res, err := t.tx.ExecContext(t.ctx, `
		update entries set amount=$2, purchase_date=$3, billing_period=$4, due_date=$5,
		       installment_number=$6, paid_at=$7
		where id=$1
	`, e.ID, e.Amount, e.PurchaseDate, e.BillingPeriod.String(), e.DueDate, e.InstallmentNumber, e.PaidAt)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) SetEntriesPaid(accountID int64, period billing.Period, paidAt *time.Time) error {
	_, err := t.tx.ExecContext(t.ctx, `
		update entries set paid_at=$3 where account_id=$1 and billing_period=$2
	`, accountID, period.String(), paidAt)
	return err
}

func (t *pgTx) SumEntries(accountID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(t.ctx, `
		select coalesce(sum(e.amount),0)
		from entries e
		join purchases p on p.id = e.purchase_id
		where e.account_id=$1 and not p.ignored
	`, accountID).Scan(&sum)
	return sum, err
}

func (t *pgTx) SumPeriodEntries(accountID int64, period billing.Period) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(t.ctx, `
		select coalesce(sum(e.amount),0)
		from entries e
		join purchases p on p.id = e.purchase_id
		where e.account_id=$1 and e.billing_period=$2 and not p.ignored
	`, accountID, period.String()).Scan(&sum)
	return sum, err
}

func (t *pgTx) Statement(id int64) (ledger.Statement, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		select id, account_id, period, total_amount, due_date, paid_at, paid_from_account_id
		from statements where id=$1
	`, id)
	return scanStatement(row)
}

func (t *pgTx) StatementFor(accountID int64, period billing.Period) (ledger.Statement, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		select id, account_id, period, total_amount, due_date, paid_at, paid_from_account_id
		from statements where account_id=$1 and period=$2
	`, accountID, period.String())
	return scanStatement(row)
}

func (t *pgTx) InsertStatement(st *ledger.Statement) error {
	return t.tx.QueryRowContext(t.ctx, `
		insert into statements(account_id, period, total_amount, due_date, paid_at, paid_from_account_id)
		values ($1,$2,$3,$4,$5,$6)
		returning id
	`, st.AccountID, st.Period.String(), st.TotalAmount, st.DueDate, st.PaidAt, st.PaidFromAccountID).Scan(&st.ID)
}

func (t *pgTx) UpdateStatement(st ledger.Statement) error {
	res, err := t.tx.ExecContext(t.ctx, `
		update statements set total_amount=$2, due_date=$3, paid_at=$4, paid_from_account_id=$5
		where id=$1
	`, st.ID, st.TotalAmount, st.DueDate, st.PaidAt, st.PaidFromAccountID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (t *pgTx) InsertTransfer(tr *ledger.Transfer) error {
	return t.tx.QueryRowContext(t.ctx, `
		insert into transfers(user_id, from_account_id, to_account_id, amount, date, type,
		                      statement_id, external_id, ignored)
		values ($1,$2,$3,$4,$5,$6,$7,nullif($8,''),$9)
		returning id
	`, tr.UserID, tr.FromAccountID, tr.ToAccountID, tr.Amount, tr.Date, tr.Type,
		tr.StatementID, tr.ExternalID, tr.Ignored).Scan(&tr.ID)
}

func (t *pgTx) SumTransfersIn(accountID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(t.ctx, `
		select coalesce(sum(amount),0) from transfers
		where to_account_id=$1 and not ignored
	`, accountID).Scan(&sum)
	return sum, err
}

func (t *pgTx) SumTransfersOut(accountID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(t.ctx, `
		select coalesce(sum(amount),0) from transfers
		where from_account_id=$1 and not ignored
	`, accountID).Scan(&sum)
	return sum, err
}

func (t *pgTx) InsertIncome(in *ledger.Income) error {
	return t.tx.QueryRowContext(t.ctx, `
		insert into incomes(user_id, account_id, description, amount, received_date,
		                    category_id, external_id, ignored)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8)
		returning id
	`, in.UserID, in.AccountID, in.Description, in.Amount, in.ReceivedDate,
		in.CategoryID, in.ExternalID, in.Ignored).Scan(&in.ID)
}

func (t *pgTx) IncomesByAccount(accountID int64) ([]ledger.Income, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		select id, user_id, account_id, description, amount, received_date,
		       category_id, coalesce(external_id,''), ignored
		from incomes
		where account_id=$1
		order by received_date, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Income
	for rows.Next() {
		var in ledger.Income
		if err := rows.Scan(&in.ID, &in.UserID, &in.AccountID, &in.Description,
			&in.Amount, &in.ReceivedDate, &in.CategoryID, &in.ExternalID, &in.Ignored); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (t *pgTx) SumIncome(accountID int64) (int64, error) {
	var sum int64
	err := t.tx.QueryRowContext(t.ctx, `
		select coalesce(sum(amount),0) from incomes
		where account_id=$1 and not ignored
	`, accountID).Scan(&sum)
	return sum, err
}

func (t *pgTx) ExternalIDsInUse(userID int64, ids []string) (map[string]bool, error) {
	used := make(map[string]bool)
	for _, id := range ids {
		if id == "" || used[id] {
			continue
		}
		var exists bool
		err := t.tx.QueryRowContext(t.ctx, `
			select exists(select 1 from purchases where user_id=$1 and external_id=$2)
			    or exists(select 1 from incomes where user_id=$1 and external_id=$2)
			    or exists(select 1 from transfers where user_id=$1 and external_id=$2 and type='statement-payment')
		`, userID, id).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if exists {
			used[id] = true
		}
	}
	return used, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (ledger.Purchase, error) {
	var p ledger.Purchase
	err := row.Scan(&p.ID, &p.UserID, &p.Description, &p.TotalAmount, &p.TotalInstallments,
		&p.CategoryID, &p.ExternalID, &p.BankTxID, &p.Ignored, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Purchase{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Purchase{}, err
	}
	return p, nil
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e      ledger.Entry
		period string
		paidAt sql.NullTime
	)
	err := row.Scan(&e.ID, &e.PurchaseID, &e.AccountID, &e.Amount, &e.PurchaseDate,
		&period, &e.DueDate, &e.InstallmentNumber, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	if e.BillingPeriod, err = billing.ParsePeriod(period); err != nil {
		return ledger.Entry{}, err
	}
	if paidAt.Valid {
		e.PaidAt = &paidAt.Time
	}
	return e, nil
}

func scanStatement(row rowScanner) (ledger.Statement, error) {
	var (
		st       ledger.Statement
		period   string
		paidAt   sql.NullTime
		paidFrom sql.NullInt64
	)
	err := row.Scan(&st.ID, &st.AccountID, &period, &st.TotalAmount, &st.DueDate, &paidAt, &paidFrom)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Statement{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Statement{}, err
	}
	if st.Period, err = billing.ParsePeriod(period); err != nil {
		return ledger.Statement{}, err
	}
	if paidAt.Valid {
		st.PaidAt = &paidAt.Time
	}
	if paidFrom.Valid {
		id := paidFrom.Int64
		st.PaidFromAccountID = &id
	}
	return st, nil
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
