package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"faturo.org/internal/billing"
)

// InMemory implements Store with in-process state. Used by tests and the
// smoke binary; the durable implementation lives in internal/store/pg.
type InMemory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts   map[int64]Account
	purchases  map[int64]Purchase
	entries    map[int64]Entry
	statements map[int64]Statement
	transfers  map[int64]Transfer
	incomes    map[int64]Income
	seq        int64
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{state: &memState{
		accounts:   make(map[int64]Account),
		purchases:  make(map[int64]Purchase),
		entries:    make(map[int64]Entry),
		statements: make(map[int64]Statement),
		transfers:  make(map[int64]Transfer),
		incomes:    make(map[int64]Income),
	}}
}

// InTx runs fn against a copy of the state and swaps the copy in only when fn
// succeeds, so a failed operation leaves no partial writes.
func (s *InMemory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// PutAccount stores an account, assigning an id when missing. Account
// creation is owned by account settings outside the ledger core; this exists
// so tests and the smoke binary can seed state.
func (s *InMemory) PutAccount(a Account) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		s.state.seq++
		a.ID = s.state.seq
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.state.accounts[a.ID] = a
	return a
}

func (st *memState) clone() *memState {
	out := &memState{
		accounts:   make(map[int64]Account, len(st.accounts)),
		purchases:  make(map[int64]Purchase, len(st.purchases)),
		entries:    make(map[int64]Entry, len(st.entries)),
		statements: make(map[int64]Statement, len(st.statements)),
		transfers:  make(map[int64]Transfer, len(st.transfers)),
		incomes:    make(map[int64]Income, len(st.incomes)),
		seq:        st.seq,
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.purchases {
		out.purchases[k] = v
	}
	for k, v := range st.entries {
		out.entries[k] = v
	}
	for k, v := range st.statements {
		out.statements[k] = v
	}
	for k, v := range st.transfers {
		out.transfers[k] = v
	}
	for k, v := range st.incomes {
		out.incomes[k] = v
	}
	return out
}

type memTx struct {
	state *memState
}

var _ Tx = (*memTx)(nil)

func (t *memTx) nextID() int64 {
	t.state.seq++
	return t.state.seq
}

func (t *memTx) Account(id int64) (Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (t *memTx) SetAccountBalance(id int64, balance int64, at time.Time) error {
	a, ok := t.state.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.CurrentBalance = balance
	a.LastBalanceUpdate = at
	t.state.accounts[id] = a
	return nil
}

func (t *memTx) Purchase(id int64) (Purchase, error) {
	p, ok := t.state.purchases[id]
	if !ok {
		return Purchase{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) PurchasesByUser(userID int64) ([]Purchase, error) {
	var out []Purchase
	for _, p := range t.state.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (t *memTx) InsertPurchase(p *Purchase) error {
	p.ID = t.nextID()
	t.state.purchases[p.ID] = *p
	return nil
}

func (t *memTx) UpdatePurchase(p Purchase) error {
	if _, ok := t.state.purchases[p.ID]; !ok {
		return ErrNotFound
	}
	t.state.purchases[p.ID] = p
	return nil
}

func (t *memTx) DeletePurchase(id int64) error {
	if _, ok := t.state.purchases[id]; !ok {
		return ErrNotFound
	}
	delete(t.state.purchases, id)
	for eid, e := range t.state.entries {
		if e.PurchaseID == id {
			delete(t.state.entries, eid)
		}
	}
	return nil
}

func (t *memTx) Entry(id int64) (Entry, error) {
	e, ok := t.state.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (t *memTx) EntriesByPurchase(purchaseID int64) ([]Entry, error) {
	var out []Entry
	for _, e := range t.state.entries {
		if e.PurchaseID == purchaseID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstallmentNumber < out[j].InstallmentNumber })
	return out, nil
}

func (t *memTx) InsertEntry(e *Entry) error {
	e.ID = t.nextID()
	t.state.entries[e.ID] = *e
	return nil
}

func (t *memTx) UpdateEntry(e Entry) error {
	if _, ok := t.state.entries[e.ID]; !ok {
		return ErrNotFound
	}
	t.state.entries[e.ID] = e
	return nil
}

func (t *memTx) SetEntriesPaid(accountID int64, period billing.Period, paidAt *time.Time) error {
	for id, e := range t.state.entries {
		if e.AccountID == accountID && e.BillingPeriod == period {
			if paidAt != nil {
				at := *paidAt
				e.PaidAt = &at
			} else {
				e.PaidAt = nil
			}
			t.state.entries[id] = e
		}
	}
	return nil
}

func (t *memTx) entryIgnored(e Entry) bool {
	p, ok := t.state.purchases[e.PurchaseID]
	return ok && p.Ignored
}

func (t *memTx) SumEntries(accountID int64) (int64, error) {
	var sum int64
	for _, e := range t.state.entries {
		if e.AccountID == accountID && !t.entryIgnored(e) {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (t *memTx) SumPeriodEntries(accountID int64, period billing.Period) (int64, error) {
	var sum int64
	for _, e := range t.state.entries {
		if e.AccountID == accountID && e.BillingPeriod == period && !t.entryIgnored(e) {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (t *memTx) Statement(id int64) (Statement, error) {
	st, ok := t.state.statements[id]
	if !ok {
		return Statement{}, ErrNotFound
	}
	return st, nil
}

func (t *memTx) StatementFor(accountID int64, period billing.Period) (Statement, error) {
	for _, st := range t.state.statements {
		if st.AccountID == accountID && st.Period == period {
			return st, nil
		}
	}
	return Statement{}, ErrNotFound
}

func (t *memTx) InsertStatement(st *Statement) error {
	st.ID = t.nextID()
	t.state.statements[st.ID] = *st
	return nil
}

func (t *memTx) UpdateStatement(st Statement) error {
	if _, ok := t.state.statements[st.ID]; !ok {
		return ErrNotFound
	}
	t.state.statements[st.ID] = st
	return nil
}

func (t *memTx) InsertTransfer(tr *Transfer) error {
	tr.ID = t.nextID()
	t.state.transfers[tr.ID] = *tr
	return nil
}

func (t *memTx) SumTransfersIn(accountID int64) (int64, error) {
	var sum int64
	for _, tr := range t.state.transfers {
		if tr.Ignored {
			continue
		}
		if tr.ToAccountID != nil && *tr.ToAccountID == accountID {
			sum += tr.Amount
		}
	}
	return sum, nil
}

func (t *memTx) SumTransfersOut(accountID int64) (int64, error) {
	var sum int64
	for _, tr := range t.state.transfers {
		if tr.Ignored {
			continue
		}
		if tr.FromAccountID != nil && *tr.FromAccountID == accountID {
			sum += tr.Amount
		}
	}
	return sum, nil
}

func (t *memTx) InsertIncome(in *Income) error {
	in.ID = t.nextID()
	t.state.incomes[in.ID] = *in
	return nil
}

func (t *memTx) IncomesByAccount(accountID int64) ([]Income, error) {
	var out []Income
	for _, in := range t.state.incomes {
		if in.AccountID == accountID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedDate.Equal(out[j].ReceivedDate) {
			return out[i].ReceivedDate.Before(out[j].ReceivedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *memTx) SumIncome(accountID int64) (int64, error) {
	var sum int64
	for _, in := range t.state.incomes {
		if in.AccountID == accountID && !in.Ignored {
			sum += in.Amount
		}
	}
	return sum, nil
}

func (t *memTx) ExternalIDsInUse(userID int64, ids []string) (map[string]bool, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			want[id] = false
		}
	}
	used := make(map[string]bool)
	mark := func(uid int64, ext string) {
		if uid != userID || ext == "" {
			return
		}
		if _, ok := want[ext]; ok {
			used[ext] = true
		}
	}
	for _, p := range t.state.purchases {
		mark(p.UserID, p.ExternalID)
	}
	for _, in := range t.state.incomes {
		mark(in.UserID, in.ExternalID)
	}
	for _, tr := range t.state.transfers {
		if tr.Type == TransferStatementPayment {
			mark(tr.UserID, tr.ExternalID)
		}
	}
	return used, nil
}
