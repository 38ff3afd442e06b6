package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"pocketmoney/internal/core"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Queries holds every statement the ledger needs. Placeholders are written
// with '?' and rebound for PostgreSQL.
type Queries struct {
	db     DBTX
	driver Driver
}

func New(db DBTX, driver Driver) *Queries {
	return &Queries{db: db, driver: driver}
}

// WithTx returns a copy of q bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx, driver: q.driver}
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return q.db.ExecContext(ctx, rebind(q.driver, query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, rebind(q.driver, query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return q.db.QueryRowContext(ctx, rebind(q.driver, query), args...)
}

// ---- children ----

const childColumns = `id, name, balance_cents, birth_date, created_at`

type CreateChildParams struct {
	Name      string
	BirthDate *core.Date
	CreatedAt time.Time
}

const createChild = `INSERT INTO children (name, birth_date, created_at)
VALUES (?, ?, ?)
RETURNING ` + childColumns

func (q *Queries) CreateChild(ctx context.Context, arg CreateChildParams) (core.Child, error) {
	row := q.queryRow(ctx, createChild, arg.Name, dateArg(arg.BirthDate), arg.CreatedAt.UTC())
	c, err := scanChild(row)
	if err != nil {
		return core.Child{}, mapError("create child", err)
	}
	return c, nil
}

const getChild = `SELECT ` + childColumns + ` FROM children WHERE id = ?`

func (q *Queries) GetChild(ctx context.Context, id int64) (core.Child, error) {
	c, err := scanChild(q.queryRow(ctx, getChild, id))
	if err != nil {
		return core.Child{}, mapError(fmt.Sprintf("get child %d", id), err)
	}
	return c, nil
}

const getChildByName = `SELECT ` + childColumns + ` FROM children WHERE name = ?`

func (q *Queries) GetChildByName(ctx context.Context, name string) (core.Child, error) {
	c, err := scanChild(q.queryRow(ctx, getChildByName, name))
	if err != nil {
		return core.Child{}, mapError(fmt.Sprintf("get child %q", name), err)
	}
	return c, nil
}

const listChildren = `SELECT ` + childColumns + ` FROM children ORDER BY name`

func (q *Queries) ListChildren(ctx context.Context) ([]core.Child, error) {
	rows, err := q.query(ctx, listChildren)
	if err != nil {
		return nil, mapError("list children", err)
	}
	defer rows.Close()

	var items []core.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, mapError("scan child", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list children", err)
	}
	return items, nil
}

type UpdateChildParams struct {
	ID        int64
	Name      string
	BirthDate *core.Date
}

const updateChild = `UPDATE children SET name = ?, birth_date = ?
WHERE id = ?
RETURNING ` + childColumns

func (q *Queries) UpdateChild(ctx context.Context, arg UpdateChildParams) (core.Child, error) {
	c, err := scanChild(q.queryRow(ctx, updateChild, arg.Name, dateArg(arg.BirthDate), arg.ID))
	if err != nil {
		return core.Child{}, mapError(fmt.Sprintf("update child %d", arg.ID), err)
	}
	return c, nil
}

const deleteChild = `DELETE FROM children WHERE id = ?`

func (q *Queries) DeleteChild(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, deleteChild, id)
	if err != nil {
		return mapError(fmt.Sprintf("delete child %d", id), err)
	}
	return requireAffected(res, fmt.Sprintf("delete child %d", id))
}

const childExists = `SELECT COUNT(*) FROM children WHERE id = ?`

func (q *Queries) childExists(ctx context.Context, id int64) (bool, error) {
	var n int64
	if err := q.queryRow(ctx, childExists, id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---- balance mutations ----

const creditBalance = `UPDATE children SET balance_cents = balance_cents + ?
WHERE id = ? AND balance_cents <= ?
RETURNING balance_cents`

// CreditBalance adds cents (> 0) to the child's balance and returns the new
// balance. A credit that would overflow the balance fails with
// ErrInvalidAmount and changes nothing.
func (q *Queries) CreditBalance(ctx context.Context, childID, cents int64) (int64, error) {
	op := fmt.Sprintf("credit child %d", childID)
	if cents <= 0 {
		return 0, fmt.Errorf("%s: %w", op, core.ErrInvalidAmount)
	}
	var balance int64
	err := q.queryRow(ctx, creditBalance, cents, childID, int64(math.MaxInt64)-cents).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if err != sql.ErrNoRows {
		return 0, mapError(op, err)
	}
	exists, exErr := q.childExists(ctx, childID)
	if exErr != nil {
		return 0, mapError(op, exErr)
	}
	if !exists {
		return 0, mapError(op, core.ErrNotFound)
	}
	return 0, fmt.Errorf("%s: balance would overflow: %w", op, core.ErrInvalidAmount)
}

const debitBalanceIfSufficient = `UPDATE children SET balance_cents = balance_cents - ?
WHERE id = ? AND balance_cents >= ?
RETURNING balance_cents`

// DebitBalanceIfSufficient subtracts cents only when the balance covers them.
// The check and the write are one statement, so two concurrent debits can
// never both pass against the same balance.
func (q *Queries) DebitBalanceIfSufficient(ctx context.Context, childID, cents int64) (int64, error) {
	op := fmt.Sprintf("debit child %d", childID)
	var balance int64
	err := q.queryRow(ctx, debitBalanceIfSufficient, cents, childID, cents).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if err != sql.ErrNoRows {
		return 0, mapError(op, err)
	}
	exists, exErr := q.childExists(ctx, childID)
	if exErr != nil {
		return 0, mapError(op, exErr)
	}
	if !exists {
		return 0, mapError(op, core.ErrNotFound)
	}
	return 0, mapError(op, core.ErrInsufficientFunds)
}

const setBalanceIfUnchanged = `UPDATE children SET balance_cents = ?
WHERE id = ? AND balance_cents = ?`

// SetBalanceIfUnchanged overwrites the balance only if it still equals expected.
func (q *Queries) SetBalanceIfUnchanged(ctx context.Context, childID, expected, newBalance int64) error {
	op := fmt.Sprintf("set balance child %d", childID)
	res, err := q.exec(ctx, setBalanceIfUnchanged, newBalance, childID, expected)
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n > 0 {
		return nil
	}
	exists, err := q.childExists(ctx, childID)
	if err != nil {
		return mapError(op, err)
	}
	if !exists {
		return mapError(op, core.ErrNotFound)
	}
	return mapError(op, core.ErrBalanceChanged)
}

// ---- transactions ----

const transactionColumns = `id, child_id, amount_cents, description, category, payout_cycle, timestamp`

type InsertTransactionParams struct {
	ChildID     int64
	AmountCents int64
	Description string
	Category    string
	PayoutCycle string
	Timestamp   time.Time
}

const insertTransaction = `INSERT INTO transactions (child_id, amount_cents, description, category, payout_cycle, timestamp)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING ` + transactionColumns

func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (core.Transaction, error) {
	var cycle interface{}
	if arg.PayoutCycle != "" {
		cycle = arg.PayoutCycle
	}
	row := q.queryRow(ctx, insertTransaction,
		arg.ChildID, arg.AmountCents, arg.Description, arg.Category, cycle, arg.Timestamp.UTC())
	t, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, mapError(fmt.Sprintf("insert transaction for child %d", arg.ChildID), err)
	}
	return t, nil
}

const listTransactions = `SELECT ` + transactionColumns + ` FROM transactions
WHERE child_id = ?
ORDER BY timestamp DESC, id DESC
LIMIT ? OFFSET ?`

// ListTransactions returns the child's ledger newest first.
func (q *Queries) ListTransactions(ctx context.Context, childID int64, skip, limit int) ([]core.Transaction, error) {
	rows, err := q.query(ctx, listTransactions, childID, limit, skip)
	if err != nil {
		return nil, mapError("list transactions", err)
	}
	defer rows.Close()

	var items []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError("scan transaction", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list transactions", err)
	}
	return items, nil
}

const sumByCategory = `SELECT category, COALESCE(SUM(amount_cents), 0) AS total
FROM transactions
WHERE child_id = ?
GROUP BY category
ORDER BY category`

func (q *Queries) SumByCategory(ctx context.Context, childID int64) ([]core.CategoryAmount, error) {
	rows, err := q.query(ctx, sumByCategory, childID)
	if err != nil {
		return nil, mapError("sum by category", err)
	}
	defer rows.Close()

	var items []core.CategoryAmount
	for rows.Next() {
		var (
			name  string
			total int64
		)
		if err := rows.Scan(&name, &total); err != nil {
			return nil, mapError("scan category sum", err)
		}
		items = append(items, core.CategoryAmount{Name: name, Amount: core.Money{Cents: total}})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("sum by category", err)
	}
	return items, nil
}

const sumTransactions = `SELECT COALESCE(SUM(amount_cents), 0) FROM transactions WHERE child_id = ?`

func (q *Queries) SumTransactions(ctx context.Context, childID int64) (int64, error) {
	var total int64
	if err := q.queryRow(ctx, sumTransactions, childID).Scan(&total); err != nil {
		return 0, mapError("sum transactions", err)
	}
	return total, nil
}

const listPaidChildIDs = `SELECT child_id FROM transactions WHERE payout_cycle = ? ORDER BY child_id`

// ListPaidChildIDs returns every child already credited for cycle.
func (q *Queries) ListPaidChildIDs(ctx context.Context, cycle string) ([]int64, error) {
	rows, err := q.query(ctx, listPaidChildIDs, cycle)
	if err != nil {
		return nil, mapError("list paid children", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapError("scan child id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list paid children", err)
	}
	return ids, nil
}

// ---- wishes ----

const wishColumns = `id, child_id, item_name, cost_cents`

type CreateWishParams struct {
	ChildID   int64
	ItemName  string
	CostCents int64
}

const createWish = `INSERT INTO wishes (child_id, item_name, cost_cents)
VALUES (?, ?, ?)
RETURNING ` + wishColumns

func (q *Queries) CreateWish(ctx context.Context, arg CreateWishParams) (core.Wish, error) {
	w, err := scanWish(q.queryRow(ctx, createWish, arg.ChildID, arg.ItemName, arg.CostCents))
	if err != nil {
		return core.Wish{}, mapError(fmt.Sprintf("create wish for child %d", arg.ChildID), err)
	}
	return w, nil
}

const getWish = `SELECT ` + wishColumns + ` FROM wishes WHERE id = ?`

func (q *Queries) GetWish(ctx context.Context, id int64) (core.Wish, error) {
	w, err := scanWish(q.queryRow(ctx, getWish, id))
	if err != nil {
		return core.Wish{}, mapError(fmt.Sprintf("get wish %d", id), err)
	}
	return w, nil
}

const listWishes = `SELECT ` + wishColumns + ` FROM wishes WHERE child_id = ? ORDER BY id`

func (q *Queries) ListWishes(ctx context.Context, childID int64) ([]core.Wish, error) {
	rows, err := q.query(ctx, listWishes, childID)
	if err != nil {
		return nil, mapError("list wishes", err)
	}
	defer rows.Close()

	var items []core.Wish
	for rows.Next() {
		w, err := scanWish(rows)
		if err != nil {
			return nil, mapError("scan wish", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list wishes", err)
	}
	return items, nil
}

type UpdateWishParams struct {
	ID        int64
	ItemName  string
	CostCents int64
}

const updateWish = `UPDATE wishes SET item_name = ?, cost_cents = ?
WHERE id = ?
RETURNING ` + wishColumns

func (q *Queries) UpdateWish(ctx context.Context, arg UpdateWishParams) (core.Wish, error) {
	w, err := scanWish(q.queryRow(ctx, updateWish, arg.ItemName, arg.CostCents, arg.ID))
	if err != nil {
		return core.Wish{}, mapError(fmt.Sprintf("update wish %d", arg.ID), err)
	}
	return w, nil
}

const deleteWish = `DELETE FROM wishes WHERE id = ?`

func (q *Queries) DeleteWish(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, deleteWish, id)
	if err != nil {
		return mapError(fmt.Sprintf("delete wish %d", id), err)
	}
	return requireAffected(res, fmt.Sprintf("delete wish %d", id))
}

// ---- payout runs ----

const insertPayoutRun = `INSERT INTO payout_runs (id, cycle_key, started_at, status)
VALUES (?, ?, ?, ?)`

func (q *Queries) InsertPayoutRun(ctx context.Context, run core.PayoutRun) error {
	if _, err := q.exec(ctx, insertPayoutRun, run.ID, run.CycleKey, run.StartedAt.UTC(), run.Status); err != nil {
		return mapError("insert payout run", err)
	}
	return nil
}

type FinishPayoutRunParams struct {
	ID           string
	Status       string
	ChildrenPaid int
	TotalCents   int64
	Error        string
	FinishedAt   time.Time
}

const finishPayoutRun = `UPDATE payout_runs
SET status = ?, children_paid = ?, total_cents = ?, error = ?, finished_at = ?
WHERE id = ?`

func (q *Queries) FinishPayoutRun(ctx context.Context, arg FinishPayoutRunParams) error {
	res, err := q.exec(ctx, finishPayoutRun,
		arg.Status, arg.ChildrenPaid, arg.TotalCents, arg.Error, arg.FinishedAt.UTC(), arg.ID)
	if err != nil {
		return mapError("finish payout run", err)
	}
	return requireAffected(res, "finish payout run "+arg.ID)
}

const listPayoutRuns = `SELECT id, cycle_key, started_at, finished_at, status, children_paid, total_cents, error
FROM payout_runs
ORDER BY started_at DESC
LIMIT ?`

func (q *Queries) ListPayoutRuns(ctx context.Context, limit int) ([]core.PayoutRun, error) {
	rows, err := q.query(ctx, listPayoutRuns, limit)
	if err != nil {
		return nil, mapError("list payout runs", err)
	}
	defer rows.Close()

	var runs []core.PayoutRun
	for rows.Next() {
		var (
			r        core.PayoutRun
			started  flexTime
			finished flexTime
			total    int64
		)
		if err := rows.Scan(&r.ID, &r.CycleKey, &started, &finished, &r.Status, &r.ChildrenPaid, &total, &r.Error); err != nil {
			return nil, mapError("scan payout run", err)
		}
		r.StartedAt = started.Time
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.Total = core.Money{Cents: total}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list payout runs", err)
	}
	return runs, nil
}

// ---- scanning ----

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChild(row rowScanner) (core.Child, error) {
	var (
		c       core.Child
		balance int64
		birth   flexTime
		created flexTime
	)
	if err := row.Scan(&c.ID, &c.Name, &balance, &birth, &created); err != nil {
		return core.Child{}, err
	}
	c.Balance = core.Money{Cents: balance}
	if birth.Valid {
		d := core.DateOf(birth.Time)
		c.BirthDate = &d
	}
	c.CreatedAt = created.Time
	return c, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t      core.Transaction
		amount int64
		cycle  sql.NullString
		ts     flexTime
	)
	if err := row.Scan(&t.ID, &t.ChildID, &amount, &t.Description, &t.Category, &cycle, &ts); err != nil {
		return core.Transaction{}, err
	}
	t.Amount = core.Money{Cents: amount}
	t.PayoutCycle = cycle.String
	t.Timestamp = ts.Time
	return t, nil
}

func scanWish(row rowScanner) (core.Wish, error) {
	var (
		w    core.Wish
		cost int64
	)
	if err := row.Scan(&w.ID, &w.ChildID, &w.ItemName, &cost); err != nil {
		return core.Wish{}, err
	}
	w.Cost = core.Money{Cents: cost}
	return w, nil
}

func dateArg(d *core.Date) interface{} {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.String()
}

func requireAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return mapError(op, core.ErrNotFound)
	}
	return nil
}
