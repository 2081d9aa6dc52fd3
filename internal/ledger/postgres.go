package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/betting-exchange/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implementa o ledger em Postgres.
// Cada operação abre uma transação e trava a linha do usuário (FOR UPDATE), o que dá
// atomicidade por documento de usuário.
type PostgresStore struct{ db *sql.DB }

// NewPostgres retorna o ledger sobre a conexão informada.
func NewPostgres(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate cria as tabelas se ainda não existirem.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ledger migrate: %w", err)
	}
	return nil
}

const userColumns = `id, username, role, wallet_balance, initial_wallet_balance, liable, runner_pnl, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var role string
	var pnl []byte
	if err := row.Scan(&u.ID, &u.Username, &role, &u.WalletBalance, &u.InitialWalletBalance, &u.Liable, &pnl, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	u.Role = model.Role(role)
	u.RunnerPnL = model.RunnerPnL{}
	if len(pnl) > 0 {
		if err := json.Unmarshal(pnl, &u.RunnerPnL); err != nil {
			return nil, fmt.Errorf("decode runner_pnl: %w", err)
		}
	}
	return &u, nil
}

const orderColumns = `request_id, user_id, market_id, selection_id, side, price, size, matched, executed_price, liable, status, event_name, category, created_at, updated_at, settled_at`

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var side, status string
	var settledAt sql.NullTime
	if err := row.Scan(&o.RequestID, &o.UserID, &o.MarketID, &o.SelectionID, &side, &o.Price, &o.Size, &o.Matched,
		&o.ExecutedPrice, &o.Liable, &status, &o.EventName, &o.Category, &o.CreatedAt, &o.UpdatedAt, &settledAt); err != nil {
		return nil, err
	}
	o.Side = model.Side(side)
	o.Status = model.OrderStatus(status)
	if settledAt.Valid {
		t := settledAt.Time
		o.SettledAt = &t
	}
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	defer rows.Close()
	out := []model.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func statusStrings(ss []model.OrderStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

var openStatuses = []model.OrderStatus{model.StatusPending, model.StatusUnmatched}
var activeStatuses = []model.OrderStatus{model.StatusPending, model.StatusUnmatched, model.StatusMatched}

// withUser executa fn dentro de uma transação com a linha do usuário travada.
// Se fn retornar erro a transação é desfeita.
func (p *PostgresStore) withUser(ctx context.Context, userID string, fn func(tx *sql.Tx, u *model.User) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1 FOR UPDATE`, userID))
	if err != nil {
		return err
	}
	if err := fn(tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

func saveUser(ctx context.Context, tx *sql.Tx, u *model.User) error {
	pnl, err := json.Marshal(u.RunnerPnL)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET wallet_balance=$2, initial_wallet_balance=$3, liable=$4, runner_pnl=$5, version=version+1, updated_at=$6
		WHERE id=$1`,
		u.ID, u.WalletBalance, u.InitialWalletBalance, u.Liable, pnl, u.UpdatedAt)
	return err
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t model.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_transactions
		  (id, user_id, type, amount, market_id, request_id, profit, loss, net, released_liability, previous_balance, new_balance, description, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.UserID, string(t.Type), t.Amount, t.MarketID, t.RequestID, t.Profit, t.Loss, t.Net,
		t.ReleasedLiability, t.PreviousBalance, t.NewBalance, t.Description, t.CreatedAt)
	return err
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	pnl, _ := json.Marshal(u.RunnerPnL)
	if u.RunnerPnL == nil {
		pnl = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, username, role, wallet_balance, initial_wallet_balance, liable, runner_pnl, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		u.ID, u.Username, string(u.Role), u.WalletBalance, u.InitialWalletBalance, u.Liable, pnl, u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrUserExists
	}
	return err
}

func (p *PostgresStore) FindUser(ctx context.Context, userID string) (*model.User, error) {
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (p *PostgresStore) FindOrder(ctx context.Context, userID, requestID string) (*model.Order, error) {
	o, err := scanOrder(p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND request_id=$2`, userID, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) ListOrders(ctx context.Context, userID string, f OrderFilter) ([]model.Order, error) {
	if _, err := p.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE user_id=$1`
	args := []any{userID}
	if f.MarketID != "" {
		args = append(args, f.MarketID)
		q += fmt.Sprintf(" AND market_id=$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		args = append(args, pq.Array(statusStrings(f.Statuses)))
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	q += " ORDER BY created_at, request_id"

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (p *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	if _, err := p.FindUser(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, market_id, request_id, profit, loss, net, released_liability,
		       previous_balance, new_balance, description, created_at
		FROM user_transactions WHERE user_id=$1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Transaction{}
	for rows.Next() {
		var t model.Transaction
		var typ string
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.MarketID, &t.RequestID, &t.Profit, &t.Loss, &t.Net,
			&t.ReleasedLiability, &t.PreviousBalance, &t.NewBalance, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = model.TransactionType(typ)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendOrders insere o lote e o lançamento BET_PLACED na mesma transação.
func (p *PostgresStore) AppendOrders(ctx context.Context, userID string, orders []model.Order, t model.Transaction) error {
	return p.withUser(ctx, userID, func(tx *sql.Tx, u *model.User) error {
		for _, o := range orders {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO orders
				  (request_id, user_id, market_id, selection_id, side, price, size, matched, executed_price, liable, status, event_name, category, created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
				o.RequestID, userID, o.MarketID, o.SelectionID, string(o.Side), o.Price, o.Size, o.Matched,
				o.ExecutedPrice, o.Liable, string(o.Status), o.EventName, o.Category, o.CreatedAt, o.UpdatedAt); err != nil {
				return fmt.Errorf("insert order %s: %w", o.RequestID, err)
			}
		}
		t.UserID = u.ID
		t.PreviousBalance, t.NewBalance = u.WalletBalance, u.WalletBalance
		return insertTransaction(ctx, tx, t)
	})
}

// UpdateOrderStatus condiciona o UPDATE ao status esperado; zero linhas afetadas = conflito, não erro.
func (p *PostgresStore) UpdateOrderStatus(ctx context.Context, userID, requestID string, expected model.OrderStatus, upd OrderUpdate) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status=$4, matched=$5, executed_price=$6, updated_at=$7
		WHERE user_id=$1 AND request_id=$2 AND status=$3`,
		userID, requestID, string(expected), string(upd.Status), upd.Matched, upd.ExecutedPrice, upd.At)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) CancelOpenOrders(ctx context.Context, userID, requestID string, at time.Time) (*CancelResult, error) {
	res := &CancelResult{Refund: decimal.Zero}
	err := p.withUser(ctx, userID, func(tx *sql.Tx, u *model.User) error {
		var rows *sql.Rows
		var err error
		if requestID != "" {
			o, err := scanOrder(tx.QueryRowContext(ctx,
				`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND request_id=$2 FOR UPDATE`, userID, requestID))
			if errors.Is(err, sql.ErrNoRows) {
				return ErrOrderNotFound
			}
			if err != nil {
				return err
			}
			if !o.Status.Open() {
				return ErrNotCancellable
			}
			res.Cancelled = []model.Order{*o}
		} else {
			rows, err = tx.QueryContext(ctx,
				`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND status = ANY($2) ORDER BY created_at FOR UPDATE`,
				userID, pq.Array(statusStrings(openStatuses)))
			if err != nil {
				return err
			}
			if res.Cancelled, err = scanOrders(rows); err != nil {
				return err
			}
		}

		if len(res.Cancelled) == 0 {
			res.User = u
			return nil
		}

		ids := make([]string, len(res.Cancelled))
		for i := range res.Cancelled {
			res.Refund = res.Refund.Add(res.Cancelled[i].Size)
			res.Cancelled[i].Status = model.StatusCancelled
			res.Cancelled[i].UpdatedAt = at
			ids[i] = res.Cancelled[i].RequestID
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status=$3, updated_at=$4 WHERE user_id=$1 AND request_id = ANY($2)`,
			userID, pq.Array(ids), string(model.StatusCancelled), at); err != nil {
			return err
		}

		txType := model.TxBetCancelled
		if requestID == "" {
			txType = model.TxBetCancelledAll
		}
		t, err := applyAdjustment(u, WalletAdjustment{
			DeltaWallet: res.Refund,
			Transaction: model.Transaction{Type: txType, Amount: res.Refund, RequestID: requestID, CreatedAt: at},
		})
		if err != nil {
			return err
		}
		u.UpdatedAt = at
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		res.User = u
		return insertTransaction(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *PostgresStore) AdjustWallet(ctx context.Context, userID string, adj WalletAdjustment) (*model.User, error) {
	var out *model.User
	err := p.withUser(ctx, userID, func(tx *sql.Tx, u *model.User) error {
		t, err := applyAdjustment(u, adj)
		if err != nil {
			return err
		}
		u.UpdatedAt = time.Now().UTC()
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		out = u
		return insertTransaction(ctx, tx, t)
	})
	return out, err
}

func (p *PostgresStore) RecomputeLiability(ctx context.Context, userID string, fn LiabilityFunc) (*model.User, error) {
	var out *model.User
	err := p.withUser(ctx, userID, func(tx *sql.Tx, u *model.User) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND status = ANY($2) ORDER BY created_at, request_id`,
			userID, pq.Array(statusStrings(activeStatuses)))
		if err != nil {
			return err
		}
		active, err := scanOrders(rows)
		if err != nil {
			return err
		}

		st := fn(*u, active)
		u.WalletBalance = st.WalletBalance
		u.Liable = st.Liable
		u.RunnerPnL = st.RunnerPnL
		u.InitialWalletBalance = decimal.NewNullDecimal(st.Baseline)
		u.UpdatedAt = time.Now().UTC()
		out = u
		return saveUser(ctx, tx, u)
	})
	return out, err
}

func (p *PostgresStore) ApplySettlement(ctx context.Context, userID, marketID string, at time.Time, fn SettleFunc) (*SettlementOutcome, error) {
	out := &SettlementOutcome{UserID: userID}
	err := p.withUser(ctx, userID, func(tx *sql.Tx, u *model.User) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 AND market_id=$2 AND status=$3 FOR UPDATE`,
			userID, marketID, string(model.StatusMatched))
		if err != nil {
			return err
		}
		matched, err := scanOrders(rows)
		if err != nil {
			return err
		}
		if len(matched) == 0 {
			out.Skipped = true
			out.WalletBefore, out.WalletAfter, out.LiableAfter = u.WalletBalance, u.WalletBalance, u.Liable
			return nil
		}

		totals := fn(matched)
		before := applySettlement(u, totals)
		u.UpdatedAt = at

		if _, err := tx.ExecContext(ctx,
			`UPDATE orders SET status=$4, settled_at=$5, updated_at=$5 WHERE user_id=$1 AND market_id=$2 AND status=$3`,
			userID, marketID, string(model.StatusMatched), string(model.StatusSettled), at); err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}
		if err := insertTransaction(ctx, tx, settlementTransaction(userID, marketID, totals, before, u.WalletBalance, uuid.NewString(), at)); err != nil {
			return err
		}

		out.Orders = len(matched)
		out.Totals = totals
		out.WalletBefore = before
		out.WalletAfter = u.WalletBalance
		out.LiableAfter = u.Liable
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) ListOpenOrders(ctx context.Context, limit int) ([]model.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE status = ANY($1) ORDER BY created_at`
	args := []any{pq.Array(statusStrings(openStatuses))}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

func (p *PostgresStore) distinctStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListUsersWithMatchedOrders(ctx context.Context, marketID string) ([]string, error) {
	return p.distinctStrings(ctx,
		`SELECT DISTINCT user_id FROM orders WHERE market_id=$1 AND status=$2 ORDER BY user_id`,
		marketID, string(model.StatusMatched))
}

func (p *PostgresStore) ListMarketsWithMatchedOrders(ctx context.Context) ([]string, error) {
	return p.distinctStrings(ctx,
		`SELECT DISTINCT market_id FROM orders WHERE status=$1 ORDER BY market_id`, string(model.StatusMatched))
}

func (p *PostgresStore) IsMarketSettled(ctx context.Context, marketID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM settled_markets WHERE market_id=$1)`, marketID).Scan(&exists)
	return exists, err
}

// MarkMarketSettled é idempotente: uma segunda marcação do mesmo mercado é ignorada.
func (p *PostgresStore) MarkMarketSettled(ctx context.Context, m SettledMarket) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settled_markets (market_id, winning_selection_id, settled_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (market_id) DO NOTHING`, m.MarketID, m.WinningSelectionID, m.SettledAt)
	return err
}
