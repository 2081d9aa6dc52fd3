// Package ledger é a fonte única de verdade de usuários, ordens, saldo e responsabilidade.
// Toda mutação de wallet_balance, liable e ordens passa por aqui; cada operação é atômica
// por documento de usuário.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/betting-exchange/internal/model"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNotCancellable      = errors.New("only unmatched bets can be cancelled")
	ErrInsufficientBalance = errors.New("insufficient funds")
	ErrUserExists          = errors.New("user already exists")
)

// OrderFilter restringe ListOrders; campos vazios não filtram.
type OrderFilter struct {
	Statuses []model.OrderStatus
	MarketID string
}

func (f OrderFilter) match(o *model.Order) bool {
	if f.MarketID != "" && o.MarketID != f.MarketID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// OrderUpdate são os campos gravados por UpdateOrderStatus.
type OrderUpdate struct {
	Status        model.OrderStatus
	Matched       decimal.Decimal
	ExecutedPrice decimal.Decimal
	At            time.Time
}

// WalletAdjustment descreve uma variação de saldo com seu lançamento.
// RejectOverdraft recusa a operação em vez de truncar o saldo em zero.
type WalletAdjustment struct {
	DeltaWallet     decimal.Decimal
	DeltaLiable     decimal.Decimal
	DeltaBaseline   decimal.Decimal
	RejectOverdraft bool
	Transaction     model.Transaction
}

// LiabilityState é o resultado de um recálculo aplicado ao documento do usuário.
type LiabilityState struct {
	WalletBalance decimal.Decimal
	Liable        decimal.Decimal
	RunnerPnL     model.RunnerPnL
	Baseline      decimal.Decimal
}

// LiabilityFunc recebe o usuário e suas ordens ativas lidos sob lock e devolve o novo estado.
type LiabilityFunc func(u model.User, active []model.Order) LiabilityState

// SettlementTotals é o resultado de liquidação das ordens casadas de um usuário em um mercado.
type SettlementTotals struct {
	Profit  decimal.Decimal
	Loss    decimal.Decimal
	Release decimal.Decimal
}

// Net é profit − loss.
func (t SettlementTotals) Net() decimal.Decimal { return t.Profit.Sub(t.Loss) }

// SettleFunc calcula os totais a partir das ordens MATCHED lidas sob lock.
type SettleFunc func(matched []model.Order) SettlementTotals

// SettlementOutcome descreve o que foi aplicado a um usuário.
// Skipped indica que não havia ordens MATCHED (já liquidadas ou inexistentes).
type SettlementOutcome struct {
	UserID       string
	Skipped      bool
	Orders       int
	Totals       SettlementTotals
	WalletBefore decimal.Decimal
	WalletAfter  decimal.Decimal
	LiableAfter  decimal.Decimal
}

// CancelResult descreve um cancelamento; Refund é a soma dos stakes devolvidos.
type CancelResult struct {
	Cancelled []model.Order
	Refund    decimal.Decimal
	User      *model.User
}

// SettledMarket é o marcador persistido de idempotência de liquidação.
type SettledMarket struct {
	MarketID           string
	WinningSelectionID int64
	SettledAt          time.Time
}

// Store é o contrato do ledger.
type Store interface {
	CreateUser(ctx context.Context, u *model.User) error
	FindUser(ctx context.Context, userID string) (*model.User, error)
	FindOrder(ctx context.Context, userID, requestID string) (*model.Order, error)
	ListOrders(ctx context.Context, userID string, f OrderFilter) ([]model.Order, error)
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// AppendOrders persiste o lote inteiro (e o lançamento) ou nada.
	AppendOrders(ctx context.Context, userID string, orders []model.Order, tx model.Transaction) error

	// UpdateOrderStatus aplica upd somente se o status atual for expected (compare-and-swap).
	// Retorna false, sem erro, quando o estado esperado não confere mais.
	UpdateOrderStatus(ctx context.Context, userID, requestID string, expected model.OrderStatus, upd OrderUpdate) (bool, error)

	// CancelOpenOrders cancela uma ordem (requestID) ou todas as ordens abertas (requestID vazio),
	// devolvendo o stake ao saldo.
	CancelOpenOrders(ctx context.Context, userID, requestID string, at time.Time) (*CancelResult, error)

	AdjustWallet(ctx context.Context, userID string, adj WalletAdjustment) (*model.User, error)

	// RecomputeLiability lê usuário e ordens ativas, aplica fn e grava o resultado na mesma transação.
	RecomputeLiability(ctx context.Context, userID string, fn LiabilityFunc) (*model.User, error)

	// ApplySettlement liquida as ordens MATCHED do usuário no mercado em uma única atualização.
	ApplySettlement(ctx context.Context, userID, marketID string, at time.Time, fn SettleFunc) (*SettlementOutcome, error)

	ListOpenOrders(ctx context.Context, limit int) ([]model.Order, error)
	ListUsersWithMatchedOrders(ctx context.Context, marketID string) ([]string, error)
	ListMarketsWithMatchedOrders(ctx context.Context) ([]string, error)

	IsMarketSettled(ctx context.Context, marketID string) (bool, error)
	MarkMarketSettled(ctx context.Context, m SettledMarket) error
}

func maxZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// ensureBaseline materializa a base antes da primeira mutação de saldo de um documento antigo.
func ensureBaseline(u *model.User) {
	if !u.InitialWalletBalance.Valid {
		u.InitialWalletBalance = decimal.NewNullDecimal(u.WalletBalance.Add(u.Liable))
	}
}

// applyAdjustment executa a aritmética comum de AdjustWallet sobre u.
func applyAdjustment(u *model.User, adj WalletAdjustment) (model.Transaction, error) {
	ensureBaseline(u)
	prev := u.WalletBalance
	next := prev.Add(adj.DeltaWallet)
	if next.IsNegative() {
		if adj.RejectOverdraft {
			return model.Transaction{}, ErrInsufficientBalance
		}
		next = decimal.Zero
	}
	u.WalletBalance = next
	u.Liable = maxZero(u.Liable.Add(adj.DeltaLiable))
	u.InitialWalletBalance = decimal.NewNullDecimal(maxZero(u.InitialWalletBalance.Decimal.Add(adj.DeltaBaseline)))

	tx := adj.Transaction
	tx.UserID = u.ID
	tx.PreviousBalance = prev
	tx.NewBalance = next
	return tx, nil
}

// applySettlement executa a aritmética de liquidação sobre u.
// A responsabilidade é liberada integralmente; o resultado líquido é somado por cima.
func applySettlement(u *model.User, totals SettlementTotals) (before decimal.Decimal) {
	ensureBaseline(u)
	before = u.WalletBalance
	net := totals.Net()
	u.WalletBalance = maxZero(before.Add(totals.Release).Add(net))
	u.Liable = maxZero(u.Liable.Sub(totals.Release))
	u.InitialWalletBalance = decimal.NewNullDecimal(maxZero(u.InitialWalletBalance.Decimal.Add(net)))
	return before
}

func settlementTransaction(userID, marketID string, totals SettlementTotals, before, after decimal.Decimal, id string, at time.Time) model.Transaction {
	return model.Transaction{
		ID:                id,
		UserID:            userID,
		Type:              model.TxBetSettlement,
		Amount:            totals.Net(),
		MarketID:          marketID,
		Profit:            totals.Profit,
		Loss:              totals.Loss,
		Net:               totals.Net(),
		ReleasedLiability: totals.Release,
		PreviousBalance:   before,
		NewBalance:        after,
		CreatedAt:         at,
	}
}
