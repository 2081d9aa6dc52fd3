// Package model define os tipos de domínio compartilhados pelo núcleo da exchange.
// Valores monetários e odds usam shopspring/decimal, nunca float64.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role é o nível do usuário na hierarquia fixa user < master < supermaster < admin < superadmin.
type Role string

const (
	RoleUser        Role = "user"
	RoleMaster      Role = "master"
	RoleSuperMaster Role = "supermaster"
	RoleAdmin       Role = "admin"
	RoleSuperAdmin  Role = "superadmin"
)

var roleRank = map[Role]int{
	RoleUser:        0,
	RoleMaster:      1,
	RoleSuperMaster: 2,
	RoleAdmin:       3,
	RoleSuperAdmin:  4,
}

// ParseRole aceita o nome em qualquer caixa ("User", "SuperAdmin", ...).
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Rank retorna a posição na hierarquia; papéis desconhecidos ficam abaixo de user.
func (r Role) Rank() int {
	if n, ok := roleRank[r]; ok {
		return n
	}
	return -1
}

// AtLeast informa se r tem posição igual ou superior a required.
func (r Role) AtLeast(required Role) bool { return r.Rank() >= required.Rank() }

// Side é o lado da ordem. Na borda de entrada também aceitamos "B"/"L".
type Side string

const (
	SideBack Side = "BACK"
	SideLay  Side = "LAY"
)

// ParseSide normaliza "B", "L", "BACK" e "LAY".
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "B", "BACK":
		return SideBack, nil
	case "L", "LAY":
		return SideLay, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// OrderStatus é o estado da ordem no ciclo de vida.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusUnmatched OrderStatus = "UNMATCHED"
	StatusMatched   OrderStatus = "MATCHED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusSettled   OrderStatus = "SETTLED"
)

// Active indica se a ordem entra no cálculo de responsabilidade.
func (s OrderStatus) Active() bool {
	return s == StatusPending || s == StatusUnmatched || s == StatusMatched
}

// Open indica se a ordem ainda aguarda casamento (e portanto pode ser cancelada ou re-verificada).
func (s OrderStatus) Open() bool {
	return s == StatusPending || s == StatusUnmatched
}

// Order é uma aposta BACK/LAY de um usuário em uma seleção de um mercado.
type Order struct {
	RequestID     string          `json:"requestId"`
	UserID        string          `json:"userId"`
	MarketID      string          `json:"marketId"`
	SelectionID   int64           `json:"selectionId"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"` // odd solicitada
	Size          decimal.Decimal `json:"size"`  // stake
	Matched       decimal.Decimal `json:"matched"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
	Liable        decimal.Decimal `json:"liable"` // fixado no aceite, imutável
	Status        OrderStatus     `json:"status"`
	EventName     string          `json:"event,omitempty"`
	Category      string          `json:"category,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
}

// LiableFor calcula o capital em risco no aceite: stake para BACK, (odd−1)×stake para LAY.
func LiableFor(side Side, price, size decimal.Decimal) decimal.Decimal {
	if side == SideLay {
		return price.Sub(decimal.NewFromInt(1)).Mul(size)
	}
	return size
}

// EffectivePrice é a odd executada quando houve casamento, senão a solicitada.
func (o Order) EffectivePrice() decimal.Decimal {
	if o.Status != StatusPending && o.Status != StatusUnmatched && !o.ExecutedPrice.IsZero() {
		return o.ExecutedPrice
	}
	return o.Price
}

// EffectiveSize usa o tamanho casado quando existir, senão o solicitado.
func (o Order) EffectiveSize() decimal.Decimal {
	if o.Matched.IsPositive() {
		return o.Matched
	}
	return o.Size
}

// SelectionKey é a chave textual usada em runnerPnL.
func (o Order) SelectionKey() string { return SelectionKey(o.SelectionID) }

// SelectionKey formata um selectionId como chave de runnerPnL.
func SelectionKey(id int64) string { return fmt.Sprintf("%d", id) }

// RunnerPnL mapeia selectionId → lucro/prejuízo assinado.
type RunnerPnL map[string]decimal.Decimal

// User é o documento do usuário mantido exclusivamente pelo ledger.
type User struct {
	ID            string          `json:"_id"`
	Username      string          `json:"username"`
	Role          Role            `json:"role"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
	// InitialWalletBalance é a base de depósitos/saques líquida de resultados realizados;
	// inválido para documentos antigos sem base persistida.
	InitialWalletBalance decimal.NullDecimal `json:"initial_wallet_balance"`
	Liable               decimal.Decimal     `json:"liable"`
	RunnerPnL            RunnerPnL           `json:"runnerPnL"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// Baseline retorna a base persistida ou, na ausência dela, wallet_balance + liable.
func (u User) Baseline() decimal.Decimal {
	if u.InitialWalletBalance.Valid {
		return u.InitialWalletBalance.Decimal
	}
	return u.WalletBalance.Add(u.Liable)
}

// TransactionType classifica os lançamentos do histórico do usuário.
type TransactionType string

const (
	TxBetPlaced       TransactionType = "BET_PLACED"
	TxBetCancelled    TransactionType = "BET_CANCELLED"
	TxBetCancelledAll TransactionType = "BET_CANCELLED_ALL"
	TxBetSettlement   TransactionType = "BET_SETTLEMENT"
	TxCredit          TransactionType = "credit"
	TxDebit           TransactionType = "debit"
)

// Transaction é um lançamento imutável no histórico do usuário (append-only).
type Transaction struct {
	ID                string          `json:"transaction_id"`
	UserID            string          `json:"userId"`
	Type              TransactionType `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	MarketID          string          `json:"eventId,omitempty"`
	RequestID         string          `json:"requestId,omitempty"`
	Profit            decimal.Decimal `json:"profit"`
	Loss              decimal.Decimal `json:"loss"`
	Net               decimal.Decimal `json:"net"`
	ReleasedLiability decimal.Decimal `json:"releasedLiability"`
	PreviousBalance   decimal.Decimal `json:"previous_balance"`
	NewBalance        decimal.Decimal `json:"new_balance"`
	Description       string          `json:"description,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// PriceSize é um nível de preço oferecido pela venue.
type PriceSize struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Book é o snapshot das melhores ofertas de uma seleção.
type Book struct {
	MarketID        string      `json:"marketId"`
	SelectionID     int64       `json:"selectionId"`
	AvailableToBack []PriceSize `json:"availableToBack"`
	AvailableToLay  []PriceSize `json:"availableToLay"`
}

// MarketState é o estado de um mercado na venue.
type MarketState string

const (
	MarketOpen      MarketState = "OPEN"
	MarketSuspended MarketState = "SUSPENDED"
	MarketClosed    MarketState = "CLOSED"
)

// MarketStatus é a leitura de status de um mercado; WinningSelectionID só existe após o fechamento.
type MarketStatus struct {
	MarketID           string      `json:"marketId"`
	Status             MarketState `json:"status"`
	WinningSelectionID *int64      `json:"winningSelectionId,omitempty"`
}
