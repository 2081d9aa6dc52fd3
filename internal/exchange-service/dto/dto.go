package dto

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/betting-exchange/internal/model"
)

// PlaceOrder é um item do array enviado em POST /api/orders.
// price e size aceitam número ou string.
type PlaceOrder struct {
	MarketID    string          `json:"marketId"`
	SelectionID int64           `json:"selectionId"`
	Side        string          `json:"side"` // "B" | "L" | "BACK" | "LAY"
	Price       decimal.Decimal `json:"price"`
	Size        decimal.Decimal `json:"size"`
}

type PlaceOrdersResponse struct {
	Message string        `json:"message"`
	Orders  []model.Order `json:"orders"`
}

type CancelResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	OrderID string          `json:"orderId,omitempty"`
	Refund  decimal.Decimal `json:"refund"`
}

type CreateUserRequest struct {
	Username       string          `json:"username"`
	Role           string          `json:"role"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

type WalletRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"` // credit | debit
	Description string          `json:"description"`
}

type WalletResponse struct {
	Success     bool              `json:"success"`
	Transaction model.Transaction `json:"transaction"`
}

type SettleRequest struct {
	WinningSelectionID int64 `json:"winningSelectionId"`
}

type SettleResponse struct {
	MarketID           string            `json:"marketId"`
	WinningSelectionID int64             `json:"winningSelectionId"`
	AlreadySettled     bool              `json:"alreadySettled"`
	Settled            int               `json:"settled"`
	Failed             map[string]string `json:"failed,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
