package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Evento emitido após recálculo de responsabilidade ou liquidação.
// Entregue aos inscritos da sala user_<userId>; Settlement só existe quando a origem é uma liquidação.
type UserUpdated struct {
	UserID        string                     `json:"userId"`
	WalletBalance decimal.Decimal            `json:"wallet_balance"`
	Liable        decimal.Decimal            `json:"liable"`
	RunnerPnL     map[string]decimal.Decimal `json:"runnerPnL,omitempty"`
	Settlement    *SettlementResult          `json:"settlement,omitempty"`
	Ts            time.Time                  `json:"ts"`
}

type SettlementResult struct {
	MarketID string          `json:"marketId"`
	Profit   decimal.Decimal `json:"profit"`
	Loss     decimal.Decimal `json:"loss"`
	Net      decimal.Decimal `json:"net"`
}
