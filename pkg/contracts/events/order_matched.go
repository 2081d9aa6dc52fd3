package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order é a visão pública de uma ordem dentro dos eventos.
type Order struct {
	RequestID     string          `json:"requestId"`
	MarketID      string          `json:"marketId"`
	SelectionID   int64           `json:"selectionId"`
	Side          string          `json:"side"` // "BACK" | "LAY"
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	Matched       decimal.Decimal `json:"matched"`
	ExecutedPrice decimal.Decimal `json:"executedPrice"`
	Liable        decimal.Decimal `json:"liable"`
	Status        string          `json:"status"`
}

// Evento emitido quando uma ordem casa, na colocação ou na re-verificação.
// Entregue aos inscritos da sala match_<marketId>.
type OrderMatched struct {
	MarketID  string    `json:"marketId"`
	UserID    string    `json:"userId"`
	NewOrders []Order   `json:"newOrders"`
	Source    string    `json:"source"` // "placement" | "recheck"
	Ts        time.Time `json:"ts"`
}
