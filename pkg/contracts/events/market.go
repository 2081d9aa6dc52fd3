package events

import "time"

// Evento publicado no tópico "market_closed" por quem observa o fechamento de um mercado.
type MarketClosed struct {
	MarketID           string    `json:"marketId"`
	WinningSelectionID int64     `json:"winningSelectionId"`
	Ts                 time.Time `json:"ts"`
}

// Evento publicado no tópico "market_settled" ao fim de uma liquidação.
type MarketSettled struct {
	MarketID           string    `json:"marketId"`
	WinningSelectionID int64     `json:"winningSelectionId"`
	Users              int       `json:"users"`
	Failed             int       `json:"failed"`
	Complete           bool      `json:"complete"`
	Ts                 time.Time `json:"ts"`
}
