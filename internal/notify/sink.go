// Package notify entrega eventos de casamento e de atualização de usuário aos assinantes.
// A entrega é best-effort (no máximo uma vez): falhas são registradas e nunca desfazem a operação de origem.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/betting-exchange/internal/model"
	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

// Nomes de evento enviados pelo WebSocket.
const (
	EventOrdersUpdated = "ordersUpdated"
	EventUserUpdated   = "userUpdated"
)

// Sink recebe as notificações produzidas pelo núcleo.
type Sink interface {
	PublishOrderMatched(ctx context.Context, e events.OrderMatched) error
	PublishUserUpdated(ctx context.Context, e events.UserUpdated) error
}

// MatchRoom é a sala dos inscritos em um mercado.
func MatchRoom(marketID string) string { return "match_" + marketID }

// UserRoom é a sala privada de um usuário.
func UserRoom(userID string) string { return "user_" + userID }

// Multi repassa cada evento a todos os sinks, mesmo quando um deles falha.
type Multi []Sink

func (m Multi) PublishOrderMatched(ctx context.Context, e events.OrderMatched) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PublishOrderMatched(ctx, e))
	}
	return errors.Join(errs...)
}

func (m Multi) PublishUserUpdated(ctx context.Context, e events.UserUpdated) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.PublishUserUpdated(ctx, e))
	}
	return errors.Join(errs...)
}

// Nop descarta tudo.
type Nop struct{}

func (Nop) PublishOrderMatched(context.Context, events.OrderMatched) error { return nil }
func (Nop) PublishUserUpdated(context.Context, events.UserUpdated) error   { return nil }

// OrderView converte uma ordem do domínio para o contrato público.
func OrderView(o model.Order) events.Order {
	return events.Order{
		RequestID:     o.RequestID,
		MarketID:      o.MarketID,
		SelectionID:   o.SelectionID,
		Side:          string(o.Side),
		Price:         o.Price,
		Size:          o.Size,
		Matched:       o.Matched,
		ExecutedPrice: o.ExecutedPrice,
		Liable:        o.Liable,
		Status:        string(o.Status),
	}
}

// UserView monta o evento de atualização a partir do documento do usuário.
func UserView(u model.User) events.UserUpdated {
	pnl := make(map[string]decimal.Decimal, len(u.RunnerPnL))
	for k, v := range u.RunnerPnL {
		pnl[k] = v
	}
	return events.UserUpdated{
		UserID:        u.ID,
		WalletBalance: u.WalletBalance,
		Liable:        u.Liable,
		RunnerPnL:     pnl,
		Ts:            time.Now().UTC(),
	}
}
