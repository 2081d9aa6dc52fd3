// Package oracle lê preços e status de mercado da venue externa (Betfair Exchange API).
// A sessão de autenticação é um detalhe interno: quem consome só vê Oracle.
package oracle

import (
	"context"
	"errors"

	"github.com/radieske/betting-exchange/internal/model"
)

var (
	ErrRunnerNotFound = errors.New("runner not found in market book")
	ErrMarketNotFound = errors.New("market not found")
	ErrLoginFailed    = errors.New("venue login failed")
	ErrAPIFailure     = errors.New("venue api failure")
)

// Oracle é o contrato consumido pelo núcleo.
type Oracle interface {
	// BestPrices retorna as melhores ofertas de back/lay da seleção.
	BestPrices(ctx context.Context, marketID string, selectionID int64) (model.Book, error)
	// MarketStatus retorna o status do mercado e, se fechado, a seleção vencedora.
	MarketStatus(ctx context.Context, marketID string) (model.MarketStatus, error)
}

// EventDetails são os dados descritivos gravados na ordem.
type EventDetails struct {
	EventName string `json:"eventName"`
	Category  string `json:"category"`
}

// UnknownEvent é usado quando a venue não descreve o mercado.
var UnknownEvent = EventDetails{EventName: "Unknown Event", Category: "Other"}

// Describer é implementado por oráculos que sabem descrever um mercado.
type Describer interface {
	EventDetails(ctx context.Context, marketID string) (EventDetails, error)
}

// Describe consulta o oráculo quando ele sabe descrever mercados; qualquer falha vira UnknownEvent.
func Describe(ctx context.Context, o Oracle, marketID string) EventDetails {
	d, ok := o.(Describer)
	if !ok {
		return UnknownEvent
	}
	ev, err := d.EventDetails(ctx, marketID)
	if err != nil || ev.EventName == "" {
		return UnknownEvent
	}
	if ev.Category == "" {
		ev.Category = UnknownEvent.Category
	}
	return ev
}
