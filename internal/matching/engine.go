// Package matching decide se uma ordem casa contra o melhor preço observado na venue.
package matching

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/betting-exchange/internal/model"
)

// Result é o desfecho de uma tentativa de casamento.
type Result struct {
	MatchedSize   decimal.Decimal
	Status        model.OrderStatus // MATCHED | UNMATCHED
	ExecutedPrice decimal.Decimal
}

// Match é função pura de ordem + snapshot do book.
//
// BACK casa quando a maior odd disponível para back ≥ odd solicitada e executa nessa odd;
// LAY casa quando a menor odd disponível para lay ≤ odd solicitada. Não há casamento parcial:
// o stake inteiro casa ou nada casa. Sem ofertas no lado relevante o resultado é UNMATCHED
// na odd solicitada.
func Match(o model.Order, book model.Book) Result {
	res := Result{
		MatchedSize:   decimal.Zero,
		Status:        model.StatusUnmatched,
		ExecutedPrice: o.Price,
	}

	switch o.Side {
	case model.SideBack:
		best, ok := highest(book.AvailableToBack)
		if ok && best.GreaterThanOrEqual(o.Price) {
			res = Result{MatchedSize: o.Size, Status: model.StatusMatched, ExecutedPrice: best}
		}
	case model.SideLay:
		best, ok := lowest(book.AvailableToLay)
		if ok && best.LessThanOrEqual(o.Price) {
			res = Result{MatchedSize: o.Size, Status: model.StatusMatched, ExecutedPrice: best}
		}
	}
	return res
}

func highest(levels []model.PriceSize) (decimal.Decimal, bool) {
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	best := levels[0].Price
	for _, l := range levels[1:] {
		if l.Price.GreaterThan(best) {
			best = l.Price
		}
	}
	return best, true
}

func lowest(levels []model.PriceSize) (decimal.Decimal, bool) {
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	best := levels[0].Price
	for _, l := range levels[1:] {
		if l.Price.LessThan(best) {
			best = l.Price
		}
	}
	return best, true
}
