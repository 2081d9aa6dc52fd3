// Package settlement liquida as ordens casadas de um mercado fechado.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/model"
	"github.com/radieske/betting-exchange/internal/notify"
	"github.com/radieske/betting-exchange/internal/shared/metrics"
	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

// ErrIncomplete indica que ao menos um usuário falhou; rodar de novo liquida só o que faltou.
var ErrIncomplete = errors.New("settlement incomplete")

var one = decimal.NewFromInt(1)

type Scheduler interface {
	Enqueue(userID string)
}

// SettledPublisher recebe o resumo de cada liquidação (opcional).
type SettledPublisher interface {
	PublishMarketSettled(ctx context.Context, e events.MarketSettled) error
}

type Engine struct {
	Store     ledger.Store
	Sink      notify.Sink
	Events    SettledPublisher
	Recompute Scheduler
	Metrics   *metrics.Exchange
	Log       *zap.Logger

	// Parallelism limita quantos usuários são liquidados ao mesmo tempo.
	Parallelism int
	Now         func() time.Time
}

// Report descreve uma chamada de Settle.
type Report struct {
	MarketID           string
	WinningSelectionID int64
	AlreadySettled     bool
	Outcomes           []ledger.SettlementOutcome
	Failed             map[string]error
}

// Totals calcula lucro, prejuízo e responsabilidade liberada das ordens casadas de um usuário.
//
// Na seleção vencedora BACK ganha (odd−1)×stake e LAY ganha o stake; nas demais BACK perde
// o stake e LAY perde (odd−1)×stake. A liberação é a soma do liable gravado, independente do resultado.
func Totals(winner int64, matched []model.Order) ledger.SettlementTotals {
	t := ledger.SettlementTotals{Profit: decimal.Zero, Loss: decimal.Zero, Release: decimal.Zero}
	for _, o := range matched {
		size := o.EffectiveSize()
		odds := o.EffectivePrice().Sub(one).Mul(size)
		won := o.SelectionID == winner
		switch {
		case won && o.Side == model.SideBack:
			t.Profit = t.Profit.Add(odds)
		case won:
			t.Profit = t.Profit.Add(size)
		case o.Side == model.SideBack:
			t.Loss = t.Loss.Add(size)
		default:
			t.Loss = t.Loss.Add(odds)
		}
		t.Release = t.Release.Add(o.Liable)
	}
	return t
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Settle liquida o mercado uma única vez. Cada usuário é tratado de forma independente:
// falhas não interrompem os demais e o marcador de mercado liquidado só é gravado quando
// todos concluíram, de modo que uma nova chamada completa o trabalho sem repetir ninguém.
func (e *Engine) Settle(ctx context.Context, marketID string, winner int64) (*Report, error) {
	rep := &Report{MarketID: marketID, WinningSelectionID: winner, Failed: map[string]error{}}

	done, err := e.Store.IsMarketSettled(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if done {
		rep.AlreadySettled = true
		e.Log.Debug("market already settled", zap.String("marketId", marketID))
		return rep, nil
	}

	users, err := e.Store.ListUsersWithMatchedOrders(ctx, marketID)
	if err != nil {
		return nil, err
	}
	e.Log.Info("settling market",
		zap.String("marketId", marketID),
		zap.Int64("winner", winner),
		zap.Int("users", len(users)))

	at := e.now()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if e.Parallelism > 0 {
		g.SetLimit(e.Parallelism)
	}
	for _, userID := range users {
		g.Go(func() error {
			out, err := e.settleUser(gctx, marketID, userID, winner, at)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed[userID] = err
				return nil
			}
			rep.Outcomes = append(rep.Outcomes, *out)
			return nil
		})
	}
	_ = g.Wait()

	complete := len(rep.Failed) == 0
	if complete {
		if err := e.Store.MarkMarketSettled(ctx, ledger.SettledMarket{MarketID: marketID, WinningSelectionID: winner, SettledAt: at}); err != nil {
			return rep, fmt.Errorf("mark market %s settled: %w", marketID, err)
		}
	}

	if e.Events != nil {
		ev := events.MarketSettled{
			MarketID:           marketID,
			WinningSelectionID: winner,
			Users:              len(rep.Outcomes),
			Failed:             len(rep.Failed),
			Complete:           complete,
			Ts:                 at,
		}
		if err := e.Events.PublishMarketSettled(ctx, ev); err != nil {
			e.Log.Warn("market settled publish failed", zap.String("marketId", marketID), zap.Error(err))
		}
	}

	if !complete {
		return rep, fmt.Errorf("%w: market %s, %d of %d users failed", ErrIncomplete, marketID, len(rep.Failed), len(users))
	}
	e.Log.Info("market settled", zap.String("marketId", marketID), zap.Int("users", len(rep.Outcomes)))
	return rep, nil
}

func (e *Engine) settleUser(ctx context.Context, marketID, userID string, winner int64, at time.Time) (*ledger.SettlementOutcome, error) {
	out, err := e.Store.ApplySettlement(ctx, userID, marketID, at, func(matched []model.Order) ledger.SettlementTotals {
		return Totals(winner, matched)
	})
	if err != nil {
		e.Metrics.Settlement("failed")
		e.Log.Error("user settlement failed",
			zap.String("marketId", marketID),
			zap.String("userId", userID),
			zap.Error(err))
		return nil, err
	}
	if out.Skipped {
		e.Metrics.Settlement("skipped")
		return out, nil
	}
	e.Metrics.Settlement("settled")

	net := out.Totals.Net()
	e.Log.Info("user settled",
		zap.String("marketId", marketID),
		zap.String("userId", userID),
		zap.Int("orders", out.Orders),
		zap.String("profit", out.Totals.Profit.String()),
		zap.String("loss", out.Totals.Loss.String()),
		zap.String("released", out.Totals.Release.String()),
		zap.String("walletAfter", out.WalletAfter.String()))

	if e.Sink != nil {
		ev := events.UserUpdated{
			UserID:        userID,
			WalletBalance: out.WalletAfter,
			Liable:        out.LiableAfter,
			Settlement: &events.SettlementResult{
				MarketID: marketID,
				Profit:   out.Totals.Profit,
				Loss:     out.Totals.Loss,
				Net:      net,
			},
			Ts: at,
		}
		if err := e.Sink.PublishUserUpdated(ctx, ev); err != nil {
			e.Log.Warn("settlement publish failed", zap.String("userId", userID), zap.Error(err))
		}
	}
	if e.Recompute != nil {
		e.Recompute.Enqueue(userID)
	}
	return out, nil
}
