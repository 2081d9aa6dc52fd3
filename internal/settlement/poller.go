package settlement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/model"
	"github.com/radieske/betting-exchange/internal/oracle"
	"github.com/radieske/betting-exchange/internal/shared/metrics"
)

// Poller consulta periodicamente o status dos mercados com ordens casadas e liquida os que fecharam.
type Poller struct {
	Store   ledger.Store
	Oracle  oracle.Oracle
	Engine  *Engine
	Metrics *metrics.Exchange
	Log     *zap.Logger
}

// Poll faz uma passada. Retorna quantos mercados foram liquidados por completo.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	markets, err := p.Store.ListMarketsWithMatchedOrders(ctx)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, marketID := range markets {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		st, err := p.Oracle.MarketStatus(ctx, marketID)
		if err != nil {
			p.Metrics.OracleError("status")
			p.Log.Warn("market status failed", zap.String("marketId", marketID), zap.Error(err))
			continue
		}
		if st.Status != model.MarketClosed {
			continue
		}
		if st.WinningSelectionID == nil {
			p.Log.Warn("market closed without winner", zap.String("marketId", marketID))
			continue
		}

		rep, err := p.Engine.Settle(ctx, marketID, *st.WinningSelectionID)
		switch {
		case errors.Is(err, ErrIncomplete):
			p.Log.Warn("market partially settled; will retry", zap.String("marketId", marketID), zap.Int("failed", len(rep.Failed)))
		case err != nil:
			p.Log.Error("market settlement failed", zap.String("marketId", marketID), zap.Error(err))
		case !rep.AlreadySettled:
			settled++
		}
	}
	return settled, nil
}

// Run executa Poll a cada intervalo até ctx ser cancelado.
func (p *Poller) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.Log.Warn("settlement poll failed", zap.Error(err))
			}
		}
	}
}
