// Package orders orquestra o ciclo de vida das ordens: aceite do lote, casamento,
// cancelamento e re-verificação das ordens ainda abertas.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/liability"
	"github.com/radieske/betting-exchange/internal/matching"
	"github.com/radieske/betting-exchange/internal/model"
	"github.com/radieske/betting-exchange/internal/notify"
	"github.com/radieske/betting-exchange/internal/oracle"
	"github.com/radieske/betting-exchange/internal/shared/metrics"
	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrForbidden         = errors.New("only users can place bets")
	ErrInsufficientFunds = errors.New("insufficient funds for this bet (tentative check)")
)

const (
	SourcePlacement = "placement"
	SourceRecheck   = "recheck"
)

var one = decimal.NewFromInt(1)

// Request é uma ordem como chega do cliente; Side aceita "B"/"L"/"BACK"/"LAY".
type Request struct {
	MarketID    string
	SelectionID int64
	Side        string
	Price       decimal.Decimal
	Size        decimal.Decimal
}

// Scheduler agenda o recálculo de responsabilidade de um usuário sem bloquear.
type Scheduler interface {
	Enqueue(userID string)
}

// Controller é o ponto de entrada das operações de ordem.
type Controller struct {
	Store     ledger.Store
	Oracle    oracle.Oracle
	Sink      notify.Sink
	Recompute Scheduler
	Metrics   *metrics.Exchange
	Log       *zap.Logger

	// RecheckBatch limita quantas ordens abertas cada passada de Recheck lê.
	RecheckBatch int

	Now   func() time.Time
	NewID func() string
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

func (c *Controller) newID() string {
	if c.NewID != nil {
		return c.NewID()
	}
	return uuid.NewString()
}

func validate(i int, r Request) (model.Side, error) {
	if strings.TrimSpace(r.MarketID) == "" {
		return "", fmt.Errorf("%w: order %d: marketId is required", ErrInvalidOrder, i)
	}
	if r.SelectionID <= 0 {
		return "", fmt.Errorf("%w: order %d: selectionId is required", ErrInvalidOrder, i)
	}
	side, err := model.ParseSide(r.Side)
	if err != nil {
		return "", fmt.Errorf("%w: order %d: %v", ErrInvalidOrder, i, err)
	}
	if !r.Price.GreaterThan(one) {
		return "", fmt.Errorf("%w: order %d: price must be greater than 1", ErrInvalidOrder, i)
	}
	if !r.Size.IsPositive() {
		return "", fmt.Errorf("%w: order %d: size must be positive", ErrInvalidOrder, i)
	}
	return side, nil
}

// Place aceita o lote inteiro ou nada. Ordens aceitas são gravadas PENDING e então casadas
// uma a uma contra o book atual; o retorno reflete o status no momento do envio.
// O recálculo de saldo e responsabilidade fica agendado, não é aguardado.
func (c *Controller) Place(ctx context.Context, userID string, reqs []Request) ([]model.Order, error) {
	if len(reqs) == 0 {
		c.Metrics.Rejected("invalid")
		return nil, fmt.Errorf("%w: orders must be a non-empty array", ErrInvalidOrder)
	}

	u, err := c.Store.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role != model.RoleUser {
		c.Metrics.Rejected("forbidden")
		return nil, ErrForbidden
	}

	at := c.now()
	incoming := make([]model.Order, len(reqs))
	for i, r := range reqs {
		side, err := validate(i, r)
		if err != nil {
			c.Metrics.Rejected("invalid")
			return nil, err
		}
		incoming[i] = model.Order{
			RequestID:   c.newID(),
			UserID:      userID,
			MarketID:    strings.TrimSpace(r.MarketID),
			SelectionID: r.SelectionID,
			Side:        side,
			Price:       r.Price,
			Size:        r.Size,
			Matched:     decimal.Zero,
			Liable:      model.LiableFor(side, r.Price, r.Size),
			Status:      model.StatusPending,
			CreatedAt:   at,
			UpdatedAt:   at,
		}
	}

	active, err := c.Store.ListOrders(ctx, userID, ledger.OrderFilter{
		Statuses: []model.OrderStatus{model.StatusPending, model.StatusUnmatched, model.StatusMatched},
	})
	if err != nil {
		return nil, err
	}
	available := liability.AvailableForLay(*u)
	projected := liability.Project(active, incoming)
	if projected.GreaterThan(available) {
		c.Metrics.Rejected("insufficient_funds")
		c.Log.Info("order batch rejected",
			zap.String("userId", userID),
			zap.String("projected", projected.String()),
			zap.String("available", available.String()))
		return nil, ErrInsufficientFunds
	}

	c.describe(ctx, incoming)

	placed := model.Transaction{
		Type:      model.TxBetPlaced,
		Amount:    projected.Neg(),
		CreatedAt: at,
	}
	if err := c.Store.AppendOrders(ctx, userID, incoming, placed); err != nil {
		return nil, err
	}
	c.Metrics.Placed(len(incoming))

	for i := range incoming {
		incoming[i], _ = c.match(ctx, incoming[i], SourcePlacement)
	}

	c.schedule(userID)
	return incoming, nil
}

// describe preenche evento e categoria, consultando cada mercado uma única vez.
func (c *Controller) describe(ctx context.Context, orders []model.Order) {
	details := make(map[string]oracle.EventDetails)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, o := range orders {
		marketID := o.MarketID
		mu.Lock()
		_, seen := details[marketID]
		details[marketID] = oracle.UnknownEvent
		mu.Unlock()
		if seen {
			continue
		}
		g.Go(func() error {
			ev := oracle.Describe(gctx, c.Oracle, marketID)
			mu.Lock()
			details[marketID] = ev
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for i := range orders {
		ev := details[orders[i].MarketID]
		orders[i].EventName = ev.EventName
		orders[i].Category = ev.Category
	}
}

// match tenta casar uma ordem aberta. Falha do oráculo ou conflito de estado deixam a ordem
// como está, para a próxima passada. Retorna a ordem atualizada e se ela mudou.
func (c *Controller) match(ctx context.Context, o model.Order, source string) (model.Order, bool) {
	book, err := c.Oracle.BestPrices(ctx, o.MarketID, o.SelectionID)
	if err != nil {
		c.Metrics.OracleError("book")
		c.Log.Warn("book fetch failed; order stays open",
			zap.String("requestId", o.RequestID),
			zap.String("marketId", o.MarketID),
			zap.Int64("selectionId", o.SelectionID),
			zap.Error(err))
		return o, false
	}

	res := matching.Match(o, book)
	if res.Status == o.Status {
		return o, false
	}

	at := c.now()
	ok, err := c.Store.UpdateOrderStatus(ctx, o.UserID, o.RequestID, o.Status, ledger.OrderUpdate{
		Status:        res.Status,
		Matched:       res.MatchedSize,
		ExecutedPrice: res.ExecutedPrice,
		At:            at,
	})
	if err != nil {
		c.Log.Error("order update failed", zap.String("requestId", o.RequestID), zap.Error(err))
		return o, false
	}
	if !ok {
		c.Log.Debug("order changed concurrently; skipping", zap.String("requestId", o.RequestID))
		return o, false
	}

	o.Status = res.Status
	o.Matched = res.MatchedSize
	o.ExecutedPrice = res.ExecutedPrice
	o.UpdatedAt = at

	if o.Status == model.StatusMatched {
		c.Metrics.Matched(source)
		ev := events.OrderMatched{
			MarketID:  o.MarketID,
			UserID:    o.UserID,
			NewOrders: []events.Order{notify.OrderView(o)},
			Source:    source,
			Ts:        at,
		}
		if err := c.Sink.PublishOrderMatched(ctx, ev); err != nil {
			c.Log.Warn("order matched publish failed", zap.String("requestId", o.RequestID), zap.Error(err))
		}
	}
	return o, true
}

// Cancel cancela uma ordem aberta, devolvendo o stake ao saldo.
func (c *Controller) Cancel(ctx context.Context, userID, requestID string) (*ledger.CancelResult, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, fmt.Errorf("%w: requestId is required", ErrInvalidOrder)
	}
	return c.cancel(ctx, userID, requestID)
}

// CancelAll cancela todas as ordens abertas do usuário. Sem ordens abertas, devolve reembolso zero.
func (c *Controller) CancelAll(ctx context.Context, userID string) (*ledger.CancelResult, error) {
	return c.cancel(ctx, userID, "")
}

func (c *Controller) cancel(ctx context.Context, userID, requestID string) (*ledger.CancelResult, error) {
	res, err := c.Store.CancelOpenOrders(ctx, userID, requestID, c.now())
	if err != nil {
		return nil, err
	}
	if len(res.Cancelled) > 0 {
		c.Metrics.Cancelled(len(res.Cancelled))
		c.Log.Info("orders cancelled",
			zap.String("userId", userID),
			zap.Int("count", len(res.Cancelled)),
			zap.String("refund", res.Refund.String()))
		c.schedule(userID)
	}
	return res, nil
}

// Recheck tenta casar de novo as ordens ainda abertas contra um book novo.
// Retorna quantas casaram nesta passada.
func (c *Controller) Recheck(ctx context.Context) (int, error) {
	open, err := c.Store.ListOpenOrders(ctx, c.RecheckBatch)
	if err != nil {
		return 0, err
	}

	matched := 0
	touched := make(map[string]struct{})
	for _, o := range open {
		if ctx.Err() != nil {
			break
		}
		updated, changed := c.match(ctx, o, SourceRecheck)
		if !changed {
			continue
		}
		touched[o.UserID] = struct{}{}
		if updated.Status == model.StatusMatched {
			matched++
		}
	}
	for userID := range touched {
		c.schedule(userID)
	}
	return matched, ctx.Err()
}

// RunRecheck executa Recheck a cada intervalo até ctx ser cancelado.
func (c *Controller) RunRecheck(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := c.Recheck(ctx)
			if err != nil && ctx.Err() == nil {
				c.Log.Warn("recheck pass failed", zap.Error(err))
				continue
			}
			if n > 0 {
				c.Log.Info("recheck matched orders", zap.Int("matched", n))
			}
		}
	}
}

func (c *Controller) schedule(userID string) {
	if c.Recompute != nil {
		c.Recompute.Enqueue(userID)
	}
}
