package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/model"
)

// CachedOracle guarda snapshots de book e descrições de mercado no Redis.
// Com o Redis fora do ar as leituras vão direto para Next.
type CachedOracle struct {
	Next       Oracle
	R          *redis.Client
	BookTTL    time.Duration
	DetailsTTL time.Duration
	Log        *zap.Logger
}

func NewCachedOracle(next Oracle, r *redis.Client, bookTTL time.Duration, log *zap.Logger) *CachedOracle {
	return &CachedOracle{Next: next, R: r, BookTTL: bookTTL, DetailsTTL: time.Hour, Log: log}
}

func keyBook(marketID string, selectionID int64) string {
	return "book:" + marketID + ":" + model.SelectionKey(selectionID)
}

func keyDetails(marketID string) string { return "market:details:" + marketID }

func (c *CachedOracle) get(ctx context.Context, key string, dst any) bool {
	b, err := c.R.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.Log.Debug("oracle cache get", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	return json.Unmarshal(b, dst) == nil
}

func (c *CachedOracle) set(ctx context.Context, key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.R.Set(ctx, key, b, ttl).Err(); err != nil {
		c.Log.Debug("oracle cache set", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedOracle) BestPrices(ctx context.Context, marketID string, selectionID int64) (model.Book, error) {
	var book model.Book
	if c.BookTTL > 0 && c.get(ctx, keyBook(marketID, selectionID), &book) {
		return book, nil
	}
	book, err := c.Next.BestPrices(ctx, marketID, selectionID)
	if err != nil {
		return model.Book{}, err
	}
	if c.BookTTL > 0 {
		c.set(ctx, keyBook(marketID, selectionID), book, c.BookTTL)
	}
	return book, nil
}

// MarketStatus nunca vem do cache: o fechamento precisa ser visto assim que acontece.
func (c *CachedOracle) MarketStatus(ctx context.Context, marketID string) (model.MarketStatus, error) {
	return c.Next.MarketStatus(ctx, marketID)
}

func (c *CachedOracle) EventDetails(ctx context.Context, marketID string) (EventDetails, error) {
	var ev EventDetails
	if c.get(ctx, keyDetails(marketID), &ev) {
		return ev, nil
	}
	d, ok := c.Next.(Describer)
	if !ok {
		return UnknownEvent, nil
	}
	ev, err := d.EventDetails(ctx, marketID)
	if err != nil {
		return EventDetails{}, err
	}
	if ev != UnknownEvent {
		c.set(ctx, keyDetails(marketID), ev, c.DetailsTTL)
	}
	return ev, nil
}
