package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

var errInvalidEvent = errors.New("invalid market_closed event")

// MessageReader é o lado de leitura do *kafka.Reader usado aqui.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// MessageWriter é o lado de escrita do *kafka.Writer usado aqui.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Settler interface {
	Settle(ctx context.Context, marketID string, winner int64) (*Report, error)
}

// Consumer consome eventos market_closed e liquida o mercado correspondente.
// Mensagens que continuam falhando depois dos retries vão para a DLQ, se configurada.
type Consumer struct {
	Log     *zap.Logger
	Reader  MessageReader
	DLQ     MessageWriter
	Settler Settler

	// NewBackOff cria a política de retry por mensagem.
	NewBackOff func() backoff.BackOff

	OnConsumed func()       // métricas
	OnError    func(string) // métricas por fase
}

func defaultConsumerBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 300 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithMaxRetries(b, 3)
}

func (c *Consumer) fail(phase string) {
	if c.OnError != nil {
		c.OnError(phase)
	}
}

// Run lê até ctx ser cancelado.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Log.Warn("kafka read failed", zap.Error(err))
			c.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if c.OnConsumed != nil {
			c.OnConsumed()
		}
		if err := c.Handle(ctx, m); err != nil && ctx.Err() == nil {
			c.Log.Error("market_closed not settled", zap.String("key", string(m.Key)), zap.Error(err))
		}
	}
}

// Handle processa uma mensagem. Liquidação parcial ou erro transitório são re-tentados;
// mensagem malformada vai direto para a DLQ.
func (c *Consumer) Handle(ctx context.Context, m kafka.Message) error {
	var ev events.MarketClosed
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		c.fail("decode")
		return c.deadLetter(ctx, m, fmt.Errorf("%w: %v", errInvalidEvent, err))
	}
	ev.MarketID = strings.TrimSpace(ev.MarketID)
	if ev.MarketID == "" || ev.WinningSelectionID <= 0 {
		c.fail("decode")
		return c.deadLetter(ctx, m, fmt.Errorf("%w: marketId and winningSelectionId are required", errInvalidEvent))
	}

	newBackOff := c.NewBackOff
	if newBackOff == nil {
		newBackOff = defaultConsumerBackOff
	}
	op := func() error {
		_, err := c.Settler.Settle(ctx, ev.MarketID, ev.WinningSelectionID)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.fail("settle")
		c.Log.Warn("settle retry",
			zap.String("marketId", ev.MarketID),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(newBackOff(), ctx), notify); err != nil {
		return c.deadLetter(ctx, m, err)
	}
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message, cause error) error {
	if c.DLQ == nil {
		return cause
	}
	msg := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "error", Value: []byte(cause.Error())},
		},
	}
	if err := c.DLQ.WriteMessages(ctx, msg); err != nil {
		c.fail("dlq")
		return errors.Join(cause, fmt.Errorf("dlq write: %w", err))
	}
	c.Log.Warn("market_closed sent to dlq", zap.String("key", string(m.Key)), zap.Error(cause))
	return cause
}
