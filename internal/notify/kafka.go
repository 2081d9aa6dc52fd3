package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

// KafkaPublisher grava os eventos do núcleo em tópicos Kafka para consumidores externos
// (auditoria, relatórios). Writers nil desativam o tópico correspondente. Os serviços usam
// writers assíncronos (kafka.NewAsyncWriter); mesmo assim o writer consulta metadados do
// tópico antes de enfileirar, por isso cada publicação tem prazo curto.
type KafkaPublisher struct {
	Matched *kafka.Writer
	Users   *kafka.Writer
	Settled *kafka.Writer

	// Timeout limita cada publicação (default 2s).
	Timeout time.Duration
}

const defaultPublishTimeout = 2 * time.Second

func (p *KafkaPublisher) write(ctx context.Context, w *kafka.Writer, key string, v any) error {
	if w == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b, Time: time.Now()})
}

func (p *KafkaPublisher) PublishOrderMatched(ctx context.Context, e events.OrderMatched) error {
	return p.write(ctx, p.Matched, e.UserID, e)
}

func (p *KafkaPublisher) PublishUserUpdated(ctx context.Context, e events.UserUpdated) error {
	return p.write(ctx, p.Users, e.UserID, e)
}

// PublishMarketSettled registra o resumo de uma liquidação, chaveado pelo mercado.
func (p *KafkaPublisher) PublishMarketSettled(ctx context.Context, e events.MarketSettled) error {
	return p.write(ctx, p.Settled, e.MarketID, e)
}

// Close fecha os writers configurados.
func (p *KafkaPublisher) Close() error {
	var errs []error
	for _, w := range []*kafka.Writer{p.Matched, p.Users, p.Settled} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	return errors.Join(errs...)
}
