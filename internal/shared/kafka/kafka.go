package kafka

import (
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Brokers separa a lista "a:9092,b:9092" ignorando entradas vazias.
func Brokers(list string) []string {
	var out []string
	for _, b := range strings.Split(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// NewWriter cria um writer por tópico. Tópico vazio devolve nil (tópico desativado).
func NewWriter(brokers string, topic string) *kafka.Writer {
	if topic == "" {
		return nil
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(Brokers(brokers)...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // mesma chave, mesma partição
		BatchTimeout:           20 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewAsyncWriter é o writer de notificações: WriteMessages só enfileira e volta na hora,
// e falhas de entrega aparecem apenas no log.
func NewAsyncWriter(log *zap.Logger, brokers string, topic string) *kafka.Writer {
	w := NewWriter(brokers, topic)
	if w == nil {
		return nil
	}
	w.Async = true
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			log.Warn("kafka async write failed",
				zap.String("topic", topic),
				zap.Int("messages", len(msgs)),
				zap.Error(err))
		}
	}
	return w
}

func NewReader(brokers string, topic string, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        Brokers(brokers),
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
}
