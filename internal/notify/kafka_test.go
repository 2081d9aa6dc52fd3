package notify_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/betting-exchange/internal/notify"
	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

// silentBroker aceita conexões e nunca responde, como um broker travado.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestKafkaPublisher_StalledBrokerDoesNotBlockCaller(t *testing.T) {
	w := &kafka.Writer{Addr: kafka.TCP(silentBroker(t)), Topic: "order_matched", Async: true}
	t.Cleanup(func() { _ = w.Close() })
	p := &notify.KafkaPublisher{Matched: w, Timeout: 100 * time.Millisecond}

	start := time.Now()
	err := p.PublishOrderMatched(context.Background(), events.OrderMatched{MarketID: "M1", UserID: "u1"})
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second, "publish took %s", elapsed)
}

func TestKafkaPublisher_NilWritersAreDisabled(t *testing.T) {
	p := &notify.KafkaPublisher{}
	ctx := context.Background()

	assert.NoError(t, p.PublishOrderMatched(ctx, events.OrderMatched{}))
	assert.NoError(t, p.PublishUserUpdated(ctx, events.UserUpdated{}))
	assert.NoError(t, p.PublishMarketSettled(ctx, events.MarketSettled{}))
	assert.NoError(t, p.Close())
}
