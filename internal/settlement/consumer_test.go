package settlement_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/settlement"
	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

type fakeSettler struct {
	calls int
	errs  []error
}

func (f *fakeSettler) Settle(_ context.Context, marketID string, winner int64) (*settlement.Report, error) {
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	return &settlement.Report{MarketID: marketID, WinningSelectionID: winner}, err
}

type dlq struct{ msgs []kafka.Message }

func (w *dlq) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func closedMsg(t *testing.T, marketID string, winner int64) kafka.Message {
	t.Helper()
	b, err := json.Marshal(events.MarketClosed{MarketID: marketID, WinningSelectionID: winner, Ts: time.Now()})
	require.NoError(t, err)
	return kafka.Message{Key: []byte(marketID), Value: b}
}

func newConsumer(s settlement.Settler, w *dlq) *settlement.Consumer {
	return &settlement.Consumer{
		Log:        zap.NewNop(),
		DLQ:        w,
		Settler:    s,
		NewBackOff: func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) },
	}
}

func TestConsumer_RetriesPartialSettlement(t *testing.T) {
	s := &fakeSettler{errs: []error{settlement.ErrIncomplete}}
	w := &dlq{}

	err := newConsumer(s, w).Handle(context.Background(), closedMsg(t, "M1", 101))
	require.NoError(t, err)
	assert.Equal(t, 2, s.calls)
	assert.Empty(t, w.msgs)
}

func TestConsumer_ExhaustedRetriesGoToDLQ(t *testing.T) {
	boom := errors.New("db down")
	s := &fakeSettler{errs: []error{boom, boom, boom}}
	w := &dlq{}

	var phases []string
	c := newConsumer(s, w)
	c.OnError = func(p string) { phases = append(phases, p) }

	err := c.Handle(context.Background(), closedMsg(t, "M1", 101))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, s.calls)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "M1", string(w.msgs[0].Key))
	assert.Equal(t, "error", w.msgs[0].Headers[0].Key)
	assert.Equal(t, []string{"settle", "settle"}, phases)
}

func TestConsumer_MalformedMessageSkipsSettlement(t *testing.T) {
	s := &fakeSettler{}
	w := &dlq{}
	c := newConsumer(s, w)

	assert.Error(t, c.Handle(context.Background(), kafka.Message{Value: []byte("{not json")}))
	assert.Error(t, c.Handle(context.Background(), closedMsg(t, "M1", 0)))
	assert.Zero(t, s.calls)
	assert.Len(t, w.msgs, 2)
}

type scriptedReader struct {
	msgs   []kafka.Message
	cancel context.CancelFunc
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &fakeSettler{}
	consumed := 0
	c := newConsumer(s, &dlq{})
	c.Reader = &scriptedReader{msgs: []kafka.Message{closedMsg(t, "M1", 1), closedMsg(t, "M2", 2)}, cancel: cancel}
	c.OnConsumed = func() { consumed++ }

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, consumed)
	assert.Equal(t, 2, s.calls)
}
