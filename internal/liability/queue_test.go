package liability_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/liability"
	"github.com/radieske/betting-exchange/internal/model"
	"github.com/radieske/betting-exchange/internal/notify"
	"github.com/radieske/betting-exchange/pkg/contracts/events"
)

type results struct {
	mu  sync.Mutex
	got []string
}

func (r *results) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
}

func (r *results) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.got...)
}

func fastBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func TestQueue_RerunsWhenRequestArrivesDuringRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	q := liability.NewQueue(zap.NewNop(), func(ctx context.Context, userID string) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}, 2, 8)
	q.Start(ctx)

	q.Enqueue("u1")
	<-started
	q.Enqueue("u1")
	q.Enqueue("u1")
	close(release)

	require.NoError(t, q.Wait(ctx))
	assert.Equal(t, int32(2), calls.Load(), "requests during a run collapse into one rerun")
}

func TestQueue_CoalescesQueuedRequests(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	q := liability.NewQueue(zap.NewNop(), func(context.Context, string) error {
		calls.Add(1)
		return nil
	}, 1, 8)

	// sem workers ainda: os pedidos ficam parados na fila
	for i := 0; i < 5; i++ {
		q.Enqueue("u1")
	}
	q.Enqueue("u2")
	assert.Equal(t, 2, q.Pending())

	q.Start(ctx)
	require.NoError(t, q.Wait(ctx))
	assert.Equal(t, int32(2), calls.Load())
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	res := &results{}
	q := liability.NewQueue(zap.NewNop(), func(context.Context, string) error {
		if calls.Add(1) < 3 {
			return errors.New("db timeout")
		}
		return nil
	}, 1, 4)
	q.NewBackOff = fastBackOff
	q.OnResult = res.add
	q.Start(ctx)

	q.Enqueue("u1")
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []string{"retry", "retry", "ok"}, res.list())
}

func TestQueue_UnknownUserIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	res := &results{}
	q := liability.NewQueue(zap.NewNop(), func(context.Context, string) error {
		calls.Add(1)
		return ledger.ErrUserNotFound
	}, 1, 4)
	q.NewBackOff = fastBackOff
	q.OnResult = res.add
	q.Start(ctx)

	q.Enqueue("ghost")
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []string{"failed"}, res.list())
}

func TestQueue_FullBufferDoesNotBlockOrDrop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	q := liability.NewQueue(zap.NewNop(), func(context.Context, string) error {
		calls.Add(1)
		return nil
	}, 2, 1)

	for _, u := range []string{"a", "b", "c", "d"} {
		q.Enqueue(u)
	}
	q.Start(ctx)
	require.NoError(t, q.Wait(ctx))
	assert.Equal(t, int32(4), calls.Load())
}

type userSink struct {
	notify.Nop
	mu    sync.Mutex
	users []events.UserUpdated
}

func (s *userSink) PublishUserUpdated(_ context.Context, e events.UserUpdated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, e)
	return nil
}

func TestRecomputer_WritesStateAndNotifies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := ledger.NewMemoryStore()
	require.NoError(t, store.CreateUser(ctx, &model.User{ID: "u1", Role: model.RoleUser, WalletBalance: d("1000")}))
	require.NoError(t, store.AppendOrders(ctx, "u1", []model.Order{
		ord("M1", 101, model.SideBack, "2.0", "100", model.StatusPending),
		ord("M1", 102, model.SideLay, "1.5", "50", model.StatusPending),
	}, model.Transaction{Type: model.TxBetPlaced}))

	sink := &userSink{}
	rc := &liability.Recomputer{Store: store, Sink: sink, Log: zap.NewNop()}
	q := liability.NewQueue(zap.NewNop(), func(ctx context.Context, userID string) error {
		_, err := rc.Recompute(ctx, userID)
		return err
	}, 1, 4)
	q.Start(ctx)

	q.Enqueue("u1")
	require.NoError(t, q.Wait(ctx))

	u, err := store.FindUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Liable.Equal(d("125")), "liable %s", u.Liable)
	assert.True(t, u.WalletBalance.Equal(d("875")), "wallet %s", u.WalletBalance)
	assert.True(t, u.InitialWalletBalance.Decimal.Equal(d("1000")))
	assert.True(t, u.RunnerPnL["101"].Equal(d("150")))

	// um segundo recálculo sobre o mesmo estado não muda nada
	again, err := rc.Recompute(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, again.WalletBalance.Equal(u.WalletBalance))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.users, 2)
	assert.True(t, sink.users[0].Liable.Equal(d("125")))
}
