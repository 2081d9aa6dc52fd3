package liability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/ledger"
)

type runState int

const (
	stateQueued runState = iota
	stateRunning
	stateDirty // pedido chegou durante a execução; roda de novo ao terminar
)

// Queue executa recálculos fora do caminho da requisição.
//
// Pedidos repetidos para o mesmo usuário são agrupados; um pedido que chega enquanto o
// recálculo do usuário está rodando agenda uma nova execução, garantindo que a última
// alteração sempre é vista. Falhas são re-tentadas com backoff exponencial.
type Queue struct {
	Log     *zap.Logger
	Run     func(ctx context.Context, userID string) error
	Workers int

	// NewBackOff cria a política de retry de cada execução.
	NewBackOff func() backoff.BackOff

	OnResult func(result string) // métricas: ok | retry | failed
	OnDepth  func(n int)         // métricas

	ch    chan string
	done  chan struct{}
	mu    sync.Mutex
	state map[string]runState
	once  sync.Once
}

// NewQueue cria a fila com o buffer informado; Start dispara os workers.
func NewQueue(log *zap.Logger, run func(ctx context.Context, userID string) error, workers, size int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1
	}
	return &Queue{
		Log:        log,
		Run:        run,
		Workers:    workers,
		NewBackOff: defaultBackOff,
		ch:         make(chan string, size),
		done:       make(chan struct{}),
		state:      make(map[string]runState),
	}
}

func defaultBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 15 * time.Second
	return backoff.WithMaxRetries(eb, 5)
}

// Start sobe os workers; eles param quando ctx é cancelado.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		go func() {
			<-ctx.Done()
			close(q.done)
		}()
		for i := 0; i < q.Workers; i++ {
			go q.worker(ctx)
		}
	})
}

// Enqueue agenda um recálculo para userID. Nunca bloqueia o chamador.
func (q *Queue) Enqueue(userID string) {
	q.mu.Lock()
	st, ok := q.state[userID]
	switch {
	case !ok:
		q.state[userID] = stateQueued
		q.depthLocked()
		q.mu.Unlock()
		q.send(userID)
		return
	case st == stateRunning:
		q.state[userID] = stateDirty
	}
	q.mu.Unlock()
}

func (q *Queue) send(userID string) {
	select {
	case q.ch <- userID:
	default:
		// buffer cheio: entrega em segundo plano em vez de descartar
		go func() {
			select {
			case q.ch <- userID:
			case <-q.done:
			}
		}()
	}
}

// Pending retorna quantos usuários estão na fila ou em execução.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.state)
}

// Wait bloqueia até a fila esvaziar ou ctx expirar.
func (q *Queue) Wait(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for q.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-q.ch:
			q.mu.Lock()
			q.state[userID] = stateRunning
			q.mu.Unlock()

			q.process(ctx, userID)

			q.mu.Lock()
			if q.state[userID] == stateDirty {
				q.state[userID] = stateQueued
				q.mu.Unlock()
				q.send(userID)
				continue
			}
			delete(q.state, userID)
			q.depthLocked()
			q.mu.Unlock()
		}
	}
}

func (q *Queue) process(ctx context.Context, userID string) {
	op := func() error {
		err := q.Run(ctx, userID)
		if errors.Is(err, ledger.ErrUserNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		q.result("retry")
		q.Log.Warn("recompute retry", zap.String("userId", userID), zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(q.NewBackOff(), ctx), notify); err != nil {
		q.result("failed")
		q.Log.Error("recompute failed", zap.String("userId", userID), zap.Error(err))
		return
	}
	q.result("ok")
}

func (q *Queue) result(r string) {
	if q.OnResult != nil {
		q.OnResult(r)
	}
}

func (q *Queue) depthLocked() {
	if q.OnDepth != nil {
		q.OnDepth(len(q.state))
	}
}
