package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/betting-exchange/internal/accounts"
	httpapi "github.com/radieske/betting-exchange/internal/exchange-service/http"
	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/liability"
	"github.com/radieske/betting-exchange/internal/notify"
	"github.com/radieske/betting-exchange/internal/oracle"
	"github.com/radieske/betting-exchange/internal/orders"
	"github.com/radieske/betting-exchange/internal/settlement"
	"github.com/radieske/betting-exchange/internal/shared/cache"
	"github.com/radieske/betting-exchange/internal/shared/config"
	"github.com/radieske/betting-exchange/internal/shared/kafka"
	"github.com/radieske/betting-exchange/internal/shared/logger"
	"github.com/radieske/betting-exchange/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "exchange-service"
	}
	decimal.MarshalJSONWithoutQuotes = true

	// Inicializa logger estruturado
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service",
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Env),
		zap.String("ledger", cfg.LedgerBackend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ledger (Postgres ou memória)
	lb, err := ledger.Open(ctx, cfg.LedgerBackend, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("ledger open", zap.Error(err))
	}
	defer lb.Close()

	// Redis: cache do oráculo e fan-out do WebSocket entre réplicas
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	m := metrics.NewExchange(prometheus.DefaultRegisterer)

	// Oráculo de preços da venue, com cache de snapshots no Redis
	session := &oracle.SessionProvider{
		LoginURL: cfg.BetfairLoginURL,
		Username: cfg.BetfairUsername,
		Password: cfg.BetfairPassword,
		AppKey:   cfg.BetfairAppKey,
		TTL:      cfg.BetfairSessionTTL,
		HTTP:     &http.Client{Timeout: cfg.OracleTimeout},
	}
	orc := oracle.NewCachedOracle(oracle.NewClient(cfg.BetfairAPIURL, session, cfg.OracleTimeout), rdb, cfg.OracleCacheTTL, log)

	// Notificações: Redis pub/sub -> hub local -> sockets; Kafka para consumidores externos
	hub := notify.NewHub(func(*http.Request) bool { return true })
	notify.StartRedisSubscriber(ctx, log, rdb, cfg.RedisPubSubChannel, hub)

	events := &notify.KafkaPublisher{
		Matched: kafka.NewAsyncWriter(log, cfg.KafkaBrokers, cfg.TopicOrderMatched),
		Users:   kafka.NewAsyncWriter(log, cfg.KafkaBrokers, cfg.TopicUserUpdated),
		Settled: kafka.NewAsyncWriter(log, cfg.KafkaBrokers, cfg.TopicMarketSettled),
	}
	defer events.Close()
	sink := notify.Multi{notify.NewRedisPublisher(rdb, cfg.RedisPubSubChannel), events}

	// Fila de recálculo de responsabilidade
	recomputer := &liability.Recomputer{Store: lb.Store, Sink: sink, Log: log}
	queue := liability.NewQueue(log, func(ctx context.Context, userID string) error {
		_, err := recomputer.Recompute(ctx, userID)
		return err
	}, cfg.RecomputeWorkers, cfg.RecomputeQueueSize)
	queue.OnResult = m.Recompute
	queue.OnDepth = m.QueueDepth
	queue.Start(ctx)

	ctrl := &orders.Controller{
		Store:        lb.Store,
		Oracle:       orc,
		Sink:         sink,
		Recompute:    queue,
		Metrics:      m,
		Log:          log,
		RecheckBatch: cfg.RecheckBatch,
	}
	go ctrl.RunRecheck(ctx, cfg.RecheckInterval)

	engine := &settlement.Engine{
		Store:       lb.Store,
		Sink:        sink,
		Events:      events,
		Recompute:   queue,
		Metrics:     m,
		Log:         log,
		Parallelism: cfg.SettlementParallelism,
	}

	api := &httpapi.API{
		Log:      log,
		Store:    lb.Store,
		Orders:   ctrl,
		Accounts: &accounts.Service{Store: lb.Store, Recompute: queue, Log: log},
		Settler:  engine,
		WS:       hub.HandleWS,
	}

	// Servidor de métricas e health check
	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		if err := lb.Ping(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	// Servidor HTTP público (API REST + WebSocket)
	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	// recálculos pendentes são refeitos pelo próximo evento do usuário
	if n := queue.Pending(); n > 0 {
		log.Warn("recompute queue not drained", zap.Int("pending", n))
	}
}
