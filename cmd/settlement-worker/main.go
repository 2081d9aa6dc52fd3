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

	"github.com/radieske/betting-exchange/internal/ledger"
	"github.com/radieske/betting-exchange/internal/liability"
	"github.com/radieske/betting-exchange/internal/notify"
	"github.com/radieske/betting-exchange/internal/oracle"
	"github.com/radieske/betting-exchange/internal/settlement"
	"github.com/radieske/betting-exchange/internal/shared/cache"
	"github.com/radieske/betting-exchange/internal/shared/config"
	"github.com/radieske/betting-exchange/internal/shared/kafka"
	"github.com/radieske/betting-exchange/internal/shared/logger"
	"github.com/radieske/betting-exchange/internal/shared/metrics"
)

const consumerGroup = "settlement-worker"

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = consumerGroup
	}
	decimal.MarshalJSONWithoutQuotes = true

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lb, err := ledger.Open(ctx, cfg.LedgerBackend, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("ledger open", zap.Error(err))
	}
	defer lb.Close()

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Métricas
	m := metrics.NewExchange(prometheus.DefaultRegisterer)
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "settlement_messages_consumed_total", Help: "mensagens de fechamento consumidas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "settlement_consumer_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, errorsBy)

	session := &oracle.SessionProvider{
		LoginURL: cfg.BetfairLoginURL,
		Username: cfg.BetfairUsername,
		Password: cfg.BetfairPassword,
		AppKey:   cfg.BetfairAppKey,
		TTL:      cfg.BetfairSessionTTL,
		HTTP:     &http.Client{Timeout: cfg.OracleTimeout},
	}
	orc := oracle.NewCachedOracle(oracle.NewClient(cfg.BetfairAPIURL, session, cfg.OracleTimeout), rdb, cfg.OracleCacheTTL, log)

	events := &notify.KafkaPublisher{
		Users:   kafka.NewAsyncWriter(log, cfg.KafkaBrokers, cfg.TopicUserUpdated),
		Settled: kafka.NewAsyncWriter(log, cfg.KafkaBrokers, cfg.TopicMarketSettled),
	}
	defer events.Close()
	// mesmo canal Redis que as réplicas do exchange-service escutam
	sink := notify.Multi{notify.NewRedisPublisher(rdb, cfg.RedisPubSubChannel), events}

	recomputer := &liability.Recomputer{Store: lb.Store, Sink: sink, Log: log}
	queue := liability.NewQueue(log, func(ctx context.Context, userID string) error {
		_, err := recomputer.Recompute(ctx, userID)
		return err
	}, cfg.RecomputeWorkers, cfg.RecomputeQueueSize)
	queue.OnResult = m.Recompute
	queue.OnDepth = m.QueueDepth
	queue.Start(ctx)

	engine := &settlement.Engine{
		Store:       lb.Store,
		Sink:        sink,
		Events:      events,
		Recompute:   queue,
		Metrics:     m,
		Log:         log,
		Parallelism: cfg.SettlementParallelism,
	}

	// Poller: consulta o status dos mercados com ordens casadas
	poller := &settlement.Poller{Store: lb.Store, Oracle: orc, Engine: engine, Metrics: m, Log: log}
	go poller.Run(ctx, cfg.SettlementPollInterval)

	// Consumer: fechamentos publicados por sistemas externos
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicMarketClosed, consumerGroup)
	defer reader.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicMarketClosedDL)
	if dlq == nil {
		log.Fatal("dlq topic is required")
	}
	defer dlq.Close()

	consumer := &settlement.Consumer{
		Log:        log,
		Reader:     reader,
		DLQ:        dlq,
		Settler:    engine,
		OnConsumed: consumed.Inc,
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(log, cfg.MetricsPort, func(ctx context.Context) error {
		if err := lb.Ping(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	log.Info("consumer started",
		zap.String("topic", cfg.TopicMarketClosed),
		zap.String("dlq", cfg.TopicMarketClosedDL),
		zap.Duration("poll_interval", cfg.SettlementPollInterval))
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("shutdown complete")
}
