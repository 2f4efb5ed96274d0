package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/gateway"
	"github.com/ariefcatur/go-payment-orders/internal/journal"
	kafkax "github.com/ariefcatur/go-payment-orders/internal/kafka"
	"github.com/ariefcatur/go-payment-orders/internal/lock"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/ariefcatur/go-payment-orders/internal/payment"
	"github.com/ariefcatur/go-payment-orders/internal/postgres"
	"github.com/ariefcatur/go-payment-orders/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	if cfg.LedgerDriver != "postgres" {
		logger.Log.Fatal("worker needs the postgres ledger", zap.String("driver", cfg.LedgerDriver))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Log.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	gw, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		logger.Log.Fatal("gateway client", zap.Error(err))
	}

	// OrderExpired events from the sweep go out on a producer that
	// outlives ctx so the final batch is flushed.
	prodCtx, prodCancel := context.WithCancel(context.Background())
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024)
	prod.Start(prodCtx)

	// Sweep never settles, so no Settler is wired.
	svc := payment.NewService(payment.Deps{
		Ledger:      &orders.Repo{DB: db},
		Audit:       &orders.AuditRepo{DB: db},
		Gateway:     gw,
		Locker:      lock.NewRedis(rdb, cfg.Policy.LockTTL),
		Events:      prod,
		ServiceName: cfg.ServiceName + "-worker",
	}, cfg.Policy)

	sink := &journal.Service{
		Store: &orders.EventRepo{DB: db},
		Redis: rdb,
		Name:  "journal",
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Worker.JournalGroup, orders.TopicOrderLifecycle, cfg.Worker.JournalWorker)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info("journal consumer started",
			zap.String("group", cfg.Worker.JournalGroup),
			zap.String("topic", orders.TopicOrderLifecycle),
			zap.Int("workers", cfg.Worker.JournalWorker),
		)
		return cons.Start(gctx, sink.HandleEvent)
	})
	g.Go(func() error {
		runSweeper(gctx, svc, cfg.Worker.SweepInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Log.Error("worker exit", zap.Error(err))
	}
	logger.Log.Info("shutting down worker")
	prod.Close()
	prodCancel()
	prod.WaitClosed()
}

func runSweeper(ctx context.Context, svc *payment.Service, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.Sweep(ctx)
			if err != nil {
				logger.Log.Warn("sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Log.Info("sweep expired orders", zap.Int("count", n))
			}
		}
	}
}
