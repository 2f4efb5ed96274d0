package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-payment-orders/internal/config"
	"github.com/ariefcatur/go-payment-orders/internal/gateway"
	"github.com/ariefcatur/go-payment-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-payment-orders/internal/kafka"
	"github.com/ariefcatur/go-payment-orders/internal/lock"
	"github.com/ariefcatur/go-payment-orders/internal/logger"
	"github.com/ariefcatur/go-payment-orders/internal/orders"
	"github.com/ariefcatur/go-payment-orders/internal/payment"
	"github.com/ariefcatur/go-payment-orders/internal/postgres"
	"github.com/ariefcatur/go-payment-orders/internal/redisx"
	"github.com/ariefcatur/go-payment-orders/internal/settlement"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Ledger + audit
	var (
		ledger orders.Ledger
		audit  orders.AuditLog
		locker lock.Locker
	)
	switch cfg.LedgerDriver {
	case "memory":
		logger.Log.Warn("memory ledger: orders are lost on restart, run a single instance only")
		ledger = orders.NewMemoryLedger()
		audit = &orders.MemoryAudit{}
		locker = lock.NewKeyed()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Log.Fatal("db connect", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			logger.Log.Fatal("db migrate", zap.Error(err))
		}
		ledger = &orders.Repo{DB: db}
		audit = &orders.AuditRepo{DB: db}
		locker = lock.NewRedis(rdb, cfg.Policy.LockTTL)
	}

	// Collaborators fail closed on missing credentials
	gw, err := gateway.NewClient(cfg.Gateway)
	if err != nil {
		logger.Log.Fatal("gateway client", zap.Error(err))
	}
	disp, err := settlement.NewDispatcher(cfg.Settlement, payment.BoundAudit(audit, cfg.Policy.StoreTimeout))
	if err != nil {
		logger.Log.Fatal("settlement dispatcher", zap.Error(err))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderLifecycle, 1024)
	prod.Start(ctx)

	svc := payment.NewService(payment.Deps{
		Ledger:      ledger,
		Audit:       audit,
		Gateway:     gw,
		Settler:     disp,
		Locker:      locker,
		Events:      prod,
		ServiceName: cfg.ServiceName,
	}, cfg.Policy)

	router := httpx.NewRouter(cfg.Gateway.Timeout + cfg.Settlement.Timeout + 5*time.Second)
	ph := &httpx.PaymentsHandler{
		Service:    svc,
		Idem:       &redisx.IdempotencyStore{RDB: rdb, TTL: cfg.Policy.IdempotencyTTL},
		Policy:     cfg.Policy,
		AdminToken: cfg.AdminToken,
	}
	ph.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("ledger", cfg.LedgerDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Log.Info("shutting down")

	// in-flight settlements may take up to the settlement timeout
	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.Settlement.Timeout+5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	cancel()
	prod.WaitClosed()
}
