package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-checkout-payments/internal/config"
	"github.com/ariefcatur/go-checkout-payments/internal/eventlog"
	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/postgres"
	"github.com/ariefcatur/go-checkout-payments/internal/redisx"
	"github.com/ariefcatur/go-checkout-payments/internal/telemetry"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-eventlog"
	log := telemetry.InitLogger(service, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "error", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &eventlog.Service{
		Store: &eventlog.Repo{DB: db},
		Dedup: &redisx.Dedup{RDB: rdb, Service: service},
		Log:   log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.EventlogGroup, orders.PaymentTopics, cfg.EventlogWorkers)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info("eventlog consumer started", "group", cfg.EventlogGroup, "topics", orders.PaymentTopics, "workers", cfg.EventlogWorkers)
		if err := cons.Start(ctx, svc.HandlePaymentEvent); err != nil {
			log.Error("consumer exit", "error", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down consumer")
	cancel()
	<-done
}
