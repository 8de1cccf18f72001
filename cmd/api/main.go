package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-checkout-payments/internal/catalog"
	"github.com/ariefcatur/go-checkout-payments/internal/checkout"
	"github.com/ariefcatur/go-checkout-payments/internal/config"
	"github.com/ariefcatur/go-checkout-payments/internal/gateway"
	"github.com/ariefcatur/go-checkout-payments/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-payments/internal/kafka"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/ariefcatur/go-checkout-payments/internal/payments"
	"github.com/ariefcatur/go-checkout-payments/internal/postgres"
	"github.com/ariefcatur/go-checkout-payments/internal/pricing"
	"github.com/ariefcatur/go-checkout-payments/internal/promotion"
	"github.com/ariefcatur/go-checkout-payments/internal/redisx"
	"github.com/ariefcatur/go-checkout-payments/internal/shipping"
	"github.com/ariefcatur/go-checkout-payments/internal/telemetry"
	"github.com/ariefcatur/go-checkout-payments/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := telemetry.InitLogger(cfg.ServiceName, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Error("tracer setup", "error", err)
		os.Exit(1)
	}

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
	statusCache := &redisx.StatusCache{RDB: rdb}

	// Kafka producer, one for every topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start()

	// Domain
	orderRepo := &orders.Repo{DB: db}
	zoneRepo := &shipping.Repo{DB: db}
	engine := &pricing.Engine{
		Promotions: promotion.NewValidator(&promotion.Repo{DB: db}),
		Zones:      shipping.NewResolver(zoneRepo),
	}
	checkoutSvc := &checkout.Service{
		Catalog:     &catalog.Repo{DB: db},
		Pricer:      engine,
		Orders:      orderRepo,
		Idem:        &redisx.Idempotency{RDB: rdb},
		Cache:       statusCache,
		Producer:    prod,
		Currency:    cfg.Gateway.Currency,
		ServiceName: cfg.ServiceName,
		Log:         log,
	}
	reconciler := &payments.Reconciler{
		Orders:   orderRepo,
		Producer: prod,
		Cache:    statusCache,
		Service:  cfg.ServiceName,
		Log:      log,
	}
	paymentSvc := &payments.Service{
		Orders:      orderRepo,
		Gateway:     gateway.New(cfg.Gateway),
		Reconciler:  reconciler,
		Verifier:    webhook.NewVerifier(cfg.Gateway.WebhookSecret),
		Dedup:       &redisx.Dedup{RDB: rdb, Service: cfg.ServiceName},
		Producer:    prod,
		ServiceName: cfg.ServiceName,
		CallbackURL: cfg.Gateway.CallbackURL,
		Log:         log,
	}
	if cfg.Gateway.WebhookSecret == "" {
		log.Warn("no webhook secret configured, every webhook will be rejected")
	}

	// Router & handlers
	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{Service: checkoutSvc, Log: log}).Register(router)
	(&httpx.OrdersHandler{Repo: orderRepo, Cache: statusCache, Log: log}).Register(router)
	(&httpx.PaymentsHandler{Service: paymentSvc, Log: log}).Register(router)
	(&httpx.AdminHandler{Zones: zoneRepo, Log: log}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Error("http shutdown", "error", err)
	}
	prod.Close()
	prod.WaitClosed()
	if err := shutdownTracer(ctx2); err != nil {
		slog.Error("tracer shutdown", "error", err)
	}
}
