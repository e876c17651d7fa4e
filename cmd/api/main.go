package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/maisonvintage/orderflow/internal/cancel"
	"github.com/maisonvintage/orderflow/internal/checkout"
	"github.com/maisonvintage/orderflow/internal/config"
	"github.com/maisonvintage/orderflow/internal/httpx"
	"github.com/maisonvintage/orderflow/internal/invoice"
	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/payment"
	"github.com/maisonvintage/orderflow/internal/postgres"
	"github.com/maisonvintage/orderflow/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pPaid := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPaid, 1024)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicPaymentFailed, 1024)
	pCanceled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCanceled, 1024)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024)
	producers := []*kafkax.Producer{pCreated, pPaid, pFailed, pCanceled, pStatus}
	for _, p := range producers {
		p.Start()
	}

	// Notifications use a synchronous writer: processors gate state on
	// confirmed delivery.
	mailWriter := kafkax.NewSyncWriter(cfg.KafkaBrokers, orders.TopicNotifications)
	defer mailWriter.Close()
	notifier := &notify.KafkaNotifier{Writer: mailWriter, FromEmail: cfg.FromEmail, SellerEmail: cfg.SellerEmail, Service: cfg.ServiceName}

	// Wiring
	led := &ledger.Ledger{DB: db}
	store := &orders.PGStore{DB: db, Ledger: led}
	carts := &checkout.RedisCartStore{Client: rdb}
	gateway := payment.NewStripeClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey,
		cfg.GatewaySuccessURL, cfg.GatewayCancelURL, cfg.Currency, cfg.EnablePaypal)
	invoices := &invoice.TextGenerator{}

	orchestrator := &checkout.Orchestrator{
		Store:     store,
		Catalog:   led,
		Carts:     carts,
		Gateway:   gateway,
		Notifier:  notifier,
		Events:    pCreated,
		RefPrefix: cfg.ReferencePrefix,
		CardTTL:   cfg.CardReservationTTL,
		BankTTL:   cfg.BankReservationTTL,
		Service:   cfg.ServiceName,
	}
	compensator := &cancel.Compensator{
		Store:    store,
		Gateway:  gateway,
		Notifier: notifier,
		Events:   pCanceled,
		Service:  cfg.ServiceName,
	}
	processor := &payment.Processor{
		Store:        store,
		Invoices:     invoices,
		Notifier:     notifier,
		EventsPaid:   pPaid,
		EventsFailed: pFailed,
		Redis:        rdb,
		Secret:       cfg.GatewayWebhookSecret,
		Service:      cfg.ServiceName,
	}

	router := httpx.NewRouter()
	(&httpx.CatalogHandler{Catalog: led}).Register(router)
	(&httpx.CartHandler{Carts: carts, Catalog: led}).Register(router)
	(&httpx.CheckoutHandler{Carts: carts, Orchestrator: orchestrator}).Register(router)
	(&httpx.OrdersHandler{Store: store, Redis: rdb, Compensator: compensator, Invoices: invoices}).Register(router)
	(&httpx.AdminHandler{Store: store, Redis: rdb, Compensator: compensator, Notifier: notifier, Events: pStatus, Service: cfg.ServiceName}).Register(router)
	(&httpx.WebhookHandler{Processor: processor}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	for _, p := range producers {
		p.Close()
	}
	cancelFn()
	for _, p := range producers {
		p.WaitClosed()
	}
}
