package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maisonvintage/orderflow/internal/config"
	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/ledger"
	"github.com/maisonvintage/orderflow/internal/notify"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/postgres"
	"github.com/maisonvintage/orderflow/internal/reaper"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	pCanceled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCanceled, 256)
	pCanceled.Start()

	mailWriter := kafkax.NewSyncWriter(cfg.KafkaBrokers, orders.TopicNotifications)
	defer mailWriter.Close()

	led := &ledger.Ledger{DB: db}
	r := &reaper.Reaper{
		Store:    &orders.PGStore{DB: db, Ledger: led},
		Notifier: &notify.KafkaNotifier{Writer: mailWriter, FromEmail: cfg.FromEmail, SellerEmail: cfg.SellerEmail, Service: cfg.ServiceName},
		Events:   pCanceled,
		Interval: cfg.ReaperInterval,
		Service:  cfg.ServiceName,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("shutting down...")
		cancelFn()
	}()

	log.Printf("reaper sweeping every %s", cfg.ReaperInterval)
	r.Run(ctx)

	pCanceled.Close()
	pCanceled.WaitClosed()
}
