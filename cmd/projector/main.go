package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maisonvintage/orderflow/internal/config"
	kafkax "github.com/maisonvintage/orderflow/internal/kafka"
	"github.com/maisonvintage/orderflow/internal/orders"
	"github.com/maisonvintage/orderflow/internal/projection"
	"github.com/maisonvintage/orderflow/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	proj := &projection.Projector{Redis: rdb}

	topics := []string{
		orders.TopicOrderCreated,
		orders.TopicOrderPaid,
		orders.TopicPaymentFailed,
		orders.TopicOrderCanceled,
		orders.TopicOrderStatus,
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		c := kafkax.NewConsumer(cfg.KafkaBrokers, "status-projector", topic, 4)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			log.Printf("projector consuming %s", topic)
			if err := c.Start(ctx, proj.Handle); err != nil {
				log.Printf("consumer %s stopped: %v", topic, err)
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")
	cancelFn()
	wg.Wait()
}
