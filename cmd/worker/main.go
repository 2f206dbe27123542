package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/speak-arena/internal/config"
	"github.com/suPer8Hu/speak-arena/internal/db"
	"github.com/suPer8Hu/speak-arena/internal/moderation"
	"github.com/suPer8Hu/speak-arena/internal/store/rabbitmq"
)

const (
	maxAttempts = 3
	retryDelay  = 5 * time.Second
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb, &moderation.AuditEvent{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	audit := moderation.NewAuditRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	queues, err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	//  strict concurrency control
	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(queues.Main, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", queues.Main, concurrency)

	// amqp channels are not safe for concurrent publishing
	var pubMu sync.Mutex
	retry := func(d amqp.Delivery) error {
		pubMu.Lock()
		defer pubMu.Unlock()
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ch.PublishWithContext(cctx, "", queues.Retry, false, false, rabbitmq.RetryMessage(d, retryDelay))
	}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				ev, err := rabbitmq.DecodeEvent(d.Body)
				if err != nil {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := audit.Record(ctx, ev); err != nil {
					handleFailure(workerID, d, ev, err, retry)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed event=%s err=%v", workerID, ev.ID, err)
				}
				if cost := time.Since(start); cost > 500*time.Millisecond {
					log.Printf("event_timing event=%s player=%s cost=%s", ev.ID, ev.PlayerID, cost)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}

// handleFailure sends d through the retry queue until maxAttempts, then to the DLQ.
func handleFailure(workerID int, d amqp.Delivery, ev moderation.Event, cause error, retry func(amqp.Delivery) error) {
	attempts := rabbitmq.Attempts(d.Headers)
	if errors.Is(cause, context.Canceled) {
		// shutting down; let another consumer pick it up
		_ = d.Nack(false, true)
		return
	}
	if attempts+1 >= maxAttempts {
		log.Printf("worker=%d event %s dead-lettered attempts=%d err=%v", workerID, ev.ID, attempts+1, cause)
		_ = d.Nack(false, false)
		return
	}
	if err := retry(d); err != nil {
		log.Printf("worker=%d retry publish failed event=%s err=%v", workerID, ev.ID, err)
		_ = d.Nack(false, false)
		return
	}
	log.Printf("worker=%d event %s scheduled for retry attempts=%d err=%v", workerID, ev.ID, attempts+1, cause)
	_ = d.Ack(false)
}
