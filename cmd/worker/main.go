package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chat-rooms/internal/audit"
	"github.com/suPer8Hu/chat-rooms/internal/config"
	"github.com/suPer8Hu/chat-rooms/internal/db"
	"github.com/suPer8Hu/chat-rooms/internal/store/rabbitmq"
)

const (
	maxAttempts   = 5
	retryDelay    = 5 * time.Second
	attemptHeader = "x-attempt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	gdb := db.Connect(cfg.DBDSN)
	repo := audit.NewRepo(gdb)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Error("automigrate", "err", err)
		os.Exit(1)
	}
	consumer := audit.NewConsumer(repo, log)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Error("rabbit dial", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Error("rabbit channel", "err", err)
		os.Exit(1)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Error("queue declare", "err", err)
		os.Exit(1)
	}

	// retries are published on their own channel
	retryCh, err := conn.Channel()
	if err != nil {
		log.Error("rabbit retry channel", "err", err)
		os.Exit(1)
	}
	defer retryCh.Close()
	retry := &retrier{ch: retryCh, queue: rabbitmq.RetryQueue(cfg.RabbitQueue)}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Error("qos", "err", err)
		os.Exit(1)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Error("consume", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With("worker", workerID)
			for d := range jobs {
				handle(ctx, wlog, consumer, retry, d)
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				os.Exit(1)
			}
			jobs <- d
		}
	}
}

func handle(ctx context.Context, log *slog.Logger, consumer *audit.Consumer, retry *retrier, d amqp.Delivery) {
	start := time.Now()
	err := consumer.Handle(ctx, d.Body)
	if err == nil {
		if err := d.Ack(false); err != nil {
			log.Warn("ack failed", "message_id", d.MessageId, "err", err)
		}
		return
	}

	attempt := attemptOf(d)
	log = log.With("message_id", d.MessageId, "attempt", attempt, "cost", time.Since(start), "err", err)

	// malformed or exhausted: dead-letter to the DLQ
	if errors.Is(err, audit.ErrMalformed) || attempt >= maxAttempts {
		log.Error("audit message dead-lettered")
		_ = d.Nack(false, false)
		return
	}

	if perr := retry.publish(ctx, d, attempt+1); perr != nil {
		log.Error("schedule retry failed, requeueing", "retry_err", perr)
		_ = d.Nack(false, true)
		return
	}
	log.Warn("audit message scheduled for retry")
	_ = d.Ack(false)
}

func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

// retrier parks a delivery on the retry queue, which dead-letters it back to
// the main queue once its TTL expires.
type retrier struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

func (r *retrier) publish(ctx context.Context, d amqp.Delivery, attempt int) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch.PublishWithContext(cctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Type:         d.Type,
		Timestamp:    d.Timestamp,
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Expiration:   strconv.FormatInt((retryDelay * time.Duration(attempt)).Milliseconds(), 10),
		Body:         d.Body,
	})
}
