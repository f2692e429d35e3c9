package main

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/config"
	"github.com/suPer8Hu/companion-chat/internal/db"
	"github.com/suPer8Hu/companion-chat/internal/store/rabbitmq"
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

// The persistence worker drains session events published with PERSIST_MODE=queue
// into chat_messages.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

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

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// events of one session must be applied in order, so each session is pinned
	// to one worker
	lanes := make([]chan amqp.Delivery, concurrency)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := range lanes {
		lanes[i] = make(chan amqp.Delivery, 2)
		go func(workerID int, jobs <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(repo, workerID, d)
			}
		}(i, lanes[i])
	}

	err = dispatch(ctx, msgs, lanes)
	wg.Wait()
	if err != nil {
		// exit so the supervisor restarts us with a fresh connection
		log.Fatalf("worker stopped: %v", err)
	}
	log.Printf("worker shutting down")
}

var errDeliveriesClosed = errors.New("delivery channel closed")

// dispatch routes deliveries onto lanes until ctx ends or the broker closes the
// delivery channel. Every lane is closed before it returns.
func dispatch(ctx context.Context, msgs <-chan amqp.Delivery, lanes []chan amqp.Delivery) error {
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errDeliveriesClosed
			}
			select {
			case lanes[laneFor(d.MessageId, len(lanes))] <- d:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func laneFor(sessionID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(n))
}

func handleDelivery(repo *chat.Repo, workerID int, d amqp.Delivery) {
	e, err := rabbitmq.DecodeEvent(d.Body)
	if err != nil || e.SessionID == "" {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = repo.Apply(actx, e)
	cancel()
	if err != nil {
		log.Printf("worker=%d apply failed session_id=%s type=%s cost=%s err=%v", workerID, e.SessionID, e.Type, time.Since(start), err)
		_ = d.Nack(false, false)
		return
	}
	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed session_id=%s err=%v", workerID, e.SessionID, err)
	}
	if cost := time.Since(start); cost > 500*time.Millisecond {
		log.Printf("apply_timing worker=%d session_id=%s type=%s cost=%s", workerID, e.SessionID, e.Type, cost)
	}
}
