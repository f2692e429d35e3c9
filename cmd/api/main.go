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

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/companion-chat/internal/ai"
	"github.com/suPer8Hu/companion-chat/internal/chat"
	"github.com/suPer8Hu/companion-chat/internal/companion"
	"github.com/suPer8Hu/companion-chat/internal/config"
	"github.com/suPer8Hu/companion-chat/internal/db"
	"github.com/suPer8Hu/companion-chat/internal/httpapi"
	"github.com/suPer8Hu/companion-chat/internal/httpapi/handlers"
	"github.com/suPer8Hu/companion-chat/internal/quota"
	"github.com/suPer8Hu/companion-chat/internal/store/natsbus"
	"github.com/suPer8Hu/companion-chat/internal/store/rabbitmq"
	"github.com/suPer8Hu/companion-chat/internal/store/redisstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	companions := companion.NewRepo(gdb)
	messages := chat.NewRepo(gdb)

	builtin := companion.NewMemoryRegistry(companion.Seed())
	registry := companion.Chain{builtin, companion.NewRepoRegistry(companions)}

	ledger := newLedger(cfg)
	responder := newResponder(cfg, registry)

	hub := chat.NewHub(64)
	listeners := chat.Listeners{hub}
	var sinks []*chat.AsyncSink

	// a dropped quota event hands the user a message back on reopen, so this
	// sink waits for room instead of dropping right away
	quotaSink := chat.NewAsyncSink("QuotaSink", 1024, chat.UserMessage, func(ctx context.Context, e chat.Event) error {
		return ledger.Consume(ctx, e.UserID, e.CompanionID, e.At)
	}, chat.BlockFor(2*time.Second))
	listeners = append(listeners, quotaSink)
	sinks = append(sinks, quotaSink)

	switch cfg.PersistMode {
	case config.PersistDirect:
		s := chat.NewAsyncSink("PersistSink", 1024, chat.Persistable, messages.Apply)
		listeners = append(listeners, s)
		sinks = append(sinks, s)
	case config.PersistQueue:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer pub.Close()
		s := chat.NewAsyncSink("QueueSink", 1024, chat.Persistable, pub.PublishEvent)
		listeners = append(listeners, s)
		sinks = append(sinks, s)
	}
	log.Printf("persistence mode=%s", cfg.PersistMode)

	if cfg.NatsURL != "" {
		bus, err := natsbus.NewPublisher(cfg.NatsURL, cfg.NatsStream, cfg.NatsSubjectPrefix)
		if err != nil {
			log.Printf("nats disabled: %v", err)
		} else {
			defer bus.Close()
			s := chat.NewAsyncSink("NatsSink", 1024, nil, bus.PublishEvent)
			listeners = append(listeners, s)
			sinks = append(sinks, s)
		}
	}

	mgr := chat.NewManager(chat.ManagerOptions{
		Registry:     registry,
		Ledger:       ledger,
		Responder:    responder,
		Listener:     listeners,
		DailyQuota:   cfg.DailyQuota,
		ReplyDelay:   cfg.ReplyDelay,
		ReplyTimeout: cfg.ReplyTimeout,
	})

	h := handlers.NewHandler(handlers.Deps{
		Sessions:   mgr,
		Hub:        hub,
		Messages:   messages,
		Companions: companions,
		Builtin:    builtin,
	})
	r := httpapi.NewRouter(h, cfg.JWTSecret)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("api listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	// closing sessions emits their final events, so sinks drain afterwards
	mgr.Shutdown()
	for _, s := range sinks {
		s.Close()
	}
}

func newLedger(cfg config.Config) chat.QuotaLedger {
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rds.Ping(ctx); err != nil {
		log.Printf("redis unavailable, quota ledger kept in memory: %v", err)
		_ = rds.Close()
		return quota.NewMemoryLedger()
	}
	return rds
}

func newResponder(cfg config.Config, registry companion.Registry) chat.Responder {
	if cfg.AIProvider == "" || cfg.AIProvider == "placeholder" {
		return nil
	}
	reg := ai.DefaultRegistry(ai.Settings{
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OllamaModel:       cfg.OllamaModel,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterModel:   cfg.OpenRouterModel,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	provider, err := reg.New(cfg.AIProvider, cfg.AIModel)
	if err != nil {
		log.Fatalf("ai provider %q: %v (known: %v)", cfg.AIProvider, err, reg.Names())
	}
	log.Printf("ai responder provider=%s", cfg.AIProvider)
	return ai.NewCompanionResponder(provider, registry, cfg.ChatContextWindowSize)
}
