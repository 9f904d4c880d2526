package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"queuejoy/internal/config"
	"queuejoy/internal/httpapi"
	"queuejoy/internal/hub"
	"queuejoy/internal/store/postgres"
	"queuejoy/internal/telegram"
	"queuejoy/internal/telemetry"
	"queuejoy/internal/worker"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const zeroUUID = "00000000-0000-0000-0000-000000000000"

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queuejoy")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	bot := telegram.NewClient(cfg.BotToken, cfg.TelegramAPIBase)
	h := httpapi.NewHandler(st, httpapi.Options{
		Telegram:        bot,
		BroadcastChatID: cfg.BroadcastChatID,
		SessionTTL:      cfg.SessionTTL,
	})
	feed := hub.New()
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", h.Routes())

	// Customers watch the board anonymously; a subscribe message narrows the
	// feed to one counter.
	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		feed.Register(client)
		defer feed.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				feed.UpdateSubscription(client, hub.Subscription{})
			} else {
				feed.UpdateSubscription(client, hub.Subscription{CounterID: parsed.CounterID})
			}
		}
	})
	mux.Handle("/realtime/", sockjsHandler)

	guarded := httpapi.AuthMiddleware(st, mux)
	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(guarded)), "queuejoy")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	offset, err := st.GetOffset(context.Background())
	if err != nil {
		log.Printf("load offset error: %v", err)
	}
	if offset.LastEventTime.IsZero() {
		offset.LastEventTime = time.Unix(0, 0).UTC()
	}
	if offset.LastEventID == "" {
		offset.LastEventID = zeroUUID
	}
	pollInterval := cfg.RealtimePollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	var polling int32

	go func() {
		log.Printf("queuejoy listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if !atomic.CompareAndSwapInt32(&polling, 0, 1) {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			events, err := st.ListOutboxEvents(ctx, offset, cfg.RealtimeBatchSize)
			cancel()
			if err != nil {
				log.Printf("list outbox error: %v", err)
			} else {
				for _, event := range events {
					offset.LastEventTime = event.CreatedAt
					offset.LastEventID = event.EventID
					env := eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
					payload, _ := json.Marshal(env)
					feed.Broadcast(payload, extractMeta(event.Payload))
				}
				if len(events) > 0 {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := st.UpdateOffset(ctx, offset); err != nil {
						log.Printf("update offset error: %v", err)
					}
					cancel()
				}
			}
			atomic.StoreInt32(&polling, 0)
		}
	}()

	notifier := worker.New(st, bot, worker.Config{
		BatchSize:   cfg.NotifyBatchSize,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})
	notifyInterval := cfg.NotifyPollInterval
	if notifyInterval <= 0 {
		notifyInterval = 5 * time.Second
	}
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if bot.Configured() {
		go worker.Start(workerCtx, notifyInterval, notifier)
	} else {
		log.Printf("BOT_TOKEN not set; notification delivery disabled")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func extractMeta(payload []byte) hub.Subscription {
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return hub.Subscription{}
	}
	counterID, _ := data["counter_id"].(string)
	return hub.Subscription{CounterID: counterID}
}
