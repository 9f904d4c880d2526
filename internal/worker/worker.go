package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"queuejoy/internal/store"
	"queuejoy/internal/telegram"
	"queuejoy/internal/token"
)

// Sender is the outbound Telegram call the worker needs.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) (json.RawMessage, error)
}

// Store is the slice of the queue store the worker consumes.
type Store interface {
	ListNotifyRequests(ctx context.Context, limit int) ([]store.NotifyRequest, error)
	MarkNotified(ctx context.Context, entryID string, at time.Time) error
	MarkNotifyFailed(ctx context.Context, entryID, reason string) (int, error)
	AbandonNotify(ctx context.Context, entryID string) error
}

type Worker struct {
	store       Store
	sender      Sender
	batchSize   int
	maxAttempts int
}

type Config struct {
	BatchSize   int
	MaxAttempts int
}

func New(store Store, sender Sender, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Worker{
		store:       store,
		sender:      sender,
		batchSize:   batch,
		maxAttempts: maxAttempts,
	}
}

// Run delivers one batch of pending notifications. A delivery failure is
// retried on later runs until the attempt cap, then the request is abandoned.
func (w *Worker) Run(ctx context.Context) error {
	requests, err := w.store.ListNotifyRequests(ctx, w.batchSize)
	if err != nil {
		return err
	}

	for _, req := range requests {
		counterName := req.CounterName
		if counterName == "" {
			counterName = token.DefaultCounterName
		}
		message := telegram.NowServingMessage(req.QueueID, counterName)

		if _, err := w.sender.SendMessage(ctx, req.ChatID, message); err != nil {
			attempts, markErr := w.store.MarkNotifyFailed(ctx, req.EntryID, err.Error())
			if markErr != nil {
				log.Printf("notify mark failed error: %v", markErr)
				continue
			}
			if attempts >= w.maxAttempts {
				if abandonErr := w.store.AbandonNotify(ctx, req.EntryID); abandonErr != nil {
					log.Printf("notify abandon error: %v", abandonErr)
					continue
				}
				log.Printf("notify abandoned entry=%s after %d attempts: %v", req.EntryID, attempts, err)
			}
			continue
		}

		if err := w.store.MarkNotified(ctx, req.EntryID, time.Now().UTC()); err != nil {
			log.Printf("notify mark sent error: %v", err)
		}
	}
	return nil
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				log.Printf("notify worker error: %v", err)
			}
		}
	}
}
