package store

import (
	"context"
	"encoding/json"
	"time"

	"queuejoy/internal/models"
)

type CreateCounterInput struct {
	Name      string
	Prefix    string
	CreatedAt time.Time
}

type CounterActionInput struct {
	CounterID  string
	OccurredAt time.Time
}

type RegisterTicketInput struct {
	QueueID   string
	ChatID    string
	CreatedAt time.Time
}

// NotifyRequest is one pending customer notification, joined with the name
// of the counter that requested it (empty when the counter was deleted).
type NotifyRequest struct {
	EntryID     string
	QueueID     string
	ChatID      string
	CounterID   string
	CounterName string
	Attempts    int
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type OutboxOffset struct {
	LastEventTime time.Time
	LastEventID   string
}

type LoginInput struct {
	Username string
	Password string
	TTL      time.Duration
}

type Session struct {
	SessionID string
	Username  string
	ExpiresAt time.Time
}

type Store interface {
	CreateCounter(ctx context.Context, input CreateCounterInput) (models.Counter, error)
	GetCounter(ctx context.Context, counterID string) (models.Counter, bool, error)
	ListCounters(ctx context.Context) ([]models.Counter, error)
	CallNext(ctx context.Context, input CounterActionInput) (models.Counter, error)
	SkipServing(ctx context.Context, input CounterActionInput) (models.Counter, error)
	ResetCounter(ctx context.Context, input CounterActionInput) (models.Counter, error)
	DeleteCounter(ctx context.Context, counterID string) error

	RegisterTicket(ctx context.Context, input RegisterTicketInput) (models.QueueEntry, error)
	LinkChat(ctx context.Context, entryID, chatID string) (models.QueueEntry, error)
	LinkChatByQueueID(ctx context.Context, queueID, chatID string) (int, error)
	ListQueue(ctx context.Context) ([]models.QueueEntry, error)

	CorrelateServing(ctx context.Context, targetQueueID, counterID string, now time.Time) ([]string, error)

	ListNotifyRequests(ctx context.Context, limit int) ([]NotifyRequest, error)
	MarkNotified(ctx context.Context, entryID string, at time.Time) error
	MarkNotifyFailed(ctx context.Context, entryID, reason string) (int, error)
	AbandonNotify(ctx context.Context, entryID string) error

	ListOutboxEvents(ctx context.Context, offset OutboxOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context) (OutboxOffset, error)
	UpdateOffset(ctx context.Context, offset OutboxOffset) error

	Login(ctx context.Context, input LoginInput) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}
