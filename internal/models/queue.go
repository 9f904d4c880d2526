package models

import "time"

type QueueEntry struct {
	EntryID           string     `json:"entry_id"`
	QueueID           string     `json:"queue_id"`
	ChatID            string     `json:"chat_id,omitempty"`
	Status            string     `json:"status"`
	CounterID         *string    `json:"counter_id,omitempty"`
	NotifyRequested   bool       `json:"server_notify_requested"`
	NotifyRequestedAt *time.Time `json:"server_notify_requested_at,omitempty"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
	NotifyAttempts    int        `json:"notify_attempts,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

const (
	StatusWaiting = "waiting"
	StatusServing = "serving"
)
