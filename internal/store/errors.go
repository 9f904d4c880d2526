package store

import "errors"

var (
	ErrCounterNotFound    = errors.New("counter not found")
	ErrEntryNotFound      = errors.New("queue entry not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
)
