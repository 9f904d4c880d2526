package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"queuejoy/internal/correlate"
	"queuejoy/internal/models"
	"queuejoy/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateCounter(ctx context.Context, input store.CreateCounterInput) (models.Counter, error) {
	counter := models.Counter{
		CounterID:  uuid.NewString(),
		Name:       strings.TrimSpace(input.Name),
		Prefix:     strings.ToUpper(strings.TrimSpace(input.Prefix)),
		NowServing: 1,
		LastIssued: 0,
		Active:     true,
		Busy:       false,
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO counters (counter_id, name, prefix, now_serving, last_issued, active, busy)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, counter.CounterID, counter.Name, counter.Prefix, counter.NowServing, counter.LastIssued, counter.Active, counter.Busy)
	if err != nil {
		return models.Counter{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "counter.created", counter); err != nil {
		return models.Counter{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Counter{}, err
	}
	return counter, nil
}

func (s *Store) GetCounter(ctx context.Context, counterID string) (models.Counter, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT counter_id, name, prefix, now_serving, last_issued, active, busy, last_advance_at
		FROM counters
		WHERE counter_id = $1
	`, counterID)

	counter, err := scanCounter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, false, nil
		}
		return models.Counter{}, false, err
	}
	return counter, true, nil
}

func (s *Store) ListCounters(ctx context.Context) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT counter_id, name, prefix, now_serving, last_issued, active, busy, last_advance_at
		FROM counters
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		counter, err := scanCounter(rows)
		if err != nil {
			return nil, err
		}
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

// CallNext issues and serves the next number in one statement: both
// last_issued and now_serving land on last_issued+1.
func (s *Store) CallNext(ctx context.Context, input store.CounterActionInput) (models.Counter, error) {
	return s.advanceCounter(ctx, input, `
		UPDATE counters
		SET last_issued = last_issued + 1,
		    now_serving = last_issued + 1,
		    busy = FALSE,
		    last_advance_at = $2
		WHERE counter_id = $1
		RETURNING counter_id, name, prefix, now_serving, last_issued, active, busy, last_advance_at
	`)
}

// SkipServing advances now_serving only. last_issued is deliberately left
// alone, so a skip can move now_serving past it.
func (s *Store) SkipServing(ctx context.Context, input store.CounterActionInput) (models.Counter, error) {
	return s.advanceCounter(ctx, input, `
		UPDATE counters
		SET now_serving = now_serving + 1,
		    busy = FALSE,
		    last_advance_at = $2
		WHERE counter_id = $1
		RETURNING counter_id, name, prefix, now_serving, last_issued, active, busy, last_advance_at
	`)
}

func (s *Store) ResetCounter(ctx context.Context, input store.CounterActionInput) (models.Counter, error) {
	return s.advanceCounter(ctx, input, `
		UPDATE counters
		SET now_serving = 1,
		    last_issued = 0,
		    busy = FALSE,
		    last_advance_at = $2
		WHERE counter_id = $1
		RETURNING counter_id, name, prefix, now_serving, last_issued, active, busy, last_advance_at
	`)
}

func (s *Store) advanceCounter(ctx context.Context, input store.CounterActionInput, query string) (models.Counter, error) {
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Counter{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, query, input.CounterID, occurredAt)
	counter, err := scanCounter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "counter.updated", counter); err != nil {
		return models.Counter{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Counter{}, err
	}
	return counter, nil
}

// DeleteCounter removes the counter row only. Queue entries that reference
// it keep their counter_id; the reference is advisory.
func (s *Store) DeleteCounter(ctx context.Context, counterID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM counters WHERE counter_id = $1`, counterID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = store.ErrCounterNotFound
		return err
	}

	if err = insertOutboxEvent(ctx, tx, "counter.deleted", map[string]string{"counter_id": counterID}); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

func (s *Store) RegisterTicket(ctx context.Context, input store.RegisterTicketInput) (models.QueueEntry, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	entry := models.QueueEntry{
		EntryID:   uuid.NewString(),
		QueueID:   strings.TrimSpace(input.QueueID),
		ChatID:    strings.TrimSpace(input.ChatID),
		Status:    models.StatusWaiting,
		CreatedAt: createdAt,
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_entries (entry_id, queue_id, chat_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.EntryID, entry.QueueID, entry.ChatID, entry.Status, entry.CreatedAt)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "queue.created", entry); err != nil {
		return models.QueueEntry{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) LinkChat(ctx context.Context, entryID, chatID string) (models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_entries
		SET chat_id = $2
		WHERE entry_id = $1
		RETURNING entry_id, queue_id, chat_id, status, counter_id,
		          server_notify_requested, server_notify_requested_at, notified_at,
		          notify_attempts, created_at
	`, entryID, strings.TrimSpace(chatID))

	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// LinkChatByQueueID attaches a chat to every unlinked entry that carries the
// given ticket number. Used by the webhook when a /start token arrives.
func (s *Store) LinkChatByQueueID(ctx context.Context, queueID, chatID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE queue_entries
		SET chat_id = $2
		WHERE btrim(queue_id) = $1 AND chat_id = ''
	`, strings.TrimSpace(queueID), strings.TrimSpace(chatID))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListQueue(ctx context.Context) ([]models.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, queue_id, chat_id, status, counter_id,
		       server_notify_requested, server_notify_requested_at, notified_at,
		       notify_attempts, created_at
		FROM queue_entries
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CorrelateServing flags every linked entry matching the called number. The
// snapshot scan and the multi-row commit run in one transaction, so all
// staged updates land together or not at all. Zero matches is a no-op.
func (s *Store) CorrelateServing(ctx context.Context, targetQueueID, counterID string, now time.Time) ([]string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `SELECT entry_id, queue_id, chat_id FROM queue_entries`)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]models.QueueEntry)
	for rows.Next() {
		var entry models.QueueEntry
		if err = rows.Scan(&entry.EntryID, &entry.QueueID, &entry.ChatID); err != nil {
			rows.Close()
			return nil, err
		}
		snapshot[entry.EntryID] = entry
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	staged := correlate.Stage(snapshot, targetQueueID, counterID, now)
	if staged.Empty() {
		err = tx.Commit(ctx)
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE queue_entries
		SET status = $2,
		    counter_id = $3,
		    server_notify_requested = TRUE,
		    server_notify_requested_at = $4,
		    notified_at = $4
		WHERE entry_id = ANY($1)
	`, staged.EntryIDs, staged.Status, staged.CounterID, staged.At)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"counter_id": counterID,
		"queue_id":   targetQueueID,
		"entry_ids":  staged.EntryIDs,
	}
	if err = insertOutboxEvent(ctx, tx, "queue.updated", payload); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return staged.EntryIDs, nil
}

func (s *Store) ListNotifyRequests(ctx context.Context, limit int) ([]store.NotifyRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT e.entry_id, e.queue_id, e.chat_id, COALESCE(e.counter_id::text, ''), COALESCE(c.name, ''), e.notify_attempts
		FROM queue_entries e
		LEFT JOIN counters c ON c.counter_id = e.counter_id
		WHERE e.server_notify_requested AND e.chat_id <> ''
		ORDER BY e.server_notify_requested_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []store.NotifyRequest
	for rows.Next() {
		var req store.NotifyRequest
		if err := rows.Scan(&req.EntryID, &req.QueueID, &req.ChatID, &req.CounterID, &req.CounterName, &req.Attempts); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Store) MarkNotified(ctx context.Context, entryID string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_entries
		SET server_notify_requested = FALSE, notified_at = $2, notify_last_error = NULL
		WHERE entry_id = $1
	`, entryID, at)
	return err
}

func (s *Store) MarkNotifyFailed(ctx context.Context, entryID, reason string) (int, error) {
	var attempts int
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_entries
		SET notify_attempts = notify_attempts + 1, notify_last_error = $2
		WHERE entry_id = $1
		RETURNING notify_attempts
	`, entryID, reason)
	if err := row.Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrEntryNotFound
		}
		return 0, err
	}
	return attempts, nil
}

func (s *Store) AbandonNotify(ctx context.Context, entryID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_entries
		SET server_notify_requested = FALSE
		WHERE entry_id = $1
	`, entryID)
	return err
}

func (s *Store) ListOutboxEvents(ctx context.Context, offset store.OutboxOffset, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (created_at, event_id) > ($1, $2)
		ORDER BY created_at ASC, event_id ASC
		LIMIT $3
	`, offset.LastEventTime, offset.LastEventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetOffset(ctx context.Context) (store.OutboxOffset, error) {
	var offset store.OutboxOffset
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time, last_event_id
		FROM realtime_offsets
		WHERE id = 1
	`)
	if err := row.Scan(&offset.LastEventTime, &offset.LastEventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.OutboxOffset{}, nil
		}
		return store.OutboxOffset{}, err
	}
	return offset, nil
}

func (s *Store) UpdateOffset(ctx context.Context, offset store.OutboxOffset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO realtime_offsets (id, last_event_time, last_event_id)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET last_event_time = EXCLUDED.last_event_time, last_event_id = EXCLUDED.last_event_id
	`, offset.LastEventTime, offset.LastEventID)
	return err
}

func (s *Store) Login(ctx context.Context, input store.LoginInput) (store.Session, error) {
	var passwordHash string
	row := s.pool.QueryRow(ctx, `
		SELECT password_hash
		FROM operators
		WHERE lower(username) = lower($1) AND active = TRUE
	`, input.Username)
	if err := row.Scan(&passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrInvalidCredentials
		}
		return store.Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(input.Password)); err != nil {
		return store.Session{}, store.ErrInvalidCredentials
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	session := store.Session{
		SessionID: uuid.NewString(),
		Username:  input.Username,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, username, expires_at)
		VALUES ($1, $2, $3)
	`, session.SessionID, session.Username, session.ExpiresAt)
	if err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, username, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.Username, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, NOW())
	`, uuid.NewString(), eventType, data)
	return err
}

func scanCounter(row pgx.Row) (models.Counter, error) {
	var counter models.Counter
	var lastAdvanceAt *time.Time
	if err := row.Scan(&counter.CounterID, &counter.Name, &counter.Prefix, &counter.NowServing, &counter.LastIssued, &counter.Active, &counter.Busy, &lastAdvanceAt); err != nil {
		return models.Counter{}, err
	}
	counter.LastAdvanceAt = lastAdvanceAt
	return counter, nil
}

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := row.Scan(&entry.EntryID, &entry.QueueID, &entry.ChatID, &entry.Status, &entry.CounterID, &entry.NotifyRequested, &entry.NotifyRequestedAt, &entry.NotifiedAt, &entry.NotifyAttempts, &entry.CreatedAt); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}
