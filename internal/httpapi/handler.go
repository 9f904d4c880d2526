package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"queuejoy/internal/models"
	"queuejoy/internal/store"
	"queuejoy/internal/telegram"
	"queuejoy/internal/token"
)

type Handler struct {
	store           store.Store
	telegram        *telegram.Client
	broadcastChatID string
	sessionTTL      time.Duration
}

type Options struct {
	Telegram        *telegram.Client
	BroadcastChatID string
	SessionTTL      time.Duration
}

func NewHandler(st store.Store, options Options) *Handler {
	return &Handler{
		store:           st,
		telegram:        options.Telegram,
		broadcastChatID: options.BroadcastChatID,
		sessionTTL:      options.SessionTTL,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/counters/", h.handleCounterActions)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/", h.handleQueueEntry)
	mux.HandleFunc("/api/telegram/send", h.handleTelegramSend)
	mux.HandleFunc("/api/telegram/webhook", h.handleTelegramWebhook)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	session, err := h.store.Login(r.Context(), store.LoginInput{
		Username: req.Username,
		Password: req.Password,
		TTL:      h.sessionTTL,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.SessionID,
		"expires_at": session.ExpiresAt,
	})
}

type createCounterRequest struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		counters, err := h.store.ListCounters(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, counters)
	case http.MethodPost:
		var req createCounterRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		req.Prefix = strings.ToUpper(strings.TrimSpace(req.Prefix))
		if req.Name == "" || req.Prefix == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name and prefix are required")
			return
		}
		if !isValidPrefix(req.Prefix) {
			writeError(w, http.StatusBadRequest, "invalid_request", "prefix must be 1-3 uppercase letters")
			return
		}

		counter, err := h.store.CreateCounter(r.Context(), store.CreateCounterInput{
			Name:      req.Name,
			Prefix:    req.Prefix,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, counter)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func isValidPrefix(value string) bool {
	if len(value) < 1 || len(value) > 3 {
		return false
	}
	for _, r := range value {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

type counterActionResponse struct {
	Counter  models.Counter `json:"counter"`
	Serving  string         `json:"serving,omitempty"`
	Notified []string       `json:"notified,omitempty"`
}

func (h *Handler) handleCounterActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	counterID := parts[0]
	action := parts[2]

	switch action {
	case "call":
		h.handleAdvance(w, r, counterID, h.store.CallNext)
	case "skip":
		h.handleAdvance(w, r, counterID, h.store.SkipServing)
	case "reset":
		h.handleReset(w, r, counterID)
	case "delete":
		h.handleDelete(w, r, counterID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleAdvance runs call or skip, then correlates on the newly computed
// serving number. The counter write and the correlation are two separate
// store writes; a correlation failure is logged, not surfaced, and the next
// action naturally resynchronizes.
func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request, counterID string, advance func(ctx context.Context, input store.CounterActionInput) (models.Counter, error)) {
	now := time.Now().UTC()
	counter, err := advance(r.Context(), store.CounterActionInput{CounterID: counterID, OccurredAt: now})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	ticket := models.FormatTicket(counter.Prefix, counter.NowServing)
	notified, err := h.store.CorrelateServing(r.Context(), ticket, counter.CounterID, now)
	if err != nil {
		log.Printf("correlate error counter=%s ticket=%s: %v", counter.CounterID, ticket, err)
	}

	writeJSON(w, http.StatusOK, counterActionResponse{
		Counter:  counter,
		Serving:  ticket,
		Notified: notified,
	})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request, counterID string) {
	counter, ok := h.requireConfirmation(w, r, counterID, func(c models.Counter) string {
		return fmt.Sprintf("reset %s to now_serving=1, last_issued=0", c.Name)
	})
	if !ok {
		return
	}

	updated, err := h.store.ResetCounter(r.Context(), store.CounterActionInput{
		CounterID:  counter.CounterID,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, counterActionResponse{Counter: updated})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, counterID string) {
	counter, ok := h.requireConfirmation(w, r, counterID, func(c models.Counter) string {
		return fmt.Sprintf("delete %s; this cannot be undone", c.Name)
	})
	if !ok {
		return
	}

	if err := h.store.DeleteCounter(r.Context(), counter.CounterID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// requireConfirmation enforces the operator confirmation step for
// destructive actions: the request must carry confirm=true, and the 409
// reply names the counter and the effect so the client can prompt.
func (h *Handler) requireConfirmation(w http.ResponseWriter, r *http.Request, counterID string, describe func(models.Counter) string) (models.Counter, bool) {
	counter, found, err := h.store.GetCounter(r.Context(), counterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return models.Counter{}, false
	}
	if !found {
		writeError(w, http.StatusNotFound, "counter_not_found", "counter not found")
		return models.Counter{}, false
	}

	var req confirmRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return models.Counter{}, false
	}
	if !req.Confirm {
		writeError(w, http.StatusConflict, "confirmation_required", describe(counter))
		return models.Counter{}, false
	}
	return counter, true
}

type registerTicketRequest struct {
	QueueID     string `json:"queue_id"`
	ChatID      string `json:"chat_id"`
	CounterName string `json:"counter_name"`
}

type registerTicketResponse struct {
	Entry models.QueueEntry `json:"entry"`
	Token string            `json:"token"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries, err := h.store.ListQueue(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	case http.MethodPost:
		var req registerTicketRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		req.QueueID = strings.TrimSpace(req.QueueID)
		if req.QueueID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "queue_id is required")
			return
		}

		entry, err := h.store.RegisterTicket(r.Context(), store.RegisterTicketInput{
			QueueID:   req.QueueID,
			ChatID:    strings.TrimSpace(req.ChatID),
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}

		counterName := strings.TrimSpace(req.CounterName)
		if counterName == "" {
			counterName = token.DefaultCounterName
		}
		writeJSON(w, http.StatusOK, registerTicketResponse{
			Entry: entry,
			Token: token.Encode(token.Link{QueueID: entry.QueueID, CounterName: counterName}),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type linkChatRequest struct {
	ChatID string `json:"chat_id"`
}

func (h *Handler) handleQueueEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "link" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	entryID := parts[0]

	var req linkChatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "chat_id is required")
		return
	}

	entry, err := h.store.LinkChat(r.Context(), entryID, req.ChatID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type sendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// handleTelegramSend mirrors the standalone send function: plain
// {error: ...} bodies and the upstream result passed through on success.
func (h *Handler) handleTelegramSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.telegram == nil || !h.telegram.Configured() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Missing BOT_TOKEN"})
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Message is required"})
		return
	}
	chatID := req.ChatID
	if chatID == "" {
		chatID = h.broadcastChatID
	}
	if chatID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chatId is required"})
		return
	}

	result, err := h.telegram.SendMessage(r.Context(), chatID, req.Message)
	if err != nil {
		var apiErr *telegram.APIError
		if errors.As(err, &apiErr) {
			log.Printf("telegram api error: %v", apiErr)
			writeJSON(w, apiErr.Status, map[string]interface{}{
				"error":   "Telegram API error",
				"details": apiErr.Body,
			})
			return
		}
		log.Printf("telegram send error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// handleTelegramWebhook accepts both genuine Telegram updates and the
// counter page's own notify posts, distinguished by payload shape.
func (h *Handler) handleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if h.telegram == nil || !h.telegram.Configured() {
		http.Error(w, "Missing BOT_TOKEN", http.StatusInternalServerError)
		return
	}

	if update.IsNotifyRequest() {
		if h.broadcastChatID != "" {
			message := telegram.NowServingMessage(update.QueueID, update.CounterName)
			if err := h.sendWebhookReply(r.Context(), h.broadcastChatID, message); err != nil {
				log.Printf("webhook broadcast error: %v", err)
				http.Error(w, "Internal error", http.StatusInternalServerError)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	msg := update.IncomingMessage()
	if msg == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("No message to handle"))
		return
	}
	chatID := fmt.Sprintf("%d", msg.Chat.ID)

	tokenRaw, ok := telegram.ParseStart(msg.Text)
	if !ok {
		if err := h.sendWebhookReply(r.Context(), chatID, telegram.InstructionMessage); err != nil {
			log.Printf("webhook reply error: %v", err)
			http.Error(w, "Internal error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("No token provided"))
		return
	}

	link := token.Decode(tokenRaw)

	// Best effort: attach the chat to any registered entries carrying this
	// number so the delivery worker can reach the customer later.
	if linked, err := h.store.LinkChatByQueueID(r.Context(), link.QueueID, chatID); err != nil {
		log.Printf("webhook link error queue_id=%s: %v", link.QueueID, err)
	} else if linked > 0 {
		log.Printf("webhook linked chat=%s queue_id=%s entries=%d", chatID, link.QueueID, linked)
	}

	reply := telegram.ConnectedMessage(link.QueueID, link.CounterName)
	if err := h.sendWebhookReply(r.Context(), chatID, reply); err != nil {
		log.Printf("webhook reply error: %v", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sendWebhookReply delivers a webhook-triggered message. An API rejection
// (blocked bot, bad chat) is logged and swallowed so the update is still
// acknowledged and Telegram does not redeliver it; only transport failures
// propagate.
func (h *Handler) sendWebhookReply(ctx context.Context, chatID, text string) error {
	if _, err := h.telegram.SendMessage(ctx, chatID, text); err != nil {
		var apiErr *telegram.APIError
		if !errors.As(err, &apiErr) {
			return err
		}
		log.Printf("webhook send rejected chat=%s: %v", chatID, apiErr)
	}
	return nil
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid username or password"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
