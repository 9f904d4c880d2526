package telegram

import (
	"fmt"
	"regexp"
	"strings"
)

// Update is an inbound webhook payload. Genuine Telegram updates carry a
// message; the counter page posts its own notify payloads to the same
// endpoint, distinguished by the three camelCase fields.
type Update struct {
	Message       *Message `json:"message"`
	EditedMessage *Message `json:"edited_message"`

	CounterID   string `json:"counterId"`
	QueueID     string `json:"queueId"`
	CounterName string `json:"counterName"`
}

type Message struct {
	Text string `json:"text"`
	Chat Chat   `json:"chat"`
}

type Chat struct {
	ID int64 `json:"id"`
}

func (u *Update) IsNotifyRequest() bool {
	return u.CounterID != "" && u.QueueID != "" && u.CounterName != ""
}

// IncomingMessage returns the message or edited message, nil if neither is
// present or the chat id is missing.
func (u *Update) IncomingMessage() *Message {
	msg := u.Message
	if msg == nil {
		msg = u.EditedMessage
	}
	if msg == nil || msg.Chat.ID == 0 {
		return nil
	}
	return msg
}

var startPattern = regexp.MustCompile(`(?i)/start(?:@[\w_]+)?\s+(.+)$`)

// ParseStart extracts the deep-link token from a /start command. ok is false
// when the text carries no token.
func ParseStart(text string) (string, bool) {
	match := startPattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return "", false
	}
	token := strings.TrimSpace(match[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func NowServingMessage(queueID, counterName string) string {
	return fmt.Sprintf("👋 Hey!\n🧾 Number • %s\n🪑 Counter • %s\n\nYou are now being served! Please proceed to the counter. ☕️😌", queueID, counterName)
}

func ConnectedMessage(queueID, counterName string) string {
	return fmt.Sprintf("👋 Hey!\n🧾 Number • %s\n🪑 Counter • %s\n\nYou are now connected — you can close the browser and Telegram. Everything will be automated. Just sit down and relax. ☕️😌", queueID, counterName)
}

const InstructionMessage = "Hi! To link your queue number, please open the Queue Joy status page and tap 'Connect via Telegram'."
