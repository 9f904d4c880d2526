package token

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// DefaultCounterName is used whenever a token does not carry a counter name.
const DefaultCounterName = "TBD"

// Link is the decoded form of a /start deep-link token.
type Link struct {
	QueueID     string
	CounterName string
}

type tokenPayload struct {
	QueueID     string `json:"queueId"`
	QueueKey    string `json:"queueKey"`
	CounterName string `json:"counterName"`
	CounterID   string `json:"counterId"`
}

// delimiters tried in order; only the first one present in the token is used.
var delimiters = []string{"::", "|", ":"}

// Decode parses a deep-link token. Tokens come in three shapes, tried in
// order with the first success winning: base64url-encoded JSON, a delimited
// "queueId<sep>counterName" pair, or a bare queue id. Decode never fails;
// unparseable input degrades to the bare-id form and empty fields become
// DefaultCounterName.
func Decode(raw string) Link {
	link := Link{CounterName: DefaultCounterName}

	if payload, ok := decodeBase64JSON(raw); ok && payload.queueID() != "" {
		link.QueueID = payload.queueID()
		if name := payload.counterName(); name != "" {
			link.CounterName = name
		}
	} else if left, right, ok := splitDelimited(raw); ok {
		link.QueueID = left
		if right != "" {
			link.CounterName = right
		}
	} else {
		link.QueueID = raw
	}

	link.QueueID = strings.TrimSpace(link.QueueID)
	link.CounterName = strings.TrimSpace(link.CounterName)
	if link.QueueID == "" {
		link.QueueID = DefaultCounterName
	}
	if link.CounterName == "" {
		link.CounterName = DefaultCounterName
	}
	return link
}

// Encode builds the base64url JSON form of a link, the shape the status page
// embeds in its Telegram deep links.
func Encode(link Link) string {
	payload := tokenPayload{QueueID: link.QueueID, CounterName: link.CounterName}
	data, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeBase64JSON(raw string) (tokenPayload, bool) {
	norm := strings.ReplaceAll(raw, "-", "+")
	norm = strings.ReplaceAll(norm, "_", "/")
	if pad := len(norm) % 4; pad != 0 {
		norm += strings.Repeat("=", 4-pad)
	}

	decoded, err := base64.StdEncoding.DecodeString(norm)
	if err != nil {
		return tokenPayload{}, false
	}

	var payload tokenPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return tokenPayload{}, false
	}
	return payload, true
}

func splitDelimited(raw string) (string, string, bool) {
	for _, d := range delimiters {
		if !strings.Contains(raw, d) {
			continue
		}
		left, right, _ := strings.Cut(raw, d)
		return strings.TrimSpace(left), strings.TrimSpace(right), true
	}
	return "", "", false
}

func (p tokenPayload) queueID() string {
	if p.QueueID != "" {
		return p.QueueID
	}
	return p.QueueKey
}

func (p tokenPayload) counterName() string {
	if p.CounterName != "" {
		return p.CounterName
	}
	return p.CounterID
}
