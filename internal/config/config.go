package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	BotToken        string
	BroadcastChatID string
	TelegramAPIBase string

	NotifyPollInterval time.Duration
	NotifyBatchSize    int
	NotifyMaxAttempts  int

	RealtimePollInterval time.Duration
	RealtimeBatchSize    int

	RateLimitPerMinute int
	RateLimitBurst     int

	SessionTTL time.Duration
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:        port,
		DatabaseURL: os.Getenv("DB_DSN"),

		BotToken:        os.Getenv("BOT_TOKEN"),
		BroadcastChatID: os.Getenv("CHAT_ID"),
		TelegramAPIBase: os.Getenv("TELEGRAM_API_BASE"),

		NotifyPollInterval: readDurationSeconds("NOTIFY_POLL_SECONDS", 5),
		NotifyBatchSize:    readInt("NOTIFY_BATCH_SIZE", 50),
		NotifyMaxAttempts:  readInt("NOTIFY_MAX_ATTEMPTS", 3),

		RealtimePollInterval: readDurationSeconds("REALTIME_POLL_SECONDS", 1),
		RealtimeBatchSize:    readInt("REALTIME_BATCH_SIZE", 100),

		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),

		SessionTTL: time.Duration(readInt("SESSION_TTL_HOURS", 8)) * time.Hour,
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
