package app

import (
	"os"
	"strconv"
	"time"

	"github.com/feynmanlabs/feynman/internal/topic"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	LogLevel      string

	// Analyzer provider
	OpenAIAPIKey string
	OpenAIModel  string

	// Session engine tuning
	MatchThreshold int           // fuzzy mention threshold (0-100)
	AnswerTimeout  time.Duration // wait for an answer before resuming
	SpeechTimeout  time.Duration // wait for the client's playback mark

	// Session reaper
	SessionIdleTimeout time.Duration // inactivity before a session is abandoned
	ReaperInterval     time.Duration

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Monitoring
	SentryDSN         string
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsBundleID   string
	APNsProduction bool
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LogLevel:      getenv("LOG_LEVEL", "info"),

		// Analyzer provider
		OpenAIAPIKey: getenv("OPENAI_API_KEY", ""),
		OpenAIModel:  getenv("OPENAI_MODEL", "gpt-4o-mini"),

		// Session engine tuning
		MatchThreshold: getenvIntClamped("MATCH_THRESHOLD", topic.DefaultThreshold, 0, 100),
		AnswerTimeout:  getenvDuration("ANSWER_TIMEOUT", 2*time.Minute),
		SpeechTimeout:  getenvDuration("SPEECH_TIMEOUT", 30*time.Second),

		// Session reaper
		SessionIdleTimeout: getenvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		ReaperInterval:     getenvDuration("REAPER_INTERVAL", 5*time.Minute),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: getenvDuration("JWT_EXPIRY", 24*time.Hour),

		// Monitoring
		SentryDSN:         getenv("SENTRY_DSN", ""),
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),

		// APNs Push Notifications
		APNsKeyPath:    getenv("APNS_KEY_PATH", ""),
		APNsKeyID:      getenv("APNS_KEY_ID", ""),
		APNsTeamID:     getenv("APNS_TEAM_ID", ""),
		APNsBundleID:   getenv("APNS_BUNDLE_ID", ""),
		APNsProduction: getenv("APNS_PRODUCTION", "") == "true",
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
