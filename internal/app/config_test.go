package app

import (
	"os"
	"testing"
	"time"

	"github.com/feynmanlabs/feynman/internal/topic"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{
			name:     "value within range",
			envKey:   "TEST_INT_NORMAL",
			envValue: "50",
			def:      80,
			min:      0,
			max:      100,
			want:     50,
		},
		{
			name:     "value below min - clamp to min",
			envKey:   "TEST_INT_LOW",
			envValue: "-10",
			def:      80,
			min:      0,
			max:      100,
			want:     0,
		},
		{
			name:     "value above max - clamp to max",
			envKey:   "TEST_INT_HIGH",
			envValue: "200",
			def:      80,
			min:      0,
			max:      100,
			want:     100,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      80,
			min:      0,
			max:      100,
			want:     80,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      80,
			min:      0,
			max:      100,
			want:     80,
		},
		{
			name:     "boundary: exactly min",
			envKey:   "TEST_INT_MIN",
			envValue: "0",
			def:      80,
			min:      0,
			max:      100,
			want:     0,
		},
		{
			name:     "boundary: exactly max",
			envKey:   "TEST_INT_MAX",
			envValue: "100",
			def:      80,
			min:      0,
			max:      100,
			want:     100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvIntClamped(tt.envKey, tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvIntClamped(%q, %d, %d, %d) = %d, want %d",
					tt.envKey, tt.def, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      time.Duration
		want     time.Duration
	}{
		{
			name:     "valid duration",
			envKey:   "TEST_DUR_NORMAL",
			envValue: "45s",
			def:      2 * time.Minute,
			want:     45 * time.Second,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_DUR_NOTSET",
			envValue: "",
			def:      2 * time.Minute,
			want:     2 * time.Minute,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_DUR_INVALID",
			envValue: "soon",
			def:      2 * time.Minute,
			want:     2 * time.Minute,
		},
		{
			name:     "negative value - use default",
			envKey:   "TEST_DUR_NEGATIVE",
			envValue: "-5s",
			def:      2 * time.Minute,
			want:     2 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvDuration(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvDuration(%q, %v) = %v, want %v", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	keysToClean := []string{
		"HTTP_ADDR", "PUBLIC_BASE_URL", "DATABASE_URL", "LOG_LEVEL",
		"OPENAI_MODEL", "MATCH_THRESHOLD", "ANSWER_TIMEOUT", "SPEECH_TIMEOUT",
		"SESSION_IDLE_TIMEOUT", "REAPER_INTERVAL", "JWT_EXPIRY",
	}
	for _, key := range keysToClean {
		os.Unsetenv(key)
	}

	cfg := LoadConfigFromEnv()

	// Test default values
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}

	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Errorf("PublicBaseURL = %q, want %q", cfg.PublicBaseURL, "http://localhost:8080")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}

	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("OpenAIModel = %q, want %q", cfg.OpenAIModel, "gpt-4o-mini")
	}

	if cfg.MatchThreshold != topic.DefaultThreshold {
		t.Errorf("MatchThreshold = %d, want %d", cfg.MatchThreshold, topic.DefaultThreshold)
	}

	if cfg.AnswerTimeout != 2*time.Minute {
		t.Errorf("AnswerTimeout = %v, want %v", cfg.AnswerTimeout, 2*time.Minute)
	}

	if cfg.SpeechTimeout != 30*time.Second {
		t.Errorf("SpeechTimeout = %v, want %v", cfg.SpeechTimeout, 30*time.Second)
	}

	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want %v", cfg.SessionIdleTimeout, 30*time.Minute)
	}

	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry = %v, want %v", cfg.JWTExpiry, 24*time.Hour)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	// Set custom values
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("PUBLIC_BASE_URL", "https://api.example.com")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("OPENAI_MODEL", "gpt-4o")
	os.Setenv("MATCH_THRESHOLD", "65")
	os.Setenv("ANSWER_TIMEOUT", "90s")
	os.Setenv("SESSION_IDLE_TIMEOUT", "15m")

	defer func() {
		os.Unsetenv("HTTP_ADDR")
		os.Unsetenv("PUBLIC_BASE_URL")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("OPENAI_MODEL")
		os.Unsetenv("MATCH_THRESHOLD")
		os.Unsetenv("ANSWER_TIMEOUT")
		os.Unsetenv("SESSION_IDLE_TIMEOUT")
	}()

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}

	if cfg.PublicBaseURL != "https://api.example.com" {
		t.Errorf("PublicBaseURL = %q, want %q", cfg.PublicBaseURL, "https://api.example.com")
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	if cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("OpenAIModel = %q, want %q", cfg.OpenAIModel, "gpt-4o")
	}

	if cfg.MatchThreshold != 65 {
		t.Errorf("MatchThreshold = %d, want %d", cfg.MatchThreshold, 65)
	}

	if cfg.AnswerTimeout != 90*time.Second {
		t.Errorf("AnswerTimeout = %v, want %v", cfg.AnswerTimeout, 90*time.Second)
	}

	if cfg.SessionIdleTimeout != 15*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want %v", cfg.SessionIdleTimeout, 15*time.Minute)
	}
}
