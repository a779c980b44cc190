package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all relay configuration
type Config struct {
	Port           int
	RedisURL       string
	RedisPassword  string
	AllowedOrigins []string

	// Auth gate
	AuthPurpose        string        // purpose string capability tokens must carry
	AuthTimeout        time.Duration // window to authenticate after upgrade
	MaxSessionsPerUser int
	MaxSessions        int // global ceiling across all users

	// Rate limiting
	RateLimitPerWindow int
	RateLimitWindow    time.Duration

	// Message handling
	MaxMessageBytes   int // inbound frame byte ceiling
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration

	// Upstream bridge
	GeminiAPIKey           string
	UpstreamModel          string
	UpstreamConnectTimeout time.Duration
	ReconnectMaxAttempts   int
	ReconnectBaseDelay     time.Duration
	ReconnectMaxDelay      time.Duration

	// Command executor
	CommandMaxAttempts int
	CommandBaseDelay   time.Duration

	AssistantPrompt string
}

// Load reads configuration from environment variables with defaults
func Load() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:                   8080,
		RedisURL:               "localhost:6379",
		RedisPassword:          "",
		AllowedOrigins:         []string{"*"},
		AuthPurpose:            "relay",
		AuthTimeout:            10 * time.Second,
		MaxSessionsPerUser:     5,
		MaxSessions:            500,
		RateLimitPerWindow:     60,
		RateLimitWindow:        time.Minute,
		MaxMessageBytes:        512 * 1024,
		HeartbeatInterval:      30 * time.Second,
		SessionTimeout:         30 * time.Minute,
		UpstreamModel:          "models/gemini-2.5-flash-native-audio-preview-12-2025",
		UpstreamConnectTimeout: 15 * time.Second,
		ReconnectMaxAttempts:   3,
		ReconnectBaseDelay:     500 * time.Millisecond,
		ReconnectMaxDelay:      10 * time.Second,
		CommandMaxAttempts:     3,
		CommandBaseDelay:       250 * time.Millisecond,
		AssistantPrompt:        defaultAssistantPrompt,
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	if err := overrideInt("PORT", &config.Port); err != nil {
		return nil, err
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}
	if purpose := os.Getenv("AUTH_PURPOSE"); purpose != "" {
		config.AuthPurpose = purpose
	}
	if err := overrideSeconds("AUTH_TIMEOUT", &config.AuthTimeout); err != nil {
		return nil, err
	}
	if err := overrideInt("MAX_SESSIONS_PER_USER", &config.MaxSessionsPerUser); err != nil {
		return nil, err
	}
	if err := overrideInt("MAX_SESSIONS", &config.MaxSessions); err != nil {
		return nil, err
	}
	if err := overrideInt("RATE_LIMIT_PER_WINDOW", &config.RateLimitPerWindow); err != nil {
		return nil, err
	}
	if err := overrideSeconds("RATE_LIMIT_WINDOW", &config.RateLimitWindow); err != nil {
		return nil, err
	}
	if err := overrideInt("MAX_MESSAGE_BYTES", &config.MaxMessageBytes); err != nil {
		return nil, err
	}
	if err := overrideSeconds("HEARTBEAT_INTERVAL", &config.HeartbeatInterval); err != nil {
		return nil, err
	}
	if err := overrideMinutes("SESSION_TIMEOUT", &config.SessionTimeout); err != nil {
		return nil, err
	}
	if model := os.Getenv("UPSTREAM_MODEL"); model != "" {
		config.UpstreamModel = model
	}
	if err := overrideSeconds("UPSTREAM_CONNECT_TIMEOUT", &config.UpstreamConnectTimeout); err != nil {
		return nil, err
	}
	if err := overrideInt("RECONNECT_MAX_ATTEMPTS", &config.ReconnectMaxAttempts); err != nil {
		return nil, err
	}
	if err := overrideInt("COMMAND_MAX_ATTEMPTS", &config.CommandMaxAttempts); err != nil {
		return nil, err
	}
	if prompt := os.Getenv("ASSISTANT_PROMPT"); prompt != "" {
		config.AssistantPrompt = prompt
	}

	if config.MaxSessionsPerUser <= 0 {
		return nil, fmt.Errorf("MAX_SESSIONS_PER_USER must be positive")
	}
	if config.RateLimitPerWindow <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_WINDOW must be positive")
	}

	return config, nil
}

func overrideInt(name string, dst *int) error {
	if v := os.Getenv(name); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = n
	}
	return nil
}

func overrideSeconds(name string, dst *time.Duration) error {
	if v := os.Getenv(name); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = time.Duration(n) * time.Second
	}
	return nil
}

func overrideMinutes(name string, dst *time.Duration) error {
	if v := os.Getenv(name); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = time.Duration(n) * time.Minute
	}
	return nil
}

const defaultAssistantPrompt = `You are EVA, an executive virtual assistant for a recruiting firm.
You help advisors manage candidates, meetings and outreach over a live
voice and video channel.

When you are shown a camera or screen frame, describe what matters in one
or two sentences. If the frame contains something that should be kept for
the record (a document, a whiteboard, contact details, a calendar), prefix
your reply with "SIGNIFICANT: ".

When a user asks you to take an action you cannot perform directly, emit
an action directive inline in your reply using the form
[[action:action_name {"param":"value"}]]. Available actions are provided
by the host application.

Keep spoken replies short and natural.`
