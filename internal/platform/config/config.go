package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr string

	PostgresURL string
	Redis       RedisConfig

	KafkaBrokers []string
	NATSURL      string

	Chat ChatConfig
	Push PushConfig

	JWTSigningKey string
	SessionTTL    time.Duration

	// TTLs for the ephemeral challenge-store namespaces.
	LoginChallengeTTL        time.Duration
	RegistrationChallengeTTL time.Duration
	InvitationTTL            time.Duration

	// DefaultRosterCap bounds the roster size for tenants without an
	// explicit cap of their own.
	DefaultRosterCap int
}

// RedisConfig holds go-redis connection settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ChatConfig points at the external chat service.
type ChatConfig struct {
	BaseURL  string
	APIToken string
	Enabled  bool
	Timeout  time.Duration
}

// PushConfig points at the push-notification gateway.
type PushConfig struct {
	BaseURL string
	HubName string
	Timeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:        envOr("CARELINK_ADDR", ":8080"),
		PostgresURL: envOr("CARELINK_POSTGRES_URL", "postgres://localhost:5432/carelink?sslmode=disable"),
		Redis: RedisConfig{
			URL:          os.Getenv("CARELINK_REDIS_URL"),
			PoolSize:     envInt("CARELINK_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CARELINK_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		KafkaBrokers: splitNonEmpty(os.Getenv("CARELINK_KAFKA_BROKERS")),
		NATSURL:      envOr("CARELINK_NATS_URL", "nats://localhost:4222"),
		Chat: ChatConfig{
			BaseURL:  os.Getenv("CARELINK_CHAT_BASE_URL"),
			APIToken: os.Getenv("CARELINK_CHAT_API_TOKEN"),
			Enabled:  os.Getenv("CARELINK_CHAT_DISABLED") != "true",
			Timeout:  15 * time.Second,
		},
		Push: PushConfig{
			BaseURL: os.Getenv("CARELINK_PUSH_BASE_URL"),
			HubName: envOr("CARELINK_PUSH_HUB", "carelink-family"),
			Timeout: 10 * time.Second,
		},
		JWTSigningKey: envOr("CARELINK_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		SessionTTL:    envDuration("CARELINK_SESSION_TTL", 24*time.Hour),

		LoginChallengeTTL:        envDuration("CARELINK_LOGIN_CHALLENGE_TTL", 2*time.Minute),
		RegistrationChallengeTTL: envDuration("CARELINK_REGISTRATION_CHALLENGE_TTL", 10*time.Minute),
		InvitationTTL:            envDuration("CARELINK_INVITATION_TTL", 72*time.Hour),

		DefaultRosterCap: envInt("CARELINK_DEFAULT_ROSTER_CAP", 10),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
