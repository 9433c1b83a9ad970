package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Server     ServerConfig
	Engine     EngineConfig
	Chat       ChatConfig
	Worker     WorkerConfig
	SelfHosted bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. The same instance backs the
// session memory store and the background job queue.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// EngineConfig holds answer-engine settings. Backend selects the generator
// variant once at startup: "openai" talks to api.openai.com, "local" talks to
// any OpenAI-compatible endpoint at BaseURL.
type EngineConfig struct {
	Backend         string
	APIKey          string //nolint:gosec // G117: engine credential config
	Model           string
	BaseURL         string
	WeaviateHost    string
	WeaviateScheme  string
	WeaviateClass   string
	TopK            int
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// ChatConfig holds conversation lifecycle tunables.
type ChatConfig struct {
	WindowSize     int64         // summarization checkpoint interval in sequence numbers
	SessionTTL     time.Duration // sliding expiry of live session keys
	BufferTTL      time.Duration // expiry of the pending-outbound buffer
	LockTTL        time.Duration // processing lock expiry
	IdleTimeout    time.Duration // close connection after this much inbound silence
	RatePerSec     float64       // inbound message rate limit per connection
	RateBurst      int
	MaxConnections int // process-wide live connection cap
	InboxCap       int64
	PendingCap     int // in-process outbound buffer capacity
	SendTimeout    time.Duration
	SendRetries    int
}

// WorkerConfig holds background maintenance worker settings.
type WorkerConfig struct {
	Concurrency int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("RELAI_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("RELAI_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("RELAI_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("RELAI_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("RELAI_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	topK, err := getEnvInt("RELAI_ENGINE_TOP_K", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	breakerFailures, err := getEnvInt("RELAI_ENGINE_BREAKER_FAILURES", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if breakerFailures < 1 {
		return nil, fmt.Errorf("config.Load: RELAI_ENGINE_BREAKER_FAILURES must be at least 1, got %d", breakerFailures)
	}

	breakerCooldown, err := getEnvDuration("RELAI_ENGINE_BREAKER_COOLDOWN", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	windowSize, err := getEnvInt("RELAI_CHAT_WINDOW_SIZE", 8)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionTTL, err := getEnvDuration("RELAI_CHAT_SESSION_TTL", 2*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	bufferTTL, err := getEnvDuration("RELAI_CHAT_BUFFER_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockTTL, err := getEnvDuration("RELAI_CHAT_LOCK_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	idleTimeout, err := getEnvDuration("RELAI_CHAT_IDLE_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	ratePerSec, err := getEnvFloat("RELAI_CHAT_RATE_PER_SEC", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("RELAI_CHAT_RATE_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxConnections, err := getEnvInt("RELAI_CHAT_MAX_CONNECTIONS", 500)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	inboxCap, err := getEnvInt("RELAI_CHAT_INBOX_CAP", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pendingCap, err := getEnvInt("RELAI_CHAT_PENDING_CAP", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sendTimeout, err := getEnvDuration("RELAI_CHAT_SEND_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sendRetries, err := getEnvInt("RELAI_CHAT_SEND_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	workerConcurrency, err := getEnvInt("RELAI_WORKER_CONCURRENCY", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("RELAI_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("RELAI_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("RELAI_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("RELAI_DB_USER", "relai"),
			Password: getEnv("RELAI_DB_PASSWORD", ""),
			DBName:   getEnv("RELAI_DB_NAME", "relai_dev"),
			SSLMode:  getEnv("RELAI_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("RELAI_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("RELAI_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Server: ServerConfig{
			Addr:         getEnv("RELAI_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,
		},
		Engine: EngineConfig{
			Backend:         getEnv("RELAI_ENGINE_BACKEND", "openai"),
			APIKey:          getEnv("RELAI_ENGINE_API_KEY", ""),
			Model:           getEnv("RELAI_ENGINE_MODEL", "gpt-4o-mini"),
			BaseURL:         getEnv("RELAI_ENGINE_BASE_URL", ""),
			WeaviateHost:    getEnv("RELAI_WEAVIATE_HOST", "localhost:8081"),
			WeaviateScheme:  getEnv("RELAI_WEAVIATE_SCHEME", "http"),
			WeaviateClass:   getEnv("RELAI_WEAVIATE_CLASS", "DocumentChunk"),
			TopK:            topK,
			BreakerFailures: uint32(breakerFailures), //nolint:gosec // rejected above when below 1
			BreakerCooldown: breakerCooldown,
		},
		Chat: ChatConfig{
			WindowSize:     int64(windowSize),
			SessionTTL:     sessionTTL,
			BufferTTL:      bufferTTL,
			LockTTL:        lockTTL,
			IdleTimeout:    idleTimeout,
			RatePerSec:     ratePerSec,
			RateBurst:      rateBurst,
			MaxConnections: maxConnections,
			InboxCap:       int64(inboxCap),
			PendingCap:     pendingCap,
			SendTimeout:    sendTimeout,
			SendRetries:    sendRetries,
		},
		Worker: WorkerConfig{
			Concurrency: workerConcurrency,
		},
		SelfHosted: selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("RELAI_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("RELAI_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("RELAI_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}

	switch c.Engine.Backend {
	case "openai":
		if c.Engine.APIKey == "" {
			return errors.New("RELAI_ENGINE_API_KEY is required for the openai backend")
		}
	case "local":
		if c.Engine.BaseURL == "" {
			return errors.New("RELAI_ENGINE_BASE_URL is required for the local backend")
		}
	default:
		return fmt.Errorf("RELAI_ENGINE_BACKEND must be 'openai' or 'local', got %q", c.Engine.Backend)
	}

	if c.Engine.TopK < 1 {
		return fmt.Errorf("RELAI_ENGINE_TOP_K must be >= 1, got %d", c.Engine.TopK)
	}
	if c.Engine.BreakerFailures < 1 {
		return fmt.Errorf("RELAI_ENGINE_BREAKER_FAILURES must be >= 1, got %d", c.Engine.BreakerFailures)
	}

	if c.Chat.WindowSize < 2 {
		return fmt.Errorf("RELAI_CHAT_WINDOW_SIZE must be >= 2, got %d", c.Chat.WindowSize)
	}
	if c.Chat.SessionTTL <= 0 {
		return fmt.Errorf("RELAI_CHAT_SESSION_TTL must be positive, got %s", c.Chat.SessionTTL)
	}
	if c.Chat.LockTTL <= 0 || c.Chat.LockTTL > time.Minute {
		return fmt.Errorf("RELAI_CHAT_LOCK_TTL must be in (0s, 1m], got %s", c.Chat.LockTTL)
	}
	if c.Chat.IdleTimeout <= 0 {
		return fmt.Errorf("RELAI_CHAT_IDLE_TIMEOUT must be positive, got %s", c.Chat.IdleTimeout)
	}
	if c.Chat.RatePerSec <= 0 {
		return fmt.Errorf("RELAI_CHAT_RATE_PER_SEC must be positive, got %g", c.Chat.RatePerSec)
	}
	if c.Chat.MaxConnections < 1 {
		return fmt.Errorf("RELAI_CHAT_MAX_CONNECTIONS must be >= 1, got %d", c.Chat.MaxConnections)
	}
	if c.Chat.InboxCap < 1 {
		return fmt.Errorf("RELAI_CHAT_INBOX_CAP must be >= 1, got %d", c.Chat.InboxCap)
	}
	if c.Chat.PendingCap < 1 {
		return fmt.Errorf("RELAI_CHAT_PENDING_CAP must be >= 1, got %d", c.Chat.PendingCap)
	}
	if c.Chat.SendRetries < 1 {
		return fmt.Errorf("RELAI_CHAT_SEND_RETRIES must be >= 1, got %d", c.Chat.SendRetries)
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("RELAI_WORKER_CONCURRENCY must be >= 1, got %d", c.Worker.Concurrency)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
