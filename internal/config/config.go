package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Persistence backends accepted in PERSISTENCE.
const (
	PersistenceSQLite   = "sqlite"
	PersistenceFile     = "file"
	PersistenceRedis    = "redis"
	PersistencePostgres = "postgres"
	PersistenceNone     = "none"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	Persistence string
	SQLitePath  string
	RoomSaveDir string
	RedisURL    string
	DatabaseURL string

	SaveDebounce time.Duration
	LoopInterval time.Duration
	WSTimeout    time.Duration

	RetentionDays     int
	RetentionInterval time.Duration

	LoginPolicyFile string
	JWTSecret       string

	MessagesPerSecond float64
	MessageBurst      int
}

// Load reads configuration from the environment, after loading .env when
// one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Persistence:     strings.ToLower(getEnv("PERSISTENCE", PersistenceSQLite)),
		SQLitePath:      getEnv("SQLITE_PATH", "./data/plaza.db"),
		RoomSaveDir:     getEnv("ROOM_SAVE_DIR", "./data/rooms"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		LoginPolicyFile: os.Getenv("LOGIN_POLICY_FILE"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
	}

	var err error
	if cfg.SaveDebounce, err = getDuration("SAVE_DEBOUNCE", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.LoopInterval, err = getDuration("LOOP_INTERVAL", 100*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.WSTimeout, err = getDuration("WS_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetentionInterval, err = getDuration("RETENTION_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = getInt("RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.MessageBurst, err = getInt("MESSAGE_BURST", 200); err != nil {
		return nil, err
	}
	perSecond, err := getInt("MESSAGES_PER_SECOND", 100)
	if err != nil {
		return nil, err
	}
	cfg.MessagesPerSecond = float64(perSecond)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Persistence {
	case PersistenceSQLite, PersistenceFile, PersistenceNone:
	case PersistenceRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for redis persistence")
		}
	case PersistencePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres persistence")
		}
	default:
		return fmt.Errorf("unknown PERSISTENCE %q", c.Persistence)
	}
	if c.LoopInterval <= 0 {
		return fmt.Errorf("LOOP_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// RetentionMaxAge is how long a persisted room may go unsaved before it is
// purged. Zero disables retention.
func (c *Config) RetentionMaxAge() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}
