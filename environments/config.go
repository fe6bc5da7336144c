package environments

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
)

type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Postgres    PostgresConfig
	Bolt        BoltConfig
	Redis       RedisConfig
	AMQP        AMQPConfig
	Dialer      DialerConfig
	Analyzer    AnalyzerConfig
	Caller      CallerConfig
	BatchCaller BatchCallerConfig
	Alert       AlertConfig
	Auth        AuthConfig
	Log         LogConfig
}

type ServerConfig struct {
	Port string `validate:"required"`
}

type StoreConfig struct {
	Driver string `validate:"required,oneof=mysql postgres bolt"`
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type BoltConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// AMQPConfig is optional; an empty URL disables the call-completed consumer.
type AMQPConfig struct {
	URL   string
	Queue string
}

type DialerConfig struct {
	URL          string `validate:"required,url"`
	BatchURL     string `validate:"required,url"`
	AuthKey      string
	AgentID      string
	Timeout      time.Duration `validate:"gt=0"`
	MaxBatchSize int           `validate:"min=1"`
}

// AnalyzerConfig drives both the analyzer HTTP client and the retrying rate limiter in front of it.
type AnalyzerConfig struct {
	URL            string `validate:"required,url"`
	APIKey         string
	Timeout        time.Duration `validate:"gt=0"`
	MaxBatchSize   int           `validate:"min=1"`
	BatchInterval  time.Duration `validate:"gte=0"`
	MaxRetries     int           `validate:"min=0"`
	BaseRetryDelay time.Duration `validate:"gt=0"`
}

type CallerConfig struct {
	Enabled      bool
	BatchSize    int           `validate:"min=1"`
	TickInterval time.Duration `validate:"gt=0"`
	ClaimLease   time.Duration `validate:"gt=0"`
	StopGrace    time.Duration `validate:"gt=0"`
}

type BatchCallerConfig struct {
	Enabled       bool
	TickInterval  time.Duration `validate:"gt=0"`
	MaxRecipients int           `validate:"min=1"`
	ChunkSize     int           `validate:"min=1"`
	MaxRounds     int           `validate:"min=1"`
	ClaimLease    time.Duration `validate:"gt=0"`
	StopGrace     time.Duration `validate:"gt=0"`
}

type AlertConfig struct {
	WebhookURL     string `validate:"omitempty,url"`
	IterationCount int    `validate:"min=0"`
}

type AuthConfig struct {
	EntriesAPIKey   string
	SchedulerAPIKey string
	CallbacksAPIKey string
}

type LogConfig struct {
	Level      string `validate:"oneof=debug info warn error"`
	File       string
	MaxSizeMB  int `validate:"min=1"`
	MaxBackups int `validate:"min=0"`
}

// Load reads an optional .env file and then the process environment.
// Values already present in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(GetEnv("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Store: StoreConfig{
			Driver: GetEnv("STORE_DRIVER", StoreMySQL),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "dialer"),
			Password: GetEnv("DB_PASSWORD", "dialer123"),
			DBName:   GetEnv("DB_NAME", "sequence_dialer"),
		},
		Postgres: PostgresConfig{
			Host:     GetEnv("POSTGRES_HOST", "localhost"),
			Port:     GetEnv("POSTGRES_PORT", "5432"),
			User:     GetEnv("POSTGRES_USER", "dialer"),
			Password: GetEnv("POSTGRES_PASSWORD", "dialer123"),
			DBName:   GetEnv("POSTGRES_DB", "sequence_dialer"),
			SSLMode:  GetEnv("POSTGRES_SSLMODE", "disable"),
		},
		Bolt: BoltConfig{
			Path: GetEnv("BOLT_PATH", "sequence-dialer.db"),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		AMQP: AMQPConfig{
			URL:   GetEnv("AMQP_URL", ""),
			Queue: GetEnv("AMQP_QUEUE", "call_completed"),
		},
		Dialer: DialerConfig{
			URL:          GetEnv("DIALER_URL", "http://localhost:9000/calls"),
			BatchURL:     GetEnv("DIALER_BATCH_URL", "http://localhost:9000/batch-calls"),
			AuthKey:      GetEnv("DIALER_AUTH_KEY", ""),
			AgentID:      GetEnv("DIALER_AGENT_ID", ""),
			Timeout:      time.Duration(GetEnvAsInt("DIALER_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxBatchSize: GetEnvAsInt("DIALER_MAX_BATCH_SIZE", 50),
		},
		Analyzer: AnalyzerConfig{
			URL:            GetEnv("ANALYZER_URL", "http://localhost:9100/analyze"),
			APIKey:         GetEnv("ANALYZER_API_KEY", ""),
			Timeout:        time.Duration(GetEnvAsInt("ANALYZER_TIMEOUT_SECONDS", 60)) * time.Second,
			MaxBatchSize:   GetEnvAsInt("ANALYZER_MAX_BATCH_SIZE", 5),
			BatchInterval:  time.Duration(GetEnvAsInt("ANALYZER_BATCH_INTERVAL_MS", 1000)) * time.Millisecond,
			MaxRetries:     GetEnvAsInt("ANALYZER_MAX_RETRIES", 3),
			BaseRetryDelay: time.Duration(GetEnvAsInt("ANALYZER_BASE_RETRY_DELAY_MS", 1000)) * time.Millisecond,
		},
		Caller: CallerConfig{
			Enabled:      GetEnvAsBool("CALLER_ENABLED", true),
			BatchSize:    GetEnvAsInt("CALLER_BATCH_SIZE", 10),
			TickInterval: GetEnvAsDuration("CALLER_TICK_INTERVAL", time.Minute),
			ClaimLease:   time.Duration(GetEnvAsInt("CLAIM_LEASE_SECONDS", 300)) * time.Second,
			StopGrace:    GetEnvAsDuration("SCHEDULER_STOP_GRACE", 30*time.Second),
		},
		BatchCaller: BatchCallerConfig{
			Enabled:       GetEnvAsBool("BATCH_CALLER_ENABLED", false),
			TickInterval:  GetEnvAsDuration("BATCH_CALLER_TICK_INTERVAL", time.Minute),
			MaxRecipients: GetEnvAsInt("BATCH_MAX_RECIPIENTS", 50),
			ChunkSize:     GetEnvAsInt("BATCH_CHUNK_SIZE", 50),
			MaxRounds:     GetEnvAsInt("BATCH_MAX_ROUNDS", 20),
			ClaimLease:    time.Duration(GetEnvAsInt("CLAIM_LEASE_SECONDS", 300)) * time.Second,
			StopGrace:     GetEnvAsDuration("SCHEDULER_STOP_GRACE", 30*time.Second),
		},
		Alert: AlertConfig{
			WebhookURL:     GetEnv("ALERT_WEBHOOK_URL", ""),
			IterationCount: GetEnvAsInt("ALERT_ITERATION_COUNT", 0),
		},
		Auth: AuthConfig{
			EntriesAPIKey:   GetEnv("ENTRIES_API_KEY", ""),
			SchedulerAPIKey: GetEnv("SCHEDULER_API_KEY", ""),
			CallbacksAPIKey: GetEnv("CALLBACKS_API_KEY", ""),
		},
		Log: LogConfig{
			Level:      GetEnv("LOG_LEVEL", "info"),
			File:       GetEnv("LOG_FILE", ""),
			MaxSizeMB:  GetEnvAsInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: GetEnvAsInt("LOG_MAX_BACKUPS", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints once so components can trust the values they receive.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.BatchCaller.ChunkSize > c.Dialer.MaxBatchSize {
		return fmt.Errorf("invalid configuration: BATCH_CHUNK_SIZE (%d) exceeds DIALER_MAX_BATCH_SIZE (%d)",
			c.BatchCaller.ChunkSize, c.Dialer.MaxBatchSize)
	}

	return nil
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
