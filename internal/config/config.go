package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	StoreBackendFirestore = "firestore"
	StoreBackendDynamoDB  = "dynamodb"

	LedgerBackendPostgres = "postgres"

	// DefaultDispatchBatchSize is the FCM multicast limit.
	DefaultDispatchBatchSize = 500
)

// Tables names the collections (Firestore) or tables (DynamoDB) the pipeline reads and writes.
type Tables struct {
	Devices          string `yaml:"devices"`
	UserDevices      string `yaml:"user_devices"`
	UserDevicesIndex string `yaml:"user_devices_index"`
	UserTokens       string `yaml:"user_tokens"`
	Events           string `yaml:"events"`
}

type Config struct {
	Port    string `yaml:"-"`
	GinMode string `yaml:"-"`

	// Storage
	StoreBackend  string `yaml:"-"` // "firestore" or "dynamodb"
	LedgerBackend string `yaml:"-"` // empty to follow StoreBackend, or "postgres"
	Tables        Tables `yaml:"tables"`

	// Firebase
	FirebaseProjectID  string `yaml:"-"`
	FirebaseCredJSON   string `yaml:"-"`
	FirebaseCredFile   string `yaml:"-"`
	FirebaseSecretName string `yaml:"-"` // Secrets Manager secret holding the service account JSON

	// Dispatch
	PushNotificationsEnabled bool `yaml:"-"`
	DispatchBatchSize        int  `yaml:"dispatch_batch_size"`

	// Token hygiene worker pool
	HygieneWorkerPoolSize int `yaml:"-"`
	HygieneBufferSize     int `yaml:"-"`
	HygieneTimeoutSeconds int `yaml:"-"`

	// Token suppression cache
	RedisURL            string        `yaml:"-"`
	RedisPassword       string        `yaml:"-"`
	RedisDB             int           `yaml:"-"`
	TokenSuppressionTTL time.Duration `yaml:"-"`

	// Postgres ledger
	DatabaseURL       string `yaml:"-"`
	DBMaxOpenConns    int    `yaml:"-"`
	DBMaxIdleConns    int    `yaml:"-"`
	DBConnMaxIdleTime int    `yaml:"-"` // in minutes
	DBConnMaxLifetime int    `yaml:"-"` // in minutes

	// NATS trigger
	NatsURL     string `yaml:"-"`
	NatsSubject string `yaml:"-"`
	NatsQueue   string `yaml:"-"`

	// Server
	ServerShutdownTimeoutSeconds int    `yaml:"-"`
	CORSAllowedOrigins           string `yaml:"-"`

	// Logging
	LogLevel  string `yaml:"-"`
	LogFormat string `yaml:"-"`
}

// DefaultTables mirrors the names used by the deployed stack.
func DefaultTables() Tables {
	return Tables{
		Devices:          "devices",
		UserDevices:      "user_devices",
		UserDevicesIndex: "DeviceIdIndex",
		UserTokens:       "user_tokens",
		Events:           "doorbell_events",
	}
}

// LoadConfig reads the environment (and .env / CONFIG_FILE if present) into a Config.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		StoreBackend:  getEnvOrDefault("STORE_BACKEND", StoreBackendFirestore),
		LedgerBackend: getEnvOrDefault("LEDGER_BACKEND", ""),
		Tables:        DefaultTables(),

		FirebaseProjectID:  getEnvOrDefault("FIREBASE_PROJECT_ID", ""),
		FirebaseCredJSON:   getEnvOrDefault("FIREBASE_CRED_JSON", ""),
		FirebaseCredFile:   getEnvOrDefault("FIREBASE_CREDENTIALS_FILE", ""),
		FirebaseSecretName: getEnvOrDefault("FIREBASE_SECRET_NAME", ""),

		PushNotificationsEnabled: getEnvOrDefault("PUSH_NOTIFICATIONS_ENABLED", "true") == "true",
		DispatchBatchSize:        DefaultDispatchBatchSize,

		HygieneWorkerPoolSize: getEnvAsInt("TOKEN_HYGIENE_WORKER_POOL_SIZE", 4),
		HygieneBufferSize:     getEnvAsInt("TOKEN_HYGIENE_BUFFER_SIZE", 1000),
		HygieneTimeoutSeconds: getEnvAsInt("TOKEN_HYGIENE_TIMEOUT_SECONDS", 15),

		RedisURL:            getEnvOrDefault("REDIS_URL", ""),
		RedisPassword:       getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:             getEnvAsInt("REDIS_DB", 0),
		TokenSuppressionTTL: getEnvAsDuration("TOKEN_SUPPRESSION_TTL", 7*24*time.Hour),

		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 5),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 1),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		NatsURL:     getEnvOrDefault("NATS_URL", ""),
		NatsSubject: getEnvOrDefault("NATS_SUBJECT", "doorbell.events"),
		NatsQueue:   getEnvOrDefault("NATS_QUEUE", "doorbell-dispatch"),

		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),
		CORSAllowedOrigins:           getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// The optional config file only carries table naming and the batch size.
	// Environment variables still win over it.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		if err := LoadConfigFile(f, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.Tables.Devices = getEnvOrDefault("DEVICES_TABLE", cfg.Tables.Devices)
	cfg.Tables.UserDevices = getEnvOrDefault("USER_DEVICES_TABLE", cfg.Tables.UserDevices)
	cfg.Tables.UserDevicesIndex = getEnvOrDefault("USER_DEVICES_INDEX", cfg.Tables.UserDevicesIndex)
	cfg.Tables.UserTokens = getEnvOrDefault("USER_TOKENS_TABLE", cfg.Tables.UserTokens)
	cfg.Tables.Events = getEnvOrDefault("EVENTS_TABLE", cfg.Tables.Events)
	cfg.DispatchBatchSize = getEnvAsInt("DISPATCH_BATCH_SIZE", cfg.DispatchBatchSize)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports settings that would make the pipeline unusable.
func (c *Config) Validate() error {
	var problems []string

	switch c.StoreBackend {
	case StoreBackendFirestore, StoreBackendDynamoDB:
	default:
		problems = append(problems, fmt.Sprintf("STORE_BACKEND must be %q or %q, got %q",
			StoreBackendFirestore, StoreBackendDynamoDB, c.StoreBackend))
	}

	switch c.LedgerBackend {
	case "", StoreBackendFirestore, StoreBackendDynamoDB:
	case LedgerBackendPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required when LEDGER_BACKEND=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown LEDGER_BACKEND %q", c.LedgerBackend))
	}

	if c.DispatchBatchSize <= 0 {
		problems = append(problems, "DISPATCH_BATCH_SIZE must be positive")
	}

	// Firestore is reached through the same Firebase app as messaging.
	needsFirebase := c.PushNotificationsEnabled || c.StoreBackend == StoreBackendFirestore
	if needsFirebase && c.FirebaseCredJSON == "" && c.FirebaseCredFile == "" && c.FirebaseSecretName == "" {
		problems = append(problems, "one of FIREBASE_CRED_JSON, FIREBASE_CREDENTIALS_FILE or FIREBASE_SECRET_NAME is required")
	}

	if c.Tables.Devices == "" || c.Tables.UserDevices == "" || c.Tables.UserTokens == "" || c.Tables.Events == "" {
		problems = append(problems, "table names must not be empty")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// EffectiveLedgerBackend resolves an empty LedgerBackend to the store backend.
func (c *Config) EffectiveLedgerBackend() string {
	if c.LedgerBackend == "" {
		return c.StoreBackend
	}
	return c.LedgerBackend
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

// LoadConfigFile decodes YAML settings from reader on top of config.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	return nil
}
