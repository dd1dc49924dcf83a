package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	// EventBusName is the logical destination for emitted events. When empty,
	// event emission is disabled entirely; the worker still recomputes.
	EventBusName string

	// EventSourceBilling and EventSourceMessaging are the source identifiers
	// stamped on emitted events.
	EventSourceBilling   string
	EventSourceMessaging string

	OTLPEndpoint string

	OpsPort string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	MigrationsDir string

	WorkerPollInterval  time.Duration
	WorkerBatchSize     int
	WorkerRunTimeout    time.Duration
	WorkerRecordTimeout time.Duration
}

// Module provides configuration to the fx graph.
var Module = fx.Provide(Load)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "classpoint-invoicing"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		EventBusName:         strings.TrimSpace(getenv("EVENT_BUS_NAME", "")),
		EventSourceBilling:   getenv("EVENT_SOURCE_BILLING", "classpoint.billing"),
		EventSourceMessaging: getenv("EVENT_SOURCE_MESSAGING", "classpoint.messaging"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		OpsPort: getenv("OPS_PORT", "8081"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "classpoint"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		MigrationsDir: getenv("MIGRATIONS_DIR", ""),

		WorkerPollInterval:  getenvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerBatchSize:     getenvInt("WORKER_BATCH_SIZE", 25),
		WorkerRunTimeout:    getenvDuration("WORKER_RUN_TIMEOUT", 2*time.Minute),
		WorkerRecordTimeout: getenvDuration("WORKER_RECORD_TIMEOUT", 30*time.Second),
	}
}

// EmissionEnabled reports whether an event destination is configured.
func (c Config) EmissionEnabled() bool {
	return c.EventBusName != ""
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
