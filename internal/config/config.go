package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Gateway       GatewayConfig
	Delivery      DeliveryConfig
	Notifications NotificationConfig
	Escrow        EscrowConfig
	Disputes      DisputeConfig
	Platform      PlatformConfig
	Auth          AuthConfig
	Secrets       SecretsConfig
	Logger        LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
	// CronSecret guards the /cron endpoints
	CronSecret string
	// RateLimit is requests per second per caller, 0 disables limiting
	RateLimit float64
	RateBurst int
	// EnableScheduler runs the sweeps in-process instead of relying on an
	// external scheduler hitting /cron
	EnableScheduler bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "memory"
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// GatewayConfig holds payment gateway configuration
type GatewayConfig struct {
	// Mode is "http" or "sandbox"
	Mode    string
	BaseURL string
	// APIKeySecretPath names the API key in the secret store; APIKey is the
	// inline fallback for local runs
	APIKeySecretPath string
	APIKey           string
	Timeout          time.Duration
}

// DeliveryConfig holds Delivery Preparer configuration. An empty URL
// delivers immediately.
type DeliveryConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// NotificationConfig holds webhook dispatch configuration. An empty
// WebhookURL logs notifications instead of sending them.
type NotificationConfig struct {
	WebhookURL        string
	SigningSecretPath string
	SigningSecret     string
	QueueSize         int
	Workers           int
	MaxAttempts       int
}

// EscrowConfig holds money-movement timing
type EscrowConfig struct {
	HoldPeriod     time.Duration
	DisputeWindow  time.Duration
	ReviewWindow   time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
}

// DisputeConfig holds dispute deadlines
type DisputeConfig struct {
	ResponseWindow    time.Duration
	ResolutionWindow  time.Duration
	Expiry            time.Duration
	StrictResolutions bool
}

// PlatformConfig identifies the marketplace itself
type PlatformConfig struct {
	// AccountID owns commission ledger entries
	AccountID string
	AdminIDs  []string
	// CatalogFile is a JSON product list loaded at startup, used to seed
	// the in-memory store and by cmd/seed
	CatalogFile string
}

// AuthConfig holds JWT verification settings
type AuthConfig struct {
	JWTSecretPath string
	JWTSecret     string
	Issuer        string
}

// SecretsConfig selects the secret backend
type SecretsConfig struct {
	// Backend is "local", "vault" or "aws"
	Backend        string
	LocalPath      string
	VaultAddress   string
	VaultAuth      string
	VaultToken     string
	VaultRoleID    string
	VaultSecretID  string
	VaultNamespace string
	VaultMount     string
	AWSRegion      string
	AWSEndpoint    string
	CacheTTL       time.Duration
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables. A .env file
// in the working directory is read first when present; real environment
// variables win.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
			CronSecret:      getEnv("CRON_SECRET", ""),
			RateLimit:       getEnvAsFloat("RATE_LIMIT_RPS", 10),
			RateBurst:       getEnvAsInt("RATE_LIMIT_BURST", 20),
			EnableScheduler: getEnvAsBool("ENABLE_SCHEDULER", false),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "escrow_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Gateway: GatewayConfig{
			Mode:             getEnv("GATEWAY_MODE", "sandbox"),
			BaseURL:          getEnv("GATEWAY_BASE_URL", ""),
			APIKeySecretPath: getEnv("GATEWAY_API_KEY_SECRET_PATH", ""),
			APIKey:           getEnv("GATEWAY_API_KEY", ""),
			Timeout:          getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Delivery: DeliveryConfig{
			URL:     getEnv("DELIVERY_URL", ""),
			Token:   getEnv("DELIVERY_TOKEN", ""),
			Timeout: getEnvAsDuration("DELIVERY_TIMEOUT", 10*time.Second),
		},
		Notifications: NotificationConfig{
			WebhookURL:        getEnv("WEBHOOK_URL", ""),
			SigningSecretPath: getEnv("WEBHOOK_SIGNING_SECRET_PATH", ""),
			SigningSecret:     getEnv("WEBHOOK_SIGNING_SECRET", ""),
			QueueSize:         getEnvAsInt("NOTIFY_QUEUE_SIZE", 1024),
			Workers:           getEnvAsInt("NOTIFY_WORKERS", 4),
			MaxAttempts:       getEnvAsInt("WEBHOOK_MAX_ATTEMPTS", 5),
		},
		Escrow: EscrowConfig{
			HoldPeriod:     getEnvAsDuration("ESCROW_HOLD_PERIOD", 7*24*time.Hour),
			DisputeWindow:  getEnvAsDuration("DISPUTE_WINDOW", 7*24*time.Hour),
			ReviewWindow:   getEnvAsDuration("REVIEW_WINDOW", 30*24*time.Hour),
			SweepInterval:  getEnvAsDuration("ESCROW_SWEEP_INTERVAL", 5*time.Minute),
			SweepBatchSize: getEnvAsInt("ESCROW_SWEEP_BATCH_SIZE", 200),
		},
		Disputes: DisputeConfig{
			ResponseWindow:    getEnvAsDuration("DISPUTE_RESPONSE_WINDOW", 3*24*time.Hour),
			ResolutionWindow:  getEnvAsDuration("DISPUTE_RESOLUTION_WINDOW", 14*24*time.Hour),
			Expiry:            getEnvAsDuration("DISPUTE_EXPIRY", 30*24*time.Hour),
			StrictResolutions: getEnvAsBool("DISPUTE_STRICT_RESOLUTIONS", false),
		},
		Platform: PlatformConfig{
			AccountID:   getEnv("PLATFORM_ACCOUNT_ID", "platform"),
			AdminIDs:    getEnvAsList("ADMIN_USER_IDS"),
			CatalogFile: getEnv("CATALOG_FILE", ""),
		},
		Auth: AuthConfig{
			JWTSecretPath: getEnv("JWT_SECRET_PATH", ""),
			JWTSecret:     getEnv("JWT_SECRET", ""),
			Issuer:        getEnv("JWT_ISSUER", ""),
		},
		Secrets: SecretsConfig{
			Backend:        getEnv("SECRETS_BACKEND", "local"),
			LocalPath:      getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			VaultAddress:   getEnv("VAULT_ADDR", ""),
			VaultAuth:      getEnv("VAULT_AUTH_METHOD", "token"),
			VaultToken:     getEnv("VAULT_TOKEN", ""),
			VaultRoleID:    getEnv("VAULT_ROLE_ID", ""),
			VaultSecretID:  getEnv("VAULT_SECRET_ID", ""),
			VaultNamespace: getEnv("VAULT_NAMESPACE", ""),
			VaultMount:     getEnv("VAULT_MOUNT_PATH", "secret"),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
			AWSEndpoint:    getEnv("AWS_SECRETS_ENDPOINT", ""),
			CacheTTL:       getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and cross-field constraints
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or memory, got %q", c.Database.Driver)
	}

	switch c.Gateway.Mode {
	case "http":
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("GATEWAY_BASE_URL is required in http mode")
		}
		if c.Gateway.APIKeySecretPath == "" && c.Gateway.APIKey == "" {
			return fmt.Errorf("GATEWAY_API_KEY_SECRET_PATH or GATEWAY_API_KEY is required in http mode")
		}
	case "sandbox":
	default:
		return fmt.Errorf("GATEWAY_MODE must be http or sandbox, got %q", c.Gateway.Mode)
	}

	if c.Auth.JWTSecretPath == "" && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET_PATH or JWT_SECRET is required")
	}
	if c.Server.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required")
	}
	if c.Platform.AccountID == "" {
		return fmt.Errorf("PLATFORM_ACCOUNT_ID is required")
	}
	if c.Disputes.ResponseWindow >= c.Disputes.Expiry {
		return fmt.Errorf("DISPUTE_RESPONSE_WINDOW must be shorter than DISPUTE_EXPIRY")
	}
	if c.Escrow.SweepBatchSize <= 0 {
		return fmt.Errorf("ESCROW_SWEEP_BATCH_SIZE must be positive")
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("72h") and whole days ("7d")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if days, ok := strings.CutSuffix(valueStr, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return defaultValue
		}
		return time.Duration(n) * 24 * time.Hour
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
