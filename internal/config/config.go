package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	SMS      SMSConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines token issuance parameters. RefreshSecret and OtpSecret
// fall back to JWTSecret when unset; expiries are duration expressions such
// as "15m" or "30d".
type AuthConfig struct {
	JWTSecret     string
	RefreshSecret string
	OtpSecret     string
	AccessExpiry  string
	RefreshExpiry string
	OtpExpiry     string
	BcryptCost    int
	OtpCodeLength int
	OtpMaxTries   int
}

// GatewayConfig controls the websocket gateway.
type GatewayConfig struct {
	Host                     string
	Port                     string
	Path                     string
	Secret                   string
	ReconcileIntervalSeconds int
	StaleTimeoutSeconds      int
	ShutdownTimeoutSeconds   int
	PingIntervalSeconds      int
	PongWaitSeconds          int
	SendBufferSize           int
}

// SMSConfig holds pattern-SMS provider settings.
type SMSConfig struct {
	BaseURL      string
	APIKey       string
	OtpPatternID string
	Sender1      string
	Sender2      string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	jwtSecret := getEnv("AUTH_JWT_SECRET", "dev-secret")

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "realtime-gateway"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "4000"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:     jwtSecret,
			RefreshSecret: os.Getenv("AUTH_REFRESH_TOKEN_SECRET"),
			OtpSecret:     os.Getenv("AUTH_OTP_SECRET"),
			AccessExpiry:  getEnv("AUTH_ACCESS_TOKEN_EXPIRES_IN", "15m"),
			RefreshExpiry: getEnv("AUTH_REFRESH_TOKEN_EXPIRES_IN", "30d"),
			OtpExpiry:     getEnv("AUTH_OTP_EXPIRES_IN", "15m"),
			BcryptCost:    getEnvAsInt("AUTH_BCRYPT_COST", 12),
			OtpCodeLength: getEnvAsInt("AUTH_OTP_CODE_LENGTH", 6),
			OtpMaxTries:   getEnvAsInt("AUTH_OTP_MAX_TRIES", 5),
		},
		Gateway: GatewayConfig{
			Host:                     getEnv("GATEWAY_HOST", "0.0.0.0"),
			Port:                     getEnv("GATEWAY_PORT", "4001"),
			Path:                     getEnv("GATEWAY_PATH", "/ws"),
			Secret:                   getEnv("GATEWAY_JWT_SECRET", jwtSecret),
			ReconcileIntervalSeconds: getEnvAsInt("GATEWAY_RECONCILE_INTERVAL_SECONDS", 60),
			StaleTimeoutSeconds:      getEnvAsInt("GATEWAY_STALE_TIMEOUT_SECONDS", 300),
			ShutdownTimeoutSeconds:   getEnvAsInt("GATEWAY_SHUTDOWN_TIMEOUT_SECONDS", 10),
			PingIntervalSeconds:      getEnvAsInt("GATEWAY_PING_INTERVAL_SECONDS", 25),
			PongWaitSeconds:          getEnvAsInt("GATEWAY_PONG_WAIT_SECONDS", 60),
			SendBufferSize:           getEnvAsInt("GATEWAY_SEND_BUFFER_SIZE", 64),
		},
		SMS: SMSConfig{
			BaseURL:      os.Getenv("SMS_BASE_URL"),
			APIKey:       os.Getenv("SMS_API_KEY"),
			OtpPatternID: os.Getenv("SMS_OTP_PATTERN_ID"),
			Sender1:      os.Getenv("SMS_SENDER_NUMBER1"),
			Sender2:      os.Getenv("SMS_SENDER_NUMBER2"),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Addr returns the gateway bind address.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%s", g.Host, g.Port)
}

// ReconcileInterval returns the reconciliation sweep period.
func (g GatewayConfig) ReconcileInterval() time.Duration {
	if g.ReconcileIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(g.ReconcileIntervalSeconds) * time.Second
}

// StaleTimeout returns the inactivity threshold for reconciliation.
func (g GatewayConfig) StaleTimeout() time.Duration {
	if g.StaleTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(g.StaleTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds the graceful shutdown sequence.
func (g GatewayConfig) ShutdownTimeout() time.Duration {
	if g.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(g.ShutdownTimeoutSeconds) * time.Second
}

// PingInterval returns the websocket ping period.
func (g GatewayConfig) PingInterval() time.Duration {
	if g.PingIntervalSeconds <= 0 {
		return 25 * time.Second
	}
	return time.Duration(g.PingIntervalSeconds) * time.Second
}

// PongWait returns how long a connection may stay silent before reads time out.
func (g GatewayConfig) PongWait() time.Duration {
	if g.PongWaitSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(g.PongWaitSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
