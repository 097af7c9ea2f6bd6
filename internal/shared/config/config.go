package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	KurrentDB    KurrentDBConfig
	Auth         AuthConfig
	Simulation   SimulationConfig
	Notification NotificationConfig
	Heliant      HeliantConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// DatabaseConfig configures PostgreSQL. When Enabled is false the service
// runs on in-memory repositories.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// MaxConns and MinConns size the pgx pool
	MaxConns       int
	MinConns       int
	ConnectTimeout time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// RedisConfig configures the Redis backends for inventory, key/value storage
// and the hospital notification streams.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// KurrentDBConfig holds configuration for KurrentDB (EventStoreDB).
type KurrentDBConfig struct {
	// Enabled switches the event bus from in-process to KurrentDB
	Enabled bool
	// Host is the KurrentDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	Username string
	Password string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
	// DevUser lets development builds run without tokens
	DevUser bool
}

// SimulationConfig drives the single simulation dispatcher.
type SimulationConfig struct {
	Enabled       bool
	ResponseDelay time.Duration
	ApprovalRate  float64
	DriftInterval time.Duration
	DriftMax      int
	OfferInterval time.Duration
	Seed          int64
}

type NotificationConfig struct {
	Workers         int
	BufferSize      int
	RetryAttempts   int
	RetryDelay      time.Duration
	DefaultDuration time.Duration
}

// HeliantConfig configures the blood bank LIS adapter (SQL Server).
type HeliantConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	HospitalID   string
	PollInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetInt("SERVER_PORT"),
			Env:            v.GetString("ENV"),
			CORSOrigins:    splitList(v.GetString("CORS_ORIGINS")),
			RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("DB_ENABLED"),
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			Database: v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),

			MaxConns:       v.GetInt("DB_MAX_CONNS"),
			MinConns:       v.GetInt("DB_MIN_CONNS"),
			ConnectTimeout: v.GetDuration("DB_CONNECT_TIMEOUT"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		KurrentDB: KurrentDBConfig{
			Enabled:  v.GetBool("KURRENTDB_ENABLED"),
			Host:     v.GetString("KURRENTDB_HOST"),
			Port:     v.GetInt("KURRENTDB_PORT"),
			Insecure: v.GetBool("KURRENTDB_INSECURE"),
			Username: v.GetString("KURRENTDB_USERNAME"),
			Password: v.GetString("KURRENTDB_PASSWORD"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("JWT_SECRET"),
			Issuer:    v.GetString("JWT_ISSUER"),
			TokenTTL:  v.GetDuration("JWT_TTL"),
			DevUser:   v.GetBool("AUTH_DEV_USER"),
		},
		Simulation: SimulationConfig{
			Enabled:       v.GetBool("SIMULATION_ENABLED"),
			ResponseDelay: v.GetDuration("SIMULATION_RESPONSE_DELAY"),
			ApprovalRate:  v.GetFloat64("SIMULATION_APPROVAL_RATE"),
			DriftInterval: v.GetDuration("SIMULATION_DRIFT_INTERVAL"),
			DriftMax:      v.GetInt("SIMULATION_DRIFT_MAX"),
			OfferInterval: v.GetDuration("SIMULATION_OFFER_INTERVAL"),
			Seed:          v.GetInt64("SIMULATION_SEED"),
		},
		Notification: NotificationConfig{
			Workers:         v.GetInt("NOTIFICATION_WORKERS"),
			BufferSize:      v.GetInt("NOTIFICATION_BUFFER"),
			RetryAttempts:   v.GetInt("NOTIFICATION_RETRY_ATTEMPTS"),
			RetryDelay:      v.GetDuration("NOTIFICATION_RETRY_DELAY"),
			DefaultDuration: v.GetDuration("NOTIFICATION_DEFAULT_DURATION"),
		},
		Heliant: HeliantConfig{
			Enabled:      v.GetBool("HELIANT_ENABLED"),
			Host:         v.GetString("HELIANT_HOST"),
			Port:         v.GetInt("HELIANT_PORT"),
			Database:     v.GetString("HELIANT_DATABASE"),
			User:         v.GetString("HELIANT_USER"),
			Password:     v.GetString("HELIANT_PASSWORD"),
			HospitalID:   v.GetString("HELIANT_HOSPITAL_ID"),
			PollInterval: v.GetDuration("HELIANT_POLL_INTERVAL"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("ENV", "development")
	v.SetDefault("CORS_ORIGINS", "http://localhost:8080")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	v.SetDefault("DB_ENABLED", false)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "bloodconnect")
	v.SetDefault("DB_PASSWORD", "bloodconnect")
	v.SetDefault("DB_NAME", "bloodconnect")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DB_CONNECT_TIMEOUT", "10s")

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KURRENTDB_ENABLED", false)
	v.SetDefault("KURRENTDB_HOST", "localhost")
	v.SetDefault("KURRENTDB_PORT", 2113)
	v.SetDefault("KURRENTDB_INSECURE", true)

	v.SetDefault("JWT_SECRET", "dev-secret-change-in-prod")
	v.SetDefault("JWT_ISSUER", "bloodconnect")
	v.SetDefault("JWT_TTL", "12h")
	v.SetDefault("AUTH_DEV_USER", true)

	v.SetDefault("SIMULATION_ENABLED", true)
	v.SetDefault("SIMULATION_RESPONSE_DELAY", "9s")
	v.SetDefault("SIMULATION_APPROVAL_RATE", 0.7)
	v.SetDefault("SIMULATION_DRIFT_INTERVAL", "30s")
	v.SetDefault("SIMULATION_DRIFT_MAX", 2)
	v.SetDefault("SIMULATION_OFFER_INTERVAL", "2m")
	v.SetDefault("SIMULATION_SEED", 0)

	v.SetDefault("NOTIFICATION_WORKERS", 4)
	v.SetDefault("NOTIFICATION_BUFFER", 1000)
	v.SetDefault("NOTIFICATION_RETRY_ATTEMPTS", 3)
	v.SetDefault("NOTIFICATION_RETRY_DELAY", "2s")
	v.SetDefault("NOTIFICATION_DEFAULT_DURATION", "5s")

	v.SetDefault("HELIANT_ENABLED", false)
	v.SetDefault("HELIANT_PORT", 1433)
	v.SetDefault("HELIANT_POLL_INTERVAL", "1m")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("SERVER_PORT must be positive, got %d", c.Server.Port)
	}
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-secret-change-in-prod" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.Auth.DevUser {
			return fmt.Errorf("AUTH_DEV_USER must be disabled in production")
		}
	}
	if c.Simulation.ApprovalRate < 0 || c.Simulation.ApprovalRate > 1 {
		return fmt.Errorf("SIMULATION_APPROVAL_RATE must be within [0,1], got %v", c.Simulation.ApprovalRate)
	}
	if c.Heliant.Enabled && c.Heliant.HospitalID == "" {
		return fmt.Errorf("HELIANT_HOSPITAL_ID is required when HELIANT_ENABLED is true")
	}
	if c.Notification.Workers <= 0 {
		return fmt.Errorf("NOTIFICATION_WORKERS must be positive, got %d", c.Notification.Workers)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
