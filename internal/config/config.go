package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig holds redis configuration. An empty Addr disables redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// IsDevelopment reports whether the server runs in development mode.
func (s ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// QueueConfig holds queue and scheduler configuration
type QueueConfig struct {
	Timezone                 string
	DefaultAutoRemoveMinutes int
	CodeAttempts             int
	SweepSchedule            string
	UsageResetSchedule       string
	OTPPurgeSchedule         string
}

// OTPConfig holds one-time password configuration
type OTPConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	WebhookSecret   string
	CheckoutBaseURL string
	Currency        string
}

// SMSConfig holds SMS gateway configuration. An empty GatewayURL logs messages instead of sending them.
type SMSConfig struct {
	GatewayURL string
	APIKey     string
	Sender     string
	Timeout    time.Duration
}

// AppointmentConfig holds appointment booking configuration
type AppointmentConfig struct {
	CancellationCutoff time.Duration
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Redis       RedisConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Queue       QueueConfig
	OTP         OTPConfig
	Payment     PaymentConfig
	SMS         SMSConfig
	Appointment AppointmentConfig
}

// Location resolves the configured business timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Queue.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: load timezone %q: %w", c.Queue.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// .env is optional, the environment wins
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "tabi"),
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "tabi"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", "tabi-access-secret"),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", "tabi-refresh-secret"),
			AccessTTL:     getEnvAsDuration("JWT_ACCESS_TTL", 24*time.Hour),
			RefreshTTL:    getEnvAsDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Queue: QueueConfig{
			Timezone:                 getEnv("TIMEZONE", "Asia/Ulaanbaatar"),
			DefaultAutoRemoveMinutes: getEnvAsInt("QUEUE_AUTO_REMOVE_MINUTES", 120),
			CodeAttempts:             getEnvAsInt("LINE_CODE_ATTEMPTS", 10),
			SweepSchedule:            getEnv("QUEUE_SWEEP_SCHEDULE", "0 * * * * *"),
			UsageResetSchedule:       getEnv("USAGE_RESET_SCHEDULE", "0 5 0 * * *"),
			OTPPurgeSchedule:         getEnv("OTP_PURGE_SCHEDULE", "0 */15 * * * *"),
		},
		OTP: OTPConfig{
			TTL:            getEnvAsDuration("OTP_TTL", 10*time.Minute),
			MaxAttempts:    getEnvAsInt("OTP_MAX_ATTEMPTS", 5),
			ResendCooldown: getEnvAsDuration("OTP_RESEND_COOLDOWN", time.Minute),
		},
		Payment: PaymentConfig{
			WebhookSecret:   getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			CheckoutBaseURL: getEnv("PAYMENT_CHECKOUT_URL", "https://pay.example.com/checkout"),
			Currency:        getEnv("PAYMENT_CURRENCY", "MNT"),
		},
		SMS: SMSConfig{
			GatewayURL: getEnv("SMS_GATEWAY_URL", ""),
			APIKey:     getEnv("SMS_API_KEY", ""),
			Sender:     getEnv("SMS_SENDER", "Tabi"),
			Timeout:    getEnvAsDuration("SMS_TIMEOUT", 10*time.Second),
		},
		Appointment: AppointmentConfig{
			CancellationCutoff: getEnvAsDuration("APPOINTMENT_CANCEL_CUTOFF", 2*time.Hour),
		},
	}

	if cfg.Payment.WebhookSecret == "" && !cfg.Server.IsDevelopment() {
		return nil, fmt.Errorf("config: PAYMENT_WEBHOOK_SECRET is required outside development")
	}

	return cfg, nil
}

// LogFields returns the configuration as zap fields for the startup log
func (c *Config) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("service", c.ServiceName),
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_user", c.DB.User),
		zap.String("db_name", c.DB.DBName),
		zap.String("redis_addr", c.Redis.Addr),
		zap.String("server_port", c.Server.Port),
		zap.String("timezone", c.Queue.Timezone),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	switch getEnv(key, "") {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
