package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string
	EventTopic   string

	// Gateway credentials. Password1 signs outbound requests, Password2
	// verifies inbound notifications.
	GatewayBaseURL string
	MerchantLogin  string
	Password1      string
	Password2      string
	TestMode       bool

	MaxAmount          decimal.Decimal
	Currency           string
	GatewayTimeout     time.Duration
	GatewayMaxRetries  uint64
	ProcessingDeadline time.Duration
	SweepInterval      time.Duration
	LockTTL            time.Duration
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8082"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		KafkaBrokers:       os.Getenv("KAFKA_BROKERS"),
		EventTopic:         getEnv("EVENT_TOPIC", "transaction.state.changed"),
		GatewayBaseURL:     getEnv("GATEWAY_BASE_URL", "https://auth.robokassa.ru"),
		MerchantLogin:      os.Getenv("MERCHANT_LOGIN"),
		Password1:          os.Getenv("GATEWAY_PASSWORD1"),
		Password2:          os.Getenv("GATEWAY_PASSWORD2"),
		TestMode:           getEnv("GATEWAY_TEST_MODE", "0") == "1",
		MaxAmount:          getEnvDecimal("MAX_AMOUNT", "1000000.00"),
		Currency:           getEnv("CURRENCY", "RUB"),
		GatewayTimeout:     getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayMaxRetries:  getEnvUint("GATEWAY_MAX_RETRIES", 3),
		ProcessingDeadline: getEnvDuration("PROCESSING_DEADLINE", 15*time.Minute),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", time.Minute),
		LockTTL:            getEnvDuration("LOCK_TTL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
