package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env                 string
	LogLevel            string
	HTTPAddr            string
	DatabaseURL         string
	JWTSecret           string
	TrackingTokenSecret string
	MaxFileSizeBytes    int64
	RabbitMQURL         string
	RabbitMQWorkerMode  string
	KafkaBrokers        []string
	KafkaTopic          string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int64
	CorsAllowedOrigins  []string
	WSHeartbeatInterval time.Duration

	SlowRequestThreshold time.Duration

	ClaimLease           time.Duration
	LeaseSweepInterval   time.Duration
	CartHoldTTL          time.Duration
	ConfirmationCodeCost int64
	EventBuffer          int64

	CurrencyTimeout  time.Duration
	CurrencyRates    string
	CurrencyCacheTTL time.Duration

	DeliveryFeeCurrency string
	DeliveryFeeTiers    string
	DeliveryDefaultFee  int64

	ObjectStoreEndpoint        string
	ObjectStoreRegion          string
	ObjectStoreAccessKeyID     string
	ObjectStoreSecretAccessKey string
	ObjectStoreBucket          string
	ObjectStorePublicBaseURL   string
	ObjectStoreStorageClass    string
}

func Load() Config {
	cfg := Config{
		Env:                 getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", ""),
		HTTPAddr:            getEnv("HTTP_ADDR", ":8086"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		TrackingTokenSecret: getEnvFirst([]string{"TRACKING_TOKEN_SECRET", "ORDER_TRACKING_TOKEN_SECRET"}, "dev-insecure-tracking-secret"),
		MaxFileSizeBytes:    getEnvInt64("MAX_FILE_SIZE", 5*1024*1024),
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		RabbitMQWorkerMode:  getEnv("RABBITMQ_WORKER_MODE", "daemon"),
		KafkaBrokers:        splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "pharmacy.fulfillment.events"),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt64("REDIS_DB", 0),
		CorsAllowedOrigins:  splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		WSHeartbeatInterval: getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),

		SlowRequestThreshold: getEnvDuration("SLOW_REQUEST_THRESHOLD", 750*time.Millisecond),

		ClaimLease:           getEnvDuration("CLAIM_LEASE", 15*time.Minute),
		LeaseSweepInterval:   getEnvDuration("LEASE_SWEEP_INTERVAL", time.Minute),
		CartHoldTTL:          getEnvDuration("CART_HOLD_TTL", 30*time.Minute),
		ConfirmationCodeCost: getEnvInt64("CONFIRMATION_CODE_COST", 0),
		EventBuffer:          getEnvInt64("EVENT_BUFFER", 256),

		CurrencyTimeout:  getEnvDuration("CURRENCY_TIMEOUT", 2*time.Second),
		CurrencyRates:    getEnv("CURRENCY_RATES", ""),
		CurrencyCacheTTL: getEnvDuration("CURRENCY_CACHE_TTL", 10*time.Minute),

		DeliveryFeeCurrency: getEnv("DELIVERY_FEE_CURRENCY", "USD"),
		DeliveryFeeTiers:    getEnv("DELIVERY_FEE_TIERS", ""),
		DeliveryDefaultFee:  getEnvInt64("DELIVERY_DEFAULT_FEE", 500),

		// Object store (Cloudflare R2 / S3-compatible)
		ObjectStoreEndpoint:        getEnvFirst([]string{"OBJECT_STORE_ENDPOINT", "R2_S3_ENDPOINT"}, ""),
		ObjectStoreRegion:          getEnvFirst([]string{"OBJECT_STORE_REGION", "R2_REGION"}, "auto"),
		ObjectStoreAccessKeyID:     getEnvFirst([]string{"OBJECT_STORE_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID"}, ""),
		ObjectStoreSecretAccessKey: getEnvFirst([]string{"OBJECT_STORE_SECRET_ACCESS_KEY", "R2_SECRET_ACCESS_KEY"}, ""),
		ObjectStoreBucket:          getEnvFirst([]string{"OBJECT_STORE_BUCKET", "R2_BUCKET"}, ""),
		ObjectStorePublicBaseURL:   getEnvFirst([]string{"OBJECT_STORE_PUBLIC_BASE_URL", "R2_PUBLIC_BASE_URL"}, ""),
		ObjectStoreStorageClass:    getEnvFirst([]string{"OBJECT_STORE_STORAGE_CLASS", "R2_STORAGE_CLASS"}, "STANDARD"),
	}

	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 5 * 1024 * 1024
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.LeaseSweepInterval <= 0 {
		cfg.LeaseSweepInterval = time.Minute
	}

	// Back-compat: allow R2_ACCOUNT_ID -> endpoint
	if strings.TrimSpace(cfg.ObjectStoreEndpoint) == "" {
		accountID := strings.TrimSpace(os.Getenv("R2_ACCOUNT_ID"))
		if accountID != "" {
			cfg.ObjectStoreEndpoint = "https://" + accountID + ".r2.cloudflarestorage.com"
		}
	}

	return cfg
}

func (c Config) Production() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvFirst(keys []string, fallback string) string {
	for _, k := range keys {
		value := strings.TrimSpace(os.Getenv(k))
		if value != "" {
			return value
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
