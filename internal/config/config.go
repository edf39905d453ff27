package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	HTTPAddr    string
	DatabaseURL string
	AutoMigrate bool
	JWTSecret   string
	Redis       RedisConfig
	VNPay       VNPayConfig
	Tickets     TicketConfig
	Worker      WorkerConfig
	PaymentRate RateConfig
	S3          S3Config
	Logging     LoggingConfig
}

type RedisConfig struct {
	URL           string
	EventsChannel string
	DirectoryTTL  time.Duration
}

type VNPayConfig struct {
	TmnCode       string
	HashSecret    string
	PaymentURL    string
	ReturnURL     string
	Locale        string
	DefaultExpiry int
}

type TicketConfig struct {
	ServiceURL   string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scope        string
	RPS          float64
	IssueWait    time.Duration
	MaxAttempts  int
}

type WorkerConfig struct {
	SweepInterval   time.Duration
	ClaimStaleAfter time.Duration
}

type RateConfig struct {
	Limit  int
	Window time.Duration
}

type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
}

type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads the environment, after merging an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:         getenv("APP_ENV", "dev"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AutoMigrate: getenvBool("AUTO_MIGRATE", true),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Redis: RedisConfig{
			URL:           os.Getenv("REDIS_URL"),
			EventsChannel: getenv("REDIS_EVENTS_CHANNEL", "busline:orders"),
			DirectoryTTL:  getenvDuration("DIRECTORY_CACHE_TTL", 10*time.Minute),
		},
		VNPay: VNPayConfig{
			TmnCode:       os.Getenv("VNP_TMNCODE"),
			HashSecret:    os.Getenv("VNP_HASHSECRET"),
			PaymentURL:    os.Getenv("VNP_URL"),
			ReturnURL:     os.Getenv("VNP_RETURN_URL"),
			Locale:        getenv("VNP_LOCALE", "vn"),
			DefaultExpiry: getenvInt("VNP_QR_DEFAULT_EXPIRY", 15),
		},
		Tickets: TicketConfig{
			ServiceURL:   os.Getenv("TICKET_SERVICE_URL"),
			ClientID:     os.Getenv("TICKET_CLIENT_ID"),
			ClientSecret: os.Getenv("TICKET_CLIENT_SECRET"),
			TokenURL:     os.Getenv("TICKET_TOKEN_URL"),
			Scope:        os.Getenv("TICKET_SCOPE"),
			RPS:          getenvFloat("TICKET_RPS", 5),
			IssueWait:    getenvDuration("TICKET_ISSUE_WAIT", 3*time.Second),
			MaxAttempts:  getenvInt("TICKET_MAX_ATTEMPTS", 5),
		},
		Worker: WorkerConfig{
			SweepInterval:   getenvDuration("WORKER_SWEEP_INTERVAL", 30*time.Second),
			ClaimStaleAfter: getenvDuration("TICKET_CLAIM_STALE_AFTER", 5*time.Minute),
		},
		PaymentRate: RateConfig{
			Limit:  getenvInt("PAYMENT_RATE_LIMIT", 20),
			Window: getenvDuration("PAYMENT_RATE_WINDOW", time.Minute),
		},
		S3: S3Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getenv("S3_REGION", "us-east-1"),
			UseSSL:         getenvBool("S3_USE_SSL", true),
		},
		Logging: LoggingConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "text"),
			File:   os.Getenv("LOG_FILE"),
		},
	}

	required := []struct {
		key, value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"JWT_SECRET", cfg.JWTSecret},
		{"VNP_TMNCODE", cfg.VNPay.TmnCode},
		{"VNP_HASHSECRET", cfg.VNPay.HashSecret},
		{"VNP_URL", cfg.VNPay.PaymentURL},
		{"VNP_RETURN_URL", cfg.VNPay.ReturnURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, fmt.Errorf("%s is required", r.key)
		}
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
