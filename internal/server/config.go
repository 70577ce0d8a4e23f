package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/quizforge/quizforge/internal/report"
)

// Config holds all configuration for the report service.
type Config struct {
	Environment string
	DataDir     string
	ContentDir  string
	BindAddress string
	Port        int

	LogLevel  string
	LogFormat string

	StripeSecretKey     string
	StripeWebhookSecret string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	GenerateTimeout time.Duration
	StyleID         string

	WorkerEnabled  bool
	WorkerInterval time.Duration
	WorkerBatch    int
	WorkerSecret   string

	AdminKey       string
	AllowedHosts   []string
	AllowedOrigins []string
	PublicMetrics  bool

	RateLimit       int
	RateLimitWindow time.Duration
}

// LoadConfig loads service configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("QF_PORT", 8090)
	if err != nil {
		return nil, err
	}
	generateTimeout, err := envOrDefaultSeconds("QF_GENERATE_TIMEOUT_SECONDS", report.DefaultGenerateTimeout)
	if err != nil {
		return nil, err
	}
	workerInterval, err := envOrDefaultSeconds("QF_WORKER_INTERVAL_SECONDS", report.DefaultWorkerInterval)
	if err != nil {
		return nil, err
	}
	workerBatch, err := envOrDefaultInt("QF_WORKER_BATCH", report.DefaultWorkerBatch)
	if err != nil {
		return nil, err
	}
	rateLimit, err := envOrDefaultInt("QF_RATE_LIMIT", 120)
	if err != nil {
		return nil, err
	}
	rateWindow, err := envOrDefaultSeconds("QF_RATE_LIMIT_WINDOW_SECONDS", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: envOrDefault("QF_ENV", "development"),
		DataDir:     envOrDefault("QF_DATA_DIR", "/data"),
		ContentDir:  envOrDefault("QF_CONTENT_DIR", "/content"),
		BindAddress: envOrDefault("QF_BIND_ADDRESS", "0.0.0.0"),
		Port:        port,

		LogLevel:  envOrDefault("QF_LOG_LEVEL", "info"),
		LogFormat: envOrDefault("QF_LOG_FORMAT", "auto"),

		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),

		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:   strings.TrimSpace(os.Getenv("QF_OPENAI_BASE_URL")),
		OpenAIModel:     envOrDefault("QF_OPENAI_MODEL", "gpt-4o-mini"),
		GenerateTimeout: generateTimeout,
		StyleID:         envOrDefault("QF_STYLE_ID", report.DefaultStyleID),

		WorkerEnabled:  envBool("QF_WORKER_ENABLED", true),
		WorkerInterval: workerInterval,
		WorkerBatch:    workerBatch,
		WorkerSecret:   strings.TrimSpace(os.Getenv("QF_WORKER_SECRET")),

		AdminKey:       strings.TrimSpace(os.Getenv("QF_ADMIN_KEY")),
		AllowedHosts:   envList("QF_ALLOWED_HOSTS"),
		AllowedOrigins: envList("QF_ALLOWED_ORIGINS"),
		PublicMetrics:  envBool("QF_PUBLIC_METRICS", false),

		RateLimit:       rateLimit,
		RateLimitWindow: rateWindow,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Production reports whether the service runs with production secret rules.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("QF_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.GenerateTimeout <= 0 {
		return fmt.Errorf("QF_GENERATE_TIMEOUT_SECONDS must be greater than 0")
	}
	if c.WorkerInterval <= 0 {
		return fmt.Errorf("QF_WORKER_INTERVAL_SECONDS must be greater than 0")
	}
	if c.WorkerBatch < 1 {
		return fmt.Errorf("QF_WORKER_BATCH must be at least 1, got %d", c.WorkerBatch)
	}

	if c.Production() {
		var missing []string
		if c.StripeSecretKey == "" {
			missing = append(missing, "STRIPE_SECRET_KEY")
		}
		if c.StripeWebhookSecret == "" {
			missing = append(missing, "STRIPE_WEBHOOK_SECRET")
		}
		if c.AdminKey == "" && !c.PublicMetrics {
			missing = append(missing, "QF_ADMIN_KEY")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultSeconds(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return time.Duration(n) * time.Second, nil
	}
	return fallback, nil
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
