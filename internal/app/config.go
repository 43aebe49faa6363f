package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/widgetchat-backend/internal/data/db"
	"github.com/yungbote/widgetchat-backend/internal/inference/client"
	"github.com/yungbote/widgetchat-backend/internal/observability"
)

type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogMode   string `env:"LOG_MODE" envDefault:"development"`
	RunWorker bool   `env:"RUN_WORKER" envDefault:"true"`

	Database  DatabaseConfig
	Redis     RedisConfig
	Realtime  RealtimeConfig
	Jobs      JobsConfig
	Inference InferenceConfig
	Chat      ChatConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	Driver          string        `env:"DB_DRIVER" envDefault:"postgres"`
	URL             string        `env:"DATABASE_URL"`
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            string        `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"postgres"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name            string        `env:"POSTGRES_DB" envDefault:"widgetchat"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate     bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

func (c DatabaseConfig) DB() db.Config {
	return db.Config{
		Driver:          c.Driver,
		DSN:             c.URL,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Name:            c.Name,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

type RedisConfig struct {
	URL  string `env:"REDIS_URL"`
	Addr string `env:"REDIS_ADDR"`
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" || strings.TrimSpace(c.Addr) != ""
}

// Options prefers REDIS_URL and falls back to a bare REDIS_ADDR.
func (c RedisConfig) Options() (*goredis.Options, error) {
	if u := strings.TrimSpace(c.URL); u != "" {
		return goredis.ParseURL(u)
	}
	if a := strings.TrimSpace(c.Addr); a != "" {
		return &goredis.Options{Addr: a, DialTimeout: 5 * time.Second}, nil
	}
	return nil, fmt.Errorf("redis not configured")
}

// ConnURL returns a redis:// URL for libraries that only take one (asynq).
func (c RedisConfig) ConnURL() string {
	if u := strings.TrimSpace(c.URL); u != "" {
		return u
	}
	if a := strings.TrimSpace(c.Addr); a != "" {
		return "redis://" + a
	}
	return ""
}

type RealtimeConfig struct {
	Bus        string `env:"REALTIME_BUS" envDefault:"local"`
	Channel    string `env:"REALTIME_CHANNEL" envDefault:"widgetchat:realtime"`
	StatusTTL  int    `env:"STATUS_TTL_SECONDS" envDefault:"300"`
	StatusMode string `env:"STATUS_CACHE" envDefault:"memory"`
}

type JobsConfig struct {
	Dispatch       string `env:"JOB_DISPATCH" envDefault:"poll"`
	Concurrency    int    `env:"WORKER_CONCURRENCY" envDefault:"4"`
	PollIntervalMS int    `env:"WORKER_POLL_INTERVAL_MS" envDefault:"1000"`
	StaleSeconds   int    `env:"JOB_STALE_SECONDS" envDefault:"300"`
	AsynqQueues    string `env:"ASYNQ_QUEUES" envDefault:"chat=1"`
	AsynqMaxRetry  int    `env:"ASYNQ_MAX_RETRY" envDefault:"5"`
	// ConvLock is memory or redis. Empty picks redis when jobs are pushed
	// through asynq, since consumers then run in several processes.
	ConvLock string `env:"CONV_LOCK"`
}

func (c JobsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c JobsConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleSeconds) * time.Second
}

func (c JobsConfig) lockMode() string {
	if c.ConvLock != "" {
		return c.ConvLock
	}
	if c.Dispatch == "asynq" {
		return "redis"
	}
	return "memory"
}

type InferenceConfig struct {
	Mode                 string `env:"INFERENCE_MODE" envDefault:"http"`
	BaseURL              string `env:"INFERENCE_BASE_URL" envDefault:"http://localhost:11434"`
	APIKey               string `env:"INFERENCE_API_KEY"`
	DefaultModel         string `env:"INFERENCE_DEFAULT_MODEL" envDefault:"qwen2.5-coder:latest"`
	TimeoutSeconds       int    `env:"INFERENCE_TIMEOUT_SECONDS" envDefault:"120"`
	HealthTimeoutSeconds int    `env:"INFERENCE_HEALTH_TIMEOUT_SECONDS" envDefault:"5"`
	PullTimeoutSeconds   int    `env:"INFERENCE_PULL_TIMEOUT_SECONDS" envDefault:"300"`
	MaxRetries           int    `env:"INFERENCE_MAX_RETRIES" envDefault:"2"`
	HealthCacheMinutes   int    `env:"INFERENCE_HEALTH_CACHE_MINUTES" envDefault:"5"`
}

func (c InferenceConfig) Options() client.Options {
	return client.Options{
		BaseURL:       c.BaseURL,
		APIKey:        c.APIKey,
		DefaultModel:  c.DefaultModel,
		Timeout:       time.Duration(c.TimeoutSeconds) * time.Second,
		HealthTimeout: time.Duration(c.HealthTimeoutSeconds) * time.Second,
		PullTimeout:   time.Duration(c.PullTimeoutSeconds) * time.Second,
		MaxRetries:    c.MaxRetries,
	}
}

type ChatConfig struct {
	HistoryLimit           int `env:"CHAT_HISTORY_LIMIT" envDefault:"10"`
	MaxMessageChars        int `env:"CHAT_MAX_MESSAGE_CHARS" envDefault:"2000"`
	GenerateTimeoutSeconds int `env:"CHAT_GENERATE_TIMEOUT_SECONDS" envDefault:"150"`
	IdleHours              int `env:"CONVERSATION_IDLE_HOURS" envDefault:"24"`
	SweepIntervalMinutes   int `env:"SWEEP_INTERVAL_MINUTES" envDefault:"15"`
}

type HTTPConfig struct {
	JWTSecretKey    string   `env:"JWT_SECRET_KEY"`
	CORSOrigins     []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	PublicRateLimit string   `env:"PUBLIC_RATE_LIMIT" envDefault:"5-M"`
	RateLimitStore  string   `env:"RATE_LIMIT_STORE" envDefault:"memory"`
	ShutdownSeconds int      `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"15"`
}

type TelemetryConfig struct {
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"true"`
	OtelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	ServiceName    string  `env:"OTEL_SERVICE_NAME" envDefault:"widgetchat"`
	Environment    string  `env:"ENVIRONMENT" envDefault:"development"`
	Version        string  `env:"APP_VERSION" envDefault:"dev"`
	Endpoint       string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers        string  `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	Insecure       bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"false"`
	SampleRatio    float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1"`
}

func (c TelemetryConfig) Otel() observability.OtelConfig {
	return observability.OtelConfig{
		Enabled:     c.OtelEnabled,
		ServiceName: c.ServiceName,
		Environment: c.Environment,
		Version:     c.Version,
		Endpoint:    c.Endpoint,
		Headers:     c.Headers,
		Insecure:    c.Insecure,
		SampleRatio: c.SampleRatio,
	}
}

var envFiles = []string{".env", ".env.local"}

// LoadConfig layers, lowest first: defaults, CONFIG_FILE (a flat YAML map of
// env keys), .env files, the process environment.
func LoadConfig() (Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return Config{}, err
	}
	vars := map[string]string{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		fileVars, err := readYAMLVars(path)
		if err != nil {
			return Config{}, err
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}
	return parseConfig(vars)
}

func parseConfig(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func readYAMLVars(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func oneOf(name, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, "|"), v)
}

func (c Config) Validate() error {
	checks := []error{
		oneOf("DB_DRIVER", c.Database.Driver, "postgres", "sqlite"),
		oneOf("REALTIME_BUS", c.Realtime.Bus, "local", "redis"),
		oneOf("STATUS_CACHE", c.Realtime.StatusMode, "memory", "redis"),
		oneOf("JOB_DISPATCH", c.Jobs.Dispatch, "poll", "asynq"),
		oneOf("CONV_LOCK", c.Jobs.lockMode(), "memory", "redis"),
		oneOf("INFERENCE_MODE", c.Inference.Mode, "http", "mock"),
		oneOf("RATE_LIMIT_STORE", c.HTTP.RateLimitStore, "memory", "redis"),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	needsRedis := c.Realtime.Bus == "redis" || c.Realtime.StatusMode == "redis" ||
		c.Jobs.Dispatch == "asynq" || c.Jobs.lockMode() == "redis" || c.HTTP.RateLimitStore == "redis"
	if needsRedis && !c.Redis.Enabled() {
		return fmt.Errorf("REDIS_URL or REDIS_ADDR is required by the configured redis-backed components")
	}
	if c.Jobs.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	return nil
}
