package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Gateway       GatewayConfig
	RateLimit     RateLimitConfig
	Visualization VisualizationConfig
	Catalog       CatalogConfig
	PromptGen     PromptGenConfig
	Groq          GroqConfig
	ImageAPI      ImageAPIConfig
	R2            R2Config
	Storage       StorageConfig
	Kafka         KafkaConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	CreatePerMin int
}

type VisualizationConfig struct {
	Workers                int
	MaxRetries             int
	PromptTimeout          time.Duration
	ImageGenerationTimeout time.Duration
	StorageTimeout         time.Duration
	PollInterval           time.Duration
	DefaultJobDuration     time.Duration
	JobRetention           time.Duration
}

type CatalogConfig struct {
	BaseURL  string
	CacheTTL time.Duration
}

type PromptGenConfig struct {
	BaseURL string
	Timeout time.Duration
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type ImageAPIConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type StorageConfig struct {
	LocalPath  string
	PublicURL  string
	PurgeDelay time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("IMAGE_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("ratelimit.create_per_min", "RATELIMIT_CREATE_PER_MIN")
	_ = v.BindEnv("visualization.workers", "VISUALIZATION_WORKERS")
	_ = v.BindEnv("visualization.max_retries", "VISUALIZATION_MAX_RETRIES")
	_ = v.BindEnv("visualization.prompt_timeout", "VISUALIZATION_PROMPT_TIMEOUT")
	_ = v.BindEnv("visualization.image_generation_timeout", "VISUALIZATION_IMAGE_GENERATION_TIMEOUT")
	_ = v.BindEnv("visualization.storage_timeout", "VISUALIZATION_STORAGE_TIMEOUT")
	_ = v.BindEnv("visualization.poll_interval", "VISUALIZATION_POLL_INTERVAL")
	_ = v.BindEnv("visualization.default_job_duration", "VISUALIZATION_DEFAULT_JOB_DURATION")
	_ = v.BindEnv("visualization.job_retention", "VISUALIZATION_JOB_RETENTION")
	_ = v.BindEnv("catalog.base_url", "CATALOG_BASE_URL")
	_ = v.BindEnv("catalog.cache_ttl", "CATALOG_CACHE_TTL")
	_ = v.BindEnv("promptgen.base_url", "PROMPTGEN_BASE_URL")
	_ = v.BindEnv("promptgen.timeout", "PROMPTGEN_TIMEOUT")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("image_api.base_url", "IMAGE_API_BASE_URL")
	_ = v.BindEnv("image_api.api_key", "IMAGE_API_KEY")
	_ = v.BindEnv("image_api.poll_interval", "IMAGE_API_POLL_INTERVAL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("storage.local_path", "STORAGE_LOCAL_PATH")
	_ = v.BindEnv("storage.public_url", "STORAGE_PUBLIC_URL")
	_ = v.BindEnv("storage.purge_delay", "STORAGE_PURGE_DELAY")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("kafka.topic", "KAFKA_TOPIC")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.create_per_min", 20)

	// Pipeline defaults
	v.SetDefault("visualization.workers", 4)
	v.SetDefault("visualization.max_retries", 3)
	v.SetDefault("visualization.prompt_timeout", "30s")
	v.SetDefault("visualization.image_generation_timeout", "5m")
	v.SetDefault("visualization.storage_timeout", "1m")
	v.SetDefault("visualization.poll_interval", "2s")
	v.SetDefault("visualization.default_job_duration", "30s")
	v.SetDefault("visualization.job_retention", "720h")

	// Collaborator defaults
	v.SetDefault("catalog.cache_ttl", "5m")
	v.SetDefault("promptgen.timeout", "30s")
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")
	v.SetDefault("image_api.poll_interval", "3s")
	v.SetDefault("storage.local_path", "./data/images")
	v.SetDefault("storage.public_url", "http://localhost:8000/images")
	v.SetDefault("storage.purge_delay", "24h")
	v.SetDefault("kafka.topic", "visualization-events")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			CreatePerMin: v.GetInt("ratelimit.create_per_min"),
		},
		Visualization: VisualizationConfig{
			Workers:                v.GetInt("visualization.workers"),
			MaxRetries:             v.GetInt("visualization.max_retries"),
			PromptTimeout:          v.GetDuration("visualization.prompt_timeout"),
			ImageGenerationTimeout: v.GetDuration("visualization.image_generation_timeout"),
			StorageTimeout:         v.GetDuration("visualization.storage_timeout"),
			PollInterval:           v.GetDuration("visualization.poll_interval"),
			DefaultJobDuration:     v.GetDuration("visualization.default_job_duration"),
			JobRetention:           v.GetDuration("visualization.job_retention"),
		},
		Catalog: CatalogConfig{
			BaseURL:  v.GetString("catalog.base_url"),
			CacheTTL: v.GetDuration("catalog.cache_ttl"),
		},
		PromptGen: PromptGenConfig{
			BaseURL: v.GetString("promptgen.base_url"),
			Timeout: v.GetDuration("promptgen.timeout"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		ImageAPI: ImageAPIConfig{
			BaseURL:      v.GetString("image_api.base_url"),
			APIKey:       v.GetString("image_api.api_key"),
			PollInterval: v.GetDuration("image_api.poll_interval"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Storage: StorageConfig{
			LocalPath:  v.GetString("storage.local_path"),
			PublicURL:  v.GetString("storage.public_url"),
			PurgeDelay: v.GetDuration("storage.purge_delay"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
	}

	return cfg, nil
}

// splitList parses a comma separated env value.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
