package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Store     StoreConfig
	Download  DownloadConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Events    EventsConfig
	Engine    EngineConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	LogLevel    string
	LogFormat   string
	APIPrefix   string
	CORSOrigins string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StoreConfig struct {
	Driver     string // "redis" or "sqlite"
	SQLitePath string
	JobTTL     time.Duration
}

type DownloadConfig struct {
	Dir            string
	AllowedDomains []string
	Concurrency    int
	MaxRetry       int
}

type AuthConfig struct {
	APIKey         string
	StreamTokenTTL time.Duration
}

type RateLimitConfig struct {
	Backend     string // "memory" or "redis"
	MaxRequests int
	Window      time.Duration
}

type EventsConfig struct {
	MailboxSize int
}

type EngineConfig struct {
	Binary string
}

var defaultAllowedDomains = []string{
	"youtube.com", "youtu.be", "instagram.com", "facebook.com", "fb.watch", "tiktok.com",
}

func Load() (*Config, error) {
	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	readSecret("API_KEY")
	readSecret("REDIS_PASSWORD")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "PORT", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV", "ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("server.api_prefix", "API_V1_PREFIX")
	_ = v.BindEnv("server.cors_origins", "CORS_ORIGINS")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("store.driver", "STORE_DRIVER")
	_ = v.BindEnv("store.sqlite_path", "SQLITE_PATH")
	_ = v.BindEnv("store.job_ttl_hours", "JOB_TTL_HOURS")
	_ = v.BindEnv("download.dir", "DOWNLOAD_DIR")
	_ = v.BindEnv("download.allowed_domains", "ALLOWED_DOMAINS")
	_ = v.BindEnv("download.concurrency", "DOWNLOAD_CONCURRENCY")
	_ = v.BindEnv("download.max_retry", "DOWNLOAD_MAX_RETRY")
	_ = v.BindEnv("auth.api_key", "API_KEY")
	_ = v.BindEnv("auth.stream_token_ttl_minutes", "STREAM_TOKEN_TTL_MINUTES")
	_ = v.BindEnv("ratelimit.backend", "RATE_LIMIT_BACKEND")
	_ = v.BindEnv("ratelimit.max_requests", "RATE_LIMIT_MAX_REQUESTS")
	_ = v.BindEnv("ratelimit.window_seconds", "RATE_LIMIT_WINDOW_SECONDS")
	_ = v.BindEnv("events.mailbox_size", "EVENTS_MAILBOX_SIZE")
	_ = v.BindEnv("engine.binary", "YTDLP_BINARY")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "auto")
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.sqlite_path", "data/jobs.db")
	v.SetDefault("store.job_ttl_hours", 24)
	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.allowed_domains", defaultAllowedDomains)
	v.SetDefault("download.concurrency", 3)
	v.SetDefault("download.max_retry", 0)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.stream_token_ttl_minutes", 60)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.max_requests", 40)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("events.mailbox_size", 200)
	v.SetDefault("engine.binary", "")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("server.port"),
			Env:         v.GetString("server.env"),
			LogLevel:    v.GetString("server.log_level"),
			LogFormat:   v.GetString("server.log_format"),
			APIPrefix:   "/" + strings.Trim(v.GetString("server.api_prefix"), "/"),
			CORSOrigins: v.GetString("server.cors_origins"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(v.GetString("store.driver")),
			SQLitePath: v.GetString("store.sqlite_path"),
			JobTTL:     time.Duration(v.GetInt("store.job_ttl_hours")) * time.Hour,
		},
		Download: DownloadConfig{
			Dir:            v.GetString("download.dir"),
			AllowedDomains: normalizeDomains(parseList(v.Get("download.allowed_domains"))),
			Concurrency:    max(v.GetInt("download.concurrency"), 1),
			MaxRetry:       max(v.GetInt("download.max_retry"), 0),
		},
		Auth: AuthConfig{
			APIKey:         v.GetString("auth.api_key"),
			StreamTokenTTL: time.Duration(v.GetInt("auth.stream_token_ttl_minutes")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Backend:     strings.ToLower(v.GetString("ratelimit.backend")),
			MaxRequests: max(v.GetInt("ratelimit.max_requests"), 1),
			Window:      time.Duration(max(v.GetInt("ratelimit.window_seconds"), 1)) * time.Second,
		},
		Events: EventsConfig{
			MailboxSize: v.GetInt("events.mailbox_size"),
		},
		Engine: EngineConfig{
			Binary: v.GetString("engine.binary"),
		},
	}

	return cfg, nil
}

// parseList accepts a YAML list, a JSON array string or a comma separated string.
func parseList(raw any) []string {
	if s, ok := raw.(string); ok {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, "[") {
			var out []string
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
		return strings.Split(s, ",")
	}
	return cast.ToStringSlice(raw)
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		for strings.HasPrefix(d, "www.") {
			d = d[len("www."):]
		}
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}
