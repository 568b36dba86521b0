package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/corvid-labs/relaychat/internal/upstream"
	pkgconfig "github.com/corvid-labs/relaychat/pkg/config"
	"github.com/corvid-labs/relaychat/pkg/database"
	"github.com/corvid-labs/relaychat/pkg/log"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	JWT       JWTConfig
	Upstream  upstream.Config
	History   HistoryConfig
	Database  database.Config
	Redis     RedisConfig
	Kafka     KafkaConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

type JWTConfig struct {
	Secret    string
	Issuer    string
	AccessTTL time.Duration `mapstructure:"access_ttl"`
}

type HistoryConfig struct {
	ContextWindow  int    `mapstructure:"context_window"`
	MaxContentLen  int    `mapstructure:"max_content_len"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	CacheTTLString string `mapstructure:"cache_ttl"`
	CacheTTL       time.Duration
}

type RedisConfig struct {
	Address           string
	Password          string
	DB                int
	RegistryPrefix    string        `mapstructure:"registry_prefix"`
	CachePrefix       string        `mapstructure:"cache_prefix"`
	AdvertiseAddress  string        `mapstructure:"advertise_address"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL            time.Duration `mapstructure:"key_ttl"`
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

const defaultSystemPrompt = "You are a helpful assistant. Always reply in clean, professional Markdown with headings, bullet points, numbered lists, and syntax-highlighted code blocks."

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("jwt.issuer", "relaychat")
	v.SetDefault("jwt.access_ttl", "24h")
	v.SetDefault("upstream.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("upstream.model", "openai/gpt-5-chat")
	v.SetDefault("upstream.idle_timeout", "30s")
	v.SetDefault("history.context_window", 10)
	v.SetDefault("history.max_content_len", 65536)
	v.SetDefault("history.system_prompt", defaultSystemPrompt)
	v.SetDefault("history.cache_ttl", "30s")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "relaychat.db")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.registry_prefix", "relay:registry")
	v.SetDefault("redis.cache_prefix", "relay:cache")
	v.SetDefault("redis.advertise_address", "localhost:8090")
	v.SetDefault("redis.heartbeat_interval", "10s")
	v.SetDefault("redis.key_ttl", "30s")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-turns")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "relaychat")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("upstream.base_url", "UPSTREAM_BASE_URL")
	v.BindEnv("upstream.api_key", "UPSTREAM_API_KEY")
	v.BindEnv("upstream.model", "UPSTREAM_MODEL")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.db_name", "DB_NAME")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.JWT.AccessTTL = parseDuration(v, "jwt.access_ttl", 24*time.Hour)
	cfg.Upstream.IdleTimeout = parseDuration(v, "upstream.idle_timeout", 30*time.Second)
	cfg.History.CacheTTL = parseDuration(v, "history.cache_ttl", 30*time.Second)
	cfg.Redis.HeartbeatInterval = parseDuration(v, "redis.heartbeat_interval", 10*time.Second)
	cfg.Redis.KeyTTL = parseDuration(v, "redis.key_ttl", 30*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
