package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"msg_client/client/chat/merge"
	"msg_client/client/chat/queue"
	"msg_client/client/chat/reconnect"
	cmnenv "msg_client/client/common/env"
)

const configEnvKey = "CHATCLIENT_CONFIG"

type Config struct {
	Env          string   `yaml:"env"`
	SocketURL    string   `yaml:"socket_url"`
	APIEndpoints []string `yaml:"api_endpoints"`
	BridgeHost   string   `yaml:"bridge_host"`
	BridgePort   string   `yaml:"bridge_port"`
	LocalOnly    bool     `yaml:"local_only"`
	LogLevel     string   `yaml:"log_level"`
	LogFormat    string   `yaml:"log_format"`
	LogFile      string   `yaml:"log_file"`

	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	ReconnectMax         time.Duration `yaml:"reconnect_max"`
	ReconnectMaxAttempts int           `yaml:"reconnect_max_attempts"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`

	QueueCapacity  int           `yaml:"queue_capacity"`
	RateCapacity   int           `yaml:"rate_capacity"`
	RateInterval   time.Duration `yaml:"rate_interval"`
	LiveMessageCap int           `yaml:"live_message_cap"`
	BulkMessageCap int           `yaml:"bulk_message_cap"`

	RefreshEndpoint string `yaml:"refresh_endpoint"`
	Credential      string `yaml:"credential"`

	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	LavinMQURL  string `yaml:"lavinmq_url"`

	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`
}

func DefaultConfig() Config {
	return Config{
		Env:                  "dev",
		SocketURL:            "ws://localhost:8080/ws",
		APIEndpoints:         []string{"http://localhost:8080"},
		BridgeHost:           "127.0.0.1",
		BridgePort:           "7070",
		LocalOnly:            true,
		LogLevel:             "info",
		LogFormat:            "text",
		ReconnectBase:        reconnect.DefaultBaseDelay,
		ReconnectMax:         reconnect.DefaultMaxDelay,
		ReconnectMaxAttempts: reconnect.DefaultMaxAttempts,
		AutoReconnect:        true,
		QueueCapacity:        queue.DefaultCapacity,
		RateCapacity:         20,
		RateInterval:         time.Second,
		LiveMessageCap:       merge.DefaultLiveCap,
		BulkMessageCap:       merge.DefaultBulkCap,
		RedisPrefix:          "chatclient",
		MinioBucket:          "chat-attachments",
	}
}

// LoadConfig layers defaults, an optional YAML file and the environment, in
// that order. An empty path falls back to CHATCLIENT_CONFIG.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		path = cmnenv.String(configEnvKey, "")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.APIEndpoints = cmnenv.DedupeTrim(cfg.APIEndpoints)
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Env = cmnenv.String("APP_ENV", c.Env)
	c.SocketURL = cmnenv.String("SOCKET_URL", c.SocketURL)
	c.APIEndpoints = cmnenv.CSV("API_ENDPOINTS", c.APIEndpoints)
	c.BridgeHost = cmnenv.String("BRIDGE_HOST", c.BridgeHost)
	c.BridgePort = cmnenv.String("BRIDGE_PORT", c.BridgePort)
	c.LocalOnly = cmnenv.Bool("BRIDGE_LOCAL_ONLY", c.LocalOnly)
	c.LogLevel = cmnenv.String("LOG_LEVEL", c.LogLevel)
	c.LogFormat = cmnenv.String("LOG_FORMAT", c.LogFormat)
	c.LogFile = cmnenv.String("LOG_FILE_PATH", c.LogFile)

	c.ReconnectBase = cmnenv.Millis("RECONNECT_BASE_MS", c.ReconnectBase)
	c.ReconnectMax = cmnenv.Millis("RECONNECT_MAX_MS", c.ReconnectMax)
	c.ReconnectMaxAttempts = cmnenv.Int("RECONNECT_MAX_ATTEMPTS", c.ReconnectMaxAttempts)
	c.AutoReconnect = cmnenv.Bool("AUTO_RECONNECT", c.AutoReconnect)

	c.QueueCapacity = cmnenv.Int("QUEUE_CAPACITY", c.QueueCapacity)
	c.RateCapacity = cmnenv.Int("RATE_CAPACITY", c.RateCapacity)
	c.RateInterval = cmnenv.Millis("RATE_INTERVAL_MS", c.RateInterval)
	c.LiveMessageCap = cmnenv.Int("LIVE_MESSAGE_CAP", c.LiveMessageCap)
	c.BulkMessageCap = cmnenv.Int("BULK_MESSAGE_CAP", c.BulkMessageCap)

	c.RefreshEndpoint = cmnenv.String("REFRESH_ENDPOINT", c.RefreshEndpoint)
	c.Credential = cmnenv.String("CREDENTIAL", c.Credential)

	c.RedisAddr = cmnenv.String("REDIS_ADDR", c.RedisAddr)
	c.RedisPrefix = cmnenv.String("REDIS_PREFIX", c.RedisPrefix)
	c.LavinMQURL = cmnenv.String("LAVINMQ_URL", c.LavinMQURL)

	c.MinioEndpoint = cmnenv.String("MINIO_ENDPOINT", c.MinioEndpoint)
	c.MinioAccessKey = cmnenv.String("MINIO_ACCESS_KEY", c.MinioAccessKey)
	c.MinioSecretKey = cmnenv.String("MINIO_SECRET_KEY", c.MinioSecretKey)
	c.MinioBucket = cmnenv.String("MINIO_BUCKET", c.MinioBucket)
	c.MinioUseSSL = cmnenv.Bool("MINIO_USE_SSL", c.MinioUseSSL)
}

func (c Config) reconnectConfig() reconnect.Config {
	rc := reconnect.DefaultConfig()
	rc.BaseDelay = c.ReconnectBase
	rc.MaxDelay = c.ReconnectMax
	rc.MaxAttempts = c.ReconnectMaxAttempts
	rc.AutoReconnect = c.AutoReconnect
	rc.Session.URL = c.SocketURL
	return rc
}

func (c Config) bridgeAddr() string {
	return c.BridgeHost + ":" + c.BridgePort
}
