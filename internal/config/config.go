package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	HTTPAddr    string         `yaml:"http_addr"`
	DatabaseURL string         `yaml:"database_url"`
	JWTSecret   string         `yaml:"jwt_secret"`
	Log         LogConfig      `yaml:"log"`
	Redis       RedisConfig    `yaml:"redis"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	Synth       SynthConfig    `yaml:"synth"`
	History     HistoryConfig  `yaml:"history"`
	Alerts      AlertsConfig   `yaml:"alerts"`
	Realtime    RealtimeConfig `yaml:"realtime"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig enables the shared episode store and realtime bridge when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// MQTTConfig enables MQTT ingestion when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// SynthConfig configures auto-generation.
type SynthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Devices  []string      `yaml:"devices"`
}

// HistoryConfig configures history queries.
type HistoryConfig struct {
	DefaultWindow string        `yaml:"default_window"`
	QueryTimeout  time.Duration `yaml:"query_timeout"`
}

// AlertsConfig configures the unsent-alert dispatcher.
type AlertsConfig struct {
	WebhookURL       string        `yaml:"webhook_url"`
	WebhookToken     string        `yaml:"webhook_token"`
	Template         string        `yaml:"template"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// RealtimeConfig configures subscriber delivery.
type RealtimeConfig struct {
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	QueueSize       int           `yaml:"queue_size"`
}

// Default returns a configuration with built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Log:      LogConfig{Level: "info", Format: "json"},
		Redis:    RedisConfig{Channel: "agrisense:signals"},
		MQTT: MQTTConfig{
			ClientID: "agrisense-ingest",
			Topic:    "agrisense/+/readings",
			QoS:      1,
		},
		Synth:   SynthConfig{Interval: 15 * time.Second},
		History: HistoryConfig{DefaultWindow: "24h", QueryTimeout: 5 * time.Second},
		Alerts: AlertsConfig{
			DispatchInterval: 30 * time.Second,
			RequestTimeout:   10 * time.Second,
		},
		Realtime: RealtimeConfig{DeliveryTimeout: 2 * time.Second, QueueSize: 16},
	}
}

// Load reads defaults, then the YAML file named by AGRISENSE_CONFIG, then env overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("AGRISENSE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: http_addr required")
	}
	if c.Synth.Interval <= 0 {
		return errors.New("config: synth.interval must be positive")
	}
	switch c.History.DefaultWindow {
	case "24h", "7d", "30d":
	default:
		return errors.New("config: history.default_window must be 24h, 7d or 30d")
	}
	if c.History.QueryTimeout <= 0 {
		return errors.New("config: history.query_timeout must be positive")
	}
	if c.Alerts.DispatchInterval <= 0 {
		return errors.New("config: alerts.dispatch_interval must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.JWTSecret)
	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvIntDefault("REDIS_DB", cfg.Redis.DB)
	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getenvDefault("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getenvDefault("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenvDefault("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.Topic = getenvDefault("MQTT_TOPIC", cfg.MQTT.Topic)
	cfg.Synth.Interval = getenvDuration("SYNTH_INTERVAL", cfg.Synth.Interval)
	if devices := splitCSV(os.Getenv("SYNTH_DEVICES")); len(devices) > 0 {
		cfg.Synth.Devices = devices
	}
	cfg.History.DefaultWindow = getenvDefault("HISTORY_DEFAULT_WINDOW", cfg.History.DefaultWindow)
	cfg.History.QueryTimeout = getenvDuration("HISTORY_QUERY_TIMEOUT", cfg.History.QueryTimeout)
	cfg.Alerts.WebhookURL = getenvDefault("ALERT_WEBHOOK_URL", cfg.Alerts.WebhookURL)
	cfg.Alerts.WebhookToken = getenvDefault("ALERT_WEBHOOK_TOKEN", cfg.Alerts.WebhookToken)
	cfg.Alerts.Template = getenvDefault("ALERT_NOTIFY_TEMPLATE", cfg.Alerts.Template)
	cfg.Alerts.DispatchInterval = getenvDuration("ALERT_DISPATCH_INTERVAL", cfg.Alerts.DispatchInterval)
	cfg.Alerts.RequestTimeout = getenvDuration("ALERT_NOTIFY_TIMEOUT", cfg.Alerts.RequestTimeout)
	cfg.Realtime.DeliveryTimeout = getenvDuration("REALTIME_DELIVERY_TIMEOUT", cfg.Realtime.DeliveryTimeout)
	cfg.Realtime.QueueSize = getenvIntDefault("REALTIME_QUEUE_SIZE", cfg.Realtime.QueueSize)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
