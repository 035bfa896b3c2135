package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the bus tracker server.
type Config struct {
	HTTPPort     int    `validate:"min=1,max=65535"`
	MetricsAddr  string // e.g. ":9102"; empty disables the metrics server
	DatabasePath string `validate:"required"`
	LogLevel     string

	TokenSecret string        `validate:"required"`
	TokenTTL    time.Duration `validate:"min=1m"`

	ChannelIdleTimeout time.Duration `validate:"min=0"`

	NATSURL           string // empty disables position broadcasting
	NATSSubjectPrefix string

	MQTTBrokerURL string // empty disables the MQTT ingest bridge
	MQTTTopic     string

	EnableMDNS   bool
	SeedDemoData bool
}

const (
	defaultHTTPPort           = 8080
	defaultDatabasePath       = "data/bustracker.db"
	defaultLogLevel           = "info"
	defaultTokenTTL           = 24 * time.Hour
	defaultChannelIdleTimeout = 5 * time.Minute
	defaultNATSSubjectPrefix  = "buses"
	defaultMQTTTopic          = "buses/+/position"
)

// Load derives configuration from a .env file (if present) and environment
// variables, falling back to defaults.
func Load() (Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := Config{
		HTTPPort:           defaultHTTPPort,
		DatabasePath:       defaultDatabasePath,
		LogLevel:           defaultLogLevel,
		TokenTTL:           defaultTokenTTL,
		ChannelIdleTimeout: defaultChannelIdleTimeout,
		NATSSubjectPrefix:  defaultNATSSubjectPrefix,
		MQTTTopic:          defaultMQTTTopic,
	}

	if v := os.Getenv("BUSTRACKER_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BUSTRACKER_HTTP_PORT: %w", err)
		}
		cfg.HTTPPort = port
	}

	cfg.MetricsAddr = os.Getenv("BUSTRACKER_METRICS_ADDR")

	if v := os.Getenv("BUSTRACKER_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}

	if v := os.Getenv("BUSTRACKER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.TokenSecret = os.Getenv("BUSTRACKER_TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("BUSTRACKER_TOKEN_SECRET must be set")
	}

	if v := os.Getenv("BUSTRACKER_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BUSTRACKER_TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = d
	}

	if v := os.Getenv("BUSTRACKER_CHANNEL_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BUSTRACKER_CHANNEL_IDLE_TIMEOUT: %w", err)
		}
		cfg.ChannelIdleTimeout = d
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	if v := os.Getenv("BUSTRACKER_NATS_SUBJECT_PREFIX"); v != "" {
		cfg.NATSSubjectPrefix = v
	}

	cfg.MQTTBrokerURL = os.Getenv("BUSTRACKER_MQTT_BROKER_URL")
	if v := os.Getenv("BUSTRACKER_MQTT_TOPIC"); v != "" {
		cfg.MQTTTopic = v
	}

	cfg.EnableMDNS = boolEnv("BUSTRACKER_MDNS")
	cfg.SeedDemoData = boolEnv("BUSTRACKER_SEED_DEMO")

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}
