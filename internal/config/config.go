package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DatabaseConfig selects the local state database.
type DatabaseConfig struct {
	Driver string
	DSN    string
}

// KafkaConfig holds broker settings for transition events and inbound signals.
type KafkaConfig struct {
	Brokers          []string
	TransitionsTopic string
	SignalsTopic     string
	GroupPrefix      string
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// AMQPConfig holds RabbitMQ settings for transition events.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// PollConfig controls the lifecycle engine cadence.
type PollConfig struct {
	Interval   time.Duration
	MaxBackoff time.Duration
}

// LocationConfig controls the location reporter.
type LocationConfig struct {
	Interval      time.Duration
	MinMoveMeters float64
	Heartbeat     time.Duration
}

// ClientConfig holds all configuration for the ride client.
type ClientConfig struct {
	AppEnv           string
	APIBaseURL       string
	WSURL            string
	HTTPTimeout      time.Duration
	CredentialPath   string
	CredentialSecret string
	ListenAddr       string
	RedisAddr        string
	CacheTTL         time.Duration
	Poll             PollConfig
	Location         LocationConfig
	DB               DatabaseConfig
	Kafka            KafkaConfig
	AMQP             AMQPConfig
}

const envPrefix = "RIDECLIENT"

// Load reads configuration from .env, an optional ridectl.yaml and environment variables.
func Load() (*ClientConfig, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("ridectl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".ridectl"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds a ClientConfig from an already populated viper instance.
func FromViper(v *viper.Viper) (*ClientConfig, error) {
	setDefaults(v)

	base := strings.TrimRight(v.GetString("API_BASE_URL"), "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid API_BASE_URL %q: %w", base, err)
	}

	wsURL := v.GetString("WS_URL")
	if wsURL == "" {
		derived, err := deriveWSURL(base)
		if err != nil {
			return nil, err
		}
		wsURL = derived
	}

	cfg := &ClientConfig{
		AppEnv:           v.GetString("APP_ENV"),
		APIBaseURL:       base,
		WSURL:            wsURL,
		HTTPTimeout:      v.GetDuration("HTTP_TIMEOUT"),
		CredentialPath:   expandHome(v.GetString("CREDENTIAL_PATH")),
		CredentialSecret: v.GetString("CREDENTIAL_SECRET"),
		ListenAddr:       v.GetString("LISTEN_ADDR"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		CacheTTL:         v.GetDuration("CACHE_TTL"),
		Poll: PollConfig{
			Interval:   v.GetDuration("POLL_INTERVAL"),
			MaxBackoff: v.GetDuration("POLL_MAX_BACKOFF"),
		},
		Location: LocationConfig{
			Interval:      v.GetDuration("LOCATION_INTERVAL"),
			MinMoveMeters: v.GetFloat64("LOCATION_MIN_MOVE_METERS"),
			Heartbeat:     v.GetDuration("LOCATION_HEARTBEAT"),
		},
		DB: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:    expandHome(v.GetString("DB_DSN")),
		},
		Kafka: KafkaConfig{
			Brokers:          splitCSV(v.GetString("KAFKA_BROKERS")),
			TransitionsTopic: v.GetString("KAFKA_TOPIC_TRANSITIONS"),
			SignalsTopic:     v.GetString("KAFKA_TOPIC_SIGNALS"),
			GroupPrefix:      v.GetString("KAFKA_GROUP_PREFIX"),
		},
		AMQP: AMQPConfig{
			URL:      v.GetString("AMQP_URL"),
			Exchange: v.GetString("AMQP_EXCHANGE"),
		},
	}

	if cfg.Poll.Interval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if cfg.Poll.MaxBackoff < cfg.Poll.Interval {
		cfg.Poll.MaxBackoff = cfg.Poll.Interval
	}
	switch cfg.DB.Driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("API_BASE_URL", "http://localhost:8080")
	v.SetDefault("HTTP_TIMEOUT", 15*time.Second)
	v.SetDefault("CREDENTIAL_PATH", "~/.ridectl/credentials.enc")
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:7420")
	v.SetDefault("CACHE_TTL", 10*time.Minute)
	v.SetDefault("POLL_INTERVAL", 4*time.Second)
	v.SetDefault("POLL_MAX_BACKOFF", 30*time.Second)
	v.SetDefault("LOCATION_INTERVAL", 5*time.Second)
	v.SetDefault("LOCATION_MIN_MOVE_METERS", 15.0)
	v.SetDefault("LOCATION_HEARTBEAT", 30*time.Second)
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "~/.ridectl/state.db")
	v.SetDefault("KAFKA_TOPIC_TRANSITIONS", "ride.client.transitions")
	v.SetDefault("KAFKA_TOPIC_SIGNALS", "ride.signals")
	v.SetDefault("KAFKA_GROUP_PREFIX", "ridectl-")
	v.SetDefault("AMQP_EXCHANGE", "ride.client")
}

// deriveWSURL maps http(s)://host/prefix to ws(s)://host/ws.
func deriveWSURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid API_BASE_URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String(), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
