package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DriverMQTT = "mqtt"
	DriverAMQP = "amqp"
)

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	WS     WSConfig     `mapstructure:"ws"`
	Broker BrokerConfig `mapstructure:"broker"`
	Notify NotifyConfig `mapstructure:"notify"`

	// File is the config file in use, empty when running from env and flags only.
	File string `mapstructure:"-"`

	v *viper.Viper
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type WSConfig struct {
	Port         int           `mapstructure:"port"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

type BrokerConfig struct {
	Driver         string        `mapstructure:"driver"`
	URL            string        `mapstructure:"url"`
	ClientID       string        `mapstructure:"client_id"`
	Namespace      string        `mapstructure:"namespace"`
	QoS            int           `mapstructure:"qos"`
	Exchange       string        `mapstructure:"exchange"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MailboxSize    int           `mapstructure:"mailbox_size"`
	EchoCacheSize  int           `mapstructure:"echo_cache_size"`
}

type NotifyConfig struct {
	URL             string        `mapstructure:"url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`
	SkipEcho        bool          `mapstructure:"skip_echo"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// envAliases binds each key to its environment names; the first entries keep
// compatibility with the variables the alert relay has always read.
var envAliases = map[string][]string{
	"http.port":               {"PORT", "HTTP_PORT"},
	"ws.port":                 {"WS_PORT"},
	"ws.send_timeout":         {"WS_SEND_TIMEOUT"},
	"ws.buffer_size":          {"WS_BUFFER_SIZE"},
	"broker.driver":           {"BROKER_DRIVER"},
	"broker.url":              {"MQTT_BROKER_URL", "BROKER_URL"},
	"broker.client_id":        {"BROKER_CLIENT_ID"},
	"broker.namespace":        {"TOPIC_NAMESPACE", "BROKER_NAMESPACE"},
	"broker.qos":              {"BROKER_QOS"},
	"broker.exchange":         {"BROKER_EXCHANGE"},
	"broker.mailbox_size":     {"BROKER_MAILBOX_SIZE"},
	"broker.echo_cache_size":  {"BROKER_ECHO_CACHE_SIZE"},
	"notify.url":              {"NOTIFY_WEBHOOK_URL", "WEBHOOK_URL"},
	"notify.timeout":          {"NOTIFY_TIMEOUT"},
	"notify.max_in_flight":    {"NOTIFY_MAX_IN_FLIGHT"},
	"notify.skip_echo":        {"NOTIFY_SKIP_ECHO"},
	"notify.breaker_failures": {"NOTIFY_BREAKER_FAILURES"},
	"notify.breaker_timeout":  {"NOTIFY_BREAKER_TIMEOUT"},
	"log.level":               {"LOG_LEVEL"},
	"log.format":              {"LOG_FORMAT"},
}

// Flags returns the server flag set. Flag names are the viper keys.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)

	fs.String("config_file", "", "Path to the configuration file")
	fs.Int("http.port", 3000, "HTTP ingress listen port")
	fs.Int("ws.port", 8085, "Websocket listen port")
	fs.String("broker.driver", DriverMQTT, "Broker driver: mqtt or amqp")
	fs.String("broker.url", "mqtt://test.mosquitto.org:1883", "Broker address")
	fs.String("broker.namespace", "corgidev/pet", "Topic namespace root")
	fs.String("notify.url", "", "Notification webhook URL; empty disables forwarding")
	fs.String("log.level", "info", "Log level: debug, info, warn, error")

	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.port", 3000)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("ws.port", 8085)
	v.SetDefault("ws.send_timeout", 500*time.Millisecond)
	v.SetDefault("ws.write_timeout", 5*time.Second)
	v.SetDefault("ws.ping_interval", 30*time.Second)
	v.SetDefault("ws.buffer_size", 256)

	v.SetDefault("broker.driver", DriverMQTT)
	v.SetDefault("broker.url", "mqtt://test.mosquitto.org:1883")
	v.SetDefault("broker.client_id", "alert-relay-"+uuid.NewString()[:8])
	v.SetDefault("broker.namespace", "corgidev/pet")
	v.SetDefault("broker.qos", 0)
	v.SetDefault("broker.exchange", "alert-relay.events")
	v.SetDefault("broker.connect_timeout", 10*time.Second)
	v.SetDefault("broker.mailbox_size", 1024)
	v.SetDefault("broker.echo_cache_size", 512)

	v.SetDefault("notify.url", "")
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.max_in_flight", 64)
	v.SetDefault("notify.skip_echo", false)
	v.SetDefault("notify.breaker_failures", 5)
	v.SetDefault("notify.breaker_timeout", 30*time.Second)
}

// LoadConfig resolves configuration from flags in args, the environment
// (a local .env file included), and an optional config file.
func LoadConfig(args []string) (*Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("CONFIG_DOTENV_SKIPPED", "reason", "no .env file")
	}

	v := viper.New()
	setDefaults(v)

	for key, envs := range envAliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	file, _ := fs.GetString("config_file")
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := &Config{File: file, v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values a relay cannot start without.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.WS.Port <= 0 || c.WS.Port > 65535 {
		errs = append(errs, fmt.Errorf("ws.port %d out of range", c.WS.Port))
	}
	if c.HTTP.Port == c.WS.Port {
		errs = append(errs, errors.New("http.port and ws.port must differ"))
	}

	switch c.Broker.Driver {
	case DriverMQTT, DriverAMQP:
	default:
		errs = append(errs, fmt.Errorf("broker.driver %q is not one of mqtt, amqp", c.Broker.Driver))
	}
	if strings.TrimSpace(c.Broker.URL) == "" {
		errs = append(errs, errors.New("broker.url is required"))
	}
	if strings.Trim(c.Broker.Namespace, "/") == "" {
		errs = append(errs, errors.New("broker.namespace is required"))
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errs = append(errs, fmt.Errorf("broker.qos %d must be 0, 1 or 2", c.Broker.QoS))
	}

	if c.Notify.URL != "" {
		if u, err := url.Parse(c.Notify.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("notify.url %q is not an absolute URL", c.Notify.URL))
		}
	}
	if c.Notify.Timeout <= 0 {
		errs = append(errs, errors.New("notify.timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Watch reloads the log section whenever the config file changes.
// It is a no-op without a config file.
func (c *Config) Watch(onLog func(LogConfig)) {
	if c.File == "" || c.v == nil {
		return
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		var next LogConfig
		if err := c.v.UnmarshalKey("log", &next); err != nil {
			slog.Warn("CONFIG_RELOAD_FAILED", "file", e.Name, "err", err)
			return
		}
		slog.Info("CONFIG_RELOADED", "file", e.Name, "op", e.Op.String(), "log_level", next.Level)
		onLog(next)
	})
	c.v.WatchConfig()
}
