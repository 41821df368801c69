package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"upnpctl/internal/ssdp"
)

type Config struct {
	SSDP    SSDPConfig    `yaml:"ssdp"`
	Events  EventsConfig  `yaml:"events"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

type SSDPConfig struct {
	SearchTypes []string `yaml:"search_types"`
	MX          int      `yaml:"mx"`
	UserAgent   string   `yaml:"user_agent"`
	Interface   string   `yaml:"interface"`
}

type EventsConfig struct {
	// CallbackPort 0 lets the system pick a free port.
	CallbackPort       int `yaml:"callback_port"`
	TimeoutSeconds     int `yaml:"timeout_seconds"`
	RenewMarginSeconds int `yaml:"renew_margin_seconds"`
}

type HTTPConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig configures the event bridge; an empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

func init() {
	_ = godotenv.Load()
}

func Default() Config {
	return Config{
		SSDP: SSDPConfig{
			SearchTypes: []string{"ssdp:all"},
			MX:          3,
			UserAgent:   "upnpctl/1.0 UPnP/1.1",
		},
		Events: EventsConfig{
			CallbackPort:       52808,
			TimeoutSeconds:     300,
			RenewMarginSeconds: 30,
		},
		HTTP: HTTPConfig{TimeoutSeconds: 10},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MQTT: MQTTConfig{TopicPrefix: "upnp"},
	}
}

// Path returns the config file location: $UPNPCTL_CONFIG, else
// <user config dir>/upnpctl/config.yaml.
func Path() string {
	if p := os.Getenv("UPNPCTL_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "upnpctl", "config.yaml")
}

// Load reads the config file at Path, applies environment overrides and
// validates the result. A missing file is not an error.
func Load() (Config, error) {
	return LoadFile(Path())
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("UPNPCTL_SEARCH_TYPES"); v != "" {
		cfg.SSDP.SearchTypes = splitList(v)
	}
	cfg.SSDP.Interface = firstNonEmpty(os.Getenv("UPNPCTL_INTERFACE"), cfg.SSDP.Interface)
	cfg.Logging.Level = firstNonEmpty(os.Getenv("UPNPCTL_LOG_LEVEL"), cfg.Logging.Level)
	cfg.Logging.Format = firstNonEmpty(os.Getenv("UPNPCTL_LOG_FORMAT"), cfg.Logging.Format)
	cfg.MQTT.Broker = firstNonEmpty(os.Getenv("UPNPCTL_MQTT_BROKER"), cfg.MQTT.Broker)

	for _, o := range []struct {
		env string
		dst *int
	}{
		{"UPNPCTL_CALLBACK_PORT", &cfg.Events.CallbackPort},
		{"UPNPCTL_EVENT_TIMEOUT", &cfg.Events.TimeoutSeconds},
	} {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", o.env, v)
		}
		*o.dst = n
	}
	return nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []string
	if len(c.SSDP.SearchTypes) == 0 {
		errs = append(errs, "ssdp.search_types must not be empty")
	}
	for _, raw := range c.SSDP.SearchTypes {
		if _, err := ssdp.ParseType(raw); err != nil {
			errs = append(errs, fmt.Sprintf("ssdp.search_types: %q is not a search target", raw))
		}
	}
	if c.SSDP.MX < 1 || c.SSDP.MX > 5 {
		errs = append(errs, "ssdp.mx must be between 1 and 5")
	}
	if c.Events.CallbackPort < 0 || c.Events.CallbackPort > 65535 {
		errs = append(errs, "events.callback_port must be between 0 and 65535")
	}
	if c.Events.TimeoutSeconds <= 0 {
		errs = append(errs, "events.timeout_seconds must be positive")
	}
	if c.Events.RenewMarginSeconds <= 0 || c.Events.RenewMarginSeconds >= c.Events.TimeoutSeconds {
		errs = append(errs, "events.renew_margin_seconds must be positive and below events.timeout_seconds")
	}
	switch strings.ToLower(c.Logging.Output) {
	case "", "stdout", "stderr":
	default:
		errs = append(errs, fmt.Sprintf("logging.output: %q is not stdout or stderr", c.Logging.Output))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, "http.timeout_seconds must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Types parses the configured search targets. Validate has already
// rejected unparsable entries.
func (c Config) Types() []ssdp.Type {
	out := make([]ssdp.Type, 0, len(c.SSDP.SearchTypes))
	for _, raw := range c.SSDP.SearchTypes {
		if t, err := ssdp.ParseType(raw); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func (c Config) EventTimeout() time.Duration {
	return time.Duration(c.Events.TimeoutSeconds) * time.Second
}

func (c Config) RenewMargin() time.Duration {
	return time.Duration(c.Events.RenewMarginSeconds) * time.Second
}

func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
