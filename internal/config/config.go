package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"mathbridge/internal/channel"
	"mathbridge/internal/dom"
	"mathbridge/internal/logging"

	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint          = channel.DefaultEndpoint
	DefaultListen            = "127.0.0.1:7513"
	DefaultTranslatorCommand = "mathcat_client"
	DefaultWriteTimeout      = 10 * time.Second
	DefaultTranslateTimeout  = 30 * time.Second
	DefaultWatchDebounce     = 200 * time.Millisecond
)

// Config is the file format shared by mathbridge and mathbridged.
type Config struct {
	LogLevel string       `yaml:"log_level"`
	Client   ClientConfig `yaml:"client"`
	Daemon   DaemonConfig `yaml:"daemon"`
}

type ClientConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	Kind          string        `yaml:"kind"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type DaemonConfig struct {
	Listen         string           `yaml:"listen"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	Translator     TranslatorConfig `yaml:"translator"`
}

type TranslatorConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

func Default() Config {
	return Config{
		LogLevel: string(logging.LevelInfo),
		Client: ClientConfig{
			Endpoint:      DefaultEndpoint,
			Kind:          string(dom.KindHTML),
			WriteTimeout:  DefaultWriteTimeout,
			WatchDebounce: DefaultWatchDebounce,
		},
		Daemon: DaemonConfig{
			Listen: DefaultListen,
			Translator: TranslatorConfig{
				Command: DefaultTranslatorCommand,
				Timeout: DefaultTranslateTimeout,
			},
		},
	}
}

// Load reads path over the defaults. A missing file is only an error when
// required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Decode(payload, &cfg); err != nil {
		return Default(), fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Decode strictly decodes YAML into cfg; unknown keys are rejected and
// absent keys keep their current values.
func Decode(payload []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func Encode(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// ApplyEnv overlays MATHBRIDGE_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if value := strings.TrimSpace(getenv("MATHBRIDGE_URL")); value != "" {
		c.Client.Endpoint = value
	}
	if value := strings.TrimSpace(getenv("MATHBRIDGE_LOG_LEVEL")); value != "" {
		c.LogLevel = value
	}
	if value := strings.TrimSpace(getenv("MATHBRIDGE_LISTEN")); value != "" {
		c.Daemon.Listen = value
	}
	if value := strings.TrimSpace(getenv("MATHBRIDGE_TRANSLATOR")); value != "" {
		c.Daemon.Translator.Command = value
	}
}

func (c Config) Validate() error {
	var problems []string
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warning, error", c.LogLevel))
	}
	if err := validateEndpoint(c.Client.Endpoint); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := dom.ParseKind(c.Client.Kind); err != nil {
		problems = append(problems, "client.kind: "+err.Error())
	}
	if c.Client.WriteTimeout < 0 || c.Client.WatchDebounce < 0 {
		problems = append(problems, "client timeouts must not be negative")
	}
	if strings.TrimSpace(c.Daemon.Listen) == "" {
		problems = append(problems, "daemon.listen is required")
	}
	if strings.TrimSpace(c.Daemon.Translator.Command) == "" {
		problems = append(problems, "daemon.translator.command is required")
	}
	if c.Daemon.Translator.Timeout < 0 {
		problems = append(problems, "daemon.translator.timeout must not be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c Config) Level() logging.Level {
	if level, ok := logging.ParseLevel(c.LogLevel); ok {
		return level
	}
	return logging.LevelInfo
}

func validateEndpoint(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("client.endpoint: %w", err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("client.endpoint %q must use ws or wss", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("client.endpoint %q has no host", raw)
	}
	return nil
}
