// ABOUTME: Loads configuration through viper with ASCIISTREAM_ env overrides
// ABOUTME: Validates values and writes the default config as YAML
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/asciistream/asciistream-go/pkg/transcode"
	"github.com/asciistream/asciistream-go/pkg/video"
)

// EnvPrefix prefixes environment overrides, e.g. ASCIISTREAM_CAPTURE_FPS
const EnvPrefix = "ASCIISTREAM"

const (
	maxFPS       = 120
	maxGridSize  = 1000
	maxQueueSize = 1024
)

// Load reads configuration from path. An empty path uses DefaultConfigPath;
// a missing file yields the defaults plus environment overrides.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("client.server_addr", cfg.Client.ServerAddr)
	v.SetDefault("client.name", cfg.Client.Name)
	v.SetDefault("client.connect_timeout_seconds", cfg.Client.ConnectTimeoutSeconds)
	v.SetDefault("client.retry", cfg.Client.Retry)
	v.SetDefault("client.retry_backoff_ms", cfg.Client.RetryBackoffMillis)
	v.SetDefault("client.queue_size", cfg.Client.QueueSize)
	v.SetDefault("capture.fps", cfg.Capture.FPS)
	v.SetDefault("capture.width", cfg.Capture.Width)
	v.SetDefault("capture.height", cfg.Capture.Height)
	v.SetDefault("capture.palette", cfg.Capture.Palette)
	v.SetDefault("capture.custom_palette", cfg.Capture.CustomPalette)
	v.SetDefault("capture.markup", cfg.Capture.Markup)
	v.SetDefault("capture.tui", cfg.Capture.TUI)
	v.SetDefault("source.kind", cfg.Source.Kind)
	v.SetDefault("source.device", cfg.Source.Device)
	v.SetDefault("source.url", cfg.Source.URL)
	v.SetDefault("source.format", cfg.Source.Format)
	v.SetDefault("source.ffmpeg_path", cfg.Source.FFmpegPath)
	v.SetDefault("source.width", cfg.Source.Width)
	v.SetDefault("source.height", cfg.Source.Height)
	v.SetDefault("hub.port", cfg.Hub.Port)
	v.SetDefault("hub.name", cfg.Hub.Name)
	v.SetDefault("hub.path", cfg.Hub.Path)
	v.SetDefault("hub.send_queue", cfg.Hub.SendQueue)
	v.SetDefault("hub.mdns", cfg.Hub.MDNS)
	v.SetDefault("hub.tui", cfg.Hub.TUI)
}

// Validate checks ranges and names
func (c Config) Validate() error {
	if c.ConfigVersion != CurrentConfigVersion {
		return fmt.Errorf("unsupported config_version %d; expected %d", c.ConfigVersion, CurrentConfigVersion)
	}

	if c.Client.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("client.connect_timeout_seconds must not be negative")
	}
	if c.Client.Retry < 0 {
		return fmt.Errorf("client.retry must not be negative")
	}
	if c.Client.RetryBackoffMillis < 0 {
		return fmt.Errorf("client.retry_backoff_ms must not be negative")
	}
	if c.Client.QueueSize < 1 || c.Client.QueueSize > maxQueueSize {
		return fmt.Errorf("client.queue_size must be between 1 and %d", maxQueueSize)
	}

	if c.Capture.FPS < 1 || c.Capture.FPS > maxFPS {
		return fmt.Errorf("capture.fps must be between 1 and %d", maxFPS)
	}
	if err := checkSize("capture", c.Capture.Width, c.Capture.Height); err != nil {
		return err
	}
	if _, err := c.Capture.ResolvePalette(); err != nil {
		return fmt.Errorf("capture palette: %w", err)
	}
	if _, err := transcode.ParseMarkup(c.Capture.Markup); err != nil {
		return fmt.Errorf("capture.markup: %w", err)
	}

	if !slices.Contains(video.Kinds(), c.Source.Kind) {
		return fmt.Errorf("unsupported source.kind %q (want one of %s)", c.Source.Kind, strings.Join(video.Kinds(), ", "))
	}
	if err := checkSize("source", c.Source.Width, c.Source.Height); err != nil {
		return err
	}
	if c.Source.Kind == video.KindMJPEG && c.Source.URL == "" {
		return fmt.Errorf("source.url is required for source.kind %s", video.KindMJPEG)
	}

	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		return fmt.Errorf("hub.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Hub.Path, "/") {
		return fmt.Errorf("hub.path must start with /")
	}
	if c.Hub.SendQueue < 1 || c.Hub.SendQueue > maxQueueSize {
		return fmt.Errorf("hub.send_queue must be between 1 and %d", maxQueueSize)
	}
	return nil
}

func checkSize(section string, w, h int) error {
	if w < 0 || h < 0 || w > maxGridSize || h > maxGridSize {
		return fmt.Errorf("%s.width and %s.height must be between 0 and %d", section, section, maxGridSize)
	}
	if (w == 0) != (h == 0) {
		return fmt.Errorf("%s.width and %s.height must both be set or both be 0", section, section)
	}
	return nil
}

// MarshalDefault returns the default config as YAML
func MarshalDefault() ([]byte, error) {
	return yaml.Marshal(DefaultConfig())
}

// WriteDefault writes the default config to path
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := MarshalDefault()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
