// ABOUTME: Application configuration types and defaults
// ABOUTME: One versioned YAML document covering client, capture, source and hub
package appconfig

import (
	"os"
	"path/filepath"

	"github.com/asciistream/asciistream-go/pkg/palette"
	"github.com/asciistream/asciistream-go/pkg/transcode"
	"github.com/asciistream/asciistream-go/pkg/video"
)

// CurrentConfigVersion marks the supported config version
const CurrentConfigVersion = 1

// Config is the top-level application configuration
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Client        ClientConfig  `mapstructure:"client" yaml:"client"`
	Capture       CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Source        SourceConfig  `mapstructure:"source" yaml:"source"`
	Hub           HubConfig     `mapstructure:"hub" yaml:"hub"`
}

// ClientConfig controls the connection to a hub
type ClientConfig struct {
	// ServerAddr is host:port; empty means discover over mDNS
	ServerAddr            string `mapstructure:"server_addr" yaml:"server_addr"`
	Name                  string `mapstructure:"name" yaml:"name"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	Retry                 int    `mapstructure:"retry" yaml:"retry"`
	RetryBackoffMillis    int    `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	QueueSize             int    `mapstructure:"queue_size" yaml:"queue_size"`
}

// CaptureConfig controls the capture loop and transcoder
type CaptureConfig struct {
	FPS    int `mapstructure:"fps" yaml:"fps"`
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
	// Palette is a named palette; CustomPalette wins when set
	Palette       string `mapstructure:"palette" yaml:"palette"`
	CustomPalette string `mapstructure:"custom_palette" yaml:"custom_palette"`
	Markup        string `mapstructure:"markup" yaml:"markup"`
	TUI           bool   `mapstructure:"tui" yaml:"tui"`
}

// SourceConfig selects the video source
type SourceConfig struct {
	Kind       string `mapstructure:"kind" yaml:"kind"`
	Device     string `mapstructure:"device" yaml:"device"`
	URL        string `mapstructure:"url" yaml:"url"`
	Format     string `mapstructure:"format" yaml:"format"`
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	Width      int    `mapstructure:"width" yaml:"width"`
	Height     int    `mapstructure:"height" yaml:"height"`
}

// HubConfig controls the hub server
type HubConfig struct {
	Port      int    `mapstructure:"port" yaml:"port"`
	Name      string `mapstructure:"name" yaml:"name"`
	Path      string `mapstructure:"path" yaml:"path"`
	SendQueue int    `mapstructure:"send_queue" yaml:"send_queue"`
	MDNS      bool   `mapstructure:"mdns" yaml:"mdns"`
	TUI       bool   `mapstructure:"tui" yaml:"tui"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Client: ClientConfig{
			ServerAddr:            "localhost:8937",
			Name:                  "",
			ConnectTimeoutSeconds: 10,
			Retry:                 0,
			RetryBackoffMillis:    2000,
			QueueSize:             8,
		},
		Capture: CaptureConfig{
			FPS:     30,
			Width:   80,
			Height:  45,
			Palette: palette.NameASCII95,
			Markup:  string(transcode.MarkupANSI),
			TUI:     true,
		},
		Source: SourceConfig{
			Kind:       video.KindTestPattern,
			Device:     "/dev/video0",
			FFmpegPath: "ffmpeg",
		},
		Hub: HubConfig{
			Port:      8937,
			Path:      "/stream",
			SendQueue: 16,
			MDNS:      true,
			TUI:       false,
		},
	}
}

// DefaultConfigPath returns the standard config path
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".asciistream", "config.yaml"), nil
}

// ResolvePalette returns the configured palette
func (c CaptureConfig) ResolvePalette() (*palette.Palette, error) {
	if c.CustomPalette != "" {
		return palette.New(c.CustomPalette)
	}
	return palette.Named(c.Palette)
}

// VideoConfig converts the source section for video.Open. Source width and
// height fall back to the capture grid size.
func (c Config) VideoConfig() video.Config {
	w, h := c.Source.Width, c.Source.Height
	if w == 0 && h == 0 {
		w, h = c.Capture.Width, c.Capture.Height
	}
	return video.Config{
		Kind:       c.Source.Kind,
		Device:     c.Source.Device,
		URL:        c.Source.URL,
		Format:     c.Source.Format,
		FFmpegPath: c.Source.FFmpegPath,
		Width:      w,
		Height:     h,
		FPS:        c.Capture.FPS,
	}
}
