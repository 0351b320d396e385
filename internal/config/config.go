package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/w1ctl/internal/logging"
	"github.com/danmuck/w1ctl/internal/protocol/session"
)

// Config is the resolved w1ctl configuration.
type Config struct {
	Netlink   NetlinkConfig
	Capture   CaptureConfig
	Inventory InventoryConfig
	HTTP      HTTPConfig
	Log       LogConfig
}

type NetlinkConfig struct {
	Events     bool
	ReadBuffer int
	Session    session.Config
}

type CaptureConfig struct {
	Enabled       bool
	Path          string
	MaxFrameBytes int
}

// InventoryConfig selects the store directory. Empty keeps the store in memory.
type InventoryConfig struct {
	Dir string
}

type HTTPConfig struct {
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on live bus routes.
	Token string
}

type LogConfig struct {
	Level string
	JSON  bool
}

func DefaultConfig() Config {
	return Config{
		Netlink: NetlinkConfig{
			Events:  true,
			Session: session.DefaultConfig(),
		},
		Capture: CaptureConfig{
			Path:          "w1ctl.capture",
			MaxFrameBytes: 4096,
		},
		Inventory: InventoryConfig{Dir: "w1ctl.inventory"},
		HTTP: HTTPConfig{
			Addr:        ":9300",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Log: LogConfig{Level: "info"},
	}
}

type fileConfig struct {
	Netlink   fileNetlink   `toml:"netlink"`
	Capture   fileCapture   `toml:"capture"`
	Inventory fileInventory `toml:"inventory"`
	HTTP      fileHTTP      `toml:"http"`
	Log       fileLog       `toml:"log"`
}

type fileNetlink struct {
	Events         bool        `toml:"events"`
	ReadBuffer     int         `toml:"read_buffer"`
	RequestTimeout string      `toml:"request_timeout"`
	ReplyIdle      string      `toml:"reply_idle"`
	WriteTimeout   string      `toml:"write_timeout"`
	MaxAttempts    int         `toml:"max_attempts"`
	Backoff        fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

type fileCapture struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	MaxFrameBytes int    `toml:"max_frame_bytes"`
}

type fileInventory struct {
	Dir string `toml:"dir"`
}

type fileHTTP struct {
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type fileLog struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// Load reads path over DefaultConfig. Only keys present in the file override
// defaults. The result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	nl := &cfg.Netlink
	if meta.IsDefined("netlink", "events") {
		nl.Events = raw.Netlink.Events
	}
	if meta.IsDefined("netlink", "read_buffer") {
		nl.ReadBuffer = raw.Netlink.ReadBuffer
	}
	durations := []struct {
		keys []string
		raw  string
		dst  *time.Duration
	}{
		{[]string{"netlink", "request_timeout"}, raw.Netlink.RequestTimeout, &nl.Session.RequestTimeout},
		{[]string{"netlink", "reply_idle"}, raw.Netlink.ReplyIdle, &nl.Session.ReplyIdle},
		{[]string{"netlink", "write_timeout"}, raw.Netlink.WriteTimeout, &nl.Session.WriteTimeout},
		{[]string{"netlink", "backoff", "initial"}, raw.Netlink.Backoff.Initial, &nl.Session.Backoff.InitialDelay},
		{[]string{"netlink", "backoff", "max"}, raw.Netlink.Backoff.Max, &nl.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.keys...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.keys, "."), err)
		}
		*d.dst = v
	}
	if meta.IsDefined("netlink", "max_attempts") {
		nl.Session.MaxAttempts = raw.Netlink.MaxAttempts
	}
	if meta.IsDefined("netlink", "backoff", "multiplier") {
		nl.Session.Backoff.Multiplier = raw.Netlink.Backoff.Multiplier
	}
	if meta.IsDefined("netlink", "backoff", "jitter") {
		nl.Session.Backoff.Jitter = raw.Netlink.Backoff.Jitter
	}

	if meta.IsDefined("capture", "enabled") {
		cfg.Capture.Enabled = raw.Capture.Enabled
	}
	if meta.IsDefined("capture", "path") {
		cfg.Capture.Path = strings.TrimSpace(raw.Capture.Path)
	}
	if meta.IsDefined("capture", "max_frame_bytes") {
		cfg.Capture.MaxFrameBytes = raw.Capture.MaxFrameBytes
	}
	if meta.IsDefined("inventory", "dir") {
		cfg.Inventory.Dir = strings.TrimSpace(raw.Inventory.Dir)
	}
	if meta.IsDefined("http", "addr") {
		cfg.HTTP.Addr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CorsOrigins = normalizeList(raw.HTTP.CorsOrigins)
	}
	if meta.IsDefined("http", "token") {
		cfg.HTTP.Token = strings.TrimSpace(raw.HTTP.Token)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if meta.IsDefined("log", "json") {
		cfg.Log.JSON = raw.Log.JSON
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	s := cfg.Netlink.Session
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("netlink.request_timeout must be positive")
	}
	if s.ReplyIdle <= 0 || s.ReplyIdle > s.RequestTimeout {
		return fmt.Errorf("netlink.reply_idle must be positive and at most request_timeout")
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("netlink.max_attempts must be at least 1")
	}
	if s.Backoff.Multiplier != 0 && s.Backoff.Multiplier < 1 {
		return fmt.Errorf("netlink.backoff.multiplier must be >= 1")
	}
	if cfg.Netlink.ReadBuffer < 0 {
		return fmt.Errorf("netlink.read_buffer must not be negative")
	}
	if cfg.Capture.Enabled && cfg.Capture.Path == "" {
		return fmt.Errorf("capture.path required when capture is enabled")
	}
	if cfg.Capture.MaxFrameBytes < 0 {
		return fmt.Errorf("capture.max_frame_bytes must not be negative")
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("log.level %q is not a level", cfg.Log.Level)
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
