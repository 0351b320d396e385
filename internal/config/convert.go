package config

import (
	"github.com/danmuck/w1ctl/internal/capture"
	"github.com/danmuck/w1ctl/internal/logging"
	"github.com/danmuck/w1ctl/internal/protocol/w1"
	nltransport "github.com/danmuck/w1ctl/internal/transport/netlink"
)

// Transport returns the socket options for the w1 family.
func (c Config) Transport() nltransport.Config {
	return nltransport.Config{
		Family:     w1.Family,
		Events:     c.Netlink.Events,
		ReadBuffer: c.Netlink.ReadBuffer,
	}
}

func (c Config) CaptureOptions() capture.Options {
	return capture.Options{MaxFrameBytes: c.Capture.MaxFrameBytes}
}

// Logging layers the [log] section over the runtime profile. Environment
// overrides still win.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig(logging.ProfileRuntime)
	if level, ok := logging.ParseLevel(c.Log.Level); ok {
		cfg.Level = level
	}
	cfg.JSON = c.Log.JSON
	logging.ApplyEnvOverrides(&cfg)
	return cfg
}
