package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders DefaultConfig as a commented TOML file that Load accepts.
func Template() (string, error) {
	out, err := toml.Marshal(toFile(DefaultConfig()))
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(out), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const templateHeader = `# w1ctl configuration.
# Durations use Go syntax (250ms, 5s). Leave inventory.dir empty for an in-memory store.
# Set http.token to require a bearer token on scan, reset, read, and pending.

`

func toFile(cfg Config) fileConfig {
	s := cfg.Netlink.Session
	return fileConfig{
		Netlink: fileNetlink{
			Events:         cfg.Netlink.Events,
			ReadBuffer:     cfg.Netlink.ReadBuffer,
			RequestTimeout: s.RequestTimeout.String(),
			ReplyIdle:      s.ReplyIdle.String(),
			WriteTimeout:   s.WriteTimeout.String(),
			MaxAttempts:    s.MaxAttempts,
			Backoff: fileBackoff{
				Initial:    s.Backoff.InitialDelay.String(),
				Multiplier: s.Backoff.Multiplier,
				Max:        s.Backoff.MaxDelay.String(),
				Jitter:     s.Backoff.Jitter,
			},
		},
		Capture: fileCapture{
			Enabled:       cfg.Capture.Enabled,
			Path:          cfg.Capture.Path,
			MaxFrameBytes: cfg.Capture.MaxFrameBytes,
		},
		Inventory: fileInventory{Dir: cfg.Inventory.Dir},
		HTTP: fileHTTP{
			Addr:        cfg.HTTP.Addr,
			CorsOrigins: cfg.HTTP.CorsOrigins,
			Token:       cfg.HTTP.Token,
		},
		Log: fileLog{Level: cfg.Log.Level, JSON: cfg.Log.JSON},
	}
}
