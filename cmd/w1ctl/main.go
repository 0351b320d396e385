package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/w1ctl/internal/config"
	"github.com/danmuck/w1ctl/internal/observability"
)

type globalFlags struct {
	ConfigPath string
	LogLevel   string
	Capture    string
}

var (
	flags   globalFlags
	cfg     config.Config
	rootCmd *cobra.Command
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "w1ctl",
		Short: "w1ctl - talk to the Linux 1-Wire bus over netlink",
		Long: `w1ctl drives the kernel w1 subsystem through the netlink connector:
list bus masters, search for devices, read and write slaves, follow
add/remove events, and serve the discovered inventory over HTTP.

Examples:
  w1ctl masters
  w1ctl search 1
  w1ctl read 28-0000056a1c2b 9
  w1ctl serve --config w1ctl.toml
  w1ctl decode --capture w1ctl.capture`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(flags.ConfigPath)
			if err != nil {
				return err
			}
			cfg = loaded
			if flags.LogLevel != "" {
				cfg.Log.Level = flags.LogLevel
			}
			if flags.Capture != "" {
				cfg.Capture.Enabled = true
				cfg.Capture.Path = flags.Capture
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			observability.InitLogger("w1ctl", cfg.Logging())
			log.Debug().Str("config", flags.ConfigPath).Msg("configuration loaded")
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "w1ctl.toml", "path to config file (defaults apply when missing)")
	rootCmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flags.Capture, "record", "", "record every connector frame to this capture file")

	rootCmd.AddCommand(mastersCmd, searchCmd, resetCmd, readCmd, writeCmd, touchCmd)
	rootCmd.AddCommand(listenCmd, serveCmd, decodeCmd)
}

// loadConfig reads path, falling back to defaults when the file does not exist.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}
