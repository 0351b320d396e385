package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/w1ctl/internal/bus"
	"github.com/danmuck/w1ctl/internal/capture"
	"github.com/danmuck/w1ctl/internal/protocol/w1"
)

// openClient dials the connector with the loaded config. The returned close
// func also closes the capture file.
func openClient(ctx context.Context, events bool) (*bus.Client, func(), error) {
	var opts []bus.Option
	var recorder *capture.Writer
	if cfg.Capture.Enabled {
		w, err := capture.Create(cfg.Capture.Path, cfg.CaptureOptions())
		if err != nil {
			return nil, nil, err
		}
		recorder = w
		opts = append(opts, bus.WithCapture(w))
	}

	tc := cfg.Transport()
	tc.Events = events && tc.Events
	client, err := bus.Dial(ctx, bus.DialConfig{Transport: tc, Session: cfg.Netlink.Session}, opts...)
	if err != nil {
		if recorder != nil {
			_ = recorder.Close()
		}
		return nil, nil, err
	}
	closeAll := func() {
		_ = client.Close()
		if recorder != nil {
			log.Info().Int("records", recorder.Count()).Str("path", cfg.Capture.Path).Msg("capture closed")
			_ = recorder.Close()
		}
	}
	return client, closeAll, nil
}

func parseMaster(raw string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid master id %q: %w", raw, err)
	}
	return uint32(id), nil
}

func parseSlave(raw string) (w1.TargetID, error) {
	id, err := w1.ParseSlaveID(strings.TrimSpace(raw))
	if err != nil {
		return w1.TargetID{}, fmt.Errorf("invalid slave id %q: %w", raw, err)
	}
	return id, nil
}

var mastersCmd = &cobra.Command{
	Use:   "masters",
	Short: "List registered bus masters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, done, err := openClient(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer done()
		masters, err := client.ListMasters(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range masters {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var searchAlarm bool

var searchCmd = &cobra.Command{
	Use:   "search <master>",
	Short: "Search a bus master for slave devices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		master, err := parseMaster(args[0])
		if err != nil {
			return err
		}
		client, done, err := openClient(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer done()

		search := client.Search
		if searchAlarm {
			search = client.AlarmSearch
		}
		slaves, err := search(cmd.Context(), master)
		if err != nil {
			return err
		}
		for _, id := range slaves {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id.SysfsName(), id.String(w1.MsgSlaveCmd))
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <master>",
	Short: "Reset a bus master",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		master, err := parseMaster(args[0])
		if err != nil {
			return err
		}
		client, done, err := openClient(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer done()
		return client.Reset(cmd.Context(), master)
	},
}

var readCmd = &cobra.Command{
	Use:   "read <slave> <bytes>",
	Short: "Read bytes from a slave device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slave, err := parseSlave(args[0])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid byte count %q: %w", args[1], err)
		}
		client, done, err := openClient(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer done()
		data, err := client.Read(cmd.Context(), slave, n)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <slave> <hex>",
	Short: "Write hex-encoded bytes to a slave device",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slave, err := parseSlave(args[0])
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(strings.TrimSpace(args[1]))
		if err != nil {
			return fmt.Errorf("invalid hex payload: %w", err)
		}
		client, done, err := openClient(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer done()
		return client.Write(cmd.Context(), slave, data)
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch <slave>",
	Short: "Send a touch command to a slave device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slave, err := parseSlave(args[0])
		if err != nil {
			return err
		}
		client, done, err := openClient(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer done()
		return client.Touch(cmd.Context(), slave)
	},
}

func init() {
	searchCmd.Flags().BoolVar(&searchAlarm, "alarm", false, "only report slaves with an active alarm")
}
