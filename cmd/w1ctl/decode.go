package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/danmuck/w1ctl/internal/capture"
	"github.com/danmuck/w1ctl/internal/protocol"
	"github.com/danmuck/w1ctl/internal/protocol/connector"
	"github.com/danmuck/w1ctl/internal/protocol/w1"
)

type decodeFlags struct {
	Path      string
	Session   string
	Direction string
	Since     time.Duration
}

var decodeOpts decodeFlags

var decodeCmd = &cobra.Command{
	Use:   "decode [hex-frame]",
	Short: "Decode a capture file or a single hex-encoded connector frame",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			data, err := hex.DecodeString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid hex frame: %w", err)
			}
			return describeFrame(out, connector.TransportHeader{Type: connector.TypeConnector}, data)
		}

		path := decodeOpts.Path
		if path == "" {
			path = cfg.Capture.Path
		}
		filter, err := decodeOpts.filter(time.Now())
		if err != nil {
			return err
		}
		r, err := capture.Open(path, filter)
		if err != nil {
			return err
		}
		defer r.Close()
		return decodeCapture(out, r)
	},
}

func (f decodeFlags) filter(now time.Time) (capture.Filter, error) {
	out := capture.Filter{Session: f.Session}
	switch strings.ToLower(f.Direction) {
	case "":
	case "in", "inbound":
		d := capture.DirectionIn
		out.Direction = &d
	case "out", "outbound":
		d := capture.DirectionOut
		out.Direction = &d
	default:
		return capture.Filter{}, fmt.Errorf("invalid direction %q (want in or out)", f.Direction)
	}
	if f.Since > 0 {
		since := now.Add(-f.Since)
		out.Since = &since
	}
	return out, nil
}

// decodeCapture prints every record of r. A frame that fails to decode is
// reported inline and does not stop the replay.
func decodeCapture(out io.Writer, r *capture.Reader) error {
	return r.Each(func(rec capture.Record) error {
		label := rec.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(out, "%s %s seq=%d %s size=%d\n",
			rec.Timestamp.Format(time.RFC3339Nano), rec.Direction, rec.Transport.Seq, label, rec.Size)
		if rec.Truncated {
			fmt.Fprintln(out, "  (truncated)")
			return nil
		}
		th := connector.TransportHeader{
			Type:   rec.Transport.Type,
			Flags:  rec.Transport.Flags,
			Seq:    rec.Transport.Seq,
			PortID: rec.Transport.PortID,
		}
		return describeFrame(out, th, rec.Data)
	})
}

func describeFrame(out io.Writer, th connector.TransportHeader, data []byte) error {
	env, err := connector.Decode[w1.SearchReply](w1.SearchReplyCodec{}, th, data)
	if err != nil {
		var status *protocol.StatusError
		if errors.As(err, &status) {
			kind := w1.MessageType(status.Type)
			fmt.Fprintf(out, "  %s id=%s kernel status=%d\n", kind, w1.TargetID(status.ID).String(kind), status.Status)
			return nil
		}
		fmt.Fprintf(out, "  decode error: %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "  envelope seq=%d ack=%d messages=%d\n", env.Seq, env.Ack, len(env.Payload))
	for _, reply := range env.Payload {
		m := reply.Message
		fmt.Fprintf(out, "  %s id=%s\n", m.Type, m.ID.String(m.Type))
		for _, id := range m.Masters {
			fmt.Fprintf(out, "    master %d\n", id)
		}
		for _, c := range m.Commands {
			if len(c.Data) > 0 {
				fmt.Fprintf(out, "    %s %s\n", c.Type, hex.EncodeToString(c.Data))
				continue
			}
			fmt.Fprintf(out, "    %s\n", c.Type)
		}
		for _, id := range reply.Slaves {
			fmt.Fprintf(out, "    found %s\n", id.SysfsName())
		}
	}
	return nil
}

func init() {
	decodeCmd.Flags().StringVar(&decodeOpts.Path, "capture", "", "capture file to replay (default from config)")
	decodeCmd.Flags().StringVar(&decodeOpts.Session, "session", "", "only records from this capture session")
	decodeCmd.Flags().StringVar(&decodeOpts.Direction, "direction", "", "only records in this direction (in, out)")
	decodeCmd.Flags().DurationVar(&decodeOpts.Since, "since", 0, "only records newer than this age")
}
