package bus

import (
	"context"
	"fmt"

	"github.com/danmuck/w1ctl/internal/protocol/w1"
)

// ListMasters asks the kernel for every registered bus master id.
func (c *Client) ListMasters(ctx context.Context) ([]uint32, error) {
	const op = "list_masters"
	frames, err := c.exchange(ctx, op, w1.NewListMasters())
	if err != nil {
		return nil, err
	}
	msgs, err := decodeFrames[w1.Message](c, w1.Codec{}, op, frames)
	if err != nil {
		return nil, err
	}
	var out []uint32
	for _, m := range msgs {
		if m.Type == w1.MsgListMasters {
			out = append(out, m.Masters...)
		}
	}
	return out, nil
}

// Search runs a ROM search on master and returns the slave ids found.
func (c *Client) Search(ctx context.Context, master uint32) ([]w1.TargetID, error) {
	return c.search(ctx, "search", master, w1.Search())
}

// AlarmSearch returns the slaves on master with an active alarm condition.
func (c *Client) AlarmSearch(ctx context.Context, master uint32) ([]w1.TargetID, error) {
	return c.search(ctx, "alarm_search", master, w1.AlarmSearch())
}

func (c *Client) search(ctx context.Context, op string, master uint32, cmd w1.Command) ([]w1.TargetID, error) {
	frames, err := c.exchange(ctx, op, w1.NewMasterCommand(master, cmd))
	if err != nil {
		return nil, err
	}
	replies, err := decodeFrames[w1.SearchReply](c, w1.SearchReplyCodec{}, op, frames)
	if err != nil {
		return nil, err
	}
	seen := make(map[w1.TargetID]bool)
	var out []w1.TargetID
	for _, r := range replies {
		for _, id := range r.Slaves {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	c.log.Debug().Uint32("master", master).Int("slaves", len(out)).Str("op", op).Msg("search complete")
	return out, nil
}

// Reset issues a bus reset on master.
func (c *Client) Reset(ctx context.Context, master uint32) error {
	_, err := c.Exec(ctx, w1.NewMasterCommand(master, w1.Reset()))
	return err
}

// Read reads n bytes from slave.
func (c *Client) Read(ctx context.Context, slave w1.TargetID, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bus: read %d bytes: invalid length", n)
	}
	msgs, err := c.Exec(ctx, w1.NewSlaveCommand(slave, w1.ReadN(n)))
	if err != nil {
		return nil, err
	}
	// Status acks echo the read with an empty body; the data reply carries bytes.
	for _, m := range msgs {
		for _, cmd := range m.Commands {
			if cmd.Type == w1.CmdRead && len(cmd.Data) > 0 {
				return cmd.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("bus: read %s: %w", slave.SysfsName(), ErrNoReply)
}

// Write writes data to slave.
func (c *Client) Write(ctx context.Context, slave w1.TargetID, data []byte) error {
	_, err := c.Exec(ctx, w1.NewSlaveCommand(slave, w1.Write(data)))
	return err
}

// Touch sends a touch command to slave.
func (c *Client) Touch(ctx context.Context, slave w1.TargetID) error {
	_, err := c.Exec(ctx, w1.NewSlaveCommand(slave, w1.Touch()))
	return err
}

// Exec sends msgs in one envelope and returns every reply message.
// A nonzero kernel status surfaces as a *protocol.StatusError.
func (c *Client) Exec(ctx context.Context, msgs ...w1.Message) ([]w1.Message, error) {
	op := "exec"
	if len(msgs) == 1 {
		op = msgs[0].Type.String()
	}
	frames, err := c.exchange(ctx, op, msgs...)
	if err != nil {
		return nil, err
	}
	return decodeFrames[w1.Message](c, w1.Codec{}, op, frames)
}
