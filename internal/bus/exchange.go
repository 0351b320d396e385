package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/w1ctl/internal/capture"
	"github.com/danmuck/w1ctl/internal/observability"
	"github.com/danmuck/w1ctl/internal/protocol/connector"
	"github.com/danmuck/w1ctl/internal/protocol/session"
	"github.com/danmuck/w1ctl/internal/protocol/w1"
	nltransport "github.com/danmuck/w1ctl/internal/transport/netlink"
)

// exchange sends msgs in one envelope and collects reply frames for its seq.
// Collection ends ReplyIdle after the last frame, or at the request deadline.
func (c *Client) exchange(ctx context.Context, op string, msgs ...w1.Message) (frames []session.Frame, err error) {
	start := time.Now()
	defer func() {
		observability.RecordRequest(op, time.Since(start), err)
	}()

	for _, m := range msgs {
		if err := w1.Validate(m); err != nil {
			return nil, fmt.Errorf("bus: %s: %w", op, err)
		}
	}
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	seq := c.seq.Next()
	data, err := w1.EncodeEnvelope(seq, msgs...)
	if err != nil {
		return nil, fmt.Errorf("bus: %s: %w", op, err)
	}
	deadline := start.Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	replies, err := c.pending.Open(seq, op, start, deadline)
	if err != nil {
		return nil, fmt.Errorf("bus: %s: %w", op, err)
	}
	defer c.pending.Close(seq)

	req := nltransport.Request(seq, data)
	c.record(capture.DirectionOut, nltransport.Header(req), data, op)
	if _, err := c.conn.Send(req); err != nil {
		return nil, fmt.Errorf("bus: %s: send: %w", op, err)
	}
	observability.RecordFrame("out", len(data))
	c.log.Debug().Str("op", op).Uint32("seq", seq).Int("bytes", len(data)).Msg("request sent")

	timeout := time.NewTimer(time.Until(deadline))
	defer timeout.Stop()
	var idle *time.Timer
	var idleC <-chan time.Time
	defer func() {
		if idle != nil {
			idle.Stop()
		}
	}()

	for {
		select {
		case f, ok := <-replies:
			if !ok {
				// The sweeper expired the request.
				if len(frames) > 0 {
					return frames, nil
				}
				return nil, fmt.Errorf("bus: %s seq=%d: %w", op, seq, ErrNoReply)
			}
			frames = append(frames, f)
			if idle == nil {
				idle = time.NewTimer(c.cfg.ReplyIdle)
				idleC = idle.C
			} else {
				idle.Reset(c.cfg.ReplyIdle)
			}
		case <-idleC:
			return frames, nil
		case <-timeout.C:
			if d, ok := ctx.Deadline(); ok && !d.After(deadline) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			if len(frames) > 0 {
				return frames, nil
			}
			c.pending.MarkError(seq, ErrNoReply)
			return nil, fmt.Errorf("bus: %s seq=%d: %w", op, seq, ErrNoReply)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, ErrClosed
		case <-c.failed:
			return nil, c.err()
		}
	}
}

// decodeFrames decodes every frame with codec. The first failure is returned;
// it is never retried.
func decodeFrames[T any](c *Client, codec connector.Codec[T], op string, frames []session.Frame) ([]T, error) {
	var out []T
	for _, f := range frames {
		env, err := connector.Decode(codec, f.Transport, f.Data)
		if err != nil {
			observability.RecordDecodeError(err)
			c.log.Warn().Err(err).Str("op", op).Uint32("seq", f.Seq).Msg("reply rejected")
			return nil, fmt.Errorf("bus: %s: %w", op, err)
		}
		out = append(out, env.Payload...)
	}
	return out, nil
}
