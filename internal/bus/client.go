// Package bus is a request/reply client for the kernel w1 connector.
package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mdnetlink "github.com/mdlayher/netlink"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/w1ctl/internal/capture"
	"github.com/danmuck/w1ctl/internal/observability"
	"github.com/danmuck/w1ctl/internal/protocol/connector"
	"github.com/danmuck/w1ctl/internal/protocol/session"
	"github.com/danmuck/w1ctl/internal/protocol/w1"
	nltransport "github.com/danmuck/w1ctl/internal/transport/netlink"
)

var (
	ErrClosed  = errors.New("bus: client closed")
	ErrNoReply = errors.New("bus: no reply from kernel")
)

// Event is a kernel add/remove notification.
type Event struct {
	Kind w1.MessageType
	ID   w1.TargetID
	At   time.Time
}

type Option func(*Client)

// WithCapture records every frame sent and received to w.
func WithCapture(w *capture.Writer) Option {
	return func(c *Client) { c.capture = w }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithSessionConfig(cfg session.Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// Client multiplexes requests over one connector socket. Replies are matched
// to requests by connector seq; event frames go to Events subscribers.
type Client struct {
	conn    nltransport.Conn
	cfg     session.Config
	seq     *session.Sequencer
	pending *session.PendingTable
	capture *capture.Writer
	log     zerolog.Logger

	mu       sync.Mutex
	handlers map[int]func(Event)
	nextID   int
	readErr  error

	done      chan struct{}
	failed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New starts a client over conn. The client owns conn and closes it on Close.
func New(conn nltransport.Conn, opts ...Option) *Client {
	c := &Client{
		conn:     conn,
		cfg:      session.DefaultConfig(),
		seq:      session.NewSequencer(uint32(time.Now().Unix())),
		pending:  session.NewPendingTable(32),
		log:      log.Logger.With().Str("component", "bus").Logger(),
		handlers: make(map[int]func(Event)),
		done:     make(chan struct{}),
		failed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.sweepLoop()
	return c
}

// DialConfig configures Dial.
type DialConfig struct {
	Transport nltransport.Config
	Session   session.Config
}

// Dial opens a connector socket, retrying with backoff, and starts a client on it.
func Dial(ctx context.Context, cfg DialConfig, opts ...Option) (*Client, error) {
	if cfg.Transport.Family == (connector.Family{}) {
		cfg.Transport.Family = w1.Family
	}
	var conn nltransport.Conn
	err := session.Retry(ctx, cfg.Session.Backoff, cfg.Session.MaxAttempts, func(attempt int) error {
		var err error
		conn, err = nltransport.Dial(cfg.Transport)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("connector dial failed")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bus: dial: %w", err)
	}
	opts = append([]Option{WithSessionConfig(cfg.Session)}, opts...)
	return New(conn, opts...), nil
}

// Close stops the read loop and closes the socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.wg.Wait()
	})
	return err
}

// Pending lists requests still awaiting replies.
func (c *Client) Pending() []session.PendingRequest {
	return c.pending.List()
}

func (c *Client) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		msgs, err := c.conn.Receive()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			c.log.Error().Err(err).Msg("netlink receive failed")
			c.mu.Lock()
			c.readErr = fmt.Errorf("bus: receive: %w", err)
			c.mu.Unlock()
			close(c.failed)
			return
		}
		for _, m := range msgs {
			c.dispatch(m)
		}
	}
}

// sweepLoop drops table entries whose owner never closed them.
func (c *Client) sweepLoop() {
	defer c.wg.Done()
	interval := c.cfg.RequestTimeout
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			for _, p := range c.pending.Expire(now.Add(-interval)) {
				c.log.Warn().Uint32("seq", p.Seq).Str("op", p.Label).Int("frames", p.Frames).Msg("stale request expired")
			}
		}
	}
}

func (c *Client) dispatch(m mdnetlink.Message) {
	th := nltransport.Header(m)
	if !connector.IsConnectorType(th.Type) {
		c.log.Debug().Uint16("type", th.Type).Msg("non-connector frame skipped")
		return
	}
	c.record(capture.DirectionIn, th, m.Data, "")
	observability.RecordFrame("in", len(m.Data))

	h, err := connector.ParseHeader(m.Data)
	if err != nil {
		observability.RecordDecodeError(err)
		c.log.Warn().Err(err).Int("bytes", len(m.Data)).Msg("connector header rejected")
		return
	}
	if isEventFrame(m.Data) {
		c.handleEvents(th, m.Data)
		return
	}
	if !c.pending.Deliver(session.Frame{Transport: th, Seq: h.Seq, Data: m.Data}) {
		c.log.Debug().Uint32("seq", h.Seq).Msg("unmatched reply dropped")
	}
}

func isEventFrame(b []byte) bool {
	return len(b) > connector.HeaderLen && w1.MessageType(b[connector.HeaderLen]).IsEvent()
}

func (c *Client) handleEvents(th connector.TransportHeader, data []byte) {
	env, err := w1.DecodeEnvelope(th, data)
	if err != nil {
		observability.RecordDecodeError(err)
		c.log.Warn().Err(err).Msg("event frame rejected")
		return
	}
	now := time.Now()
	c.mu.Lock()
	handlers := make([]func(Event), 0, len(c.handlers))
	for _, fn := range c.handlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, m := range env.Payload {
		if !m.Type.IsEvent() {
			continue
		}
		observability.RecordEvent(m.Type.String())
		c.log.Info().Str("kind", m.Type.String()).Str("target", m.ID.String(m.Type)).Msg("bus event")
		ev := Event{Kind: m.Type, ID: m.ID, At: now}
		for _, fn := range handlers {
			fn(ev)
		}
	}
}

// Events calls fn for every add/remove notification until ctx ends or the
// client stops. fn runs on the read goroutine and must not block.
func (c *Client) Events(ctx context.Context, fn func(Event)) error {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case <-c.failed:
		return c.err()
	}
}

func (c *Client) record(dir capture.Direction, th connector.TransportHeader, data []byte, label string) {
	if c.capture == nil {
		return
	}
	t := capture.Transport{Type: th.Type, Flags: th.Flags, Seq: th.Seq, PortID: th.PortID}
	if err := c.capture.Record(dir, t, data, label); err != nil {
		c.log.Warn().Err(err).Msg("capture write failed")
	}
}
