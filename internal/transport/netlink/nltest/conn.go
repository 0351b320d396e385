// Package nltest provides an in-memory connector socket for tests.
package nltest

import (
	"net"
	"os"
	"sync"
	"time"

	mdnetlink "github.com/mdlayher/netlink"
)

// KernelFunc answers one request with the frames the kernel would send back.
type KernelFunc func(req mdnetlink.Message) []mdnetlink.Message

// Conn is a fake connector socket. Sent requests are recorded and answered by Kernel.
type Conn struct {
	Kernel KernelFunc

	mu       sync.Mutex
	sent     []mdnetlink.Message
	seq      uint32
	deadline time.Time

	inbox  chan []mdnetlink.Message
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// PortID is the port id the fake stamps on outgoing requests.
const PortID = 4242

func New(kernel KernelFunc) *Conn {
	return &Conn{
		Kernel: kernel,
		inbox:  make(chan []mdnetlink.Message, 64),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *Conn) Send(m mdnetlink.Message) (mdnetlink.Message, error) {
	select {
	case <-c.closed:
		return mdnetlink.Message{}, net.ErrClosed
	default:
	}
	c.mu.Lock()
	c.seq++
	if m.Header.Sequence == 0 {
		m.Header.Sequence = c.seq
	}
	if m.Header.PID == 0 {
		m.Header.PID = PortID
	}
	m.Header.Length = uint32(16 + len(m.Data))
	c.sent = append(c.sent, m)
	kernel := c.Kernel
	c.mu.Unlock()

	if kernel != nil {
		for _, reply := range kernel(m) {
			c.Inject(reply)
		}
	}
	return m, nil
}

// Inject queues msgs as one Receive batch.
func (c *Conn) Inject(msgs ...mdnetlink.Message) {
	select {
	case c.inbox <- msgs:
	case <-c.closed:
	}
}

func (c *Conn) Receive() ([]mdnetlink.Message, error) {
	for {
		c.mu.Lock()
		deadline := c.deadline
		c.mu.Unlock()

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return nil, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(d)
			timeout = timer.C
		}

		var (
			msgs []mdnetlink.Message
			err  error
			done = true
		)
		select {
		case msgs = <-c.inbox:
		case <-c.closed:
			err = net.ErrClosed
		case <-timeout:
			err = os.ErrDeadlineExceeded
		case <-c.wake:
			done = false
		}
		if timer != nil {
			timer.Stop()
		}
		if done {
			return msgs, err
		}
	}
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// Sent returns a copy of every request passed to Send.
func (c *Conn) Sent() []mdnetlink.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mdnetlink.Message, len(c.sent))
	copy(out, c.sent)
	return out
}
