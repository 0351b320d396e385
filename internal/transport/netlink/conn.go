// Package netlink carries connector frames over a NETLINK_CONNECTOR socket.
package netlink

import (
	"fmt"
	"time"

	mdnetlink "github.com/mdlayher/netlink"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/danmuck/w1ctl/internal/protocol/connector"
)

// Conn is the subset of *mdnetlink.Conn the bus client uses.
type Conn interface {
	Send(m mdnetlink.Message) (mdnetlink.Message, error)
	Receive() ([]mdnetlink.Message, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*mdnetlink.Conn)(nil)

// Config selects socket options for Dial.
type Config struct {
	Family connector.Family
	// Events joins the multicast group of Family so unsolicited add/remove
	// notifications are delivered.
	Events bool
	// ReadBuffer sets SO_RCVBUF when positive.
	ReadBuffer int
}

// Dial opens a connector socket. The kernel assigns the port id.
func Dial(cfg Config) (Conn, error) {
	c, err := mdnetlink.Dial(unix.NETLINK_CONNECTOR, nil)
	if err != nil {
		return nil, fmt.Errorf("netlink: dial connector: %w", err)
	}
	if cfg.ReadBuffer > 0 {
		if err := c.SetReadBuffer(cfg.ReadBuffer); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("netlink: set read buffer: %w", err)
		}
	}
	if cfg.Events {
		// Connector multicast groups are numbered by family idx.
		if err := c.JoinGroup(cfg.Family.Idx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("netlink: join group %d: %w", cfg.Family.Idx, err)
		}
	}
	log.Debug().
		Str("family", cfg.Family.String()).
		Bool("events", cfg.Events).
		Msg("netlink connector socket open")
	return c, nil
}

// Request wraps an encoded connector envelope in a netlink request. The netlink
// sequence mirrors the connector seq; the port id is left for the socket to fill in.
func Request(seq uint32, data []byte) mdnetlink.Message {
	return mdnetlink.Message{
		Header: mdnetlink.Header{
			Type:     mdnetlink.HeaderType(connector.TypeConnector),
			Flags:    mdnetlink.Request | mdnetlink.Acknowledge,
			Sequence: seq,
		},
		Data: data,
	}
}

// Header extracts the transport fields the connector codec checks.
func Header(m mdnetlink.Message) connector.TransportHeader {
	return connector.TransportHeader{
		Type:   uint16(m.Header.Type),
		Flags:  uint16(m.Header.Flags),
		Seq:    m.Header.Sequence,
		PortID: m.Header.PID,
	}
}

// Reply builds the netlink message the kernel would send for data. Used to
// replay captured frames and by fakes.
func Reply(th connector.TransportHeader, data []byte) mdnetlink.Message {
	return mdnetlink.Message{
		Header: mdnetlink.Header{
			Length:   uint32(unix.NLMSG_HDRLEN + len(data)),
			Type:     mdnetlink.HeaderType(th.Type),
			Flags:    mdnetlink.HeaderFlags(th.Flags),
			Sequence: th.Seq,
			PID:      th.PortID,
		},
		Data: data,
	}
}
