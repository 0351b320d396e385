package connector

import (
	"encoding/binary"

	"github.com/danmuck/w1ctl/internal/protocol"
)

// HeaderLen is the size of the fixed cn_msg header.
//
//	0  ..3   idx
//	4  ..7   val
//	8  ..11  seq
//	12 ..15  ack
//	16 ..17  len
//	18 ..19  flags
const HeaderLen = 20

// Transport-level netlink message types accepted around a connector envelope.
const (
	TypeDone      uint16 = 0x03 // NLMSG_DONE, used by the kernel for connector replies
	TypeConnector uint16 = 0x0b // NETLINK_CONNECTOR
)

// Header is the fixed connector header.
type Header struct {
	Family Family
	Seq    uint32
	Ack    uint32
	Len    uint16
	Flags  uint16
}

// TransportHeader is the subset of the surrounding netlink header the codec consults.
// Seq and PortID are carried for the caller and never interpreted here.
type TransportHeader struct {
	Type   uint16
	Flags  uint16
	Seq    uint32
	PortID uint32
}

// IsConnectorType reports whether a transport message type may carry a connector envelope.
func IsConnectorType(t uint16) bool {
	return t == TypeConnector || t == TypeDone
}

// PutHeader writes h into b[0:HeaderLen].
func PutHeader(b []byte, h Header) {
	_ = b[HeaderLen-1]
	binary.LittleEndian.PutUint32(b[0:4], h.Family.Idx)
	binary.LittleEndian.PutUint32(b[4:8], h.Family.Val)
	binary.LittleEndian.PutUint32(b[8:12], h.Seq)
	binary.LittleEndian.PutUint32(b[12:16], h.Ack)
	binary.LittleEndian.PutUint16(b[16:18], h.Len)
	binary.LittleEndian.PutUint16(b[18:20], h.Flags)
}

// ParseHeader reads the fixed header from the front of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, protocol.ErrInvalidLength
	}
	return Header{
		Family: Family{
			Idx: binary.LittleEndian.Uint32(b[0:4]),
			Val: binary.LittleEndian.Uint32(b[4:8]),
		},
		Seq:   binary.LittleEndian.Uint32(b[8:12]),
		Ack:   binary.LittleEndian.Uint32(b[12:16]),
		Len:   binary.LittleEndian.Uint16(b[16:18]),
		Flags: binary.LittleEndian.Uint16(b[18:20]),
	}, nil
}
