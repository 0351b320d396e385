package w1

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/w1ctl/internal/protocol"
)

// MessageHeaderLen is the size of the fixed w1_netlink_msg header.
//
//	0      type
//	1      status
//	2 ..3  len
//	4 ..11 id
const MessageHeaderLen = 12

const maxLen = int(^uint16(0))

// MessageType is the w1_netlink_msg type field.
type MessageType uint8

const (
	MsgSlaveAdd MessageType = iota
	MsgSlaveRemove
	MsgMasterAdd
	MsgMasterRemove
	MsgMasterCmd
	MsgSlaveCmd
	MsgListMasters
	msgTypeCount
)

var messageNames = [...]string{
	MsgSlaveAdd:     "slave_add",
	MsgSlaveRemove:  "slave_remove",
	MsgMasterAdd:    "master_add",
	MsgMasterRemove: "master_remove",
	MsgMasterCmd:    "master_cmd",
	MsgSlaveCmd:     "slave_cmd",
	MsgListMasters:  "list_masters",
}

func (t MessageType) String() string {
	if t.Valid() {
		return messageNames[t]
	}
	return fmt.Sprintf("msg(%d)", uint8(t))
}

func (t MessageType) Valid() bool { return t < msgTypeCount }

// IsEvent reports whether t is a kernel add/remove notification.
func (t MessageType) IsEvent() bool {
	return t <= MsgMasterRemove
}

func (t MessageType) addressesMaster() bool {
	switch t {
	case MsgMasterAdd, MsgMasterRemove, MsgMasterCmd, MsgListMasters:
		return true
	}
	return false
}

// Message is one w1_netlink_msg. Which body field is used depends on Type:
// event kinds carry none, MsgListMasters carries Masters, command kinds carry Commands.
type Message struct {
	Type     MessageType
	Status   uint8
	ID       TargetID
	Masters  []uint32
	Commands []Command
}

// NewMasterCommand addresses cmds to the bus master with id master.
func NewMasterCommand(master uint32, cmds ...Command) Message {
	return Message{Type: MsgMasterCmd, ID: MasterID(master), Commands: cmds}
}

// NewSlaveCommand addresses cmds to one slave device.
func NewSlaveCommand(slave TargetID, cmds ...Command) Message {
	return Message{Type: MsgSlaveCmd, ID: slave, Commands: cmds}
}

// NewListMasters builds the request the kernel answers with its master ids.
func NewListMasters() Message {
	return Message{Type: MsgListMasters, ID: MasterID(0)}
}

func NewEvent(kind MessageType, id TargetID) Message {
	return Message{Type: kind, ID: id}
}

func (m Message) bodyLen() int {
	switch bodyFor(m.Type) {
	case bodyMasters:
		return 4 * len(m.Masters)
	case bodyCommands:
		n := 0
		for _, c := range m.Commands {
			n += c.EncodedLen()
		}
		return n
	}
	return 0
}

// EncodedLen is the header plus body size of m.
func (m Message) EncodedLen() int {
	return MessageHeaderLen + m.bodyLen()
}

// AppendMessage appends the wire form of m to dst.
func AppendMessage(dst []byte, m Message) ([]byte, error) {
	n := m.bodyLen()
	if n > maxLen {
		return dst, fmt.Errorf("w1: %s: %w: %d bytes", m.Type, protocol.ErrPayloadTooLarge, n)
	}
	var head [MessageHeaderLen]byte
	head[0] = byte(m.Type)
	head[1] = m.Status
	binary.LittleEndian.PutUint16(head[2:4], uint16(n))
	copy(head[4:12], m.ID[:])
	out := append(dst, head[:]...)

	switch bodyFor(m.Type) {
	case bodyMasters:
		var id [4]byte
		for _, master := range m.Masters {
			binary.LittleEndian.PutUint32(id[:], master)
			out = append(out, id[:]...)
		}
	case bodyCommands:
		var err error
		for i, c := range m.Commands {
			out, err = AppendCommand(out, c)
			if err != nil {
				return dst, fmt.Errorf("w1: message %s: command %d: %w", m.Type, i, err)
			}
		}
	}
	return out, nil
}

// DecodeMessage parses one message from the front of b and reports how many bytes it used.
// A nonzero status byte stops decoding with a *protocol.StatusError.
func DecodeMessage(b []byte) (Message, int, error) {
	m, body, err := decodeMessageHeader(b)
	if err != nil {
		return Message{}, 0, err
	}

	switch bodyFor(m.Type) {
	case bodyNone:
		if len(body) != 0 {
			return Message{}, 0, &protocol.LengthError{Layer: "event " + m.Type.String(), Declared: len(body), Available: 0}
		}
	case bodyMasters:
		masters, err := decodeMasters(body)
		if err != nil {
			return Message{}, 0, err
		}
		m.Masters = masters
	case bodyCommands:
		cmds, err := decodeCommands(body)
		if err != nil {
			return Message{}, 0, fmt.Errorf("w1: message %s: %w", m.Type, err)
		}
		m.Commands = cmds
	}
	return m, MessageHeaderLen + len(body), nil
}

// decodeMessageHeader checks the fixed 12-byte header and returns the body slice it declares.
func decodeMessageHeader(b []byte) (Message, []byte, error) {
	if len(b) < MessageHeaderLen {
		return Message{}, nil, fmt.Errorf("w1: message header: %w", protocol.ErrInvalidLength)
	}
	kind := MessageType(b[0])
	if !kind.Valid() {
		return Message{}, nil, &protocol.ValueError{What: "message type", Value: int(b[0])}
	}
	m := Message{Type: kind, Status: b[1]}
	copy(m.ID[:], b[4:12])
	if m.Status != 0 {
		return Message{}, nil, &protocol.StatusError{Type: b[0], Status: m.Status, ID: m.ID}
	}

	n := int(binary.LittleEndian.Uint16(b[2:4]))
	if n > len(b)-MessageHeaderLen {
		return Message{}, nil, &protocol.LengthError{Layer: "message", Declared: n, Available: len(b) - MessageHeaderLen}
	}
	return m, b[MessageHeaderLen : MessageHeaderLen+n], nil
}

func decodeMasters(body []byte) ([]uint32, error) {
	if rem := len(body) % 4; rem != 0 {
		return nil, &protocol.LengthError{Layer: "master id", Declared: 4, Available: rem}
	}
	if len(body) == 0 {
		return nil, nil
	}
	out := make([]uint32, 0, len(body)/4)
	for i := 0; i < len(body); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(body[i:i+4]))
	}
	return out, nil
}

func decodeCommands(body []byte) ([]Command, error) {
	var cmds []Command
	for cursor := 0; cursor < len(body); {
		c, n, err := DecodeCommand(body[cursor:])
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", len(cmds), err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("command %d: %w", len(cmds), protocol.ErrNoProgress)
		}
		cmds = append(cmds, c)
		cursor += n
	}
	return cmds, nil
}
