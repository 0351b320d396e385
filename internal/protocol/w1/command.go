package w1

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/w1ctl/internal/protocol"
)

// CommandHeaderLen is the size of the fixed w1_netlink_cmd header.
//
//	0      cmd
//	1      reserved
//	2 ..3  len
const CommandHeaderLen = 4

// CommandType is the w1_netlink_cmd opcode.
type CommandType uint8

const (
	CmdRead CommandType = iota
	CmdWrite
	CmdSearch
	CmdAlarmSearch
	CmdTouch
	CmdReset
	CmdSlaveAdd
	CmdSlaveRemove
	CmdListSlaves
	CmdMax // not a command
)

var commandNames = [...]string{
	CmdRead:        "read",
	CmdWrite:       "write",
	CmdSearch:      "search",
	CmdAlarmSearch: "alarm_search",
	CmdTouch:       "touch",
	CmdReset:       "reset",
	CmdSlaveAdd:    "slave_add",
	CmdSlaveRemove: "slave_remove",
	CmdListSlaves:  "list_slaves",
}

func (c CommandType) String() string {
	if c < CmdMax {
		return commandNames[c]
	}
	return fmt.Sprintf("cmd(%d)", uint8(c))
}

// Valid reports whether c is a known opcode.
func (c CommandType) Valid() bool { return c < CmdMax }

// implemented is false for opcodes whose payload layout is not defined yet.
func (c CommandType) implemented() bool {
	switch c {
	case CmdSlaveAdd, CmdSlaveRemove, CmdListSlaves:
		return false
	}
	return c.Valid()
}

// Command is one w1_netlink_cmd record. Data is only meaningful for Read and Write;
// a Read with nil Data is a request, a Read with data is the kernel's reply.
type Command struct {
	Type CommandType
	Data []byte
}

func Read() Command { return Command{Type: CmdRead} }

// ReadResponse is a read reply carrying device data. Empty data is a plain request.
func ReadResponse(data []byte) Command {
	if len(data) == 0 {
		return Read()
	}
	return Command{Type: CmdRead, Data: data}
}

// ReadN requests n bytes. The zeroed buffer travels with the request and the
// kernel returns it filled.
func ReadN(n int) Command { return Command{Type: CmdRead, Data: make([]byte, n)} }

func Write(data []byte) Command { return Command{Type: CmdWrite, Data: data} }
func Search() Command           { return Command{Type: CmdSearch} }
func AlarmSearch() Command      { return Command{Type: CmdAlarmSearch} }
func Touch() Command            { return Command{Type: CmdTouch} }
func Reset() Command            { return Command{Type: CmdReset} }

// payloadLen is the value of the len field for c.
func (c Command) payloadLen() int {
	switch c.Type {
	case CmdRead, CmdWrite:
		return len(c.Data)
	}
	return 0
}

// EncodedLen is the header plus payload size of c.
func (c Command) EncodedLen() int {
	return CommandHeaderLen + c.payloadLen()
}

// AppendCommand appends the wire form of c to dst.
func AppendCommand(dst []byte, c Command) ([]byte, error) {
	if !c.Type.implemented() {
		return dst, fmt.Errorf("w1: encode %s: %w", c.Type, protocol.ErrNotImplemented)
	}
	n := c.payloadLen()
	if n > maxLen {
		return dst, fmt.Errorf("w1: %s: %w: %d bytes", c.Type, protocol.ErrPayloadTooLarge, n)
	}
	var head [CommandHeaderLen]byte
	head[0] = byte(c.Type)
	binary.LittleEndian.PutUint16(head[2:4], uint16(n))
	dst = append(dst, head[:]...)
	if n > 0 {
		dst = append(dst, c.Data...)
	}
	return dst, nil
}

// DecodeCommand parses one command from the front of b and reports how many bytes it used.
func DecodeCommand(b []byte) (Command, int, error) {
	if len(b) < CommandHeaderLen {
		return Command{}, 0, fmt.Errorf("w1: command header: %w", protocol.ErrInvalidLength)
	}
	op := CommandType(b[0])
	if b[1] != 0 {
		return Command{}, 0, fmt.Errorf("w1: command reserved byte %#x: %w", b[1], protocol.ErrInvalidHeader)
	}
	n := int(binary.LittleEndian.Uint16(b[2:4]))
	body := b[CommandHeaderLen:]

	if !op.Valid() {
		return Command{}, 0, &protocol.ValueError{What: "opcode", Value: int(op)}
	}
	switch op {
	case CmdRead:
		if n == 0 {
			return Read(), CommandHeaderLen, nil
		}
		data, err := takeBody(body, n)
		if err != nil {
			return Command{}, 0, err
		}
		return Command{Type: CmdRead, Data: data}, CommandHeaderLen + n, nil
	case CmdWrite:
		data, err := takeBody(body, n)
		if err != nil {
			return Command{}, 0, err
		}
		return Command{Type: CmdWrite, Data: data}, CommandHeaderLen + n, nil
	case CmdSearch, CmdAlarmSearch, CmdTouch, CmdReset:
		return Command{Type: op}, CommandHeaderLen, nil
	default:
		return Command{}, 0, fmt.Errorf("w1: decode %s: %w", op, protocol.ErrNotImplemented)
	}
}

func takeBody(body []byte, n int) ([]byte, error) {
	if n > len(body) {
		return nil, &protocol.LengthError{Layer: "command", Declared: n, Available: len(body)}
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, body[:n])
	return out, nil
}
