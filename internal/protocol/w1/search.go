package w1

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/w1ctl/internal/protocol"
	"github.com/danmuck/w1ctl/internal/protocol/connector"
)

const slaveIDLen = 8

// SearchReply is the kernel answer to a MasterCmd carrying Search or AlarmSearch.
// The kernel reuses the search command's len field for the slave ids it found;
// DecodeMessage skips those bytes, SearchReplyCodec collects them.
type SearchReply struct {
	Message Message
	Slaves  []TargetID
}

// SearchReplyCodec decodes search replies inside a connector envelope.
type SearchReplyCodec struct{}

var _ connector.Codec[SearchReply] = SearchReplyCodec{}

func (SearchReplyCodec) Family() connector.Family { return Family }

func (SearchReplyCodec) EncodedLen(r SearchReply) int {
	return r.Message.EncodedLen() + slaveIDLen*len(r.Slaves)
}

// Append writes r the way the kernel does: the slave ids ride in the body of
// the first search command of r.Message.
func (SearchReplyCodec) Append(dst []byte, r SearchReply) ([]byte, error) {
	m := r.Message
	if bodyFor(m.Type) != bodyCommands {
		if len(r.Slaves) > 0 {
			return dst, fmt.Errorf("w1: search reply on %s: %w", m.Type, protocol.ErrInvalidMessageType)
		}
		return AppendMessage(dst, m)
	}
	n := m.bodyLen() + slaveIDLen*len(r.Slaves)
	if n > maxLen {
		return dst, fmt.Errorf("w1: search reply: %w: %d bytes", protocol.ErrPayloadTooLarge, n)
	}
	var head [MessageHeaderLen]byte
	head[0] = byte(m.Type)
	head[1] = m.Status
	binary.LittleEndian.PutUint16(head[2:4], uint16(n))
	copy(head[4:12], m.ID[:])
	out := append(dst, head[:]...)

	placed := false
	for i, c := range m.Commands {
		if !placed && isSearch(c.Type) {
			var ch [CommandHeaderLen]byte
			ch[0] = byte(c.Type)
			binary.LittleEndian.PutUint16(ch[2:4], uint16(slaveIDLen*len(r.Slaves)))
			out = append(out, ch[:]...)
			for _, id := range r.Slaves {
				out = append(out, id[:]...)
			}
			placed = true
			continue
		}
		var err error
		out, err = AppendCommand(out, c)
		if err != nil {
			return dst, fmt.Errorf("w1: search reply: command %d: %w", i, err)
		}
	}
	if !placed && len(r.Slaves) > 0 {
		return dst, fmt.Errorf("w1: search reply without search command: %w", protocol.ErrInvalidPayloadLength)
	}
	return out, nil
}

func (SearchReplyCodec) Decode(b []byte) (SearchReply, int, error) {
	return DecodeSearchReply(b)
}

// DecodeSearchReply parses one message like DecodeMessage, except that the
// declared payload of a search command is read as packed 8-byte slave ids.
func DecodeSearchReply(b []byte) (SearchReply, int, error) {
	m, body, err := decodeMessageHeader(b)
	if err != nil {
		return SearchReply{}, 0, err
	}
	if bodyFor(m.Type) != bodyCommands {
		m, n, err := DecodeMessage(b)
		return SearchReply{Message: m}, n, err
	}

	var r SearchReply
	for cursor := 0; cursor < len(body); {
		rest := body[cursor:]
		if len(rest) >= CommandHeaderLen && isSearch(CommandType(rest[0])) && rest[1] == 0 {
			n := int(binary.LittleEndian.Uint16(rest[2:4]))
			ids, err := takeBody(rest[CommandHeaderLen:], n)
			if err != nil {
				return SearchReply{}, 0, fmt.Errorf("w1: search reply: command %d: %w", len(m.Commands), err)
			}
			if n%slaveIDLen != 0 {
				return SearchReply{}, 0, &protocol.LengthError{Layer: "slave id", Declared: slaveIDLen, Available: n % slaveIDLen}
			}
			for i := 0; i < n; i += slaveIDLen {
				var id TargetID
				copy(id[:], ids[i:i+slaveIDLen])
				r.Slaves = append(r.Slaves, id)
			}
			m.Commands = append(m.Commands, Command{Type: CommandType(rest[0])})
			cursor += CommandHeaderLen + n
			continue
		}
		c, n, err := DecodeCommand(rest)
		if err != nil {
			return SearchReply{}, 0, fmt.Errorf("w1: search reply: command %d: %w", len(m.Commands), err)
		}
		m.Commands = append(m.Commands, c)
		cursor += n
	}
	r.Message = m
	return r, MessageHeaderLen + len(body), nil
}

func isSearch(t CommandType) bool {
	return t == CmdSearch || t == CmdAlarmSearch
}
