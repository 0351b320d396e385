package w1

import (
	"fmt"

	"github.com/danmuck/w1ctl/internal/protocol"
)

type bodyKind uint8

const (
	bodyNone bodyKind = iota
	bodyMasters
	bodyCommands
)

var bodies = map[MessageType]bodyKind{
	MsgSlaveAdd:     bodyNone,
	MsgSlaveRemove:  bodyNone,
	MsgMasterAdd:    bodyNone,
	MsgMasterRemove: bodyNone,
	MsgMasterCmd:    bodyCommands,
	MsgSlaveCmd:     bodyCommands,
	MsgListMasters:  bodyMasters,
}

func bodyFor(t MessageType) bodyKind {
	return bodies[t]
}

// ValidationError explains why a message is not fit to be sent.
type ValidationError struct {
	MessageType MessageType
	Reason      string
	Err         error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("w1: message_type=%s: %s", e.MessageType, e.Reason)
}

func (e ValidationError) Unwrap() error { return e.Err }

// Validate checks that the populated body of m matches its type and that every
// command can be encoded. The codec does not call this; senders do.
func Validate(m Message) error {
	kind, ok := bodies[m.Type]
	if !ok {
		return ValidationError{MessageType: m.Type, Reason: "unknown message type", Err: protocol.ErrInvalidMessageType}
	}
	if m.Status != 0 {
		return ValidationError{MessageType: m.Type, Reason: "status is kernel-owned", Err: protocol.ErrInvalidHeader}
	}
	if m.Type.addressesMaster() && (m.ID[4]|m.ID[5]|m.ID[6]|m.ID[7]) != 0 {
		return ValidationError{MessageType: m.Type, Reason: "master id uses upper bytes", Err: protocol.ErrInvalidHeader}
	}
	if kind != bodyMasters && len(m.Masters) > 0 {
		return ValidationError{MessageType: m.Type, Reason: "unexpected master list", Err: protocol.ErrInvalidPayloadLength}
	}
	if kind != bodyCommands && len(m.Commands) > 0 {
		return ValidationError{MessageType: m.Type, Reason: "unexpected commands", Err: protocol.ErrInvalidPayloadLength}
	}
	for i, c := range m.Commands {
		if !c.Type.implemented() {
			return ValidationError{
				MessageType: m.Type,
				Reason:      fmt.Sprintf("command %d: %s has no defined payload", i, c.Type),
				Err:         protocol.ErrNotImplemented,
			}
		}
		if c.Type != CmdRead && c.Type != CmdWrite && len(c.Data) > 0 {
			return ValidationError{
				MessageType: m.Type,
				Reason:      fmt.Sprintf("command %d: %s carries no data", i, c.Type),
				Err:         protocol.ErrInvalidPayloadLength,
			}
		}
	}
	if n := m.bodyLen(); n > maxLen {
		return ValidationError{MessageType: m.Type, Reason: fmt.Sprintf("body is %d bytes", n), Err: protocol.ErrPayloadTooLarge}
	}
	return nil
}
