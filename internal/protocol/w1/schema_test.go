package w1

import (
	"errors"
	"testing"

	"github.com/danmuck/w1ctl/internal/protocol"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want error
	}{
		{name: "list masters", msg: NewListMasters()},
		{name: "master cmd", msg: NewMasterCommand(1, Search(), Reset())},
		{name: "slave cmd", msg: NewSlaveCommand(testSlave, Write([]byte{0xcc}), Read())},
		{name: "unknown type", msg: Message{Type: 9}, want: protocol.ErrInvalidMessageType},
		{name: "status set", msg: Message{Type: MsgListMasters, Status: 1}, want: protocol.ErrInvalidHeader},
		{name: "master id upper bytes", msg: Message{Type: MsgMasterCmd, ID: testSlave}, want: protocol.ErrInvalidHeader},
		{name: "event with commands", msg: Message{Type: MsgSlaveAdd, Commands: []Command{Search()}}, want: protocol.ErrInvalidPayloadLength},
		{name: "cmd with masters", msg: Message{Type: MsgMasterCmd, Masters: []uint32{1}}, want: protocol.ErrInvalidPayloadLength},
		{name: "search with data", msg: NewMasterCommand(1, Command{Type: CmdSearch, Data: []byte{1}}), want: protocol.ErrInvalidPayloadLength},
		{name: "slave add", msg: NewMasterCommand(1, Command{Type: CmdSlaveAdd}), want: protocol.ErrNotImplemented},
		{name: "too large", msg: NewSlaveCommand(testSlave, Write(make([]byte, maxLen))), want: protocol.ErrPayloadTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.msg)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}
