package w1

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/w1ctl/internal/protocol"
	"github.com/danmuck/w1ctl/internal/protocol/connector"
	"github.com/danmuck/w1ctl/internal/testutil/testlog"
)

func TestSearchReplyRoundTrip(t *testing.T) {
	testlog.Start(t)
	other := SlaveID([8]byte{0x10, 1, 2, 3, 4, 5, 6, 0x77})
	in := SearchReply{
		Message: NewMasterCommand(1, Search()),
		Slaves:  []TargetID{testSlave, other},
	}
	b, err := connector.Encode[SearchReply](SearchReplyCodec{}, connector.NewEnvelope(9, in))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := connector.Decode[SearchReply](SearchReplyCodec{}, reply, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Payload) != 1 || !reflect.DeepEqual(env.Payload[0], in) {
		t.Fatalf("round-trip mismatch: %+v", env.Payload)
	}

	// The generic decoder skips the ids and then reads them as commands.
	if _, err := DecodeEnvelope(reply, b); err == nil {
		t.Fatalf("expected generic decoder to reject embedded ids")
	}
}

func TestDecodeSearchReplyAckWithoutIDs(t *testing.T) {
	testlog.Start(t)
	b, err := AppendMessage(nil, NewMasterCommand(3, Reset(), Search()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r, n, err := DecodeSearchReply(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(b) || len(r.Slaves) != 0 || len(r.Message.Commands) != 2 {
		t.Fatalf("unexpected reply: n=%d %+v", n, r)
	}
}

func TestDecodeSearchReplyErrors(t *testing.T) {
	testlog.Start(t)
	partial := []byte{
		byte(MsgMasterCmd), 0, 7, 0, 1, 0, 0, 0, 0, 0, 0, 0,
		byte(CmdSearch), 0, 3, 0, 0xaa, 0xbb, 0xcc,
	}
	if _, _, err := DecodeSearchReply(partial); !errors.Is(err, protocol.ErrInvalidPayloadLength) {
		t.Fatalf("expected ErrInvalidPayloadLength, got %v", err)
	}
	status := []byte{byte(MsgMasterCmd), 19, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}
	if _, _, err := DecodeSearchReply(status); !errors.Is(err, protocol.ErrKernelStatus) {
		t.Fatalf("expected ErrKernelStatus, got %v", err)
	}
	events, err := AppendMessage(nil, NewEvent(MsgSlaveAdd, testSlave))
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	r, _, err := DecodeSearchReply(events)
	if err != nil || r.Message.Type != MsgSlaveAdd {
		t.Fatalf("events pass through: %+v %v", r, err)
	}
}

func TestSearchReplyCodecCarriesOtherKinds(t *testing.T) {
	testlog.Start(t)
	in := []SearchReply{
		{Message: Message{Type: MsgListMasters, Masters: []uint32{1, 2}}},
		{Message: NewEvent(MsgSlaveAdd, testSlave)},
	}
	b, err := connector.Encode[SearchReply](SearchReplyCodec{}, connector.NewEnvelope(4, in...))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := connector.Decode[SearchReply](SearchReplyCodec{}, reply, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(out.Payload, in) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", out.Payload, in)
	}

	_, err = SearchReplyCodec{}.Append(nil, SearchReply{Message: NewEvent(MsgSlaveAdd, testSlave), Slaves: []TargetID{testSlave}})
	if !errors.Is(err, protocol.ErrInvalidMessageType) {
		t.Fatalf("expected invalid message type for event with slaves, got %v", err)
	}
}
