package connector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/danmuck/w1ctl/internal/protocol"
	"github.com/danmuck/w1ctl/internal/testutil/testlog"
)

// blob is a length-prefixed test payload: u16 len + bytes.
type blob []byte

type blobCodec struct{ family Family }

func (c blobCodec) Family() Family { return c.family }

func (blobCodec) EncodedLen(b blob) int { return 2 + len(b) }

func (blobCodec) Append(dst []byte, b blob) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(b)))
	return append(dst, b...), nil
}

func (blobCodec) Decode(b []byte) (blob, int, error) {
	if len(b) < 2 {
		return nil, 0, protocol.ErrInvalidLength
	}
	n := int(binary.LittleEndian.Uint16(b))
	if 2+n > len(b) {
		return nil, 0, protocol.ErrInvalidPayloadLength
	}
	out := make(blob, n)
	copy(out, b[2:2+n])
	return out, 2 + n, nil
}

var testFamily = Family{Idx: 0x10, Val: 0x2}

var connectorHeader = TransportHeader{Type: TypeConnector}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testlog.Start(t)
	c := blobCodec{family: testFamily}
	in := Envelope[blob]{Seq: 9, Ack: 3, Flags: 0x10, Payload: []blob{{1, 2, 3}, {}, {0xff}}}

	b, err := Encode[blob](c, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(b) != EncodedLen[blob](c, in) {
		t.Fatalf("encoded %d bytes, EncodedLen=%d", len(b), EncodedLen[blob](c, in))
	}
	h, err := ParseHeader(b)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	if h.Family != testFamily || h.Seq != 9 || h.Ack != 3 || h.Flags != 0x10 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if int(h.Len) != len(b)-HeaderLen {
		t.Fatalf("len field=%d payload=%d", h.Len, len(b)-HeaderLen)
	}

	out, err := Decode[blob](c, connectorHeader, b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Seq != 9 || out.Ack != 3 || out.Flags != 0x10 || len(out.Payload) != 3 {
		t.Fatalf("unexpected envelope: %+v", out)
	}
	for i := range in.Payload {
		if !bytes.Equal(out.Payload[i], in.Payload[i]) {
			t.Fatalf("payload[%d] mismatch: got=%v want=%v", i, out.Payload[i], in.Payload[i])
		}
	}
}

func TestHeaderWireLayout(t *testing.T) {
	testlog.Start(t)
	b := make([]byte, HeaderLen)
	PutHeader(b, Header{Family: Family{Idx: 3, Val: 1}, Seq: 0x01020304, Ack: 5, Len: 0x0a0b, Flags: 0x0c0d})
	want := []byte{
		3, 0, 0, 0,
		1, 0, 0, 0,
		4, 3, 2, 1,
		5, 0, 0, 0,
		0x0b, 0x0a,
		0x0d, 0x0c,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("header bytes:\n got=% x\nwant=% x", b, want)
	}
}

func TestDecodeRejectsTransportType(t *testing.T) {
	testlog.Start(t)
	c := blobCodec{family: testFamily}
	b, _ := Encode[blob](c, NewEnvelope[blob](1))
	_, err := Decode[blob](c, TransportHeader{Type: 0x10}, b)
	if !errors.Is(err, protocol.ErrInvalidMessageType) {
		t.Fatalf("expected ErrInvalidMessageType, got %v", err)
	}
	if _, err := Decode[blob](c, TransportHeader{Type: TypeDone}, b); err != nil {
		t.Fatalf("NLMSG_DONE replies must be accepted: %v", err)
	}
}

func TestDecodeShortHeader(t *testing.T) {
	testlog.Start(t)
	_, err := Decode[blob](blobCodec{family: testFamily}, connectorHeader, make([]byte, HeaderLen-1))
	if !errors.Is(err, protocol.ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecodeFamilyMismatch(t *testing.T) {
	testlog.Start(t)
	c := blobCodec{family: testFamily}
	cases := []struct {
		name   string
		family Family
		want   error
		field  string
		actual uint32
	}{
		{name: "idx", family: Family{Idx: 0x11, Val: testFamily.Val}, want: protocol.ErrUnexpectedIdx, field: "idx", actual: 0x11},
		{name: "val", family: Family{Idx: testFamily.Idx, Val: 0x7}, want: protocol.ErrUnexpectedVal, field: "val", actual: 0x7},
		{name: "both checks idx first", family: Family{Idx: 0, Val: 0}, want: protocol.ErrUnexpectedIdx, field: "idx", actual: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Encode[blob](blobCodec{family: tc.family}, NewEnvelope[blob](1, blob{1}))
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			_, err = Decode[blob](c, connectorHeader, b)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var fe *protocol.FamilyError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FamilyError, got %T", err)
			}
			if fe.Field != tc.field || fe.Actual != tc.actual {
				t.Fatalf("unexpected diagnostics: %+v", fe)
			}
		})
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	testlog.Start(t)
	c := blobCodec{family: testFamily}
	b, _ := Encode[blob](c, NewEnvelope[blob](1, blob{1, 2}))

	_, err := Decode[blob](c, connectorHeader, b[:len(b)-1])
	if !errors.Is(err, protocol.ErrInvalidPayloadLength) {
		t.Fatalf("truncated: expected ErrInvalidPayloadLength, got %v", err)
	}
	_, err = Decode[blob](c, connectorHeader, append(b, 0))
	if !errors.Is(err, protocol.ErrInvalidPayloadLength) {
		t.Fatalf("trailing: expected ErrInvalidPayloadLength, got %v", err)
	}
}

func TestDecodeWrapsPayloadError(t *testing.T) {
	testlog.Start(t)
	c := blobCodec{family: testFamily}
	b := make([]byte, HeaderLen+3)
	PutHeader(b, Header{Family: testFamily, Len: 3})
	binary.LittleEndian.PutUint16(b[HeaderLen:], 9)

	_, err := Decode[blob](c, connectorHeader, b)
	if !errors.Is(err, protocol.ErrInvalidPayloadLength) {
		t.Fatalf("expected inner ErrInvalidPayloadLength, got %v", err)
	}
}

type stuckCodec struct{ blobCodec }

func (stuckCodec) Decode([]byte) (blob, int, error) { return nil, 0, nil }

func TestDecodeStopsWithoutProgress(t *testing.T) {
	testlog.Start(t)
	c := stuckCodec{blobCodec{family: testFamily}}
	b := make([]byte, HeaderLen+2)
	PutHeader(b, Header{Family: testFamily, Len: 2})
	_, err := Decode[blob](c, connectorHeader, b)
	if !errors.Is(err, protocol.ErrNoProgress) {
		t.Fatalf("expected ErrNoProgress, got %v", err)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	testlog.Start(t)
	big := make(blob, maxLen)
	_, err := Encode[blob](blobCodec{family: testFamily}, NewEnvelope[blob](1, big))
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestFamilyRegistry(t *testing.T) {
	testlog.Start(t)
	Register("test.family", testFamily)
	name, ok := Lookup(testFamily)
	if !ok || name != "test.family" {
		t.Fatalf("lookup: name=%q ok=%v", name, ok)
	}
	all := Families()
	all["mutated"] = Family{}
	if _, ok := Families()["mutated"]; ok {
		t.Fatalf("Families must return a copy")
	}
	if _, ok := Lookup(Family{Idx: 0xdead, Val: 0xbeef}); ok {
		t.Fatalf("unexpected match for unregistered family")
	}
}
