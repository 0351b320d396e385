package connector

import (
	"fmt"

	"github.com/danmuck/w1ctl/internal/protocol"
)

const maxLen = int(^uint16(0))

// Codec is implemented by every payload type that can ride inside a connector envelope.
// Family is the capability the envelope stamps on encode and checks on decode.
type Codec[T any] interface {
	Family() Family
	EncodedLen(v T) int
	Append(dst []byte, v T) ([]byte, error)
	Decode(b []byte) (T, int, error)
}

// Envelope is one connector message carrying one or more payload records.
type Envelope[T any] struct {
	Seq     uint32
	Ack     uint32
	Flags   uint16
	Payload []T
}

func NewEnvelope[T any](seq uint32, payload ...T) Envelope[T] {
	return Envelope[T]{Seq: seq, Payload: payload}
}

// EncodedLen is the full size of e on the wire, header included.
func EncodedLen[T any](c Codec[T], e Envelope[T]) int {
	n := HeaderLen
	for _, v := range e.Payload {
		n += c.EncodedLen(v)
	}
	return n
}

// Encode serializes e. Lengths are computed bottom-up before any byte is written.
func Encode[T any](c Codec[T], e Envelope[T]) ([]byte, error) {
	total := EncodedLen(c, e)
	if total-HeaderLen > maxLen {
		return nil, fmt.Errorf("connector: %w: %d bytes", protocol.ErrPayloadTooLarge, total-HeaderLen)
	}

	buf := make([]byte, HeaderLen, total)
	PutHeader(buf, Header{
		Family: c.Family(),
		Seq:    e.Seq,
		Ack:    e.Ack,
		Len:    uint16(total - HeaderLen),
		Flags:  e.Flags,
	})

	var err error
	for i, v := range e.Payload {
		buf, err = c.Append(buf, v)
		if err != nil {
			return nil, fmt.Errorf("connector: message %d: %w", i, err)
		}
	}
	return buf, nil
}

// Decode parses a connector envelope whose transport header is th. Every header
// check runs before the first payload record is touched.
func Decode[T any](c Codec[T], th TransportHeader, b []byte) (Envelope[T], error) {
	if !IsConnectorType(th.Type) {
		return Envelope[T]{}, &protocol.ValueError{What: "netlink message type", Value: int(th.Type)}
	}
	h, err := ParseHeader(b)
	if err != nil {
		return Envelope[T]{}, fmt.Errorf("connector: %w", err)
	}
	want := c.Family()
	if h.Family.Idx != want.Idx {
		return Envelope[T]{}, &protocol.FamilyError{Field: "idx", Expected: want.Idx, Actual: h.Family.Idx}
	}
	if h.Family.Val != want.Val {
		return Envelope[T]{}, &protocol.FamilyError{Field: "val", Expected: want.Val, Actual: h.Family.Val}
	}
	payload := b[HeaderLen:]
	if int(h.Len) != len(payload) {
		return Envelope[T]{}, &protocol.LengthError{Layer: "connector", Declared: int(h.Len), Available: len(payload)}
	}

	env := Envelope[T]{Seq: h.Seq, Ack: h.Ack, Flags: h.Flags}
	for cursor := 0; cursor < len(payload); {
		v, n, err := c.Decode(payload[cursor:])
		if err != nil {
			return Envelope[T]{}, fmt.Errorf("connector: message %d: %w", len(env.Payload), err)
		}
		if n <= 0 {
			return Envelope[T]{}, fmt.Errorf("connector: message %d: %w", len(env.Payload), protocol.ErrNoProgress)
		}
		env.Payload = append(env.Payload, v)
		cursor += n
	}
	return env, nil
}
