package w1

import "github.com/danmuck/w1ctl/internal/protocol/connector"

// Family is the connector idx/val pair of the w1 subsystem (CN_W1_IDX, CN_W1_VAL).
var Family = connector.Family{Idx: 0x3, Val: 0x1}

func init() {
	connector.Register("w1", Family)
}

// Codec binds w1 messages to the connector envelope.
type Codec struct{}

var _ connector.Codec[Message] = Codec{}

func (Codec) Family() connector.Family { return Family }

func (Codec) EncodedLen(m Message) int { return m.EncodedLen() }

func (Codec) Append(dst []byte, m Message) ([]byte, error) { return AppendMessage(dst, m) }

func (Codec) Decode(b []byte) (Message, int, error) { return DecodeMessage(b) }

// Envelope is a connector envelope carrying w1 messages.
type Envelope = connector.Envelope[Message]

// EncodeEnvelope serializes a connector envelope with seq and msgs.
func EncodeEnvelope(seq uint32, msgs ...Message) ([]byte, error) {
	return connector.Encode[Message](Codec{}, connector.NewEnvelope(seq, msgs...))
}

// DecodeEnvelope parses a connector envelope of w1 messages.
func DecodeEnvelope(th connector.TransportHeader, b []byte) (Envelope, error) {
	return connector.Decode[Message](Codec{}, th, b)
}
