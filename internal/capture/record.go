// Package capture records raw connector frames to a CBOR stream for offline decode.
package capture

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Direction indicates frame flow relative to this process.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	default:
		return "unknown"
	}
}

// Transport mirrors the netlink header fields the decoder needs on replay.
type Transport struct {
	Type   uint16 `cbor:"1,keyasint"`
	Flags  uint16 `cbor:"2,keyasint"`
	Seq    uint32 `cbor:"3,keyasint"`
	PortID uint32 `cbor:"4,keyasint"`
}

// Record is one captured frame. CBOR encoding uses integer keys.
type Record struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	Session   string    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Transport Transport `cbor:"4,keyasint"`
	// Data is the connector envelope, header included.
	Data      []byte `cbor:"5,keyasint"`
	Size      int    `cbor:"6,keyasint"`
	Truncated bool   `cbor:"7,keyasint,omitempty"`
	Label     string `cbor:"8,keyasint,omitempty"`
}

// NewSessionID returns a fresh id grouping the records of one process run.
func NewSessionID() string {
	return uuid.New().String()
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: cbor decoder mode: %v", err))
	}
}

func EncodeRecord(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
