package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidLength        = errors.New("protocol: invalid length")
	ErrInvalidHeader        = errors.New("protocol: invalid header")
	ErrUnexpectedIdx        = errors.New("protocol: unexpected connector idx")
	ErrUnexpectedVal        = errors.New("protocol: unexpected connector val")
	ErrInvalidMessageType   = errors.New("protocol: invalid message type")
	ErrInvalidOpcode        = errors.New("protocol: invalid command opcode")
	ErrInvalidPayloadLength = errors.New("protocol: payload length does not match header")
	ErrNotImplemented       = errors.New("protocol: not implemented")
	ErrKernelStatus         = errors.New("protocol: kernel reported error status")
	ErrPayloadTooLarge      = errors.New("protocol: payload too large")
	ErrNoProgress           = errors.New("protocol: decode made no progress")
)

// FamilyError reports a connector family mismatch.
type FamilyError struct {
	Field    string // "idx" or "val"
	Expected uint32
	Actual   uint32
}

func (e *FamilyError) Error() string {
	return fmt.Sprintf("protocol: invalid connector %s, expected %#x, got %#x", e.Field, e.Expected, e.Actual)
}

func (e *FamilyError) Unwrap() error {
	if e.Field == "val" {
		return ErrUnexpectedVal
	}
	return ErrUnexpectedIdx
}

// ValueError reports a discriminant byte outside its known range.
type ValueError struct {
	What  string
	Value int
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("protocol: invalid %s value received: %d", e.What, e.Value)
}

func (e *ValueError) Unwrap() error {
	if e.What == "opcode" {
		return ErrInvalidOpcode
	}
	return ErrInvalidMessageType
}

// Is lets an unknown opcode also match ErrInvalidHeader.
func (e *ValueError) Is(target error) bool {
	return e.What == "opcode" && target == ErrInvalidHeader
}

// LengthError reports a declared length that disagrees with the bytes at hand.
type LengthError struct {
	Layer     string
	Declared  int
	Available int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("protocol: %s payload length mismatch: declared=%d available=%d", e.Layer, e.Declared, e.Available)
}

func (e *LengthError) Unwrap() error { return ErrInvalidPayloadLength }

// StatusError is returned when the kernel flags a message with a nonzero status.
// Status carries the errno reported by the w1 core.
type StatusError struct {
	Type   uint8
	Status uint8
	ID     [8]byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("protocol: kernel status=%d type=%d id=%s", e.Status, e.Type, hex.EncodeToString(e.ID[:]))
}

func (e *StatusError) Unwrap() error { return ErrKernelStatus }
