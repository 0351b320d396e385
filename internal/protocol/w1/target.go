package w1

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// TargetID is the 8-byte id field of a w1 message. Master ids occupy the low four
// bytes (little-endian); slave ids are opaque 64-bit registration numbers.
type TargetID [8]byte

// MasterID packs a bus master id. Bytes 4..7 stay zero.
func MasterID(id uint32) TargetID {
	var t TargetID
	binary.LittleEndian.PutUint32(t[0:4], id)
	return t
}

// SlaveID wraps a slave registration number verbatim.
func SlaveID(id [8]byte) TargetID {
	return TargetID(id)
}

// ParseSlaveID parses the sysfs form "ff-ffffffffffff" (crc byte computed) or 16 hex
// digits in wire order.
func ParseSlaveID(s string) (TargetID, error) {
	var id TargetID
	if IsSysfsName(s) {
		family, err := hex.DecodeString(s[:2])
		if err != nil {
			return TargetID{}, err
		}
		serial, err := hex.DecodeString(s[3:])
		if err != nil {
			return TargetID{}, err
		}
		// sysfs prints the serial most significant byte first; the wire keeps it LSB first.
		id[0] = family[0]
		for i := 0; i < 6; i++ {
			id[1+i] = serial[5-i]
		}
		id[7] = crc8(id[:7])
		return id, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return TargetID{}, err
	}
	if len(raw) != len(id) {
		return TargetID{}, hex.ErrLength
	}
	copy(id[:], raw)
	return id, nil
}

// IsSysfsName reports whether s has the sysfs shape "ff-ssssssssssss". That
// form carries no crc byte, so it names a device by family and serial only.
func IsSysfsName(s string) bool {
	return len(s) == 15 && s[2] == '-'
}

func (t TargetID) Master() uint32 {
	return binary.LittleEndian.Uint32(t[0:4])
}

func (t TargetID) Slave() [8]byte {
	return t
}

// String renders t in the form matching kind: a decimal master id or hex slave id.
func (t TargetID) String(kind MessageType) string {
	if kind.addressesMaster() {
		return strconv.FormatUint(uint64(t.Master()), 10)
	}
	return hex.EncodeToString(t[:])
}

// SysfsName renders a slave id the way /sys/bus/w1/devices names it.
func (t TargetID) SysfsName() string {
	var serial [6]byte
	for i := 0; i < 6; i++ {
		serial[i] = t[6-i]
	}
	return hex.EncodeToString(t[:1]) + "-" + hex.EncodeToString(serial[:])
}

// crc8 is the Dallas/Maxim 1-Wire CRC (x^8 + x^5 + x^4 + 1, reflected).
func crc8(b []byte) byte {
	var crc byte
	for _, v := range b {
		for i := 0; i < 8; i++ {
			mix := (crc ^ v) & 0x01
			crc >>= 1
			if mix != 0 {
				crc ^= 0x8c
			}
			v >>= 1
		}
	}
	return crc
}
