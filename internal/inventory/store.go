// Package inventory persists the masters and slave devices seen on the bus.
package inventory

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/danmuck/w1ctl/internal/protocol/w1"
)

var ErrNotFound = errors.New("inventory: not found")

const (
	masterPrefix = "m/"
	slavePrefix  = "s/"
	eventPrefix  = "e/"
)

// Master is one bus master as last observed.
type Master struct {
	ID        uint32    `cbor:"1,keyasint" json:"id"`
	Present   bool      `cbor:"2,keyasint" json:"present"`
	FirstSeen time.Time `cbor:"3,keyasint" json:"first_seen"`
	LastSeen  time.Time `cbor:"4,keyasint" json:"last_seen"`
}

// Device is one slave as last observed. Master is zero until a search on a
// known master reports it.
type Device struct {
	ID        string    `cbor:"1,keyasint" json:"id"`
	Sysfs     string    `cbor:"2,keyasint" json:"sysfs"`
	Family    uint8     `cbor:"3,keyasint" json:"family"`
	Master    uint32    `cbor:"4,keyasint,omitempty" json:"master,omitempty"`
	Present   bool      `cbor:"5,keyasint" json:"present"`
	FirstSeen time.Time `cbor:"6,keyasint" json:"first_seen"`
	LastSeen  time.Time `cbor:"7,keyasint" json:"last_seen"`
}

// EventRecord is one add/remove notification in the history log.
type EventRecord struct {
	ID     string    `cbor:"1,keyasint" json:"id"`
	Kind   string    `cbor:"2,keyasint" json:"kind"`
	Target string    `cbor:"3,keyasint" json:"target"`
	At     time.Time `cbor:"4,keyasint" json:"at"`
}

// Store is a pebble-backed inventory. Keys are prefixed by record kind.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("inventory: open %s: %w", dir, err)
	}
	log.Debug().Str("dir", dir).Msg("inventory opened")
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only for the process.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("inventory: open memory: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func masterKey(id uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", masterPrefix, id))
}

func slaveKey(id w1.TargetID) []byte {
	return append([]byte(slavePrefix), hex.EncodeToString(id[:])...)
}

// eventKey orders history by nanosecond time; the KSUID keeps same-instant keys distinct.
func eventKey(at time.Time, id ksuid.KSUID) []byte {
	key := make([]byte, 0, len(eventPrefix)+8+20)
	key = append(key, eventPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(at.UnixNano()))
	return append(key, id.Bytes()...)
}

// ApplyEvent records a kernel add/remove notification and updates presence.
func (s *Store) ApplyEvent(kind w1.MessageType, id w1.TargetID, at time.Time) error {
	if !kind.IsEvent() {
		return fmt.Errorf("inventory: %s is not an event", kind)
	}
	evID, err := ksuid.NewRandomWithTime(at)
	if err != nil {
		return fmt.Errorf("inventory: event id: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()

	if err := setValue(b, eventKey(at, evID), EventRecord{
		ID:     evID.String(),
		Kind:   kind.String(),
		Target: id.String(kind),
		At:     at,
	}); err != nil {
		return err
	}

	switch kind {
	case w1.MsgMasterAdd, w1.MsgMasterRemove:
		m, err := s.master(id.Master())
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		m = touchMaster(m, id.Master(), kind == w1.MsgMasterAdd, at)
		if err := setValue(b, masterKey(m.ID), m); err != nil {
			return err
		}
	case w1.MsgSlaveAdd, w1.MsgSlaveRemove:
		d, err := s.device(id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		d = touchDevice(d, id, 0, kind == w1.MsgSlaveAdd, at)
		if err := setValue(b, slaveKey(id), d); err != nil {
			return err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("inventory: commit event: %w", err)
	}
	log.Debug().Str("kind", kind.String()).Str("target", id.String(kind)).Msg("inventory event applied")
	return nil
}

// RecordMasters marks ids present, as reported by a list-masters reply.
func (s *Store) RecordMasters(ids []uint32, at time.Time) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, id := range ids {
		m, err := s.master(id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := setValue(b, masterKey(id), touchMaster(m, id, true, at)); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// RecordSlaves marks ids present on master, as reported by a search reply.
func (s *Store) RecordSlaves(master uint32, ids []w1.TargetID, at time.Time) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, id := range ids {
		d, err := s.device(id)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := setValue(b, slaveKey(id), touchDevice(d, id, master, true, at)); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func touchMaster(m Master, id uint32, present bool, at time.Time) Master {
	if m.FirstSeen.IsZero() {
		m.FirstSeen = at
	}
	m.ID = id
	m.Present = present
	m.LastSeen = at
	return m
}

func touchDevice(d Device, id w1.TargetID, master uint32, present bool, at time.Time) Device {
	if d.FirstSeen.IsZero() {
		d.FirstSeen = at
	}
	d.ID = hex.EncodeToString(id[:])
	d.Sysfs = id.SysfsName()
	d.Family = id[0]
	if master != 0 {
		d.Master = master
	}
	d.Present = present
	d.LastSeen = at
	return d
}

func (s *Store) Master(id uint32) (Master, error) { return s.master(id) }

func (s *Store) master(id uint32) (Master, error) {
	var m Master
	err := s.get(masterKey(id), &m)
	return m, err
}

func (s *Store) Device(id w1.TargetID) (Device, error) { return s.device(id) }

func (s *Store) device(id w1.TargetID) (Device, error) {
	var d Device
	err := s.get(slaveKey(id), &d)
	return d, err
}

var errFound = errors.New("found")

// LookupDevice resolves name to a stored device. Sixteen hex digits match one
// id exactly. A sysfs name matches on family and serial, since it drops the
// last id byte.
func (s *Store) LookupDevice(name string) (Device, error) {
	id, err := w1.ParseSlaveID(name)
	if err != nil {
		return Device{}, fmt.Errorf("inventory: device %q: %w", name, err)
	}
	if !w1.IsSysfsName(name) {
		return s.device(id)
	}
	var d Device
	err = s.scan(slavePrefix+hex.EncodeToString(id[:7]), func(v []byte) error {
		if err := cbor.Unmarshal(v, &d); err != nil {
			return err
		}
		return errFound
	})
	switch {
	case errors.Is(err, errFound):
		return d, nil
	case err != nil:
		return Device{}, err
	}
	return Device{}, ErrNotFound
}

// Masters lists every known master ordered by id.
func (s *Store) Masters() ([]Master, error) {
	out := []Master{}
	err := s.scan(masterPrefix, func(v []byte) error {
		var m Master
		if err := cbor.Unmarshal(v, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// Devices lists every known slave ordered by id.
func (s *Store) Devices() ([]Device, error) {
	out := []Device{}
	err := s.scan(slavePrefix, func(v []byte) error {
		var d Device
		if err := cbor.Unmarshal(v, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// Events returns up to limit history entries, newest first. limit <= 0 returns all.
func (s *Store) Events(limit int) ([]EventRecord, error) {
	out := []EventRecord{}
	err := s.scan(eventPrefix, func(v []byte) error {
		var ev EventRecord
		if err := cbor.Unmarshal(v, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) get(key []byte, v any) error {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inventory: get %s: %w", key, err)
	}
	defer closer.Close()
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("inventory: decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) scan(prefix string, fn func(v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("inventory: iterate %s: %w", prefix, err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("inventory: decode %s: %w", iter.Key(), err)
		}
	}
	return iter.Error()
}

func setValue(b *pebble.Batch, key []byte, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("inventory: encode %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

// prefixEnd is the smallest key greater than every key with prefix.
func prefixEnd(prefix string) []byte {
	end := []byte(prefix)
	end[len(end)-1]++
	return end
}
